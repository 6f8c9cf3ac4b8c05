package registry

import (
	"github.com/pkg/errors"

	"clusterlb/internal/lberrors"
)

func errUnknownEndpoint(ep Endpoint) error {
	return errors.Wrapf(lberrors.ErrUnknownEndpoint, "%s", ep)
}
