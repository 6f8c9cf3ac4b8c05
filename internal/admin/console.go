package admin

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
)

// RunConsole reads admin commands from in, one per line, and writes response
// lines to out until in is closed. A canceled ctx is noticed when the next
// line arrives, and that line is not executed. Unlike Endpoint it
// never writes the END sentinel, since a terminal has no need to frame
// output between commands.
func RunConsole(ctx context.Context, interp *Interpreter, in io.Reader, out io.Writer, logger zerolog.Logger) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		for _, resp := range interp.Execute(line) {
			fmt.Fprintln(out, resp)
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn().Err(err).Msg("admin console read error")
	}
}
