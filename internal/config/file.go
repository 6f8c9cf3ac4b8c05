package config

import (
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

// fileConfig mirrors the subset of StaticConfig an operator may want to
// pin in a repeatable TOML file rather than pass as flags every restart.
type fileConfig struct {
	ClientPort        int      `toml:"client_port"`
	RegPort           int      `toml:"reg_port"`
	StatusPort        int      `toml:"status_port"`
	AdminPort         int      `toml:"admin_port"`
	DefaultMode       string   `toml:"default_mode"`
	PingIntervalMs    int      `toml:"ping_interval_ms"`
	EvictionTimeoutMs int      `toml:"eviction_timeout_ms"`
	BannedIPs         []string `toml:"banned_ips"`
	BannedNames       []string `toml:"banned_names"`
	Weights           map[string]int `toml:"weights"`
}

// LoadFile overlays a TOML config file's contents onto base, returning the
// merged StaticConfig. A zero value for any file field leaves base's value
// untouched.
func LoadFile(path string, base StaticConfig) (StaticConfig, error) {
	if path == "" {
		return base, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return base, errors.Wrapf(err, "config: read %s", path)
	}

	var fc fileConfig
	if err := toml.Unmarshal(raw, &fc); err != nil {
		return base, errors.Wrapf(err, "config: parse %s", path)
	}

	merged := base
	if fc.ClientPort != 0 {
		merged.ClientPort = fc.ClientPort
	}
	if fc.RegPort != 0 {
		merged.RegPort = fc.RegPort
	}
	if fc.StatusPort != 0 {
		merged.StatusPort = fc.StatusPort
	}
	if fc.AdminPort != 0 {
		merged.AdminPort = fc.AdminPort
	}
	if fc.DefaultMode != "" {
		merged.InitialDefaultMode = fc.DefaultMode
	}
	if fc.PingIntervalMs != 0 {
		merged.InitialPingIntervalMs = fc.PingIntervalMs
	}
	if fc.EvictionTimeoutMs != 0 {
		merged.InitialEvictionTimeoutMs = fc.EvictionTimeoutMs
	}
	if len(fc.BannedIPs) > 0 {
		merged.InitialBannedIPs = fc.BannedIPs
	}
	if len(fc.BannedNames) > 0 {
		merged.InitialBannedNames = fc.BannedNames
	}
	if len(fc.Weights) > 0 {
		merged.InitialWeights = fc.Weights
	}

	return merged, nil
}
