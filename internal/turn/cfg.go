package turn

import (
	"errors"
	"fmt"
	"net"
)

type ConfigOptions struct {
	PublicIP     string
	Port         int
	Username     string
	Password     string
	Realm        string
	RelayMinPort uint
	RelayMaxPort uint
}

// Validate rejects configurations the relay cannot serve. pion accepts a nil
// relay address and an inverted port range silently, so misconfigurations
// surface as unreachable relays at allocation time; catching them here fails
// the process at startup instead.
func (cfg *ConfigOptions) Validate() error {
	if net.ParseIP(cfg.PublicIP) == nil {
		return fmt.Errorf("public ip %q is not a valid IP address", cfg.PublicIP)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("listen port %d out of range", cfg.Port)
	}
	if cfg.Username == "" {
		return errors.New("username must not be empty")
	}
	if cfg.Realm == "" {
		return errors.New("realm must not be empty")
	}
	if cfg.RelayMinPort < 1 || cfg.RelayMaxPort > 65535 {
		return fmt.Errorf("relay port range %d-%d out of range", cfg.RelayMinPort, cfg.RelayMaxPort)
	}
	if cfg.RelayMinPort > cfg.RelayMaxPort {
		return fmt.Errorf("relay min port %d exceeds max port %d", cfg.RelayMinPort, cfg.RelayMaxPort)
	}
	return nil
}
