package turn

import (
	"strings"
	"testing"
)

func validConfig() ConfigOptions {
	return ConfigOptions{
		PublicIP:     "203.0.113.10",
		Port:         3478,
		Username:     "beacon",
		Password:     "secret",
		Realm:        "swifthub.net",
		RelayMinPort: 50000,
		RelayMaxPort: 55000,
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*ConfigOptions)
		want   string
	}{
		{"bad public ip", func(c *ConfigOptions) { c.PublicIP = "example.com" }, "not a valid IP"},
		{"empty public ip", func(c *ConfigOptions) { c.PublicIP = "" }, "not a valid IP"},
		{"zero listen port", func(c *ConfigOptions) { c.Port = 0 }, "out of range"},
		{"listen port too high", func(c *ConfigOptions) { c.Port = 70000 }, "out of range"},
		{"empty username", func(c *ConfigOptions) { c.Username = "" }, "username"},
		{"empty realm", func(c *ConfigOptions) { c.Realm = "" }, "realm"},
		{"zero relay min port", func(c *ConfigOptions) { c.RelayMinPort = 0 }, "relay port range"},
		{"relay max beyond uint16", func(c *ConfigOptions) { c.RelayMaxPort = 70000 }, "relay port range"},
		{"inverted relay range", func(c *ConfigOptions) { c.RelayMinPort = 56000 }, "exceeds max port"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}
