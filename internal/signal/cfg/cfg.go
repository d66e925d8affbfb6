package cfg

import "time"

// Key modes decide how a broadcaster's publish key is sourced.
const (
	// KeyModePhone requires the caller to supply a stable key, e.g. a phone number.
	KeyModePhone = "phone"
	// KeyModeToken generates a random 128-bit key when the caller supplies none.
	KeyModeToken = "token"
)

type ConfigOptions struct {
	ServerConfigOptions
	KeyConfigOptions
	SweeperConfigOptions
	EventsConfigOptions
}

type ServerConfigOptions struct {
	Host string
	Port int
}

type KeyConfigOptions struct {
	Mode string
}

type SweeperConfigOptions struct {
	Interval time.Duration
}

type EventsConfigOptions struct {
	Enable      bool
	TopicPrefix string
	Qos         uint
	Retained    bool
}
