package config

import "time"

// Config holds broker configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`
	RoomTTL           time.Duration `mapstructure:"room_ttl" yaml:"room_ttl"`
	MaxRoomSize       int           `mapstructure:"max_room_size" yaml:"max_room_size"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	AdminToken        string        `mapstructure:"admin_token" yaml:"admin_token"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		LogLevel:          "info",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		DatabasePath:      "stroked.db",
		RoomTTL:           24 * time.Hour,
		MaxRoomSize:       8,
		RequestTimeout:    5 * time.Second,
		AdminToken:        "",
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.RoomTTL != 0 {
		c.RoomTTL = other.RoomTTL
	}
	if other.MaxRoomSize != 0 {
		c.MaxRoomSize = other.MaxRoomSize
	}
	if other.RequestTimeout != 0 {
		c.RequestTimeout = other.RequestTimeout
	}
	if other.AdminToken != "" {
		c.AdminToken = other.AdminToken
	}
}
