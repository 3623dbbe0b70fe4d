package config

import "time"

const (
	DBPingTimeout         = 5 * time.Second
	MigrationTimeout      = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 60 * time.Second
	ServerShutdownTimeout = 30 * time.Second
	// The code endpoint polls the mail provider for up to OTPMaxTimeout.
	ServerRequestTimeout = 150 * time.Second
	OTPMaxTimeout        = 120 * time.Second
	ProviderHTTPTimeout  = 15 * time.Second
	MaxRequestBodyBytes  = 1 << 20
)
