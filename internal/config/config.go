package config

import "time"

type Config interface {
	EnvConfig
	TimeoutConfig
}

type EnvConfig interface {
	GetBaseURL() string
	GetAppName() string
	GetLoginRoute() string
	GetEnv() string
}

type TimeoutConfig interface {
	GetRequestTimeout() time.Duration
	GetRedeemTimeout() time.Duration
	GetRedeemAllTimeout() time.Duration
}

type mainConfig struct {
	EnvVars
	Timeouts
}

func New() Config {
	return mainConfig{}
}
