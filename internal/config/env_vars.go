package config

import (
	"os"
)

const (
	appNameVar    = "APP_NAME"
	apiURLVar     = "API_URL"
	loginRouteVar = "LOGIN_ROUTE"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Prepstock")
}

// GetBaseURL returns the base URL of the REST backend every request is
// issued against (e.g. "https://api.prepstock.app").
func (EnvVars) GetBaseURL() string {
	return GetEnv(apiURLVar, "http://localhost:4000")
}

// GetLoginRoute returns the application route the client navigates to when
// the session cannot be recovered.
func (EnvVars) GetLoginRoute() string {
	return GetEnv(loginRouteVar, "/login")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
