package config

import (
	"os"
	"strings"
)

// EnvSource reads options from environment variables, option names are
// converted to env var names by upper-casing and replacing "." with "_"
// (e.g "glowbot.redis" is read from "GLOWBOT_REDIS").
type EnvSource struct{}

func (e *EnvSource) GetValue(key string) interface{} {
	properKey := strings.ToUpper(key)
	properKey = strings.Replace(properKey, ".", "_", -1)
	v := os.Getenv(properKey)
	if v == "" {
		return nil
	}
	return v
}

func (e *EnvSource) Name() string {
	return "env"
}
