package config

import (
	"strings"

	"github.com/mediocregopher/radix/v3"
	"github.com/sirupsen/logrus"
)

// RedisConfigStore reads options from the glowbot_config hash, allowing
// config changes at runtime without restarting every process.
type RedisConfigStore struct {
	Pool *radix.Pool
}

func (rs *RedisConfigStore) GetValue(key string) interface{} {
	prefixStripped := strings.TrimPrefix(key, "glowbot.")

	var v string
	err := rs.Pool.Do(radix.Cmd(&v, "HGET", "glowbot_config", prefixStripped))
	if err != nil {
		logrus.WithError(err).Error("[redis_config_source] failed retrieving value")
		return nil
	}

	if v == "" {
		return nil
	}

	return v
}

func (rs *RedisConfigStore) SaveValue(key, value string) error {
	prefixStripped := strings.TrimPrefix(key, "glowbot.")

	return rs.Pool.Do(radix.Cmd(nil, "HSET", "glowbot_config", prefixStripped, value))
}

func (rs *RedisConfigStore) Name() string {
	return "redis"
}
