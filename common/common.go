package common

import (
	"fmt"

	"emperror.dev/errors"
	"github.com/glowbot-gg/glowbot/common/config"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/mediocregopher/radix/v3"
)

const VERSION = "1.4.0"

var (
	RedisPool *radix.Pool
	PQ        *sqlx.DB

	RedisAddr string

	// NodeID identifies this process when several of them share the redis
	// backend, it only shows up in logs and service metadata.
	NodeID string

	logger = GetFixedPrefixLogger("common")
)

var (
	confRedis       = config.RegisterOption("glowbot.redis", "Address of the redis server", "localhost:6379")
	confRedisVSize  = config.RegisterOption("glowbot.redis_pool_size", "Size of the redis connection pool", 25)
	confPQHost      = config.RegisterOption("glowbot.pqhost", "Postgres host", "localhost")
	confPQUsername  = config.RegisterOption("glowbot.pqusername", "Postgres user", "postgres")
	confPQPassword  = config.RegisterOption("glowbot.pqpassword", "Postgres password", "")
	confPQDB        = config.RegisterOption("glowbot.pqdb", "Postgres database name", "glowbot")
	confMaxSQLConns = config.RegisterOption("glowbot.max_sql_conns", "Maximum number of open postgres connections", 10)
)

// CoreInit loads the config and connects to redis, it needs to run before
// anything else touches RedisPool or the config singleton.
func CoreInit(loadConfig bool) error {
	if loadConfig {
		config.AddSource(&config.EnvSource{})
		config.Load()
	}

	err := connectRedis(confRedis.GetString())
	if err != nil {
		return err
	}

	if loadConfig {
		// the redis source is only usable once the pool is up, reload so
		// options stored there take effect
		config.AddSource(&config.RedisConfigStore{Pool: RedisPool})
		config.Load()
	}

	return nil
}

// Init connects to postgres and runs the queued schema migrations,
// CoreInit has to have run first.
func Init() error {
	err := connectDB(confPQHost.GetString(), confPQUsername.GetString(), confPQPassword.GetString(), confPQDB.GetString(), confMaxSQLConns.GetInt())
	if err != nil {
		return errors.WithMessage(err, "connectDB")
	}

	initQueuedSchemas()

	return nil
}

func connectRedis(addr string) error {
	RedisPool = nil

	pool, err := radix.NewPool("tcp", addr, confRedisVSize.GetInt())
	if err != nil {
		return errors.WithMessage(err, "connectRedis")
	}

	RedisAddr = addr
	RedisPool = pool
	return nil
}

func connectDB(host, user, pass, dbName string, maxConns int) error {
	if host == "" {
		host = "localhost"
	}

	db, err := sqlx.Connect("postgres", fmt.Sprintf("host=%s user=%s dbname=%s sslmode=disable password='%s'", host, user, dbName, pass))
	if err != nil {
		return err
	}

	PQ = db
	PQ.SetMaxOpenConns(maxConns)
	PQ.SetMaxIdleConns(maxConns)
	logger.Info("set max open connections to: ", maxConns)
	return nil
}
