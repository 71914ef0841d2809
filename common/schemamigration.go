package common

import (
	"github.com/glowbot-gg/glowbot/common/config"
)

var confNoSchemaInit = config.RegisterOption("glowbot.no_schema_init", "Skip schema initialization", false)

type DBSchema struct {
	Name    string
	Schemas []string
}

var schemasToInit = make([]*DBSchema, 0)

// RegisterDBSchemas initializes the provided schemas, safe to call from
// plugin registration. Plugins registering before the database connection
// is set up are queued and run by Init.
func RegisterDBSchemas(name string, schemas ...string) {
	if PQ != nil {
		InitSchemas(name, schemas...)
		return
	}

	schemasToInit = append(schemasToInit, &DBSchema{Name: name, Schemas: schemas})
}

func initQueuedSchemas() {
	for _, v := range schemasToInit {
		InitSchemas(v.Name, v.Schemas...)
	}
}

// InitSchemas runs the provided schema statements against the database,
// statements are expected to be idempotent ("create table if not exists"
// and friends).
func InitSchemas(name string, schemas ...string) {
	if confNoSchemaInit.GetBool() {
		return
	}

	for _, schema := range schemas {
		_, err := PQ.Exec(schema)
		if err != nil {
			logger.WithError(err).Fatal("failed initializing postgres db schema for ", name)
		}
	}
}
