package common

import (
	"os"

	"github.com/sirupsen/logrus"
)

// GetPluginLogger returns a logger scoped to the plugin, the prefix ends
// up in the "p" field on every entry.
func GetPluginLogger(plugin Plugin) *logrus.Entry {
	return GetFixedPrefixLogger(plugin.PluginInfo().SysName)
}

// GetFixedPrefixLogger is GetPluginLogger for things that aren't plugins.
func GetFixedPrefixLogger(prefix string) *logrus.Entry {
	return logrus.WithField("p", prefix)
}

func AddLogHook(hook logrus.Hook) {
	logrus.AddHook(hook)
}

func SetLogFormatter(formatter logrus.Formatter) {
	logrus.SetFormatter(formatter)
}

func SetLoggingLevel(level logrus.Level) {
	logrus.SetLevel(level)
}

func init() {
	logrus.SetOutput(os.Stdout)
}
