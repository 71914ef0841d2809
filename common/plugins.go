package common

import (
	"sync"

	"github.com/sirupsen/logrus"
)

var Plugins []Plugin

type PluginCategory struct {
	Name string
}

var (
	PluginCategoryCore = &PluginCategory{Name: "Core"}
	PluginCategoryMisc = &PluginCategory{Name: "Misc"}
)

type PluginInfo struct {
	Name     string // Human readable name of the plugin
	SysName  string // snake_case version of the name in lower case
	Category *PluginCategory
}

// Plugin represents a plugin, all plugins needs to implement this at a bare minimum
type Plugin interface {
	PluginInfo() *PluginInfo
}

// BackgroundWorkerPlugin is implemented by plugins that run maintenance
// loops outside the message hot path.
type BackgroundWorkerPlugin interface {
	RunBackgroundWorker()
	StopBackgroundWorker(wg *sync.WaitGroup)
}

// RegisterPlugin registers a plugin, should be called when the process is starting up
func RegisterPlugin(plugin Plugin) {
	Plugins = append(Plugins, plugin)
	logrus.Info("Registered plugin: " + plugin.PluginInfo().Name)
}
