package backgroundworkers

import (
	"sync"

	"github.com/glowbot-gg/glowbot/common"
)

var logger = common.GetFixedPrefixLogger("bgworkers")

// RunWorkers starts the background worker of every registered plugin that
// has one.
func RunWorkers() {
	for _, p := range common.Plugins {
		if bwc, ok := p.(common.BackgroundWorkerPlugin); ok {
			logger.Info("Running background worker: ", p.PluginInfo().Name)
			go bwc.RunBackgroundWorker()
		}
	}
}

// StopWorkers signals every background worker to stop, workers call
// wg.Done when they have fully wound down.
func StopWorkers(wg *sync.WaitGroup) {
	for _, p := range common.Plugins {
		if bwc, ok := p.(common.BackgroundWorkerPlugin); ok {
			logger.Info("Stopping background worker: ", p.PluginInfo().Name)
			wg.Add(1)
			go bwc.StopBackgroundWorker(wg)
		}
	}
}
