package main

import (
	"github.com/glowbot-gg/glowbot/common/run"
	"github.com/glowbot-gg/glowbot/highlight"
)

func main() {
	run.Init()

	// The chat gateway and the DM delivery service attach through
	// Plugin.Finder, standalone this process keeps indexes warm and logs
	// eligible recipients.
	highlight.RegisterPlugin(highlight.LogDispatcher{}, highlight.UnresolvedResolver{})

	run.Run()
}
