// Package highlight implements the trigger-phrase matching core: given a
// stream of guild messages it produces, per message, the set of users to
// privately notify because one of their registered phrases occurred as a
// whole word, minus anything suppressed by block rules, cooldowns or
// self-triggering.
package highlight

import (
	"sync"
	"time"

	"github.com/glowbot-gg/glowbot/common"
	"github.com/glowbot-gg/glowbot/common/config"
	"github.com/glowbot-gg/glowbot/common/pubsub"
)

var logger = common.GetFixedPrefixLogger("highlight")

var (
	ConfCooldownWindow = config.RegisterOption("glowbot.cooldown_window", "Seconds between repeat notifications for the same user/phrase/guild", 30)
	ConfMaxHighlights  = config.RegisterOption("glowbot.max_highlights", "Maximum highlight phrases per user per guild", 25)
)

// pubsub event names for cross process invalidation
const (
	EvtHighlightsUpdated = "highlights_updated"
	EvtBlocksUpdated     = "highlight_blocks_updated"
)

// BlocksUpdatedData is the payload of EvtBlocksUpdated, blocks are per
// user and global across guilds so the event targets all processes.
type BlocksUpdatedData struct {
	UserID int64 `json:"user_id"`
}

type Plugin struct {
	Storage   *Storage
	Index     *IndexManager
	Blocks    *BlockFilter
	Cooldowns *CooldownTracker
	Finder    *Finder

	stopWorkers chan struct{}
}

func (p *Plugin) PluginInfo() *common.PluginInfo {
	return &common.PluginInfo{
		Name:     "Highlight",
		SysName:  "highlight",
		Category: common.PluginCategoryCore,
	}
}

// CooldownWindow returns the configured dedup window.
func CooldownWindow() time.Duration {
	return time.Duration(ConfCooldownWindow.GetInt()) * time.Second
}

// RegisterPlugin wires the matching core against the shared database and
// registers it. The dispatcher and resolver are the external
// collaborators owning delivery and channel metadata, pass
// LogDispatcher/UnresolvedResolver when running without a gateway
// attached.
func RegisterPlugin(dispatcher Dispatcher, resolver EntityResolver) *Plugin {
	common.RegisterDBSchemas("highlight", DBSchemas...)

	storage := NewStorage(common.PQ)
	index := NewIndexManager(storage)
	blocks := NewBlockFilter(storage, resolver)
	cooldowns := NewCooldownTracker(CooldownWindow())

	p := &Plugin{
		Storage:     storage,
		Index:       index,
		Blocks:      blocks,
		Cooldowns:   cooldowns,
		Finder:      NewFinder(index, blocks, cooldowns, dispatcher),
		stopWorkers: make(chan struct{}),
	}

	common.RegisterPlugin(p)
	return p
}

// RunBackgroundWorker runs the index rebuild workers and the cooldown
// sweeper, and subscribes to invalidation events from other processes.
func (p *Plugin) RunBackgroundWorker() {
	pubsub.AddHandler(EvtHighlightsUpdated, p.handleHighlightsUpdated, nil)
	pubsub.AddHandler(EvtBlocksUpdated, p.handleBlocksUpdated, BlocksUpdatedData{})

	go p.Cooldowns.RunSweeper(p.stopWorkers)
	p.Index.Run(p.stopWorkers)
}

func (p *Plugin) StopBackgroundWorker(wg *sync.WaitGroup) {
	close(p.stopWorkers)
	wg.Done()
}

func (p *Plugin) handleHighlightsUpdated(evt *pubsub.Event) {
	if evt.TargetGuildInt > 0 {
		p.Index.Invalidate(evt.TargetGuildInt)
		return
	}

	// wildcard, e.g. a deleted account touching many guilds: invalidate
	// everything we currently hold an index for
	p.Index.InvalidateAll()
}

func (p *Plugin) handleBlocksUpdated(evt *pubsub.Event) {
	data := evt.Data.(*BlocksUpdatedData)
	p.Blocks.InvalidateUser(data.UserID)
}
