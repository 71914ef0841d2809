package highlight

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"emperror.dev/errors"
	"github.com/sirupsen/logrus"
)

// StoredHighlight is one registered trigger phrase as the phrase store
// returns it.
type StoredHighlight struct {
	GuildID   int64  `db:"guild"`
	UserID    int64  `db:"user_id"`
	Highlight string `db:"highlight"`
}

// PhraseSource is where the index manager fetches a guild's phrases from
// when rebuilding, implemented by Storage and by test fakes.
type PhraseSource interface {
	GuildHighlights(ctx context.Context, guildID int64) ([]StoredHighlight, error)
}

// IndexSnapshot is a fully built, immutable automaton over one guild's
// phrases. Scans in flight keep using the snapshot they started with even
// if a newer one is published meanwhile.
type IndexSnapshot struct {
	GuildID int64
	// Version increments on every published rebuild for the guild, used
	// for staleness diagnostics only
	Version int64
	Matcher *Matcher
	BuiltAt time.Time
}

type guildIndex struct {
	snapshot atomic.Pointer[IndexSnapshot]

	// bumped on every invalidation, a finished rebuild only publishes if
	// the generation it started from is still current
	gen     int64
	queued  bool
	version int64
}

// IndexManager holds the per-guild pattern indexes and keeps them up to
// date. Reads are a map lookup plus an atomic pointer load, rebuilds
// happen on background workers and publish by swapping the pointer.
type IndexManager struct {
	source PhraseSource
	logger *logrus.Entry

	mu     sync.RWMutex
	guilds map[int64]*guildIndex

	rebuildChan chan int64
	retryDelay  time.Duration
}

const numRebuildWorkers = 4

// retry delay for rebuilds that failed because the store was unavailable
const rebuildRetryDelay = time.Second * 10

func NewIndexManager(source PhraseSource) *IndexManager {
	return &IndexManager{
		source:      source,
		logger:      logger.WithField("part", "index"),
		guilds:      make(map[int64]*guildIndex),
		rebuildChan: make(chan int64, 1000),
		retryDelay:  rebuildRetryDelay,
	}
}

// Current returns the latest published snapshot for the guild, or nil if
// none has been built yet. Never blocks on a rebuild in progress.
func (im *IndexManager) Current(guildID int64) *IndexSnapshot {
	im.mu.RLock()
	gi := im.guilds[guildID]
	im.mu.RUnlock()

	if gi == nil {
		return nil
	}
	return gi.snapshot.Load()
}

// Invalidate marks the guild's index as stale and queues a rebuild. Safe
// to call from the message path, it never blocks on I/O.
func (im *IndexManager) Invalidate(guildID int64) {
	im.mu.Lock()
	gi := im.guilds[guildID]
	if gi == nil {
		gi = &guildIndex{}
		im.guilds[guildID] = gi
	}

	gi.gen++
	if gi.queued {
		im.mu.Unlock()
		return
	}
	gi.queued = true
	im.mu.Unlock()

	select {
	case im.rebuildChan <- guildID:
	default:
		// queue full, put it back to dirty-unqueued and retry once the
		// workers have had a chance to drain the backlog
		im.mu.Lock()
		gi.queued = false
		im.mu.Unlock()
		im.logger.WithField("guild", guildID).Warn("rebuild queue full, retrying later")
		time.AfterFunc(im.retryDelay, func() {
			im.Invalidate(guildID)
		})
	}
}

// InvalidateAll queues a rebuild for every guild an index is currently
// held for.
func (im *IndexManager) InvalidateAll() {
	im.mu.RLock()
	guildIDs := make([]int64, 0, len(im.guilds))
	for id := range im.guilds {
		guildIDs = append(guildIDs, id)
	}
	im.mu.RUnlock()

	for _, id := range guildIDs {
		im.Invalidate(id)
	}
}

// Refresh synchronously rebuilds and publishes the guild's snapshot, used
// at startup warmup and in tests. If the guild was invalidated again
// while the rebuild was running the result is discarded.
func (im *IndexManager) Refresh(ctx context.Context, guildID int64) error {
	im.mu.Lock()
	gi := im.guilds[guildID]
	if gi == nil {
		gi = &guildIndex{}
		im.guilds[guildID] = gi
	}
	startGen := gi.gen
	im.mu.Unlock()

	return im.rebuild(ctx, guildID, gi, startGen)
}

func (im *IndexManager) rebuild(ctx context.Context, guildID int64, gi *guildIndex, startGen int64) error {
	phrases, err := im.source.GuildHighlights(ctx, guildID)
	if err != nil {
		metricsIndexRebuilds.WithLabelValues("error").Inc()
		return errors.WithMessage(err, "GuildHighlights")
	}

	matcher := NewMatcher(phrases)

	im.mu.Lock()
	if gi.gen != startGen {
		// superseded, a newer rebuild is on its way
		im.mu.Unlock()
		metricsIndexRebuilds.WithLabelValues("superseded").Inc()
		return nil
	}
	gi.version++
	snap := &IndexSnapshot{
		GuildID: guildID,
		Version: gi.version,
		Matcher: matcher,
		BuiltAt: time.Now(),
	}
	gi.snapshot.Store(snap)
	im.mu.Unlock()

	metricsIndexRebuilds.WithLabelValues("ok").Inc()
	im.logger.WithFields(logrus.Fields{
		"guild":    guildID,
		"version":  snap.Version,
		"patterns": matcher.NumPatterns(),
	}).Debug("published new pattern index snapshot")
	return nil
}

// Run services the rebuild queue until stop is closed, launching a
// bounded number of workers so a storm of invalidations can't exhaust the
// database pool.
func (im *IndexManager) Run(stop chan struct{}) {
	var wg sync.WaitGroup
	for i := 0; i < numRebuildWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			im.runWorker(stop)
		}()
	}
	wg.Wait()
}

func (im *IndexManager) runWorker(stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case guildID := <-im.rebuildChan:
			im.mu.Lock()
			gi := im.guilds[guildID]
			var startGen int64
			if gi != nil {
				gi.queued = false
				startGen = gi.gen
			}
			im.mu.Unlock()

			if gi == nil {
				continue
			}

			err := im.rebuild(context.Background(), guildID, gi, startGen)
			if err != nil {
				im.logger.WithError(err).WithField("guild", guildID).Error("failed rebuilding pattern index, retrying later")
				time.AfterFunc(im.retryDelay, func() {
					im.Invalidate(guildID)
				})
			}
		}
	}
}
