package highlight

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/volatiletech/null/v8"
)

// MatchEvent is one observed chat message, constructed by the gateway
// collaborator per message and discarded after the pipeline ran.
type MatchEvent struct {
	GuildID    int64
	ChannelID  int64
	CategoryID null.Int64 // null for channels outside any category
	AuthorID   int64
	Content    string
	Timestamp  time.Time
}

// Notification is one eligible recipient for a message, handed to the
// dispatcher. Start and End span the matched region of Content for
// highlighting in the delivered message.
type Notification struct {
	TargetUserID int64
	GuildID      int64
	ChannelID    int64
	// the phrase in the casing its owner registered it with
	Phrase string
	Start  int
	End    int
	Event  *MatchEvent
}

// Dispatcher owns delivery of notifications, DMs in practice. Fire and
// forget from the pipeline's perspective, delivery failures and rate
// limiting are the dispatcher's concern.
type Dispatcher interface {
	Deliver(ctx context.Context, notifications []*Notification)
}

// Finder runs the per-message pipeline: scan the guild's pattern index,
// drop the author's own candidates, apply block rules, apply cooldowns
// and hand the survivors to the dispatcher. The common case is a message
// matching nothing, which costs one snapshot load and one scan.
type Finder struct {
	index      *IndexManager
	blocks     *BlockFilter
	cooldowns  *CooldownTracker
	dispatcher Dispatcher
	logger     *logrus.Entry
}

func NewFinder(index *IndexManager, blocks *BlockFilter, cooldowns *CooldownTracker, dispatcher Dispatcher) *Finder {
	return &Finder{
		index:      index,
		blocks:     blocks,
		cooldowns:  cooldowns,
		dispatcher: dispatcher,
		logger:     logger.WithField("part", "finder"),
	}
}

type candidateKey struct {
	userID int64
	phrase string
}

// HandleMessage runs the full pipeline for one message.
func (f *Finder) HandleMessage(ctx context.Context, evt *MatchEvent) {
	metricsMessagesScanned.Inc()

	snap := f.index.Current(evt.GuildID)
	if snap == nil {
		// no snapshot yet for this guild, get one built for the next
		// message rather than stalling this one
		f.index.Invalidate(evt.GuildID)
		return
	}

	matches := snap.Matcher.Scan(evt.Content)
	if len(matches) == 0 {
		return
	}
	metricsMatchesFound.Add(float64(len(matches)))

	var eligible []*Notification
	// a phrase occurring twice in one message only yields one candidate
	// per owner, the first occurrence wins
	seen := make(map[candidateKey]bool)

	for _, m := range matches {
		for _, owner := range m.Owners {
			if owner.UserID == evt.AuthorID {
				// users are never notified of their own messages
				continue
			}

			ck := candidateKey{userID: owner.UserID, phrase: m.Phrase}
			if seen[ck] {
				continue
			}
			seen[ck] = true

			if f.blocks.Blocked(ctx, owner.UserID, evt) {
				metricsSuppressed.WithLabelValues("block").Inc()
				continue
			}

			cdKey := CooldownKey{UserID: owner.UserID, GuildID: evt.GuildID, Phrase: m.Phrase}
			if !f.cooldowns.Allow(cdKey, evt.Timestamp) {
				metricsSuppressed.WithLabelValues("cooldown").Inc()
				continue
			}

			eligible = append(eligible, &Notification{
				TargetUserID: owner.UserID,
				GuildID:      evt.GuildID,
				ChannelID:    evt.ChannelID,
				Phrase:       owner.PreferredCaps,
				Start:        m.Start,
				End:          m.End,
				Event:        evt,
			})
		}
	}

	if len(eligible) == 0 {
		return
	}

	metricsNotifications.Add(float64(len(eligible)))
	f.dispatcher.Deliver(ctx, eligible)
}

// LogDispatcher logs eligible recipients instead of delivering anything,
// the default when no delivery service is attached.
type LogDispatcher struct{}

func (LogDispatcher) Deliver(ctx context.Context, notifications []*Notification) {
	for _, n := range notifications {
		logger.WithFields(logrus.Fields{
			"user":    n.TargetUserID,
			"guild":   n.GuildID,
			"channel": n.ChannelID,
			"phrase":  n.Phrase,
		}).Info("eligible highlight notification")
	}
}
