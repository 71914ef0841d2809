package highlight

import (
	"context"
	"strconv"
	"time"

	"github.com/karlseguin/ccache"
	cache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

// EntityKind is the tagged variant for what a block rule points at.
// EntityUnknown is a migration artifact, rows from before the kind column
// existed, resolved lazily against live channel metadata. EntityUnresolved
// is the resolver saying it could not tell, those blocks fail open.
type EntityKind int

const (
	EntityUnknown EntityKind = iota
	EntityUser
	EntityChannel
	EntityCategory
	EntityUnresolved
)

func (k EntityKind) String() string {
	switch k {
	case EntityUser:
		return "user"
	case EntityChannel:
		return "channel"
	case EntityCategory:
		return "category"
	case EntityUnresolved:
		return "unresolved"
	default:
		return "unknown"
	}
}

// ParseEntityKind maps the kind column back to an EntityKind, anything
// unrecognized is treated as the legacy unknown state.
func ParseEntityKind(s string) EntityKind {
	switch s {
	case "user":
		return EntityUser
	case "channel":
		return EntityChannel
	case "category":
		return EntityCategory
	default:
		return EntityUnknown
	}
}

// Block is one suppression rule: UserID never wants notifications caused
// by Entity, where Entity is an author, a channel or a channel category.
type Block struct {
	UserID int64      `db:"user_id"`
	Entity int64      `db:"entity"`
	Kind   EntityKind `db:"-"`
}

// BlockSource is where block rows are fetched from on cache miss,
// implemented by Storage and by test fakes.
type BlockSource interface {
	UserBlocks(ctx context.Context, userID int64) ([]Block, error)
}

// EntityResolver asks the chat gateway whether an entity id is a channel
// or a category, used to resolve legacy unknown-kind blocks. Returning
// EntityUnresolved (or an error) means the entity could not be classified,
// e.g. it was deleted.
type EntityResolver interface {
	ResolveEntity(ctx context.Context, entityID int64) (EntityKind, error)
}

// UnresolvedResolver answers unresolved for everything, for processes
// with no gateway attached. Legacy unknown-kind blocks fail open under
// it, concretely-typed blocks are unaffected.
type UnresolvedResolver struct{}

func (UnresolvedResolver) ResolveEntity(ctx context.Context, entityID int64) (EntityKind, error) {
	return EntityUnresolved, nil
}

const (
	// resolved kinds are kept for the lifetime of the process, entities
	// never change kind
	resolvedKindCacheSize = 10000
	resolvedKindTTL       = time.Hour * 24 * 365

	// per-user block snapshots, also evicted explicitly on change events
	blockSnapshotTTL = time.Minute * 10
)

// BlockFilter decides whether a notification candidate is suppressed by
// one of the target user's block rules. Evaluation is a pure predicate
// over a cached per-user block snapshot, safe for any number of
// concurrent message scans.
type BlockFilter struct {
	source   BlockSource
	resolver EntityResolver
	logger   *logrus.Entry

	resolvedKinds *ccache.Cache
	snapshots     *cache.Cache
}

func NewBlockFilter(source BlockSource, resolver EntityResolver) *BlockFilter {
	return &BlockFilter{
		source:        source,
		resolver:      resolver,
		logger:        logger.WithField("part", "blockfilter"),
		resolvedKinds: ccache.New(ccache.Configure().MaxSize(resolvedKindCacheSize)),
		snapshots:     cache.New(blockSnapshotTTL, blockSnapshotTTL*2),
	}
}

// Blocked reports whether targetUserID has a block suppressing
// notifications from evt. Any single matching block suppresses, the rules
// are independent OR conditions with no precedence between channel and
// category.
func (f *BlockFilter) Blocked(ctx context.Context, targetUserID int64, evt *MatchEvent) bool {
	blocks, err := f.userBlocks(ctx, targetUserID)
	if err != nil {
		// fail open, a storage hiccup should drop blocks, not
		// notifications for everyone else
		f.logger.WithError(err).WithField("user", targetUserID).Error("failed fetching blocks, failing open")
		return false
	}

	for _, b := range blocks {
		kind := b.Kind
		if kind == EntityUnknown {
			kind = f.resolveKind(ctx, b.Entity)
		}

		switch kind {
		case EntityUser:
			if b.Entity == evt.AuthorID {
				return true
			}
		case EntityChannel:
			if b.Entity == evt.ChannelID {
				return true
			}
		case EntityCategory:
			if evt.CategoryID.Valid && b.Entity == evt.CategoryID.Int64 {
				return true
			}
		case EntityUnresolved:
			// this single block fails open, the rest still apply
		}
	}

	return false
}

// InvalidateUser drops the cached block snapshot for a user, called from
// the pubsub handler when their blocks change.
func (f *BlockFilter) InvalidateUser(userID int64) {
	f.snapshots.Delete(strconv.FormatInt(userID, 10))
}

// userBlocks returns the user's cached block snapshot. Only a cold miss
// touches the store, at most once per user per TTL window, every other
// evaluation for that user is served from memory until the TTL runs out
// or a change event evicts the snapshot.
func (f *BlockFilter) userBlocks(ctx context.Context, userID int64) ([]Block, error) {
	key := strconv.FormatInt(userID, 10)
	if cached, ok := f.snapshots.Get(key); ok {
		return cached.([]Block), nil
	}

	blocks, err := f.source.UserBlocks(ctx, userID)
	if err != nil {
		return nil, err
	}

	f.snapshots.Set(key, blocks, cache.DefaultExpiration)
	return blocks, nil
}

// resolveKind classifies a legacy unknown-kind entity, caching successful
// answers for the process lifetime. Unresolvable entities are not cached
// so a later resolver recovery can still classify them.
func (f *BlockFilter) resolveKind(ctx context.Context, entityID int64) EntityKind {
	key := strconv.FormatInt(entityID, 10)
	if item := f.resolvedKinds.Get(key); item != nil && !item.Expired() {
		return item.Value().(EntityKind)
	}

	kind, err := f.resolver.ResolveEntity(ctx, entityID)
	if err != nil {
		f.logger.WithError(err).WithField("entity", entityID).Warn("could not resolve blocked entity kind, failing open for this block")
		return EntityUnresolved
	}

	switch kind {
	case EntityChannel, EntityCategory, EntityUser:
		f.resolvedKinds.Set(key, kind, resolvedKindTTL)
		return kind
	default:
		f.logger.WithField("entity", entityID).Warn("blocked entity kind is ambiguous, failing open for this block")
		return EntityUnresolved
	}
}
