package highlight

import (
	"context"
	"database/sql"
	"unicode/utf8"

	"emperror.dev/errors"
	"github.com/glowbot-gg/glowbot/common/pubsub"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const (
	// minimum length in characters of a highlight phrase
	MinHighlightLength = 2
	MaxHighlightLength = 200
)

var (
	ErrHighlightTooShort = errors.New("highlight word or phrase is too short")
	ErrHighlightTooLong  = errors.New("highlight word or phrase is too long")
	ErrHighlightExists   = errors.New("you already have that highlight word or phrase")
	ErrTooManyHighlights = errors.New("you have too many highlight words or phrases")
)

const uniqueViolationCode = "23505"

// Storage is the postgres backed phrase and block store. Mutations
// publish invalidation events so every process rebuilds the affected
// guild index or evicts the affected block snapshot.
type Storage struct {
	db     *sqlx.DB
	logger *logrus.Entry
}

func NewStorage(db *sqlx.DB) *Storage {
	return &Storage{
		db:     db,
		logger: logger.WithField("part", "storage"),
	}
}

// ValidateHighlight normalizes the phrase and checks the length bounds,
// returning the normalized form used for storage and indexing.
func ValidateHighlight(highlight string) (string, error) {
	normalized := NormalizeHighlight(highlight)

	length := utf8.RuneCountInString(normalized)
	if length < MinHighlightLength {
		return "", ErrHighlightTooShort
	}
	if length > MaxHighlightLength {
		return "", ErrHighlightTooLong
	}

	return normalized, nil
}

// GuildHighlights returns every phrase registered in the guild, the
// index manager's PhraseSource.
func (s *Storage) GuildHighlights(ctx context.Context, guildID int64) ([]StoredHighlight, error) {
	var result []StoredHighlight
	err := s.db.SelectContext(ctx, &result,
		"SELECT guild, user_id, highlight FROM highlights WHERE guild = $1 ORDER BY user_id, lower(highlight)", guildID)
	if err != nil {
		return nil, errors.WithMessage(err, "GuildHighlights")
	}
	return result, nil
}

// UserHighlights returns one user's phrases in a guild, preferred caps
// preserved.
func (s *Storage) UserHighlights(ctx context.Context, guildID, userID int64) ([]string, error) {
	var result []string
	err := s.db.SelectContext(ctx, &result,
		"SELECT highlight FROM highlights WHERE guild = $1 AND user_id = $2 ORDER BY lower(highlight)", guildID, userID)
	if err != nil {
		return nil, errors.WithMessage(err, "UserHighlights")
	}
	return result, nil
}

// AddHighlight registers a phrase for a user. The phrase is normalized
// before storage, rejected if too short, too long, a case-insensitive
// duplicate, or if the user is at their limit for the guild.
func (s *Storage) AddHighlight(ctx context.Context, guildID, userID int64, highlight string) error {
	normalized, err := ValidateHighlight(highlight)
	if err != nil {
		return err
	}

	maxPerUser := ConfMaxHighlights.GetInt()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.WithMessage(err, "AddHighlight, begin")
	}
	defer tx.Rollback()

	// serializes concurrent adds for the user so the count check below
	// can't be raced past the limit, released on commit/rollback
	_, err = tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", userID)
	if err != nil {
		return errors.WithMessage(err, "AddHighlight, lock")
	}

	var count int
	err = tx.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM highlights WHERE guild = $1 AND user_id = $2", guildID, userID)
	if err != nil {
		return errors.WithMessage(err, "AddHighlight, count")
	}

	if count >= maxPerUser {
		return ErrTooManyHighlights
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO highlights (guild, user_id, highlight) VALUES ($1, $2, $3)", guildID, userID, normalized)
	if err != nil {
		if pqErr, ok := errors.Cause(err).(*pq.Error); ok && pqErr.Code == uniqueViolationCode {
			return ErrHighlightExists
		}
		return errors.WithMessage(err, "AddHighlight, insert")
	}

	err = tx.Commit()
	if err != nil {
		return errors.WithMessage(err, "AddHighlight, commit")
	}

	pubsub.PublishLogErr(EvtHighlightsUpdated, guildID, nil)
	return nil
}

// RemoveHighlight removes a phrase, compared case-insensitively.
func (s *Storage) RemoveHighlight(ctx context.Context, guildID, userID int64, highlight string) error {
	normalized := NormalizeHighlight(highlight)
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM highlights WHERE guild = $1 AND user_id = $2 AND lower(highlight) = lower($3)", guildID, userID, normalized)
	if err != nil {
		return errors.WithMessage(err, "RemoveHighlight")
	}

	pubsub.PublishLogErr(EvtHighlightsUpdated, guildID, nil)
	return nil
}

// ClearUser removes all of a user's phrases in a guild, used when they
// run clear or leave the guild.
func (s *Storage) ClearUser(ctx context.Context, guildID, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM highlights WHERE guild = $1 AND user_id = $2", guildID, userID)
	if err != nil {
		return errors.WithMessage(err, "ClearUser")
	}

	pubsub.PublishLogErr(EvtHighlightsUpdated, guildID, nil)
	return nil
}

// ClearGuild removes every phrase in a guild, used when the bot leaves.
func (s *Storage) ClearGuild(ctx context.Context, guildID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM highlights WHERE guild = $1", guildID)
	if err != nil {
		return errors.WithMessage(err, "ClearGuild")
	}

	pubsub.PublishLogErr(EvtHighlightsUpdated, guildID, nil)
	return nil
}

// ImportHighlights copies a user's phrases from one guild into another,
// skipping case-insensitive duplicates. The combined total has to stay
// under the per-guild limit.
func (s *Storage) ImportHighlights(ctx context.Context, sourceGuildID, targetGuildID, userID int64) error {
	maxPerUser := ConfMaxHighlights.GetInt()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.WithMessage(err, "ImportHighlights, begin")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", userID)
	if err != nil {
		return errors.WithMessage(err, "ImportHighlights, lock")
	}

	var total int
	err = tx.GetContext(ctx, &total,
		"SELECT COUNT(*) FROM highlights WHERE guild IN ($1, $2) AND user_id = $3", sourceGuildID, targetGuildID, userID)
	if err != nil {
		return errors.WithMessage(err, "ImportHighlights, count")
	}

	if total >= maxPerUser {
		return ErrTooManyHighlights
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO highlights (guild, user_id, highlight)
SELECT $2, user_id, highlight FROM highlights WHERE guild = $1 AND user_id = $3
ON CONFLICT DO NOTHING`, sourceGuildID, targetGuildID, userID)
	if err != nil {
		return errors.WithMessage(err, "ImportHighlights, insert")
	}

	err = tx.Commit()
	if err != nil {
		return errors.WithMessage(err, "ImportHighlights, commit")
	}

	pubsub.PublishLogErr(EvtHighlightsUpdated, targetGuildID, nil)
	return nil
}

// DeleteAccount removes everything stored about a user: all phrases in
// every guild and all their blocks.
func (s *Storage) DeleteAccount(ctx context.Context, userID int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.WithMessage(err, "DeleteAccount, begin")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, "DELETE FROM highlights WHERE user_id = $1", userID)
	if err != nil {
		return errors.WithMessage(err, "DeleteAccount, highlights")
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM highlight_blocks WHERE user_id = $1", userID)
	if err != nil {
		return errors.WithMessage(err, "DeleteAccount, blocks")
	}

	err = tx.Commit()
	if err != nil {
		return errors.WithMessage(err, "DeleteAccount, commit")
	}

	s.logger.WithField("user", userID).Info("deleted all highlight data for user")

	// every guild index this user had phrases in is stale now
	pubsub.PublishLogErr(EvtHighlightsUpdated, -1, nil)
	pubsub.PublishLogErr(EvtBlocksUpdated, -1, &BlocksUpdatedData{UserID: userID})
	return nil
}

// UserBlocks returns a user's block rules, the block filter's
// BlockSource.
func (s *Storage) UserBlocks(ctx context.Context, userID int64) ([]Block, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id, entity, kind FROM highlight_blocks WHERE user_id = $1", userID)
	if err != nil {
		return nil, errors.WithMessage(err, "UserBlocks")
	}
	defer rows.Close()

	var result []Block
	for rows.Next() {
		var b Block
		var kind string
		if err := rows.Scan(&b.UserID, &b.Entity, &kind); err != nil {
			return nil, errors.WithMessage(err, "UserBlocks, scan")
		}
		b.Kind = ParseEntityKind(kind)
		result = append(result, b)
	}

	return result, rows.Err()
}

// AddBlock adds or updates a block rule. A user has at most one rule per
// entity, re-blocking with a known kind upgrades a legacy unknown row.
func (s *Storage) AddBlock(ctx context.Context, userID, entityID int64, kind EntityKind) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO highlight_blocks (user_id, entity, kind) VALUES ($1, $2, $3)
ON CONFLICT (user_id, entity) DO UPDATE SET kind = excluded.kind`, userID, entityID, kind.String())
	if err != nil {
		return errors.WithMessage(err, "AddBlock")
	}

	pubsub.PublishLogErr(EvtBlocksUpdated, -1, &BlocksUpdatedData{UserID: userID})
	return nil
}

// RemoveBlock removes a block rule if present.
func (s *Storage) RemoveBlock(ctx context.Context, userID, entityID int64) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM highlight_blocks WHERE user_id = $1 AND entity = $2", userID, entityID)
	if err != nil {
		return errors.WithMessage(err, "RemoveBlock")
	}

	pubsub.PublishLogErr(EvtBlocksUpdated, -1, &BlocksUpdatedData{UserID: userID})
	return nil
}

// HasBlocked reports whether user has a block rule for entity.
func (s *Storage) HasBlocked(ctx context.Context, userID, entityID int64) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM highlight_blocks WHERE user_id = $1 AND entity = $2)", userID, entityID)
	if err != nil && err != sql.ErrNoRows {
		return false, errors.WithMessage(err, "HasBlocked")
	}
	return exists, nil
}
