package highlight

var DBSchemas = []string{`
CREATE TABLE IF NOT EXISTS highlights (
	guild BIGINT NOT NULL,
	user_id BIGINT NOT NULL,
	highlight TEXT NOT NULL
);
`, `
-- phrases are compared case-insensitively, "Cat" and "cat" are the same
-- registration
CREATE UNIQUE INDEX IF NOT EXISTS highlights_guild_user_lower_idx ON highlights (guild, user_id, lower(highlight));
`, `
CREATE INDEX IF NOT EXISTS highlights_guild_idx ON highlights (guild);
`, `
CREATE TABLE IF NOT EXISTS highlight_blocks (
	user_id BIGINT NOT NULL,
	entity BIGINT NOT NULL,

	-- 'user', 'channel' or 'category'. Rows from before this column
	-- existed default to 'unknown' and are resolved against live channel
	-- metadata when evaluated.
	kind TEXT NOT NULL DEFAULT 'unknown',

	PRIMARY KEY (user_id, entity)
);
`}
