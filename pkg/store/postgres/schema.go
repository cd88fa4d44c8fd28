package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// Progress + sessions DDL
// ─────────────────────────────────────────────────────────────────────────────

const ddlProgress = `
CREATE TABLE IF NOT EXISTS user_progress (
    user_id   TEXT    PRIMARY KEY,
    doc       JSONB   NOT NULL,
    revision  BIGINT  NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
    session_id  TEXT         PRIMARY KEY,
    user_id     TEXT         NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    doc         JSONB        NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sessions_user_created
    ON sessions (user_id, created_at DESC);
`

// ddlTranscriptIndex returns the semantic index DDL with the embedding
// dimension substituted. The vector dimension is baked into the column type
// at schema creation time.
func ddlTranscriptIndex(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS transcript_index (
    session_id  TEXT         PRIMARY KEY,
    user_id     TEXT         NOT NULL,
    transcript  TEXT         NOT NULL,
    embedding   vector(%d),
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transcript_index_user
    ON transcript_index (user_id);

CREATE INDEX IF NOT EXISTS idx_transcript_index_embedding
    ON transcript_index USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required database tables and extensions
// exist. It is idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT
// EXISTS) and safe to call on every application start.
//
// embeddingDimensions must match the vector model configured for your
// deployment (e.g., 1536 for OpenAI text-embedding-3-small, 768 for
// nomic-embed-text); pass 0 to skip the transcript index entirely. Changing
// the dimension after the first migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{ddlProgress}
	if embeddingDimensions > 0 {
		statements = append(statements, ddlTranscriptIndex(embeddingDimensions))
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
