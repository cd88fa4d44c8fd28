package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/voxmetra/voxmetra/pkg/store"
)

// TranscriptIndexImpl is the semantic transcript index backed by a pgvector
// HNSW index for fast approximate nearest-neighbour search.
//
// Obtain one via [Store.Index] rather than constructing directly.
// All methods are safe for concurrent use.
type TranscriptIndexImpl struct {
	pool *pgxpool.Pool
}

// IndexTranscript implements [store.TranscriptIndex]. It upserts a
// pre-embedded transcript entry; an entry with the same session id is
// completely replaced.
func (t *TranscriptIndexImpl) IndexTranscript(ctx context.Context, entry store.TranscriptEntry) error {
	const q = `
		INSERT INTO transcript_index
		    (session_id, user_id, transcript, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO UPDATE SET
		    user_id    = EXCLUDED.user_id,
		    transcript = EXCLUDED.transcript,
		    embedding  = EXCLUDED.embedding,
		    created_at = EXCLUDED.created_at`

	vec := pgvector.NewVector(entry.Embedding)
	_, err := t.pool.Exec(ctx, q,
		entry.SessionID,
		entry.UserID,
		entry.Transcript,
		vec,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("transcript index: index: %w", err)
	}
	return nil
}

// Similar implements [store.TranscriptIndex]. It finds the topK transcripts
// whose embeddings are closest (cosine distance) to the query embedding,
// optionally restricted to one user.
//
// Results are ordered by ascending cosine distance (most similar first).
func (t *TranscriptIndexImpl) Similar(ctx context.Context, embedding []float32, topK int, userID string) ([]store.SimilarSession, error) {
	queryVec := pgvector.NewVector(embedding)

	q := `
		SELECT session_id, user_id, transcript, created_at,
		       embedding <=> $1 AS distance
		FROM   transcript_index`
	args := []any{queryVec}
	if userID != "" {
		q += `
		WHERE  user_id = $2`
		args = append(args, userID)
	}
	args = append(args, topK)
	q += fmt.Sprintf(`
		ORDER  BY distance
		LIMIT  $%d`, len(args))

	rows, err := t.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("transcript index: similar: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.SimilarSession, error) {
		var ss store.SimilarSession
		if err := row.Scan(
			&ss.SessionID,
			&ss.UserID,
			&ss.Transcript,
			&ss.CreatedAt,
			&ss.Distance,
		); err != nil {
			return store.SimilarSession{}, err
		}
		return ss, nil
	})
	if err != nil {
		return nil, fmt.Errorf("transcript index: scan rows: %w", err)
	}
	if results == nil {
		results = []store.SimilarSession{}
	}
	return results, nil
}
