package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"infomary-backend/internal/models"
)

// ErrThreadNotFound is returned when no thread exists for the lookup key.
var ErrThreadNotFound = errors.New("thread not found")

type TranscriptRepo struct {
	pool *pgxpool.Pool
}

func NewTranscriptRepo(pool *pgxpool.Pool) *TranscriptRepo {
	return &TranscriptRepo{pool: pool}
}

func (r *TranscriptRepo) CreateThread(ctx context.Context, t *models.Thread) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}

	query := `INSERT INTO threads (id, session_id, display_name)
		VALUES ($1, $2, $3) RETURNING created_at`

	return r.pool.QueryRow(ctx, query, t.ID, t.SessionID, t.DisplayName).Scan(&t.CreatedAt)
}

// LatestThread returns the most recent thread opened for a session.
func (r *TranscriptRepo) LatestThread(ctx context.Context, sessionID string) (*models.Thread, error) {
	t := &models.Thread{}
	query := `SELECT id, session_id, display_name, created_at, ended_at
		FROM threads WHERE session_id = $1
		ORDER BY created_at DESC LIMIT 1`

	err := r.pool.QueryRow(ctx, query, sessionID).Scan(
		&t.ID, &t.SessionID, &t.DisplayName, &t.CreatedAt, &t.EndedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrThreadNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *TranscriptRepo) EndThread(ctx context.Context, threadID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		"UPDATE threads SET ended_at = $1 WHERE id = $2 AND ended_at IS NULL",
		time.Now().UTC(), threadID,
	)
	return err
}

// ReopenThread clears ended_at so a resumed thread accepts messages again.
func (r *TranscriptRepo) ReopenThread(ctx context.Context, threadID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, "UPDATE threads SET ended_at = NULL WHERE id = $1", threadID)
	return err
}

// AppendMessages stores messages in order within a single transaction.
func (r *TranscriptRepo) AppendMessages(ctx context.Context, threadID uuid.UUID, msgs []models.ChatMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, m := range msgs {
		batch.Queue(
			"INSERT INTO thread_messages (thread_id, role, content) VALUES ($1, $2, $3)",
			threadID, m.Role, m.Content,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *TranscriptRepo) ListMessages(ctx context.Context, threadID uuid.UUID) ([]models.ThreadMessage, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, thread_id, role, content, created_at
		FROM thread_messages WHERE thread_id = $1 ORDER BY id`,
		threadID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []models.ThreadMessage{}
	for rows.Next() {
		var m models.ThreadMessage
		if err := rows.Scan(&m.ID, &m.ThreadID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (r *TranscriptRepo) CreateRound(ctx context.Context, round *models.Round) error {
	if round.ID == uuid.Nil {
		round.ID = uuid.New()
	}

	query := `INSERT INTO rounds (id, thread_id, category, path, anchor, outcome, turns)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at`

	return r.pool.QueryRow(ctx, query,
		round.ID, round.ThreadID, string(round.Category), round.Path,
		round.Anchor, round.Outcome, round.Turns,
	).Scan(&round.CreatedAt)
}

func (r *TranscriptRepo) ListRounds(ctx context.Context, threadID uuid.UUID) ([]models.Round, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, thread_id, category, path, anchor, outcome, turns, created_at
		FROM rounds WHERE thread_id = $1 ORDER BY created_at`,
		threadID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rounds := []models.Round{}
	for rows.Next() {
		var rd models.Round
		var category string
		if err := rows.Scan(&rd.ID, &rd.ThreadID, &category, &rd.Path, &rd.Anchor, &rd.Outcome, &rd.Turns, &rd.CreatedAt); err != nil {
			return nil, err
		}
		rd.Category = models.Category(category)
		rounds = append(rounds, rd)
	}
	return rounds, rows.Err()
}
