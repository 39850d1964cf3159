package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/onetimeview/onetimeview/internal/model"
)

var (
	ErrHandoffNotFound = errors.New("handoff not found")
)

type HandoffRepository interface {
	Create(ctx context.Context, handoff *model.Handoff) error
	Consume(ctx context.Context, id string, now time.Time) (*model.Handoff, error)
	DeleteExpired(ctx context.Context, now time.Time) ([]*model.Handoff, error)
}

type handoffRepository struct {
	db *sqlx.DB
}

func NewHandoffRepository(db *sqlx.DB) HandoffRepository {
	return &handoffRepository{db: db}
}

func (r *handoffRepository) Create(ctx context.Context, handoff *model.Handoff) error {
	query := `
		INSERT INTO handoffs (id, secret_id, content_type, file_path, file_name, mime_type, file_size, final, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.ExecContext(ctx, query,
		handoff.ID,
		handoff.SecretID,
		handoff.ContentType,
		handoff.FilePath,
		handoff.FileName,
		handoff.MimeType,
		handoff.FileSize,
		handoff.Final,
		handoff.ExpiresAt,
		handoff.CreatedAt,
	)
	return err
}

// Consume atomically deletes an unexpired handoff and returns it.
// Only the first request succeeds, every other one gets ErrHandoffNotFound.
func (r *handoffRepository) Consume(ctx context.Context, id string, now time.Time) (*model.Handoff, error) {
	var h model.Handoff

	query := `
		DELETE FROM handoffs
		WHERE id = $1
		AND expires_at > $2
		RETURNING *
	`
	err := r.db.GetContext(ctx, &h, query, id, now)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrHandoffNotFound
	}
	if err != nil {
		return nil, err
	}

	return &h, nil
}

func (r *handoffRepository) DeleteExpired(ctx context.Context, now time.Time) ([]*model.Handoff, error) {
	var handoffs []*model.Handoff

	query := `DELETE FROM handoffs WHERE expires_at <= $1 RETURNING *`
	err := r.db.SelectContext(ctx, &handoffs, query, now)
	if err != nil {
		return nil, err
	}

	return handoffs, nil
}
