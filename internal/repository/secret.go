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
	ErrSecretNotFound = errors.New("secret not found")
)

type SecretRepository interface {
	Create(ctx context.Context, secret *model.Secret) error
	ByID(ctx context.Context, id string) (*model.Secret, error)
	// Consume grants one view. final is true when the granted view was the
	// last one and the row no longer exists.
	Consume(ctx context.Context, id string, now time.Time) (secret *model.Secret, final bool, err error)
	// RecordFailedAttempt counts a wrong password. destroyed is true when the
	// limit was reached and this call removed the row.
	RecordFailedAttempt(ctx context.Context, id string, limit int) (secret *model.Secret, destroyed bool, err error)
	DeleteExpired(ctx context.Context, now time.Time) ([]*model.Secret, error)
}

type secretRepository struct {
	db *sqlx.DB
}

func NewSecretRepository(db *sqlx.DB) SecretRepository {
	return &secretRepository{db: db}
}

func (r *secretRepository) Create(ctx context.Context, secret *model.Secret) error {
	query := `
		INSERT INTO secrets (id, content_type, content, file_path, file_name, mime_type, file_size,
		                     password_hash, failed_attempts, expiry_time, view_count, max_views, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.db.ExecContext(ctx, query,
		secret.ID,
		secret.ContentType,
		secret.Content,
		secret.FilePath,
		secret.FileName,
		secret.MimeType,
		secret.FileSize,
		secret.PasswordHash,
		secret.FailedAttempts,
		secret.ExpiryTime,
		secret.ViewCount,
		secret.MaxViews,
		secret.CreatedAt,
	)
	return err
}

func (r *secretRepository) ByID(ctx context.Context, id string) (*model.Secret, error) {
	secret := &model.Secret{}
	query := `SELECT * FROM secrets WHERE id = $1`

	err := r.db.GetContext(ctx, secret, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSecretNotFound
	}
	if err != nil {
		return nil, err
	}

	return secret, nil
}

// The final view removes the row in the same statement that grants it, so no
// intermediate "exhausted but present" row is ever visible.
const consumeFinalQuery = `
	DELETE FROM secrets
	WHERE id = $1
	AND view_count = max_views - 1
	AND (expiry_time IS NULL OR expiry_time > $2)
	RETURNING *
`

const consumeViewQuery = `
	UPDATE secrets
	SET view_count = view_count + 1
	WHERE id = $1
	AND view_count < max_views - 1
	AND (expiry_time IS NULL OR expiry_time > $2)
	RETURNING *
`

// Consume atomically grants one view of the secret.
// Each attempt is a single conditional statement, so two concurrent callers
// can never be granted the same view; the loser gets ErrSecretNotFound.
func (r *secretRepository) Consume(ctx context.Context, id string, now time.Time) (*model.Secret, bool, error) {
	for {
		var secret model.Secret

		err := r.db.GetContext(ctx, &secret, consumeFinalQuery, id, now)
		if err == nil {
			secret.ViewCount++
			return &secret, true, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, false, err
		}

		err = r.db.GetContext(ctx, &secret, consumeViewQuery, id, now)
		if err == nil {
			return &secret, false, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, false, err
		}

		// Neither statement matched: the secret is gone, or a concurrent view
		// moved it onto its final slot between the two statements. View counts
		// only grow, so this retries at most max_views times.
		current, err := r.ByID(ctx, id)
		if err != nil {
			return nil, false, err
		}
		if !current.IsAvailable(now) {
			return nil, false, ErrSecretNotFound
		}
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
	}
}

func (r *secretRepository) RecordFailedAttempt(ctx context.Context, id string, limit int) (*model.Secret, bool, error) {
	var secret model.Secret

	query := `
		UPDATE secrets
		SET failed_attempts = failed_attempts + 1
		WHERE id = $1
		RETURNING *
	`
	err := r.db.GetContext(ctx, &secret, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, ErrSecretNotFound
	}
	if err != nil {
		return nil, false, err
	}

	if secret.FailedAttempts < limit {
		return &secret, false, nil
	}

	// Only the caller whose DELETE matches owns the cleanup of the backing file
	var deleted model.Secret
	err = r.db.GetContext(ctx, &deleted, `DELETE FROM secrets WHERE id = $1 RETURNING *`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return &secret, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	return &deleted, true, nil
}

// DeleteExpired removes every secret past its deadline and returns the
// removed rows so the caller can delete their files.
func (r *secretRepository) DeleteExpired(ctx context.Context, now time.Time) ([]*model.Secret, error) {
	var secrets []*model.Secret

	query := `
		DELETE FROM secrets
		WHERE (expiry_time IS NOT NULL AND expiry_time <= $1)
		   OR view_count >= max_views
		RETURNING *
	`
	err := r.db.SelectContext(ctx, &secrets, query, now)
	if err != nil {
		return nil, err
	}

	return secrets, nil
}
