package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/onetimeview/onetimeview/internal/metrics"
	"github.com/onetimeview/onetimeview/internal/model"
	"github.com/onetimeview/onetimeview/internal/repository"
	"github.com/onetimeview/onetimeview/internal/storage"
	"github.com/onetimeview/onetimeview/internal/token"
	"github.com/onetimeview/onetimeview/internal/validation"
	"golang.org/x/crypto/bcrypt"
)

// Options are the limits and defaults applied to new secrets.
type Options struct {
	AppURL              string
	DefaultExpiry       time.Duration
	MaxExpiry           time.Duration
	MaxViews            int
	MaxTextLength       int
	MaxFileSize         int64
	MaxPasswordAttempts int
	HandoffTTL          time.Duration
}

type SecretService struct {
	secrets    repository.SecretRepository
	handoffs   repository.HandoffRepository
	storage    storage.Storage
	signer     *token.Signer
	opts       Options
	now        func() time.Time
	bcryptCost int
}

func NewSecretService(
	secrets repository.SecretRepository,
	handoffs repository.HandoffRepository,
	storage storage.Storage,
	signer *token.Signer,
	opts Options,
) *SecretService {
	return &SecretService{
		secrets:    secrets,
		handoffs:   handoffs,
		storage:    storage,
		signer:     signer,
		opts:       opts,
		now:        func() time.Time { return time.Now().UTC() },
		bcryptCost: bcrypt.DefaultCost,
	}
}

// CreateInput is a submitted secret. File is nil for text secrets.
type CreateInput struct {
	ContentType string
	Content     string
	Password    string
	ExpiryHours *int // nil: default expiry, 0: no deadline
	MaxViews    *int
	File        io.ReadSeeker
	FileName    string
	FileSize    int64
}

type Created struct {
	ID          string
	URL         string
	ExpiresAt   *time.Time
	HasPassword bool
	ContentType string
	MaxViews    int
}

// View is the content returned by a granted retrieval.
type View struct {
	ContentType    string
	Content        *string
	FileName       string
	MimeType       string
	FileSize       int64
	DownloadURL    string
	RemainingViews int
}

type VerifyResult struct {
	Verified    bool
	HasPassword bool
}

// Delivery streams a file to a download request. Close must be called once
// the body has been served.
type Delivery struct {
	Body        io.ReadCloser
	ContentType string
	FileName    string
	MimeType    string
	Size        int64
	onClose     func()
}

func (d *Delivery) Close() error {
	err := d.Body.Close()
	if d.onClose != nil {
		d.onClose()
	}
	return err
}

type SweepResult struct {
	Secrets      int
	Handoffs     int
	FilesDeleted int
}

func (s *SecretService) Create(ctx context.Context, in CreateInput) (*Created, error) {
	if !model.IsValidContentType(in.ContentType) {
		return nil, invalid("content_type", "must be one of text, image, video, file")
	}

	maxViews := 1
	if in.MaxViews != nil {
		maxViews = min(max(*in.MaxViews, 1), s.opts.MaxViews)
	}

	now := s.now()
	var expiresAt *time.Time
	switch {
	case in.ExpiryHours == nil:
		t := now.Add(s.opts.DefaultExpiry)
		expiresAt = &t
	case *in.ExpiryHours < 0:
		return nil, invalid("expiry_hours", "must not be negative")
	case *in.ExpiryHours > 0:
		ttl := time.Duration(*in.ExpiryHours) * time.Hour
		if ttl > s.opts.MaxExpiry {
			maxHours := int(s.opts.MaxExpiry / time.Hour)
			return nil, invalid("expiry_hours", "must be at most "+strconv.Itoa(maxHours))
		}
		t := now.Add(ttl)
		expiresAt = &t
	}

	err := validation.ValidatePassword(in.Password)
	if err != nil {
		return nil, invalid("password", err.Error())
	}

	secret := &model.Secret{
		ID:          uuid.New().String(),
		ContentType: in.ContentType,
		ExpiryTime:  expiresAt,
		MaxViews:    maxViews,
		CreatedAt:   now,
	}

	if in.ContentType == model.ContentTypeText {
		if in.Content == "" {
			return nil, invalid("content", "is required for text secrets")
		}
		content := validation.SanitizeText(in.Content, s.opts.MaxTextLength)
		if content == "" {
			return nil, invalid("content", "is empty after removing scripts")
		}
		secret.Content = &content
	} else {
		err = s.attachFile(ctx, secret, in)
		if err != nil {
			return nil, err
		}
	}

	if in.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
		if err != nil {
			s.deleteFile(ctx, secret.FilePath)
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		h := string(hash)
		secret.PasswordHash = &h
	}

	err = s.secrets.Create(ctx, secret)
	if err != nil {
		// If DB insert fails, try to cleanup the uploaded file
		s.deleteFile(ctx, secret.FilePath)
		return nil, fmt.Errorf("failed to create secret: %w", err)
	}

	metrics.SecretsCreated.WithLabelValues(secret.ContentType).Inc()
	slog.Info("secret created",
		"secret_id", secret.ID,
		"content_type", secret.ContentType,
		"max_views", secret.MaxViews,
		"has_password", secret.HasPassword(),
	)

	return &Created{
		ID:          secret.ID,
		URL:         s.opts.AppURL + "/view/" + secret.ID,
		ExpiresAt:   secret.ExpiryTime,
		HasPassword: secret.HasPassword(),
		ContentType: secret.ContentType,
		MaxViews:    secret.MaxViews,
	}, nil
}

// attachFile validates the upload and stores it under a random key.
func (s *SecretService) attachFile(ctx context.Context, secret *model.Secret, in CreateInput) error {
	if in.File == nil {
		return invalid("file", "is required")
	}

	ft, err := validation.ValidateFile(in.ContentType, in.FileName, in.FileSize, s.opts.MaxFileSize, in.File)
	if err != nil {
		return &ValidationError{Field: "file", Message: err.Error(), Err: err}
	}

	key := uuid.New().String() + ft.Ext
	n, err := s.storage.Save(ctx, key, in.File)
	if err != nil {
		return fmt.Errorf("failed to save file: %w", err)
	}

	name := in.FileName
	secret.FilePath = &key
	secret.FileName = &name
	secret.MimeType = &ft.MimeType
	secret.FileSize = n
	return nil
}

// Verify checks a password without consuming a view. Only the deadline is
// checked, matching what a viewer sees before the secret is opened.
func (s *SecretService) Verify(ctx context.Context, id, password string) (*VerifyResult, error) {
	secret, err := s.secrets.ByID(ctx, id)
	if errors.Is(err, repository.ErrSecretNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load secret: %w", err)
	}
	if secret.IsExpired(s.now()) {
		return nil, ErrNotFound
	}

	if !secret.HasPassword() {
		return &VerifyResult{Verified: true, HasPassword: false}, nil
	}

	if !checkPassword(secret, password) {
		s.recordFailure(ctx, secret.ID)
		return &VerifyResult{Verified: false, HasPassword: true}, nil
	}

	return &VerifyResult{Verified: true, HasPassword: true}, nil
}

// Retrieve grants one view of the secret. Every failure is ErrNotFound.
func (s *SecretService) Retrieve(ctx context.Context, id, password string) (*View, error) {
	now := s.now()

	current, err := s.secrets.ByID(ctx, id)
	if errors.Is(err, repository.ErrSecretNotFound) {
		metrics.RetrievalsDenied.WithLabelValues("not_found").Inc()
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load secret: %w", err)
	}
	if !current.IsAvailable(now) {
		metrics.RetrievalsDenied.WithLabelValues("not_found").Inc()
		return nil, ErrNotFound
	}

	// Wrong passwords never reach Consume, so they cannot use up a view
	if current.HasPassword() && !checkPassword(current, password) {
		metrics.RetrievalsDenied.WithLabelValues("wrong_password").Inc()
		s.recordFailure(ctx, current.ID)
		return nil, ErrNotFound
	}

	secret, final, err := s.secrets.Consume(ctx, id, now)
	if errors.Is(err, repository.ErrSecretNotFound) {
		metrics.RetrievalsDenied.WithLabelValues("not_found").Inc()
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume secret: %w", err)
	}

	metrics.SecretViews.WithLabelValues(secret.ContentType).Inc()
	if final {
		metrics.SecretsDestroyed.WithLabelValues(metrics.ReasonViewed).Inc()
	}
	slog.Info("secret viewed",
		"secret_id", secret.ID,
		"view", secret.ViewCount,
		"max_views", secret.MaxViews,
		"final", final,
	)

	view := &View{
		ContentType:    secret.ContentType,
		RemainingViews: secret.RemainingViews(),
	}

	if !secret.HasFile() {
		view.Content = secret.Content
		return view, nil
	}

	url, err := s.issueHandoff(ctx, secret, final, now)
	if err != nil {
		// The view is spent either way; a final file has no other owner left
		if final {
			s.deleteFile(ctx, secret.FilePath)
		}
		return nil, err
	}

	view.FileName = deref(secret.FileName)
	view.MimeType = deref(secret.MimeType)
	view.FileSize = secret.FileSize
	view.DownloadURL = url
	return view, nil
}

// issueHandoff records a single-use download for a consumed file view and
// returns its signed URL.
func (s *SecretService) issueHandoff(ctx context.Context, secret *model.Secret, final bool, now time.Time) (string, error) {
	expiresAt := now.Add(s.opts.HandoffTTL)
	// A non-final handoff cannot outlive the secret whose file it points at
	if !final && secret.ExpiryTime != nil && secret.ExpiryTime.Before(expiresAt) {
		expiresAt = *secret.ExpiryTime
	}

	h := &model.Handoff{
		ID:          uuid.New().String(),
		SecretID:    secret.ID,
		ContentType: secret.ContentType,
		FilePath:    deref(secret.FilePath),
		FileName:    deref(secret.FileName),
		MimeType:    deref(secret.MimeType),
		FileSize:    secret.FileSize,
		Final:       final,
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
	}

	err := s.handoffs.Create(ctx, h)
	if err != nil {
		return "", fmt.Errorf("failed to create handoff: %w", err)
	}

	tok, err := s.signer.Sign(h.ID, h.ExpiresAt)
	if err != nil {
		return "", err
	}

	return s.opts.AppURL + "/api/downloads/" + tok, nil
}

// Download redeems a download token. The handoff is removed before the file
// is opened, so a token can be used once.
func (s *SecretService) Download(ctx context.Context, tokenString string) (*Delivery, error) {
	id, err := s.signer.Verify(tokenString)
	if err != nil {
		metrics.Downloads.WithLabelValues("invalid_token").Inc()
		return nil, ErrNotFound
	}

	h, err := s.handoffs.Consume(ctx, id, s.now())
	if errors.Is(err, repository.ErrHandoffNotFound) {
		metrics.Downloads.WithLabelValues("not_found").Inc()
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume handoff: %w", err)
	}

	body, err := s.storage.Open(ctx, h.FilePath)
	if errors.Is(err, storage.ErrNotExist) {
		metrics.Downloads.WithLabelValues("file_missing").Inc()
		slog.Warn("download file missing", "handoff_id", h.ID, "secret_id", h.SecretID)
		return nil, ErrNotFound
	}
	if err != nil {
		if h.Final {
			s.deleteFile(ctx, &h.FilePath)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	metrics.Downloads.WithLabelValues("served").Inc()

	d := &Delivery{
		Body:        body,
		ContentType: h.ContentType,
		FileName:    h.FileName,
		MimeType:    h.MimeType,
		Size:        h.FileSize,
	}
	if h.Final {
		d.onClose = func() {
			s.deleteFile(ctx, &h.FilePath)
		}
	}

	return d, nil
}

// Sweep removes secrets and handoffs whose deadline is at or before now,
// then deletes the files they owned.
func (s *SecretService) Sweep(ctx context.Context, now time.Time) (*SweepResult, error) {
	start := time.Now()
	result := &SweepResult{}

	secrets, err := s.secrets.DeleteExpired(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to delete expired secrets: %w", err)
	}
	result.Secrets = len(secrets)
	for _, secret := range secrets {
		if secret.HasFile() && s.deleteFile(ctx, secret.FilePath) {
			result.FilesDeleted++
		}
	}

	handoffs, err := s.handoffs.DeleteExpired(ctx, now)
	if err != nil {
		return result, fmt.Errorf("failed to delete expired handoffs: %w", err)
	}
	result.Handoffs = len(handoffs)
	for _, h := range handoffs {
		if h.Final && s.deleteFile(ctx, &h.FilePath) {
			result.FilesDeleted++
		}
	}

	metrics.SweepRuns.Inc()
	metrics.SweepDuration.Observe(time.Since(start).Seconds())
	metrics.SweepRemoved.WithLabelValues("secret").Add(float64(result.Secrets))
	metrics.SweepRemoved.WithLabelValues("handoff").Add(float64(result.Handoffs))
	metrics.SecretsDestroyed.WithLabelValues(metrics.ReasonExpired).Add(float64(result.Secrets))

	return result, nil
}

func (s *SecretService) recordFailure(ctx context.Context, id string) {
	secret, destroyed, err := s.secrets.RecordFailedAttempt(ctx, id, s.opts.MaxPasswordAttempts)
	if errors.Is(err, repository.ErrSecretNotFound) {
		return
	}
	if err != nil {
		slog.Error("failed to record wrong password", "secret_id", id, "error", err)
		return
	}
	if !destroyed {
		return
	}

	metrics.SecretsDestroyed.WithLabelValues(metrics.ReasonLocked).Inc()
	slog.Warn("secret destroyed after too many wrong passwords",
		"secret_id", id,
		"attempts", secret.FailedAttempts,
	)
	if secret.HasFile() {
		s.deleteFile(ctx, secret.FilePath)
	}
}

// deleteFile removes a backing file. Failures are logged and never undo the
// row transition that preceded them. The delete outlives a cancelled request.
func (s *SecretService) deleteFile(ctx context.Context, path *string) bool {
	if path == nil || *path == "" {
		return false
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	err := s.storage.Delete(ctx, *path)
	if err != nil {
		metrics.FileDeleteErrors.Inc()
		slog.Error("failed to delete file from storage", "path", *path, "error", err)
		return false
	}
	return true
}

func checkPassword(secret *model.Secret, password string) bool {
	if password == "" {
		return false
	}
	err := bcrypt.CompareHashAndPassword([]byte(*secret.PasswordHash), []byte(password))
	return err == nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
