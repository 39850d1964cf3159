package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/onetimeview/onetimeview/internal/service"
)

const (
	maxJSONBody     = 1 << 20
	maxFormMemory   = 32 << 20
	formOverhead    = 1 << 20 // room for the non-file fields of a multipart body
	passwordHeader  = "X-Secret-Password"
	passwordQuery   = "password"
	formFieldFile   = "file"
	contentTypeJSON = "application/json"
)

type SecretHandler struct {
	secrets     *service.SecretService
	maxFileSize int64
}

func NewSecretHandler(secrets *service.SecretService, maxFileSize int64) *SecretHandler {
	return &SecretHandler{
		secrets:     secrets,
		maxFileSize: maxFileSize,
	}
}

type createRequest struct {
	ContentType string `json:"content_type"`
	Content     string `json:"content"`
	Password    string `json:"password"`
	ExpiryHours *int   `json:"expiry_hours"`
	MaxViews    *int   `json:"max_views"`
}

type createResponse struct {
	ID          string     `json:"id"`
	URL         string     `json:"url"`
	ExpiresAt   *time.Time `json:"expires_at"`
	HasPassword bool       `json:"has_password"`
	ContentType string     `json:"content_type"`
	MaxViews    int        `json:"max_views"`
}

type verifyRequest struct {
	Password string `json:"password"`
}

type verifyResponse struct {
	Verified    bool `json:"verified"`
	HasPassword bool `json:"has_password"`
}

type viewResponse struct {
	ContentType    string  `json:"content_type"`
	Content        *string `json:"content,omitempty"`
	FileName       string  `json:"file_name,omitempty"`
	MimeType       string  `json:"mime_type,omitempty"`
	FileSize       int64   `json:"file_size,omitempty"`
	DownloadURL    string  `json:"download_url,omitempty"`
	RemainingViews int     `json:"remaining_views"`
}

// Create accepts JSON for text secrets and form posts for everything
func (h *SecretHandler) Create(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var in service.CreateInput
	var err error

	switch mediaType {
	case contentTypeJSON:
		in, err = h.decodeJSON(w, r)
	case "multipart/form-data":
		var file multipart.File
		in, file, err = h.decodeMultipart(w, r)
		if file != nil {
			defer func() {
				closeErr := file.Close()
				if closeErr != nil {
					slog.Error("failed to close file", "error", closeErr)
				}
			}()
		}
		if r.MultipartForm != nil {
			defer func() { _ = r.MultipartForm.RemoveAll() }()
		}
	case "application/x-www-form-urlencoded":
		in, err = h.decodeForm(w, r)
	default:
		writeError(w, http.StatusUnsupportedMediaType, "unsupported content type")
		return
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large", Field: formFieldFile})
			return
		}
		writeServiceError(w, r, err)
		return
	}

	created, err := h.secrets.Create(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, createResponse{
		ID:          created.ID,
		URL:         created.URL,
		ExpiresAt:   created.ExpiresAt,
		HasPassword: created.HasPassword,
		ContentType: created.ContentType,
		MaxViews:    created.MaxViews,
	})
}

func (h *SecretHandler) decodeJSON(w http.ResponseWriter, r *http.Request) (service.CreateInput, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)

	var req createRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return service.CreateInput{}, err
		}
		return service.CreateInput{}, &service.ValidationError{Field: "body", Message: "invalid JSON", Err: err}
	}

	return service.CreateInput{
		ContentType: req.ContentType,
		Content:     req.Content,
		Password:    req.Password,
		ExpiryHours: req.ExpiryHours,
		MaxViews:    req.MaxViews,
	}, nil
}

func (h *SecretHandler) decodeMultipart(w http.ResponseWriter, r *http.Request) (service.CreateInput, multipart.File, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+formOverhead)

	err := r.ParseMultipartForm(maxFormMemory)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return service.CreateInput{}, nil, err
		}
		return service.CreateInput{}, nil, &service.ValidationError{Field: "body", Message: "failed to parse form", Err: err}
	}

	in, err := formInput(r)
	if err != nil {
		return in, nil, err
	}

	file, header, err := r.FormFile(formFieldFile)
	if errors.Is(err, http.ErrMissingFile) {
		return in, nil, nil
	}
	if err != nil {
		return in, nil, &service.ValidationError{Field: formFieldFile, Message: "failed to read file", Err: err}
	}

	in.File = file
	in.FileName = header.Filename
	in.FileSize = header.Size
	return in, file, nil
}

func (h *SecretHandler) decodeForm(w http.ResponseWriter, r *http.Request) (service.CreateInput, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)

	err := r.ParseForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return service.CreateInput{}, err
		}
		return service.CreateInput{}, &service.ValidationError{Field: "body", Message: "failed to parse form", Err: err}
	}

	return formInput(r)
}

func formInput(r *http.Request) (service.CreateInput, error) {
	expiry, err := optionalInt(r, "expiry_hours")
	if err != nil {
		return service.CreateInput{}, err
	}
	maxViews, err := optionalInt(r, "max_views")
	if err != nil {
		return service.CreateInput{}, err
	}

	return service.CreateInput{
		ContentType: r.FormValue("content_type"),
		Content:     r.FormValue("content"),
		Password:    r.FormValue("password"),
		ExpiryHours: expiry,
		MaxViews:    maxViews,
	}, nil
}

func optionalInt(r *http.Request, field string) (*int, error) {
	raw := strings.TrimSpace(r.FormValue(field))
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, &service.ValidationError{Field: field, Message: "must be an integer", Err: err}
	}
	return &n, nil
}

// Verify checks a password without consuming the secret
func (h *SecretHandler) Verify(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)

	var req verifyRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON", Field: "body"})
		return
	}

	res, err := h.secrets.Verify(r.Context(), r.PathValue("id"), req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, verifyResponse{
		Verified:    res.Verified,
		HasPassword: res.HasPassword,
	})
}

// Retrieve consumes one view. The password may come from the query string
// or, preferably, from a header that stays out of access logs.
func (h *SecretHandler) Retrieve(w http.ResponseWriter, r *http.Request) {
	if !consumingGet(w, r) {
		return
	}

	password := r.Header.Get(passwordHeader)
	if password == "" {
		password = r.URL.Query().Get(passwordQuery)
	}

	view, err := h.secrets.Retrieve(r.Context(), r.PathValue("id"), password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, viewResponse{
		ContentType:    view.ContentType,
		Content:        view.Content,
		FileName:       view.FileName,
		MimeType:       view.MimeType,
		FileSize:       view.FileSize,
		DownloadURL:    view.DownloadURL,
		RemainingViews: view.RemainingViews,
	})
}
