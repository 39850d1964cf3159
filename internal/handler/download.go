package handler

import (
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/onetimeview/onetimeview/internal/model"
)

// Download serves the file behind a single-use download token
func (h *SecretHandler) Download(w http.ResponseWriter, r *http.Request) {
	if !consumingGet(w, r) {
		return
	}

	d, err := h.secrets.Download(r.Context(), r.PathValue("token"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	defer func() {
		closeErr := d.Close()
		if closeErr != nil {
			slog.Error("failed to close download", "error", closeErr)
		}
	}()

	w.Header().Set("Content-Type", d.MimeType)
	w.Header().Set("Content-Disposition", disposition(d.ContentType, d.FileName))

	// Seekable stores get Range support; the zero modtime keeps a
	// conditional request from spending the token on a 304
	if rs, ok := d.Body.(io.ReadSeeker); ok {
		http.ServeContent(w, r, "", time.Time{}, rs)
		return
	}

	if d.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(d.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	_, err = io.Copy(w, d.Body)
	if err != nil {
		slog.Warn("download interrupted", "error", err)
	}
}

// disposition shows images and videos inline and downloads everything else
func disposition(contentType, fileName string) string {
	kind := "attachment"
	if contentType == model.ContentTypeImage || contentType == model.ContentTypeVideo {
		kind = "inline"
	}
	if fileName == "" {
		return kind
	}
	v := mime.FormatMediaType(kind, map[string]string{"filename": fileName})
	if v == "" {
		return kind
	}
	return v
}
