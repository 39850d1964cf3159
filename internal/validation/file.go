package validation

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/onetimeview/onetimeview/internal/model"
)

var (
	ErrFileTooLarge     = errors.New("file too large")
	ErrFileEmpty        = errors.New("file is empty")
	ErrFileTypeNotAllow = errors.New("file type not allowed")
)

// FileType is what an upload is stored and served as.
type FileType struct {
	Kind     string // image, video or file
	MimeType string
	Ext      string
}

// allowedTypes is the extension allow-list. Anything not listed is rejected.
var allowedTypes = map[string]FileType{
	// Images
	".jpg":  {model.ContentTypeImage, "image/jpeg", ".jpg"},
	".jpeg": {model.ContentTypeImage, "image/jpeg", ".jpeg"},
	".png":  {model.ContentTypeImage, "image/png", ".png"},
	".gif":  {model.ContentTypeImage, "image/gif", ".gif"},
	".webp": {model.ContentTypeImage, "image/webp", ".webp"},
	// Videos
	".mp4":  {model.ContentTypeVideo, "video/mp4", ".mp4"},
	".webm": {model.ContentTypeVideo, "video/webm", ".webm"},
	".mov":  {model.ContentTypeVideo, "video/quicktime", ".mov"},
	// Documents
	".pdf":  {model.ContentTypeFile, "application/pdf", ".pdf"},
	".zip":  {model.ContentTypeFile, "application/zip", ".zip"},
	".doc":  {model.ContentTypeFile, "application/msword", ".doc"},
	".docx": {model.ContentTypeFile, "application/vnd.openxmlformats-officedocument.wordprocessingml.document", ".docx"},
	".xlsx": {model.ContentTypeFile, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", ".xlsx"},
	".pptx": {model.ContentTypeFile, "application/vnd.openxmlformats-officedocument.presentationml.presentation", ".pptx"},
	".txt":  {model.ContentTypeFile, "text/plain", ".txt"},
}

// DetectFileType classifies a file by its extension.
func DetectFileType(filename string) (FileType, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	ft, ok := allowedTypes[ext]
	if !ok {
		if ext == "" {
			return FileType{}, fmt.Errorf("%w: missing file extension", ErrFileTypeNotAllow)
		}
		return FileType{}, fmt.Errorf("%w: %s", ErrFileTypeNotAllow, ext)
	}
	return ft, nil
}

// ValidateFile checks an upload against the declared content type and size
// limit and returns the type it will be stored as.
func ValidateFile(declared, filename string, size, maxSize int64, file io.ReadSeeker) (FileType, error) {
	// Check file size first (before reading content)
	if size > maxSize {
		return FileType{}, fmt.Errorf("%w: maximum size is %d MB", ErrFileTooLarge, maxSize/(1<<20))
	}
	if size == 0 {
		return FileType{}, ErrFileEmpty
	}

	ft, err := DetectFileType(filename)
	if err != nil {
		return FileType{}, err
	}
	if ft.Kind != declared {
		return FileType{}, fmt.Errorf("%w: %s is not a valid %s", ErrFileTypeNotAllow, ft.Ext, declared)
	}

	// Images are also checked by magic number, which cannot be faked by
	// renaming the file
	if ft.Kind == model.ContentTypeImage {
		detected, err := sniff(file)
		if err != nil {
			return FileType{}, err
		}
		if !strings.HasPrefix(detected, "image/") {
			return FileType{}, fmt.Errorf("%w: content is %s", ErrFileTypeNotAllow, detected)
		}
	}

	return ft, nil
}

// sniff detects the content type from the first 512 bytes and rewinds.
func sniff(file io.ReadSeeker) (string, error) {
	buffer := make([]byte, 512)
	n, err := io.ReadFull(file, buffer)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	_, err = file.Seek(0, io.SeekStart)
	if err != nil {
		return "", fmt.Errorf("failed to reset file pointer: %w", err)
	}

	return http.DetectContentType(buffer[:n]), nil
}
