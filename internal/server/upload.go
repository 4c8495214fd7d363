// Package server accepts file uploads for chat file messages and serves the
// stored files back.
package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/Tyrowin/anonychat/internal/chat"
)

const multipartOverhead = 1 << 20

// UploadHandler stores uploaded files under a directory and answers with the
// chat.FileRef a client then sends through send-file. The content type is
// sniffed from the bytes; the client's claim is ignored.
type UploadHandler struct {
	dir          string
	publicPrefix string
	maxBytes     int64
	allowed      []string
	logger       *slog.Logger
}

// NewUploadHandler creates the upload directory if needed.
func NewUploadHandler(cfg UploadsConfig, logger *slog.Logger) (*UploadHandler, error) {
	if cfg.Dir == "" {
		return nil, errors.New("upload directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	prefix := cfg.PublicPrefix
	if prefix == "" {
		prefix = "/uploads/"
	}
	return &UploadHandler{
		dir:          cfg.Dir,
		publicPrefix: prefix,
		maxBytes:     cfg.MaxBytes,
		allowed:      cfg.AllowedTypes,
		logger:       logger,
	}, nil
}

// PublicPrefix is the URL path under which stored files are served.
func (u *UploadHandler) PublicPrefix() string {
	return u.publicPrefix
}

// ServeHTTP handles POST multipart uploads with the file in field "file".
func (u *UploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, u.maxBytes+multipartOverhead)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, "file too large", http.StatusRequestEntityTooLarge)
			return
		}
		writeJSONError(w, "no file provided", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, u.maxBytes+1))
	if err != nil {
		writeJSONError(w, "failed to read file", http.StatusBadRequest)
		return
	}
	if int64(len(data)) > u.maxBytes {
		writeJSONError(w, "file too large", http.StatusRequestEntityTooLarge)
		return
	}
	if len(data) == 0 {
		writeJSONError(w, "file is empty", http.StatusBadRequest)
		return
	}

	mime := mimetype.Detect(data)
	if !u.allowedType(mime) {
		writeJSONError(w, "file type not allowed: "+mime.String(), http.StatusUnsupportedMediaType)
		return
	}

	name := uuid.NewString() + mime.Extension()
	if err := os.WriteFile(filepath.Join(u.dir, name), data, 0o644); err != nil {
		u.logger.Error("failed to store upload", "file", name, "error", err)
		writeJSONError(w, "failed to store file", http.StatusInternalServerError)
		return
	}

	ref := chat.FileRef{
		URL:          u.publicPrefix + name,
		OriginalName: sanitizeFilename(header.Filename),
		SizeBytes:    int64(len(data)),
		MimeType:     mime.String(),
	}
	u.logger.Info("file uploaded", "file", name, "size", ref.SizeBytes, "mime", ref.MimeType)
	writeJSON(w, ref, http.StatusCreated)
}

// allowedType matches entries ending in "/" as prefixes and every other entry
// as a full media type. An empty list allows everything.
func (u *UploadHandler) allowedType(mime *mimetype.MIME) bool {
	if len(u.allowed) == 0 {
		return true
	}
	for _, entry := range u.allowed {
		if strings.HasSuffix(entry, "/") {
			if strings.HasPrefix(mime.String(), entry) {
				return true
			}
			continue
		}
		if mime.Is(entry) {
			return true
		}
	}
	return false
}

// FileServer serves stored uploads under the public prefix.
func (u *UploadHandler) FileServer() http.Handler {
	files := http.StripPrefix(u.publicPrefix, http.FileServer(http.Dir(u.dir)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("X-Content-Type-Options", "nosniff")
		files.ServeHTTP(w, r)
	})
}

// sanitizeFilename removes path separators and dangerous characters from filename.
func sanitizeFilename(filename string) string {
	clean := filepath.Base(filepath.Clean(strings.ReplaceAll(filename, "\\", "/")))
	if clean == "." || clean == ".." || clean == "/" || clean == "" {
		return "unnamed"
	}
	return strings.ReplaceAll(clean, "/", "_")
}
