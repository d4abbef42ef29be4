package objectstore

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/chatflow/internal/logger"
	"github.com/chatflow/internal/metrics"
	"github.com/go-chi/chi/v5"
)

// FSStore хранит объекты одного бакета в каталоге Dir/Bucket, каждый файл сжат gzip.
type FSStore struct {
	Dir        string
	Bucket     string
	PublicBase string
	MaxSize    int64
}

// NewFSStore создаёт хранилище. publicBase — внешний адрес сервиса files (без завершающего "/").
func NewFSStore(dir, bucket, publicBase string, maxSize int64) *FSStore {
	return &FSStore{Dir: dir, Bucket: bucket, PublicBase: strings.TrimSuffix(publicBase, "/"), MaxSize: maxSize}
}

func (s *FSStore) objectFile(objectPath string) string {
	return filepath.Join(s.Dir, s.Bucket, filepath.FromSlash(objectPath)) + ".gz"
}

// Upload пишет объект во временный файл и атомарно переименовывает его.
// Скрипты и исполняемые файлы отклоняются; для известных форматов картинок
// проверяется сигнатура по расширению пути.
func (s *FSStore) Upload(ctx context.Context, objectPath, contentType string, r io.Reader) (err error) {
	defer logger.DeferLogDuration("objectstore.Upload", time.Now())()
	defer func() {
		result := "ok"
		if err != nil {
			result = "failed"
		}
		metrics.Uploads.WithLabelValues(result).Inc()
	}()

	objectPath, err = CleanPath(objectPath)
	if err != nil {
		return err
	}
	ext := strings.ToLower(path.Ext(objectPath))
	if blockedExt[ext] {
		return fmt.Errorf("objectstore.Upload %s: %w", objectPath, ErrContentInvalid)
	}

	head := make([]byte, 512)
	n, err := io.ReadAtLeast(r, head, len(head))
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("objectstore.Upload %s: %w", objectPath, err)
	}
	head = head[:n]
	if !matchMagic(ext, head) {
		return fmt.Errorf("objectstore.Upload %s: %w", objectPath, ErrContentInvalid)
	}

	dst := s.objectFile(objectPath)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("objectstore.Upload mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("objectstore.Upload: %w", err)
	}
	defer os.Remove(tmp.Name())

	gz := gzip.NewWriter(tmp)
	src := io.MultiReader(bytes.NewReader(head), r)
	if s.MaxSize > 0 {
		src = io.LimitReader(src, s.MaxSize+1)
	}
	written, err := copyWithContext(ctx, gz, src)
	if err == nil && s.MaxSize > 0 && written > s.MaxSize {
		err = ErrTooLarge
	}
	if cerr := gz.Close(); err == nil {
		err = cerr
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("objectstore.Upload %s: %w", objectPath, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("objectstore.Upload rename: %w", err)
	}
	logger.Debugf("objectstore: stored %s/%s (%d bytes)", s.Bucket, objectPath, written)
	return nil
}

// PublicURL — адрес объекта на сервисе files.
func (s *FSStore) PublicURL(objectPath string) string {
	return s.PublicBase + "/storage/" + s.Bucket + "/" + strings.TrimPrefix(objectPath, "/")
}

// Open возвращает распакованное содержимое объекта.
func (s *FSStore) Open(objectPath string) (io.ReadCloser, error) {
	objectPath, err := CleanPath(objectPath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(s.objectFile(objectPath))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("objectstore.Open: %w", err)
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("objectstore.Open: %w", err)
	}
	return &gzFile{Reader: gz, f: f}, nil
}

type gzFile struct {
	*gzip.Reader
	f *os.File
}

func (g *gzFile) Close() error {
	g.Reader.Close()
	return g.f.Close()
}

func (s *FSStore) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Errorf("objectstore writeJSON: %v", err)
	}
}

func (s *FSStore) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// UploadResponse — ответ после успешной загрузки.
type UploadResponse struct {
	Path string `json:"path"`
	URL  string `json:"url"`
}

// HandleUpload принимает тело запроса как содержимое объекта: POST /upload/{bucket}/*.
func (s *FSStore) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "bucket") != s.Bucket {
		s.writeError(w, http.StatusNotFound, "bucket not found")
		return
	}
	objectPath, err := CleanPath(chi.URLParam(r, "*"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if s.MaxSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.MaxSize)
	}
	err = s.Upload(r.Context(), objectPath, r.Header.Get("Content-Type"), r.Body)
	var maxErr *http.MaxBytesError
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, UploadResponse{Path: objectPath, URL: s.PublicURL(objectPath)})
	case errors.Is(err, ErrTooLarge), errors.As(err, &maxErr):
		s.writeError(w, http.StatusRequestEntityTooLarge, "file too large")
	case errors.Is(err, ErrContentInvalid), errors.Is(err, ErrBadPath):
		s.writeError(w, http.StatusBadRequest, "file content does not match type")
	case r.Context().Err() != nil:
	default:
		logger.Errorf("objectstore: upload %s: %v", objectPath, err)
		s.writeError(w, http.StatusInternalServerError, "failed to save file")
	}
}

// HandleServe отдаёт объект (распаковывая на лету): GET /storage/{bucket}/*.
func (s *FSStore) HandleServe(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "bucket") != s.Bucket {
		s.writeError(w, http.StatusNotFound, "bucket not found")
		return
	}
	objectPath := chi.URLParam(r, "*")
	rc, err := s.Open(objectPath)
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrBadPath) {
		s.writeError(w, http.StatusNotFound, "file not found")
		return
	}
	if err != nil {
		logger.Errorf("objectstore: serve %s: %v", objectPath, err)
		s.writeError(w, http.StatusInternalServerError, "failed to read file")
		return
	}
	defer rc.Close()
	if ct := ContentTypeByExt(path.Ext(objectPath)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		logger.Debugf("objectstore: serve %s: %v", objectPath, err)
	}
}

// Routes монтирует обработчики бакета на роутер.
func (s *FSStore) Routes(r chi.Router) {
	r.Post("/upload/{bucket}/*", s.HandleUpload)
	r.Put("/upload/{bucket}/*", s.HandleUpload)
	r.Get("/storage/{bucket}/*", s.HandleServe)
}
