package objectstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chatflow/internal/logger"
)

// HTTPStore — клиент бакета на сервисе files.
type HTTPStore struct {
	BaseURL    string
	Bucket     string
	PublicBase string
	Client     *http.Client
}

// NewHTTPStore: baseURL — адрес сервиса files для загрузки; publicBase — для ссылок
// (если пусто, совпадает с baseURL).
func NewHTTPStore(baseURL, bucket, publicBase string) *HTTPStore {
	baseURL = strings.TrimSuffix(baseURL, "/")
	if publicBase == "" {
		publicBase = baseURL
	}
	return &HTTPStore{
		BaseURL:    baseURL,
		Bucket:     bucket,
		PublicBase: strings.TrimSuffix(publicBase, "/"),
		Client:     &http.Client{Timeout: 60 * time.Second},
	}
}

func (s *HTTPStore) Upload(ctx context.Context, objectPath, contentType string, r io.Reader) error {
	defer logger.DeferLogDuration("objectstore.HTTPUpload", time.Now())()
	objectPath, err := CleanPath(objectPath)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/upload/"+s.Bucket+"/"+objectPath, r)
	if err != nil {
		return fmt.Errorf("objectstore.HTTPStore.Upload: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return fmt.Errorf("objectstore.HTTPStore.Upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)
	switch resp.StatusCode {
	case http.StatusRequestEntityTooLarge:
		return fmt.Errorf("objectstore.HTTPStore.Upload: %w", ErrTooLarge)
	case http.StatusBadRequest:
		return fmt.Errorf("objectstore.HTTPStore.Upload: %s: %w", body.Error, ErrContentInvalid)
	}
	return fmt.Errorf("objectstore.HTTPStore.Upload: status %d: %s", resp.StatusCode, body.Error)
}

func (s *HTTPStore) PublicURL(objectPath string) string {
	return s.PublicBase + "/storage/" + s.Bucket + "/" + strings.TrimPrefix(objectPath, "/")
}
