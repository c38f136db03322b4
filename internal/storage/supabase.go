package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"research-rag/internal/config"
	"research-rag/internal/models"
)

// SupabaseBlob talks to the Supabase Storage REST API of one bucket.
type SupabaseBlob struct {
	baseURL string
	key     string
	bucket  string
	client  *http.Client
}

func NewSupabaseBlob(cfg config.StorageConfig) (*SupabaseBlob, error) {
	if cfg.SupabaseURL == "" || cfg.SupabaseKey == "" {
		return nil, fmt.Errorf("supabase url and key are required")
	}
	return &SupabaseBlob{
		baseURL: strings.TrimRight(cfg.SupabaseURL, "/"),
		key:     cfg.SupabaseKey,
		bucket:  cfg.Bucket,
		client:  &http.Client{Timeout: 120 * time.Second},
	}, nil
}

func (s *SupabaseBlob) Download(ctx context.Context, path string) ([]byte, error) {
	req, err := s.newRequest(ctx, http.MethodGet, s.objectURL(path), nil)
	if err != nil {
		return nil, models.NewStorageError("download", err)
	}
	body, err := s.do(req)
	if err != nil {
		return nil, models.NewStorageError("download "+path, err)
	}
	log.Debug().Str("path", path).Int("bytes", len(body)).Msg("Downloaded file")
	return body, nil
}

func (s *SupabaseBlob) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	req, err := s.newRequest(ctx, http.MethodPost, s.objectURL(path), bytes.NewReader(data))
	if err != nil {
		return models.NewStorageError("upload", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("x-upsert", "true")
	if _, err := s.do(req); err != nil {
		return models.NewStorageError("upload "+path, err)
	}
	return nil
}

func (s *SupabaseBlob) Remove(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	payload, err := json.Marshal(map[string][]string{"prefixes": paths})
	if err != nil {
		return models.NewStorageError("remove", err)
	}
	req, err := s.newRequest(ctx, http.MethodDelete, s.baseURL+"/storage/v1/object/"+url.PathEscape(s.bucket), bytes.NewReader(payload))
	if err != nil {
		return models.NewStorageError("remove", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if _, err := s.do(req); err != nil {
		return models.NewStorageError("remove", err)
	}
	return nil
}

func (s *SupabaseBlob) objectURL(path string) string {
	segments := strings.Split(strings.TrimLeft(path, "/"), "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", s.baseURL, url.PathEscape(s.bucket), strings.Join(segments, "/"))
}

func (s *SupabaseBlob) newRequest(ctx context.Context, method, u string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("apikey", s.key)
	return req, nil
}

func (s *SupabaseBlob) do(req *http.Request) ([]byte, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, models.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("request failed: %d, %s", resp.StatusCode, string(body))
	}
	return body, nil
}
