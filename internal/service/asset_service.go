package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jangxam/api/internal/client"
)

const maxImageBytes = 32 << 20

// AssetService copies generated images into our own object storage. Remote
// output URLs expire, mirrored ones do not.
type AssetService struct {
	storage    client.StorageClient
	httpClient *http.Client
	maxBytes   int64
	log        zerolog.Logger
}

// NewAssetService creates the service. A nil storage disables mirroring.
func NewAssetService(storage client.StorageClient, log zerolog.Logger) *AssetService {
	return &AssetService{
		storage: storage,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		maxBytes: maxImageBytes,
		log: log.With().Str("component", "assets").Logger(),
	}
}

// Enabled reports whether outputs are mirrored
func (s *AssetService) Enabled() bool {
	return s != nil && s.storage != nil
}

// Mirror uploads every output and returns the resulting URLs in order. An
// output that cannot be copied keeps its original URL.
func (s *AssetService) Mirror(ctx context.Context, jobID string, urls []string) []string {
	if !s.Enabled() {
		return urls
	}

	mirrored := make([]string, len(urls))
	for i, src := range urls {
		dst, err := s.mirrorOne(ctx, jobID, i, src)
		if err != nil {
			s.log.Warn().Err(err).Str("job_id", jobID).Int("index", i).Msg("keeping remote output URL")
			mirrored[i] = src
			continue
		}
		mirrored[i] = dst
	}
	return mirrored
}

func (s *AssetService) mirrorOne(ctx context.Context, jobID string, index int, src string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download output: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}
	key := fmt.Sprintf("images/%s/%d%s", jobID, index, extensionFor(src, contentType))

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read output: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return "", fmt.Errorf("output exceeds %d bytes", s.maxBytes)
	}

	return s.storage.Upload(ctx, key, bytes.NewReader(data), contentType)
}

// extensionFor picks the object extension from the source URL, falling back
// to the content type.
func extensionFor(src, contentType string) string {
	if ext := path.Ext(strings.SplitN(src, "?", 2)[0]); ext != "" && len(ext) <= 5 {
		return ext
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".png"
}
