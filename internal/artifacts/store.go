package artifacts

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/perquire/internal/common"
)

// Store is a filesystem-backed blob store. Objects are addressed by
// hierarchical keys (raw/{job}/{step}-{i}.json, reports/{job}/report.md)
// and exposed through artifact:// URLs plus HMAC-signed retrieval links.
type Store struct {
	root      string
	signKey   []byte
	signedTTL time.Duration
	logger    arbor.ILogger
}

// NewStore creates the artifact store rooted at the configured path
func NewStore(cfg *common.Config, logger arbor.ILogger) (*Store, error) {
	if cfg.Storage.Artifacts.Path == "" {
		return nil, fmt.Errorf("artifacts path is required")
	}
	if err := os.MkdirAll(cfg.Storage.Artifacts.Path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifacts directory: %w", err)
	}

	ttl, err := time.ParseDuration(cfg.Storage.Artifacts.SignedURLTTL)
	if err != nil || ttl <= 0 {
		ttl = time.Hour
	}

	return &Store{
		root:      cfg.Storage.Artifacts.Path,
		signKey:   []byte(uuid.NewString()),
		signedTTL: ttl,
		logger:    logger,
	}, nil
}

// Put writes an object and returns its artifact URL.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	cleaned, err := s.cleanKey(key)
	if err != nil {
		return "", err
	}

	path := filepath.Join(s.root, filepath.FromSlash(cleaned))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}

	// Write via temp file so readers never see a partial object.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to finalize artifact: %w", err)
	}

	sum := sha256.Sum256(data)
	s.logger.Debug().
		Str("key", cleaned).
		Int("size", len(data)).
		Str("sha256", hex.EncodeToString(sum[:8])).
		Msg("Artifact stored")

	return "artifact://" + cleaned, nil
}

// Get reads an object back by key or artifact URL.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	cleaned, err := s.cleanKey(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(cleaned)))
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", cleaned, err)
	}
	return data, nil
}

// GetSigned returns a time-limited retrieval URL for an object.
func (s *Store) GetSigned(ctx context.Context, key string, ttl time.Duration) (string, error) {
	cleaned, err := s.cleanKey(key)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(filepath.Join(s.root, filepath.FromSlash(cleaned))); err != nil {
		return "", fmt.Errorf("artifact not found: %s", cleaned)
	}

	if ttl <= 0 {
		ttl = s.signedTTL
	}
	expires := time.Now().Add(ttl).Unix()
	sig := s.sign(cleaned, expires)

	return fmt.Sprintf("/artifacts/%s?expires=%d&sig=%s", cleaned, expires, sig), nil
}

// VerifySignature checks a signed URL's expiry and signature.
func (s *Store) VerifySignature(key string, expires int64, sig string) error {
	if time.Now().Unix() > expires {
		return fmt.Errorf("signed URL expired")
	}
	expected := s.sign(key, expires)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return fmt.Errorf("invalid signature")
	}
	return nil
}

// Checksum returns the SHA-256 of an object's content.
func (s *Store) Checksum(ctx context.Context, key string) (string, int64, error) {
	data, err := s.Get(ctx, key)
	if err != nil {
		return "", 0, err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), int64(len(data)), nil
}

func (s *Store) sign(key string, expires int64) string {
	mac := hmac.New(sha256.New, s.signKey)
	mac.Write([]byte(key))
	mac.Write([]byte(strconv.FormatInt(expires, 10)))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *Store) cleanKey(key string) (string, error) {
	key = strings.TrimPrefix(key, "artifact://")
	cleaned := filepath.ToSlash(filepath.Clean("/" + key))[1:]
	if cleaned == "" || cleaned == "." || strings.HasPrefix(cleaned, "..") {
		return "", fmt.Errorf("invalid artifact key: %s", key)
	}
	return cleaned, nil
}

// RawPageKey builds the storage key for a raw fetched page.
func RawPageKey(jobID string, stepOrder, index int) string {
	return fmt.Sprintf("raw/%s/%d-%d.json", jobID, stepOrder, index)
}

// ReportKey builds the storage key for a rendered report file.
func ReportKey(jobID, format string) string {
	return fmt.Sprintf("reports/%s/report.%s", jobID, format)
}
