package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	storage_go "github.com/supabase-community/storage-go"
	"github.com/supabase-community/supabase-go"

	"github.com/leadline-ai/leadline/internal/convo"
)

type Config struct {
	URL            string
	ServiceRoleKey string
	Bucket         string
}

// Store archives call artifacts in Supabase Storage: conversation snapshots
// as JSON objects and call recordings as WAV files.
type Store struct {
	client *supabase.Client
	bucket string
}

func New(cfg Config) (*Store, error) {
	if cfg.URL == "" || cfg.ServiceRoleKey == "" {
		return nil, fmt.Errorf("store: SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY required")
	}
	client, err := supabase.NewClient(cfg.URL, cfg.ServiceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("store: create supabase client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// Upload writes raw bytes under key, replacing any existing object so a
// re-save always wins. Used for call recordings and snapshots.
func (s *Store) Upload(key, contentType string, data []byte) error {
	upsert := true
	_, err := s.client.Storage.UploadFile(s.bucket, key, bytes.NewReader(data), storage_go.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return fmt.Errorf("store: upload %s: %w", key, err)
	}
	return nil
}

// SaveSnapshot archives one conversation snapshot. Re-saving the same
// session overwrites the previous object, so the bucket always holds the
// latest state per call.
func (s *Store) SaveSnapshot(ctx context.Context, snap convo.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal snapshot: %w", err)
	}
	return s.Upload(snapshotKey(snap.SessionID), "application/json", body)
}

// snapshotKey maps a session ID to its object path. IDs come from call
// identifiers and may contain path-hostile characters.
func snapshotKey(sessionID string) string {
	id := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, sessionID)
	return "sessions/" + id + ".json"
}
