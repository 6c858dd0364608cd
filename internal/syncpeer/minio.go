package syncpeer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/starford/notation/internal/models"
)

// MinIOConfig locates a bucket used as a sync peer.
type MinIOConfig struct {
	Name      string
	Endpoint  string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// MinIO stores notes as JSON objects in an S3-compatible bucket:
// <prefix>/notes/<id>.json for live notes and <prefix>/deleted/<id>.json
// for deletions.
type MinIO struct {
	cfg    MinIOConfig
	client *minio.Client
	logger *slog.Logger
}

var _ Peer = (*MinIO)(nil)

// NewMinIO creates a peer. No request is made until the first push.
func NewMinIO(cfg MinIOConfig, logger *slog.Logger) (*MinIO, error) {
	if cfg.Name == "" {
		cfg.Name = "minio:" + cfg.Endpoint + "/" + cfg.Bucket
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.UseSSL,
		BucketLookup: minio.BucketLookupAuto,
	})
	if err != nil {
		return nil, fmt.Errorf("syncpeer: init minio client: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MinIO{cfg: cfg, client: client, logger: logger.With(slog.String("component", "syncpeer"), slog.String("peer", cfg.Name))}, nil
}

func (m *MinIO) Name() string { return m.cfg.Name }

func (m *MinIO) noteKey(id string) string {
	return path.Join(m.cfg.Prefix, "notes", id+".json")
}

func (m *MinIO) deletionKey(id string) string {
	return path.Join(m.cfg.Prefix, "deleted", id+".json")
}

func (m *MinIO) put(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("syncpeer: encode %s: %w", key, err)
	}
	_, err = m.client.PutObject(ctx, m.cfg.Bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("syncpeer: upload %s: %w", key, err)
	}
	return nil
}

func (m *MinIO) PushNote(ctx context.Context, r *Record) error {
	return m.put(ctx, m.noteKey(r.ID), r)
}

func (m *MinIO) PushDeletion(ctx context.Context, t *models.DeletedNote) error {
	if err := m.put(ctx, m.deletionKey(t.ID), t); err != nil {
		return err
	}
	err := m.client.RemoveObject(ctx, m.cfg.Bucket, m.noteKey(t.ID), minio.RemoveObjectOptions{})
	if err != nil && minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return fmt.Errorf("syncpeer: remove %s: %w", t.ID, err)
	}
	return nil
}

// Pull downloads every live note. Objects that do not decode are logged
// and skipped so one bad upload does not block the rest.
func (m *MinIO) Pull(ctx context.Context) ([]*Record, error) {
	prefix := path.Join(m.cfg.Prefix, "notes") + "/"
	var keys []string
	for obj := range m.client.ListObjects(ctx, m.cfg.Bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("syncpeer: list %s: %w", prefix, obj.Err)
		}
		if strings.HasSuffix(obj.Key, ".json") {
			keys = append(keys, obj.Key)
		}
	}
	return decodeAll(ctx, keys, m.get, m.logger)
}

func decodeAll(ctx context.Context, keys []string, fetch func(context.Context, string) ([]byte, error),
	logger *slog.Logger) ([]*Record, error) {
	out := make([]*Record, 0, len(keys))
	for _, key := range keys {
		data, err := fetch(ctx, key)
		if err != nil {
			return nil, err
		}
		r, err := decodeRecord(key, data)
		if err != nil {
			logger.Warn("skipping undecodable object", slog.String("key", key), slog.String("error", err.Error()))
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *MinIO) get(ctx context.Context, key string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.cfg.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("syncpeer: download %s: %w", key, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("syncpeer: download %s: %w", key, err)
	}
	return data, nil
}

func decodeRecord(key string, data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("syncpeer: decode %s: %w", key, err)
	}
	if r.ID == "" {
		return nil, fmt.Errorf("syncpeer: decode %s: missing id", key)
	}
	return &r, nil
}
