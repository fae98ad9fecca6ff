package libraries

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"studyboard-backend/internal/repo"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

type Clients struct {
	GCS       *storage.Client
	ProjectID string
}

// NewClients creates the Google Cloud clients from base64 encoded service
// account JSON
func NewClients(ctx context.Context, encodedCredentials, projectId string) (*Clients, error) {
	if encodedCredentials == "" {
		return nil, fmt.Errorf("GCP_SERVICE_ACCOUNT_CREDENTIALS not set")
	}

	// decode JSON
	decoded, err := base64.StdEncoding.DecodeString(encodedCredentials)
	if err != nil {
		return nil, fmt.Errorf("failed to decode service account json: %w", err)
	}

	credOpt := option.WithCredentialsJSON(decoded)

	// create GCS client
	gcsClient, err := storage.NewClient(ctx, credOpt)
	if err != nil {
		return nil, fmt.Errorf("storage.NewClient: %w", err)
	}

	return &Clients{
		GCS:       gcsClient,
		ProjectID: projectId,
	}, nil
}

func (c *Clients) Close() {
	c.GCS.Close()
}

// GCSSnapshotStore keeps replicated document snapshots as objects
// <prefix><boardId>.json in a bucket
type GCSSnapshotStore struct {
	bucket *storage.BucketHandle
	prefix string
}

var _ repo.DocSnapshotRepoInterface = (*GCSSnapshotStore)(nil)

func NewGCSSnapshotStore(client *storage.Client, bucket, prefix string) *GCSSnapshotStore {
	return &GCSSnapshotStore{
		bucket: client.Bucket(bucket),
		prefix: prefix,
	}
}

func (s *GCSSnapshotStore) object(boardId uuid.UUID) *storage.ObjectHandle {
	return s.bucket.Object(s.prefix + boardId.String() + ".json")
}

func (s *GCSSnapshotStore) SaveSnapshot(ctx context.Context, boardId uuid.UUID, state []byte) error {
	w := s.object(boardId).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(state); err != nil {
		w.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close snapshot writer: %w", err)
	}
	return nil
}

func (s *GCSSnapshotStore) LoadSnapshot(ctx context.Context, boardId uuid.UUID) ([]byte, error) {
	r, err := s.object(boardId).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, repo.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}
