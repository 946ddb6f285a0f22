package storage

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/ada52/SyConn/config"
	"github.com/ada52/SyConn/errors"
	"github.com/ada52/SyConn/natsclient"
)

// Key layout inside the bucket:
//   - graph.snapshot.run.{runID} - snapshot data
//   - graph.snapshot.latest      - run id of the most recent save
const (
	snapshotKeyPrefix = "graph.snapshot.run."
	latestKey         = "graph.snapshot.latest"
)

// KVSnapshotStore implements SnapshotStore on a NATS JetStream KV bucket
type KVSnapshotStore struct {
	kv jetstream.KeyValue
}

// NewKVSnapshotStore creates a store over an existing bucket
func NewKVSnapshotStore(kv jetstream.KeyValue) *KVSnapshotStore {
	return &KVSnapshotStore{kv: kv}
}

// Open connects a snapshot store per the storage configuration. For memory
// mode the close function is a no-op; for kv mode it drains the NATS
// connection.
func Open(ctx context.Context, cfg config.StorageConfig) (SnapshotStore, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	switch cfg.Mode {
	case config.StorageModeMemory:
		return NewMemoryStore(), noop, nil

	case config.StorageModeKV:
		client, err := natsclient.NewClient(cfg.URL)
		if err != nil {
			return nil, nil, err
		}
		if err := client.Connect(ctx); err != nil {
			return nil, nil, errors.WrapTransient(err, "KVSnapshotStore", "Open", "connect to nats")
		}
		kv, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{Bucket: cfg.Bucket})
		if err != nil {
			_ = client.Close(ctx)
			return nil, nil, errors.WrapTransient(errors.ErrStorageUnavailable, "KVSnapshotStore", "Open",
				fmt.Sprintf("open bucket %s: %v", cfg.Bucket, err))
		}
		return NewKVSnapshotStore(kv), client.Close, nil

	default:
		return nil, nil, errors.WrapInvalid(errors.ErrInvalidConfig, "KVSnapshotStore", "Open",
			fmt.Sprintf("unknown storage mode %q", cfg.Mode))
	}
}

// Save persists a snapshot and marks it as the latest run
func (s *KVSnapshotStore) Save(ctx context.Context, snapshot *Snapshot) error {
	if err := snapshot.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return errors.WrapInvalid(err, "KVSnapshotStore", "Save", "marshal snapshot")
	}
	if _, err := s.kv.Put(ctx, snapshotKey(snapshot.RunID), data); err != nil {
		return errors.WrapTransient(err, "KVSnapshotStore", "Save", "put snapshot")
	}
	if _, err := s.kv.Put(ctx, latestKey, []byte(snapshot.RunID)); err != nil {
		return errors.WrapTransient(err, "KVSnapshotStore", "Save", "put latest pointer")
	}
	return nil
}

// Get retrieves a snapshot by run id
func (s *KVSnapshotStore) Get(ctx context.Context, runID string) (*Snapshot, error) {
	if runID == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "KVSnapshotStore", "Get", "run id is empty")
	}

	entry, err := s.kv.Get(ctx, snapshotKey(runID))
	if err != nil {
		if stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, errors.WrapInvalid(errors.ErrSnapshotNotFound, "KVSnapshotStore", "Get",
				fmt.Sprintf("run %s", runID))
		}
		return nil, errors.WrapTransient(err, "KVSnapshotStore", "Get", "get snapshot")
	}

	var snapshot Snapshot
	if err := json.Unmarshal(entry.Value(), &snapshot); err != nil {
		return nil, errors.WrapInvalid(err, "KVSnapshotStore", "Get", "unmarshal snapshot")
	}
	return &snapshot, nil
}

// Latest retrieves the most recently saved snapshot
func (s *KVSnapshotStore) Latest(ctx context.Context) (*Snapshot, error) {
	entry, err := s.kv.Get(ctx, latestKey)
	if err != nil {
		if stderrors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, errors.WrapInvalid(errors.ErrSnapshotNotFound, "KVSnapshotStore", "Latest",
				"no snapshots stored")
		}
		return nil, errors.WrapTransient(err, "KVSnapshotStore", "Latest", "get latest pointer")
	}
	return s.Get(ctx, string(entry.Value()))
}

// List returns all stored run ids. JetStream KV has no ordered scan, so
// ids are sorted lexically; run ids embed no ordering guarantee beyond
// that.
func (s *KVSnapshotStore) List(ctx context.Context) ([]string, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		if emptyBucket(err) {
			return nil, nil
		}
		return nil, errors.WrapTransient(err, "KVSnapshotStore", "List", "list keys")
	}

	var ids []string
	for _, key := range keys {
		if strings.HasPrefix(key, snapshotKeyPrefix) {
			ids = append(ids, strings.TrimPrefix(key, snapshotKeyPrefix))
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes a snapshot. The latest pointer is left alone; a stale
// pointer surfaces as a not-found on the next Latest call.
func (s *KVSnapshotStore) Delete(ctx context.Context, runID string) error {
	if runID == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "KVSnapshotStore", "Delete", "run id is empty")
	}
	if err := s.kv.Delete(ctx, snapshotKey(runID)); err != nil && !stderrors.Is(err, jetstream.ErrKeyNotFound) {
		return errors.WrapTransient(err, "KVSnapshotStore", "Delete", "delete snapshot")
	}
	return nil
}

// Clear removes all snapshots and the latest pointer
func (s *KVSnapshotStore) Clear(ctx context.Context) error {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		if emptyBucket(err) {
			return nil
		}
		return errors.WrapTransient(err, "KVSnapshotStore", "Clear", "list keys")
	}

	var deleteErrs []error
	for _, key := range keys {
		if key != latestKey && !strings.HasPrefix(key, snapshotKeyPrefix) {
			continue
		}
		if err := s.kv.Delete(ctx, key); err != nil {
			deleteErrs = append(deleteErrs, fmt.Errorf("delete %s: %w", key, err))
		}
	}
	if len(deleteErrs) > 0 {
		return errors.WrapTransient(
			fmt.Errorf("%d deletion errors: %v", len(deleteErrs), deleteErrs),
			"KVSnapshotStore", "Clear", "partial clear failure")
	}
	return nil
}

func snapshotKey(runID string) string {
	return snapshotKeyPrefix + runID
}

// emptyBucket recognizes the errors an empty bucket returns from Keys
func emptyBucket(err error) bool {
	return stderrors.Is(err, jetstream.ErrKeyNotFound) ||
		strings.Contains(err.Error(), "no keys found")
}
