// Package fs implements store.Set on top of the viant/afs abstract file
// system. Each named set is a single JSON document written with a
// shadow-write-then-swap so that readers never observe a partial write.
package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"

	"github.com/sentbridge/outreach/service/store"
)

// SchemaVersion is the current on-disk envelope version for every set.
const SchemaVersion = 1

// envelope is the persisted document: a fixed, versioned schema wrapping the
// records in append order.
type envelope[T any] struct {
	SchemaVersion int  `json:"schemaVersion"`
	Records       []*T `json:"records"`
}

// Set is a filesystem-backed record set.
type Set[T any] struct {
	name    string
	baseURL string
	fs      afs.Service
	log     *logrus.Entry

	// mu is the per-set advisory lock serializing writers. The engine runs
	// single-writer-process; multi-instance deployment requires promoting
	// this to a cross-process lock or a transactional store.
	mu sync.Mutex
}

// New creates (or reopens) a named set under baseURL.
func New[T any](name, baseURL string) (*Set[T], error) {
	if name == "" {
		return nil, fmt.Errorf("set name cannot be empty")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}
	fsService := afs.New()
	ctx := context.Background()
	if ok, _ := fsService.Exists(ctx, baseURL); !ok {
		if err := fsService.Create(ctx, baseURL, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", err)
		}
	}
	return &Set[T]{
		name:    name,
		baseURL: url.Normalize(baseURL, file.Scheme),
		fs:      fsService,
		log:     logrus.WithField("component", "store").WithField("set", name),
	}, nil
}

// Read returns a snapshot of all records in append order.
func (s *Set[T]) Read(ctx context.Context) ([]*T, error) {
	env, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return env.Records, nil
}

// Append adds a record to the set.
func (s *Set[T]) Append(ctx context.Context, record *T) error {
	if record == nil {
		return store.NewError(store.KindIO, s.name, fmt.Errorf("nil record"))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	env, err := s.load(ctx)
	if err != nil {
		return err
	}
	env.Records = append(env.Records, record)
	return s.swap(ctx, env)
}

// UpdateWhere applies mutate to matching records under the set's write lock
// and persists atomically. See store.Set for the compare-and-set contract.
func (s *Set[T]) UpdateWhere(ctx context.Context, predicate func(*T) bool, mutate func(*T) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, err := s.load(ctx)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, record := range env.Records {
		if !predicate(record) {
			continue
		}
		if mutate(record) {
			changed++
		}
	}
	if changed == 0 {
		return 0, nil
	}
	if err := s.swap(ctx, env); err != nil {
		return 0, err
	}
	return changed, nil
}

// DeleteWhere removes matching records.
func (s *Set[T]) DeleteWhere(ctx context.Context, predicate func(*T) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, err := s.load(ctx)
	if err != nil {
		return 0, err
	}
	kept := env.Records[:0]
	removed := 0
	for _, record := range env.Records {
		if predicate(record) {
			removed++
			continue
		}
		kept = append(kept, record)
	}
	if removed == 0 {
		return 0, nil
	}
	env.Records = kept
	if err := s.swap(ctx, env); err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *Set[T]) load(ctx context.Context) (*envelope[T], error) {
	location := s.setPath()
	exists, err := s.fs.Exists(ctx, location)
	if err != nil {
		return nil, store.NewError(store.KindIO, s.name, err)
	}
	if !exists {
		return &envelope[T]{SchemaVersion: SchemaVersion}, nil
	}
	data, err := s.fs.DownloadWithURL(ctx, location)
	if err != nil {
		return nil, store.NewError(store.KindIO, s.name, err)
	}
	var env envelope[T]
	if err := json.Unmarshal(data, &env); err != nil {
		s.quarantine(ctx, data, fmt.Sprintf("malformed document: %v", err))
		return nil, store.NewError(store.KindSchema, s.name, err)
	}
	if env.SchemaVersion != SchemaVersion {
		reason := fmt.Sprintf("schema version %d, want %d", env.SchemaVersion, SchemaVersion)
		s.quarantine(ctx, data, reason)
		return nil, store.NewError(store.KindSchema, s.name, fmt.Errorf("%s", reason))
	}
	return &env, nil
}

// swap writes the full document to a shadow file and renames it over the
// live one. On any failure the original set is untouched and the caller
// receives a retryable IO error.
func (s *Set[T]) swap(ctx context.Context, env *envelope[T]) error {
	env.SchemaVersion = SchemaVersion
	data, err := json.Marshal(env)
	if err != nil {
		return store.NewError(store.KindIO, s.name, err)
	}
	shadow := s.setPath() + ".tmp"
	if err := s.fs.Upload(ctx, shadow, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return store.NewError(store.KindIO, s.name, err)
	}
	if err := s.fs.Move(ctx, shadow, s.setPath()); err != nil {
		return store.NewError(store.KindIO, s.name, err)
	}
	return nil
}

// quarantine preserves an unreadable document for operator inspection
// instead of dropping it, and alerts via the log.
func (s *Set[T]) quarantine(ctx context.Context, data []byte, reason string) {
	target := path.Join(s.baseURL, "quarantine", s.name+".json")
	if err := s.fs.Upload(ctx, target, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		s.log.WithError(err).Error("failed to quarantine record set")
		return
	}
	s.log.WithField("reason", reason).WithField("quarantined", target).
		Error("record set failed schema validation")
}

func (s *Set[T]) setPath() string {
	return path.Join(s.baseURL, s.name+".json")
}
