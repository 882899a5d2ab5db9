// Package memory implements store.Set in process memory. It honours the same
// locking and compare-and-set contract as the filesystem implementation and
// is used by tests and embedded setups.
package memory

import (
	"context"
	"reflect"
	"sync"
)

// Set is an in-memory record set.
type Set[T any] struct {
	mu      sync.Mutex
	records []*T
}

// New creates an empty in-memory set.
func New[T any]() *Set[T] {
	return &Set[T]{}
}

// Read returns a snapshot of all records in append order. Record values are
// copied so readers never observe a concurrent mutation mid-write.
func (s *Set[T]) Read(_ context.Context) ([]*T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*T, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, clone(record))
	}
	return out, nil
}

// Append adds a record to the set.
func (s *Set[T]) Append(_ context.Context, record *T) error {
	if record == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, clone(record))
	return nil
}

// clone copies a record value along with its top-level map and slice fields.
// A plain struct copy would leave those fields aliased between the stored
// record and the snapshot, letting a caller mutate set state outside the
// lock. The filesystem implementation gets this isolation for free from its
// JSON decode; this mirrors it.
func clone[T any](record *T) *T {
	out := *record
	v := reflect.ValueOf(&out).Elem()
	if v.Kind() != reflect.Struct {
		return &out
	}
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		if !field.CanSet() || field.IsZero() {
			continue
		}
		switch field.Kind() {
		case reflect.Map:
			m := reflect.MakeMapWithSize(field.Type(), field.Len())
			iter := field.MapRange()
			for iter.Next() {
				m.SetMapIndex(iter.Key(), iter.Value())
			}
			field.Set(m)
		case reflect.Slice:
			fresh := reflect.MakeSlice(field.Type(), field.Len(), field.Len())
			reflect.Copy(fresh, field)
			field.Set(fresh)
		}
	}
	return &out
}

// UpdateWhere applies mutate to matching records under the write lock. See
// store.Set for the compare-and-set contract.
func (s *Set[T]) UpdateWhere(_ context.Context, predicate func(*T) bool, mutate func(*T) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := 0
	for _, record := range s.records {
		if !predicate(record) {
			continue
		}
		if mutate(record) {
			changed++
		}
	}
	return changed, nil
}

// DeleteWhere removes matching records.
func (s *Set[T]) DeleteWhere(_ context.Context, predicate func(*T) bool) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[:0]
	removed := 0
	for _, record := range s.records {
		if predicate(record) {
			removed++
			continue
		}
		kept = append(kept, record)
	}
	s.records = kept
	return removed, nil
}
