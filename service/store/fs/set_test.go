package fs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sentbridge/outreach/service/store"
)

type record struct {
	ID      string `json:"id"`
	Claimed bool   `json:"claimed,omitempty"`
	Owner   string `json:"owner,omitempty"`
}

func TestSetPersistence(t *testing.T) {
	ctx := context.Background()
	baseURL := t.TempDir()

	set, err := New[record]("items", baseURL)
	assert.NoError(t, err)

	for i := 0; i < 3; i++ {
		assert.NoError(t, set.Append(ctx, &record{ID: fmt.Sprintf("r%d", i)}))
	}

	// a freshly opened set over the same location sees the same records
	reopened, err := New[record]("items", baseURL)
	assert.NoError(t, err)
	all, err := reopened.Read(ctx)
	assert.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, "r0", all[0].ID)

	// no shadow file left behind after the swap
	_, err = os.Stat(filepath.Join(baseURL, "items.json.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestSetUpdateWhereCompareAndSet(t *testing.T) {
	ctx := context.Background()
	set, err := New[record]("items", t.TempDir())
	assert.NoError(t, err)
	assert.NoError(t, set.Append(ctx, &record{ID: "target"}))

	concurrency := 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(owner string) {
			defer wg.Done()
			n, err := set.UpdateWhere(ctx,
				func(r *record) bool { return r.ID == "target" },
				func(r *record) bool {
					if r.Claimed {
						return false
					}
					r.Claimed = true
					r.Owner = owner
					return true
				})
			assert.NoError(t, err)
			mu.Lock()
			winners += n
			mu.Unlock()
		}(fmt.Sprintf("claimer-%d", i))
	}
	wg.Wait()
	assert.Equal(t, 1, winners)
}

func TestSetDeleteWhere(t *testing.T) {
	ctx := context.Background()
	set, err := New[record]("items", t.TempDir())
	assert.NoError(t, err)
	for i := 0; i < 4; i++ {
		assert.NoError(t, set.Append(ctx, &record{ID: fmt.Sprintf("r%d", i), Claimed: i < 2}))
	}
	removed, err := set.DeleteWhere(ctx, func(r *record) bool { return r.Claimed })
	assert.NoError(t, err)
	assert.Equal(t, 2, removed)

	all, err := set.Read(ctx)
	assert.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSetSchemaMismatchQuarantines(t *testing.T) {
	ctx := context.Background()
	baseURL := t.TempDir()

	bad := []byte(`{"schemaVersion":99,"records":[]}`)
	assert.NoError(t, os.WriteFile(filepath.Join(baseURL, "items.json"), bad, 0o644))

	set, err := New[record]("items", baseURL)
	assert.NoError(t, err)

	_, err = set.Read(ctx)
	assert.Error(t, err)
	assert.Equal(t, store.KindSchema, store.KindOf(err))

	// the offending document is preserved, not dropped
	data, err := os.ReadFile(filepath.Join(baseURL, "quarantine", "items.json"))
	assert.NoError(t, err)
	assert.Equal(t, bad, data)
}

func TestSetMalformedDocumentQuarantines(t *testing.T) {
	ctx := context.Background()
	baseURL := t.TempDir()

	assert.NoError(t, os.WriteFile(filepath.Join(baseURL, "items.json"), []byte("not json"), 0o644))

	set, err := New[record]("items", baseURL)
	assert.NoError(t, err)

	_, err = set.Read(ctx)
	assert.Error(t, err)
	assert.Equal(t, store.KindSchema, store.KindOf(err))
}

func TestSetEmptyLocation(t *testing.T) {
	_, err := New[record]("", t.TempDir())
	assert.Error(t, err)
	_, err = New[record]("items", "")
	assert.Error(t, err)
}
