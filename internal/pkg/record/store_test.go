package record

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newRedisStore(t *testing.T) Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisStore(rdb)
}

func newGormStore(t *testing.T) Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	store, err := NewGormStore(db)
	if err != nil {
		t.Fatalf("gorm store: %v", err)
	}
	return store
}

func backends(t *testing.T) map[string]Store {
	return map[string]Store{
		"redis": newRedisStore(t),
		"gorm":  newGormStore(t),
	}
}

func TestRoundTripAndNotFound(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := store.Get(ctx, "source:missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("missing key error = %v", err)
			}

			if err := store.Set(ctx, "source:a", []byte(`{"id":"a"}`)); err != nil {
				t.Fatalf("set: %v", err)
			}
			data, err := store.Get(ctx, "source:a")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if string(data) != `{"id":"a"}` {
				t.Fatalf("value = %s", data)
			}

			// Overwrite replaces in place.
			if err := store.Set(ctx, "source:a", []byte(`{"id":"a","v":2}`)); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			data, _ = store.Get(ctx, "source:a")
			if string(data) != `{"id":"a","v":2}` {
				t.Fatalf("overwritten value = %s", data)
			}

			if err := store.Delete(ctx, "source:a"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := store.Get(ctx, "source:a"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("deleted key error = %v", err)
			}
		})
	}
}

func TestPrefixScanIsolation(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 0; i < 25; i++ {
				key := fmt.Sprintf("source:%02d", i)
				if err := store.Set(ctx, key, []byte("{}")); err != nil {
					t.Fatalf("seed: %v", err)
				}
			}
			if err := store.Set(ctx, "embed:x", []byte("{}")); err != nil {
				t.Fatalf("seed embed: %v", err)
			}

			keys, err := ScanAll(ctx, store, NSSource)
			if err != nil {
				t.Fatalf("scan: %v", err)
			}
			if len(keys) != 25 {
				t.Fatalf("scanned %d keys, want 25", len(keys))
			}
			for _, key := range keys {
				if key[:len(NSSource)] != NSSource {
					t.Fatalf("foreign key in scan: %s", key)
				}
			}
		})
	}
}

func TestScanCursorPagination(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			want := make([]string, 0, 12)
			for i := 0; i < 12; i++ {
				key := fmt.Sprintf("version:%02d", i)
				want = append(want, key)
				if err := store.Set(ctx, key, []byte("{}")); err != nil {
					t.Fatalf("seed: %v", err)
				}
			}

			var got []string
			cursor := ""
			for pages := 0; ; pages++ {
				if pages > 20 {
					t.Fatal("cursor never terminated")
				}
				page, next, err := store.Scan(ctx, NSVersion, cursor, 5)
				if err != nil {
					t.Fatalf("scan: %v", err)
				}
				got = append(got, page...)
				if next == "" {
					break
				}
				cursor = next
			}

			sort.Strings(got)
			if len(got) != len(want) {
				t.Fatalf("paged scan returned %d keys, want %d", len(got), len(want))
			}
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("key[%d] = %s, want %s", i, got[i], want[i])
				}
			}
		})
	}
}

func TestJSONHelpers(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	if err := SetJSON(ctx, store, "meta:thing", &payload{Name: "x", Count: 3}); err != nil {
		t.Fatalf("set json: %v", err)
	}
	var out payload
	if err := GetJSON(ctx, store, "meta:thing", &out); err != nil {
		t.Fatalf("get json: %v", err)
	}
	if out.Name != "x" || out.Count != 3 {
		t.Fatalf("round trip = %+v", out)
	}

	if err := store.Set(ctx, "meta:bad", []byte("not json")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := GetJSON(ctx, store, "meta:bad", &out); err == nil {
		t.Fatal("corrupt record decoded")
	}
}
