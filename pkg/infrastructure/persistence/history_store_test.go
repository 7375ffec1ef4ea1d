package persistence

import (
	"path/filepath"
	"strconv"
	"testing"

	"github.com/voicebridge/voicebridge/pkg/wire"
)

func seedEvents(n int) []wire.Event {
	out := make([]wire.Event, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, wire.New(wire.KindStatusUpdate, map[string]string{
			wire.KeyCallSid: "CA" + strconv.Itoa(i),
		}))
	}
	return out
}

func testStore(t *testing.T, store HistoryStore) {
	t.Helper()

	if err := store.Append(seedEvents(7)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Append(nil); err != nil {
		t.Fatalf("empty append: %v", err)
	}

	total, err := store.Count()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != 7 {
		t.Fatalf("count = %d, want 7", total)
	}

	t.Run("first page", func(t *testing.T) {
		page, err := store.Page(0, 3)
		if err != nil {
			t.Fatalf("page: %v", err)
		}
		if len(page) != 3 {
			t.Fatalf("page length = %d, want 3", len(page))
		}
		for i, se := range page {
			want := "CA" + strconv.Itoa(i)
			if se.Event.Get(wire.KeyCallSid) != want {
				t.Errorf("item %d sid = %q, want %q", i, se.Event.Get(wire.KeyCallSid), want)
			}
			if se.Event.Kind != wire.KindStatusUpdate {
				t.Errorf("item %d kind = %q", i, se.Event.Kind)
			}
		}
	})

	t.Run("last partial page", func(t *testing.T) {
		page, err := store.Page(6, 3)
		if err != nil {
			t.Fatalf("page: %v", err)
		}
		if len(page) != 1 {
			t.Fatalf("page length = %d, want 1", len(page))
		}
		if got := page[0].Event.Get(wire.KeyCallSid); got != "CA6" {
			t.Errorf("sid = %q, want CA6", got)
		}
	})

	t.Run("offset beyond end", func(t *testing.T) {
		page, err := store.Page(100, 10)
		if err != nil {
			t.Fatalf("page: %v", err)
		}
		if len(page) != 0 {
			t.Errorf("page length = %d, want 0", len(page))
		}
	})

	t.Run("defaults for bad bounds", func(t *testing.T) {
		page, err := store.Page(-5, 0)
		if err != nil {
			t.Fatalf("page: %v", err)
		}
		if len(page) != 7 {
			t.Errorf("page length = %d, want all 7", len(page))
		}
	})

	t.Run("sequence numbers increase", func(t *testing.T) {
		page, err := store.Page(0, 50)
		if err != nil {
			t.Fatalf("page: %v", err)
		}
		for i := 1; i < len(page); i++ {
			if page[i].Seq <= page[i-1].Seq {
				t.Fatalf("seq not increasing: %d then %d", page[i-1].Seq, page[i].Seq)
			}
		}
	})
}

func TestMemoryHistoryStore(t *testing.T) {
	testStore(t, NewMemoryHistoryStore())
}

func TestSqliteHistoryStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := NewSqliteHistoryStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	testStore(t, store)
}

// TestSqliteHistoryStoreReopen verifies the history survives a restart.
func TestSqliteHistoryStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	store, err := NewSqliteHistoryStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Append(seedEvents(3)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	store, err = NewSqliteHistoryStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()

	total, err := store.Count()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != 3 {
		t.Errorf("count after reopen = %d, want 3", total)
	}
}

func TestMemoryHistoryStoreClonesOnAppend(t *testing.T) {
	store := NewMemoryHistoryStore()
	ev := wire.New(wire.KindTest, map[string]string{"a": "1"})
	if err := store.Append([]wire.Event{ev}); err != nil {
		t.Fatalf("append: %v", err)
	}
	ev.Payload["a"] = "2"

	page, _ := store.Page(0, 1)
	if page[0].Event.Get("a") != "1" {
		t.Error("store shares payload map with the caller")
	}
}
