package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/padelcore/padelcore/pkg/store"
	"github.com/padelcore/padelcore/pkg/store/sqlite"
	"github.com/padelcore/padelcore/pkg/store/storetest"
)

func newTestStore(t *testing.T) (*sqlite.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "padelcore.db")
	s, err := sqlite.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s, path
}

func TestStore_Contract(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	t.Cleanup(func() { s.Close() })
	storetest.Run(t, s)
}

func TestStore_InMemory(t *testing.T) {
	t.Parallel()
	s, err := sqlite.Open(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	storetest.Run(t, s)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, path := newTestStore(t)
	id, err := s.Save(ctx, store.Recording{Title: "Session A", Date: time.Now(), MIMEType: "video/webm", Media: []byte("webm")})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := sqlite.Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { s2.Close() })
	got, err := s2.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "Session A" || string(got.Media) != "webm" {
		t.Errorf("Get = %+v", got)
	}
	if err := s2.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
