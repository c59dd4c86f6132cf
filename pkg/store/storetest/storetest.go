// Package storetest holds behaviour tests shared by every [store.Store]
// implementation.
package storetest

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/padelcore/padelcore/pkg/store"
)

// Run exercises s against the [store.Store] contract. s must be empty.
func Run(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2025, 6, 14, 18, 30, 0, 0, time.UTC)

	media := bytes.Repeat([]byte{0x1a, 0x45, 0xdf, 0xa3}, 256)
	first, err := s.Save(ctx, store.Recording{
		Title:    "Session A",
		Date:     base,
		MIMEType: "video/webm",
		Media:    media,
		Analysis: "Keep the paddle up at the net.",
	})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	second, err := s.Save(ctx, store.Recording{Title: "Session B", Date: base.Add(time.Hour), MIMEType: "video/webm", Media: []byte{1}})
	if err != nil {
		t.Fatalf("Save second: %v", err)
	}
	if first == 0 || second == 0 || first == second {
		t.Fatalf("ids = %d, %d; want distinct non-zero", first, second)
	}

	got, err := s.Get(ctx, first)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != first || got.Title != "Session A" || got.MIMEType != "video/webm" ||
		got.Analysis != "Keep the paddle up at the net." || !bytes.Equal(got.Media, media) {
		t.Errorf("Get = %+v", got)
	}
	if !got.Date.Equal(base) {
		t.Errorf("Date = %v; want %v", got.Date, base)
	}
	if got.Size != int64(len(media)) {
		t.Errorf("Size = %d; want %d", got.Size, len(media))
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != second || list[1].ID != first {
		t.Fatalf("List = %+v; want newest first", list)
	}
	if list[1].Media != nil || list[1].Size != int64(len(media)) {
		t.Errorf("List entry media=%d bytes size=%d", len(list[1].Media), list[1].Size)
	}

	if err := s.Delete(ctx, first); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, first); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Get deleted err = %v; want ErrNotFound", err)
	}
	if err := s.Delete(ctx, first); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Delete deleted err = %v; want ErrNotFound", err)
	}
	list, err = s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].ID != second {
		t.Errorf("List after delete = %+v", list)
	}
}
