package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hazyhaar/pagesaver/dbopen"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return New(dbopen.OpenMemory(t, dbopen.WithSchema(Schema)))
}

func TestRecordAndGet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	r := &Run{ID: "cap_1", Kind: "fullpage", URL: "https://example.com", Path: "Example.png", Status: StatusOK}
	if err := s.Record(ctx, r, map[string]int{"frames": 5}); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := s.Get(ctx, "cap_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Path != "Example.png" || got.Kind != "fullpage" {
		t.Errorf("got %+v", got)
	}
	var detail map[string]int
	if err := json.Unmarshal(got.Detail, &detail); err != nil {
		t.Fatalf("detail: %v", err)
	}
	if detail["frames"] != 5 {
		t.Errorf("frames: got %d, want 5", detail["frames"])
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing: got %v, want ErrNotFound", err)
	}
}

func TestRecord_Validation(t *testing.T) {
	s := testStore(t)
	if err := s.Record(context.Background(), &Run{Kind: "area"}, nil); err == nil {
		t.Fatal("expected error for missing id")
	}
}

func TestLast(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if _, err := s.Last(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty: got %v, want ErrNotFound", err)
	}

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	runs := []*Run{
		{ID: "cap_a", Kind: "visible", Path: "a.png", Status: StatusOK, CreatedAt: base},
		{ID: "cap_b", Kind: "area", Path: "b.png", Status: StatusOK, CreatedAt: base.Add(time.Minute)},
		{ID: "cap_c", Kind: "fullpage", Status: StatusCancelled, CreatedAt: base.Add(2 * time.Minute)},
		{ID: "img_d", Kind: KindImages, Status: StatusOK, CreatedAt: base.Add(3 * time.Minute)},
	}
	for _, r := range runs {
		if err := s.Record(ctx, r, nil); err != nil {
			t.Fatalf("record %s: %v", r.ID, err)
		}
	}

	last, err := s.Last(ctx)
	if err != nil {
		t.Fatalf("last: %v", err)
	}
	if last.ID != "cap_b" || last.Path != "b.png" {
		t.Errorf("last: got %s %s, want cap_b b.png", last.ID, last.Path)
	}
	if !last.CreatedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("created: got %v", last.CreatedAt)
	}
}

func TestListAndPrune(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, kind := range []string{"visible", KindArchive, "fullpage", KindArchive} {
		r := &Run{ID: string(rune('a' + i)), Kind: kind, Status: StatusOK, CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := s.Record(ctx, r, nil); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.List(ctx, "", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 4 || all[0].ID != "d" {
		t.Errorf("list all: got %d runs, first %q", len(all), all[0].ID)
	}

	archives, err := s.List(ctx, KindArchive, 1)
	if err != nil {
		t.Fatalf("list archive: %v", err)
	}
	if len(archives) != 1 || archives[0].ID != "d" {
		t.Errorf("list archive: got %+v", archives)
	}

	n, err := s.Prune(ctx, base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 2 {
		t.Errorf("pruned: got %d, want 2", n)
	}
}
