package memstore

import (
	"context"
	"testing"
	"time"
)

func TestStore_SetGetExpire(t *testing.T) {
	s, err := New(4)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	_ = s.Set(ctx, "a", []byte("1"), time.Minute)
	_ = s.Set(ctx, "b", []byte("2"), 0)

	got, err := s.MGet(ctx, []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("MGet: %v", err)
	}
	if len(got) != 2 || string(got["a"]) != "1" {
		t.Fatalf("got=%v", got)
	}

	now = now.Add(2 * time.Minute)
	got, _ = s.MGet(ctx, []string{"a", "b"})
	if _, ok := got["a"]; ok {
		t.Fatalf("a should have expired")
	}
	if string(got["b"]) != "2" {
		t.Fatalf("b has no ttl and must survive: %v", got)
	}
	if s.Len() != 1 {
		t.Fatalf("expired entry must be evicted on read, len=%d", s.Len())
	}
}

func TestStore_EvictsLeastRecentlyUsed(t *testing.T) {
	s, _ := New(2)
	ctx := context.Background()
	_ = s.Set(ctx, "a", []byte("1"), 0)
	_ = s.Set(ctx, "b", []byte("2"), 0)
	_, _ = s.MGet(ctx, []string{"a"}) // touch a
	_ = s.Set(ctx, "c", []byte("3"), 0)

	got, _ := s.MGet(ctx, []string{"a", "b", "c"})
	if _, ok := got["b"]; ok || len(got) != 2 {
		t.Fatalf("b should be evicted: %v", got)
	}
}

func TestStore_CopiesValueAndDeletes(t *testing.T) {
	s, _ := New(0)
	ctx := context.Background()
	v := []byte("abc")
	_ = s.Set(ctx, "k", v, 0)
	v[0] = 'z'

	got, _ := s.MGet(ctx, []string{"k"})
	if string(got["k"]) != "abc" {
		t.Fatalf("stored value aliased caller slice: %q", got["k"])
	}
	_ = s.Del(ctx, "k")
	if got, _ := s.MGet(ctx, []string{"k"}); len(got) != 0 {
		t.Fatalf("Del did not remove: %v", got)
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := s.MGet(cctx, []string{"k"}); err == nil {
		t.Fatalf("want error for canceled context")
	}
}

func TestStore_DelPrefix(t *testing.T) {
	s, _ := New(0)
	ctx := context.Background()
	for _, k := range []string{"geofetch:postgis:public.roads:q=1", "geofetch:postgis:public.roads:q=2", "geofetch:postgis:public.roads_old:q=3"} {
		_ = s.Set(ctx, k, []byte("x"), 0)
	}
	n, err := s.DelPrefix(ctx, "geofetch:postgis:public.roads:")
	if err != nil || n != 2 {
		t.Fatalf("DelPrefix n=%d err=%v", n, err)
	}
	if s.Len() != 1 {
		t.Fatalf("len=%d want 1", s.Len())
	}
}
