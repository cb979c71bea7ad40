package idlist

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

const listing = `1 boardgame
2 boardgameexpansion
not-a-number boardgame
3
4 videogame
1 boardgameexpansion
`

func TestParse(t *testing.T) {
	got := Parse([]byte(listing), []string{"boardgame", "boardgameexpansion"})
	if len(got) != 2 {
		t.Fatalf("got %d sightings, want 2: %+v", len(got), got)
	}
	if got[0].ItemID != 1 || got[0].ItemType != "boardgameexpansion" {
		t.Errorf("first: got %+v, want id 1 retyped to boardgameexpansion", got[0])
	}
	if got[1].ItemID != 2 {
		t.Errorf("second: got %+v, want id 2", got[1])
	}

	all := Parse([]byte(listing), nil)
	if len(all) != 3 {
		t.Errorf("unfiltered: got %d, want 3", len(all))
	}
}

func TestDiscoverFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thingids.txt")
	if err := os.WriteFile(path, []byte(listing), 0o644); err != nil {
		t.Fatal(err)
	}
	a := NewAdapter(path, []string{"boardgameexpansion"}, "")

	got, err := a.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	// id 1 is re-typed to an expansion later in the file.
	if len(got) != 2 || got[0].ItemID != 1 || got[1].ItemID != 2 {
		t.Errorf("got %+v, want ids 1 and 2", got)
	}
}

func TestDiscoverFromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(listing))
	}))
	defer srv.Close()

	got, err := NewAdapter(srv.URL, nil, "test-agent").Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("got %d sightings, want 3", len(got))
	}
}

func TestDiscoverHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	if _, err := NewAdapter(srv.URL, nil, "").Discover(context.Background()); err == nil {
		t.Error("expected error on 502")
	}
}
