package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
)

func TestKeys(t *testing.T) {
	tests := map[string]input.Key{
		"Enter":  input.Enter,
		"Tab":    input.Tab,
		"Escape": input.Escape,
	}
	for name, want := range tests {
		if got, ok := keys[name]; !ok || got != want {
			t.Errorf("keys[%q] = %v, %v", name, got, ok)
		}
	}
}

// launchLocal starts a headless browser, skipping the test when none is
// installed.
func launchLocal(t *testing.T) *Browser {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	bin, found := launcher.LookPath()
	if !found {
		t.Skip("no local browser found")
	}
	b, err := Launch(context.Background(), Options{Bin: bin, Headless: true})
	if err != nil {
		t.Skipf("browser unavailable: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestNavigate_ReturnsAtDOMContentLoaded(t *testing.T) {
	b := launchLocal(t)

	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Slow</title></head><body><img src="/stall.png"></body></html>`)
	})
	mux.HandleFunc("/stall.png", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	defer close(release)

	s, err := b.NewSession(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer s.(*Session).Close()

	// onload never fires while the image stalls.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Navigate(ctx, srv.URL); err != nil {
		t.Fatalf("Navigate() error = %v", err)
	}
	title, err := s.Title(ctx)
	if err != nil || title != "Slow" {
		t.Errorf("Title() = %q, %v", title, err)
	}
}
