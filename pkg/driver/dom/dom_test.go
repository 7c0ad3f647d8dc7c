package dom

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/devicelab-dev/uxflow/pkg/core"
	"github.com/devicelab-dev/uxflow/pkg/stylesnap"
)

const formPage = `<html><head><title>Sample Form</title></head><body>
<form class="signup">
  <div class="row"><input name="email" value=""></div>
  <select id="size"><option value="s">Small</option><option value="m" selected>Medium</option></select>
  <button type="submit">Go</button>
</form>
<p id="note">  Hello
   world </p>
<iframe name="payments" srcdoc="<html><body><div class='card'>Pay</div></body></html>"></iframe>
</body></html>`

func newFormSession(t *testing.T, hooks Hooks) *Session {
	t.Helper()
	s := New(Options{
		Pages: map[string]string{"https://example.com/form": formPage},
		Hooks: hooks,
	})
	if err := s.Navigate(context.Background(), "https://example.com/form"); err != nil {
		t.Fatalf("Navigate() error = %v", err)
	}
	return s
}

func TestSession_TitleAndQuery(t *testing.T) {
	ctx := context.Background()
	s := newFormSession(t, Hooks{})

	title, err := s.Title(ctx)
	if err != nil || title != "Sample Form" {
		t.Fatalf("Title() = %q, %v", title, err)
	}

	el, err := s.Query(ctx, "#note")
	if err != nil || el == nil {
		t.Fatalf("Query() = %v, %v", el, err)
	}
	text, _ := el.InnerText(ctx)
	if text != "Hello world" {
		t.Errorf("InnerText() = %q", text)
	}
	name, _ := el.NodeName(ctx)
	if name != "P" {
		t.Errorf("NodeName() = %q", name)
	}

	missing, err := s.Query(ctx, "#nope")
	if err != nil || missing != nil {
		t.Errorf("Query(missing) = %v, %v; want nil, nil", missing, err)
	}
}

func TestSession_ShapeChangesOnClick(t *testing.T) {
	ctx := context.Background()
	s := newFormSession(t, Hooks{
		OnClick: func(el *goquery.Selection) error {
			form := el.Closest("form")
			cls, _ := form.Attr("class")
			form.SetAttr("class", strings.Join(append(strings.Fields(cls), "submitted"), " "))
			return nil
		},
	})

	form, _ := s.Query(ctx, "form")
	before, _ := form.Shape(ctx)

	button, _ := s.Query(ctx, "button")
	if err := button.Click(ctx); err != nil {
		t.Fatalf("Click() error = %v", err)
	}

	after, _ := form.Shape(ctx)
	if stylesnap.Fingerprint(before) == stylesnap.Fingerprint(after) {
		t.Error("expected fingerprint to change after click")
	}
	if after.ClassName != "signup submitted" {
		t.Errorf("ClassName = %q", after.ClassName)
	}
}

func TestSession_TypeThenEnterSubmits(t *testing.T) {
	ctx := context.Background()
	submitted := 0
	s := newFormSession(t, Hooks{
		OnSubmit: func(form *goquery.Selection) error {
			submitted++
			return nil
		},
	})

	if err := s.Type(ctx, "input[name=email]", "a@b.c"); err != nil {
		t.Fatalf("Type() error = %v", err)
	}
	if err := s.PressKey(ctx, "Enter"); err != nil {
		t.Fatalf("PressKey() error = %v", err)
	}
	if submitted != 1 {
		t.Errorf("submitted = %d, want 1", submitted)
	}

	content, _ := s.Content(ctx)
	if !bytes.Contains([]byte(content), []byte(`value="a@b.c"`)) {
		t.Errorf("typed value missing from content")
	}

	err := s.Type(ctx, "#missing", "x")
	if !errors.Is(err, core.ErrElementNotFound) {
		t.Errorf("Type(missing) error = %v", err)
	}
}

func TestSession_Select(t *testing.T) {
	ctx := context.Background()
	s := newFormSession(t, Hooks{})

	if err := s.Select(ctx, "#size", "s"); err != nil {
		t.Fatalf("Select() error = %v", err)
	}
	content, _ := s.Content(ctx)
	if !bytes.Contains([]byte(content), []byte(`<option value="s" selected="selected">`)) {
		t.Errorf("option not selected: %s", content)
	}

	if err := s.Select(ctx, "#size", "xl"); !errors.Is(err, core.ErrElementNotFound) {
		t.Errorf("Select(unknown) error = %v", err)
	}
}

func TestSession_Frames(t *testing.T) {
	ctx := context.Background()
	s := newFormSession(t, Hooks{})

	frames, err := s.Frames(ctx)
	if err != nil {
		t.Fatalf("Frames() error = %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if frames[0].Name() != "payments" {
		t.Errorf("Name() = %q", frames[0].Name())
	}
	el, _ := frames[0].Query(ctx, ".card")
	if el == nil {
		t.Fatal("expected .card inside frame")
	}
	if top, _ := s.Query(ctx, ".card"); top != nil {
		t.Error(".card should not resolve in the main document")
	}
}

func TestSession_WaitForSelectorTimesOut(t *testing.T) {
	s := newFormSession(t, Hooks{})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	err := s.WaitForSelector(ctx, "#never")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitForSelector() error = %v, want deadline exceeded", err)
	}
	if err := s.WaitForSelector(context.Background(), "form"); err != nil {
		t.Errorf("WaitForSelector(form) error = %v", err)
	}
}

func TestSession_NavigateHTTP(t *testing.T) {
	var (
		mu              sync.Mutex
		gotUA, gotCache string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotUA = r.Header.Get("User-Agent")
		gotCache = r.Header.Get("Cache-Control")
		mu.Unlock()
		switch r.URL.Path {
		case "/":
			fmt.Fprint(w, `<html><head><title>Home</title></head><body><iframe id="inner" src="/inner"></iframe></body></html>`)
		case "/inner":
			fmt.Fprint(w, `<html><body><span id="x">inner</span></body></html>`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	s := New(Options{Client: srv.Client(), UserAgent: "uxflow-test", DisableCache: true})
	if err := s.Navigate(ctx, srv.URL+"/"); err != nil {
		t.Fatalf("Navigate() error = %v", err)
	}
	mu.Lock()
	if gotUA != "uxflow-test" || gotCache != "no-cache" {
		t.Errorf("headers UA=%q Cache-Control=%q", gotUA, gotCache)
	}
	mu.Unlock()

	frames, _ := s.Frames(ctx)
	if len(frames) != 1 || frames[0].Name() != "inner" {
		t.Fatalf("unexpected frames %v", frames)
	}
	if el, _ := frames[0].Query(ctx, "#x"); el == nil {
		t.Error("expected #x inside fetched frame")
	}

	if err := s.Navigate(ctx, srv.URL+"/missing"); err == nil {
		t.Error("expected error for 404")
	}
}

func TestSession_NavigateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.html")
	if err := os.WriteFile(path, []byte(`<title>Local</title>`), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	s := New(Options{})
	if err := s.Navigate(ctx, "file://"+path); err != nil {
		t.Fatalf("Navigate() error = %v", err)
	}
	if title, _ := s.Title(ctx); title != "Local" {
		t.Errorf("Title() = %q", title)
	}
	if err := s.Navigate(ctx, "ftp://example.com"); err == nil {
		t.Error("expected error for unsupported scheme")
	}
}

func TestSession_Screenshot(t *testing.T) {
	png, err := New(Options{}).Screenshot(context.Background())
	if err != nil {
		t.Fatalf("Screenshot() error = %v", err)
	}
	if !bytes.HasPrefix(png, []byte("\x89PNG")) {
		t.Error("expected PNG signature")
	}
}
