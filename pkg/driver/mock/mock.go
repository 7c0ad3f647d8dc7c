// Package mock provides a scriptable session for testing without a browser.
//
// A mock Session wraps a static dom.Session, records every call made to it,
// and can be told to fail specific operations.
package mock

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/devicelab-dev/uxflow/pkg/driver/dom"
	"github.com/devicelab-dev/uxflow/pkg/session"
	"github.com/devicelab-dev/uxflow/pkg/stylesnap"
)

// Operation names used in Config.Fail and Calls.
const (
	OpNavigate   = "navigate"
	OpWait       = "wait"
	OpQuery      = "query"
	OpType       = "type"
	OpPressKey   = "pressKey"
	OpSelect     = "select"
	OpTitle      = "title"
	OpContent    = "content"
	OpFrames     = "frames"
	OpScreenshot = "screenshot"
	OpClick      = "click"
	OpTap        = "tap"
	OpScroll     = "scroll"
	OpShape      = "shape"
)

// Config configures mock session behavior.
type Config struct {
	// Pages maps URLs to HTML served by Navigate.
	Pages map[string]string
	// HTML is loaded as the initial document when set.
	HTML string
	// Hooks simulate page behavior on click and submit.
	Hooks dom.Hooks
	// Fail makes the named operation return the given error.
	Fail map[string]error
}

// Session is a mock implementation of session.Session for testing.
type Session struct {
	Config Config

	inner *dom.Session
	mu    sync.Mutex
	calls []string
}

var _ session.Session = (*Session)(nil)

// New creates a new mock session.
func New(cfg Config) *Session {
	s := &Session{
		Config: cfg,
		inner:  dom.New(dom.Options{Pages: cfg.Pages, Hooks: cfg.Hooks}),
	}
	if cfg.HTML != "" {
		if err := s.inner.LoadHTML(context.Background(), "about:blank", cfg.HTML); err != nil {
			panic(fmt.Sprintf("mock: loading initial HTML: %v", err))
		}
	}
	return s
}

// AddClassOnClick returns hooks that add class to the elements matching
// target whenever an element matching trigger is clicked.
func AddClassOnClick(trigger, target, class string) dom.Hooks {
	return dom.Hooks{
		OnClick: func(el *goquery.Selection) error {
			if !el.Is(trigger) {
				return nil
			}
			el.Parents().Last().Find(target).Each(func(_ int, t *goquery.Selection) {
				addClass(t, class)
			})
			return nil
		},
	}
}

// addClass appends class the way classList.add does: single spaces, no
// duplicates.
func addClass(sel *goquery.Selection, class string) {
	attr, _ := sel.Attr("class")
	classes := strings.Fields(attr)
	if !slices.Contains(classes, class) {
		classes = append(classes, class)
	}
	sel.SetAttr("class", strings.Join(classes, " "))
}

// Calls returns the recorded operations, e.g. "click #submit".
func (s *Session) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// Count returns how many recorded calls start with op.
func (s *Session) Count(op string) int {
	n := 0
	for _, c := range s.Calls() {
		if c == op || len(c) > len(op) && c[:len(op)+1] == op+" " {
			n++
		}
	}
	return n
}

func (s *Session) record(op, arg string) error {
	s.mu.Lock()
	if arg != "" {
		s.calls = append(s.calls, op+" "+arg)
	} else {
		s.calls = append(s.calls, op)
	}
	s.mu.Unlock()
	return s.Config.Fail[op]
}

// Navigate records and loads url.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := s.record(OpNavigate, url); err != nil {
		return err
	}
	return s.inner.Navigate(ctx, url)
}

// WaitForSelector records and waits for selector.
func (s *Session) WaitForSelector(ctx context.Context, selector string) error {
	if err := s.record(OpWait, selector); err != nil {
		return err
	}
	return s.inner.WaitForSelector(ctx, selector)
}

// Query records and resolves selector.
func (s *Session) Query(ctx context.Context, selector string) (session.Element, error) {
	return query(ctx, s, s.inner, selector)
}

// Type records and types text.
func (s *Session) Type(ctx context.Context, selector, text string) error {
	if err := s.record(OpType, selector); err != nil {
		return err
	}
	return s.inner.Type(ctx, selector, text)
}

// PressKey records and presses key.
func (s *Session) PressKey(ctx context.Context, key string) error {
	if err := s.record(OpPressKey, key); err != nil {
		return err
	}
	return s.inner.PressKey(ctx, key)
}

// Select records and selects value.
func (s *Session) Select(ctx context.Context, selector, value string) error {
	if err := s.record(OpSelect, selector); err != nil {
		return err
	}
	return s.inner.Select(ctx, selector, value)
}

// Title records and returns the title.
func (s *Session) Title(ctx context.Context) (string, error) {
	if err := s.record(OpTitle, ""); err != nil {
		return "", err
	}
	return s.inner.Title(ctx)
}

// Content records and returns the document.
func (s *Session) Content(ctx context.Context) (string, error) {
	if err := s.record(OpContent, ""); err != nil {
		return "", err
	}
	return s.inner.Content(ctx)
}

// Frames records and returns wrapped frames.
func (s *Session) Frames(ctx context.Context) ([]session.Frame, error) {
	if err := s.record(OpFrames, ""); err != nil {
		return nil, err
	}
	inner, err := s.inner.Frames(ctx)
	if err != nil {
		return nil, err
	}
	frames := make([]session.Frame, len(inner))
	for i, f := range inner {
		frames[i] = &Frame{session: s, inner: f}
	}
	return frames, nil
}

// Screenshot returns a mock PNG image.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	if err := s.record(OpScreenshot, ""); err != nil {
		return nil, err
	}
	// Minimal valid PNG (1x1 transparent pixel)
	return []byte{
		0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, // PNG signature
		0x00, 0x00, 0x00, 0x0D, 0x49, 0x48, 0x44, 0x52, // IHDR chunk
		0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
		0x08, 0x06, 0x00, 0x00, 0x00, 0x1F, 0x15, 0xC4,
		0x89, 0x00, 0x00, 0x00, 0x0A, 0x49, 0x44, 0x41,
		0x54, 0x78, 0x9C, 0x63, 0x00, 0x01, 0x00, 0x00,
		0x05, 0x00, 0x01, 0x0D, 0x0A, 0x2D, 0xB4, 0x00,
		0x00, 0x00, 0x00, 0x49, 0x45, 0x4E, 0x44, 0xAE,
		0x42, 0x60, 0x82,
	}, nil
}

// Frame is a recorded sub-frame. Its calls are logged as "frame:<name> op".
type Frame struct {
	session *Session
	inner   session.Frame
}

// Name returns the frame name.
func (f *Frame) Name() string { return f.inner.Name() }

func (f *Frame) record(op, arg string) error {
	return f.session.record(op, "frame:"+f.inner.Name()+" "+arg)
}

func (f *Frame) Navigate(ctx context.Context, url string) error {
	if err := f.record(OpNavigate, url); err != nil {
		return err
	}
	return f.inner.Navigate(ctx, url)
}

func (f *Frame) WaitForSelector(ctx context.Context, selector string) error {
	if err := f.record(OpWait, selector); err != nil {
		return err
	}
	return f.inner.WaitForSelector(ctx, selector)
}

func (f *Frame) Query(ctx context.Context, selector string) (session.Element, error) {
	return query(ctx, f, f.inner, selector)
}

func (f *Frame) Type(ctx context.Context, selector, text string) error {
	if err := f.record(OpType, selector); err != nil {
		return err
	}
	return f.inner.Type(ctx, selector, text)
}

func (f *Frame) PressKey(ctx context.Context, key string) error {
	if err := f.record(OpPressKey, key); err != nil {
		return err
	}
	return f.inner.PressKey(ctx, key)
}

func (f *Frame) Select(ctx context.Context, selector, value string) error {
	if err := f.record(OpSelect, selector); err != nil {
		return err
	}
	return f.inner.Select(ctx, selector, value)
}

func (f *Frame) Title(ctx context.Context) (string, error) {
	if err := f.record(OpTitle, ""); err != nil {
		return "", err
	}
	return f.inner.Title(ctx)
}

func (f *Frame) Content(ctx context.Context) (string, error) {
	if err := f.record(OpContent, ""); err != nil {
		return "", err
	}
	return f.inner.Content(ctx)
}

type recorder interface {
	record(op, arg string) error
}

func query(ctx context.Context, r recorder, t session.Target, selector string) (session.Element, error) {
	if err := r.record(OpQuery, selector); err != nil {
		return nil, err
	}
	el, err := t.Query(ctx, selector)
	if err != nil || el == nil {
		return nil, err
	}
	return &Element{rec: r, inner: el, selector: selector}, nil
}

// Element records actions taken on a resolved element.
type Element struct {
	rec      recorder
	inner    session.Element
	selector string
}

func (e *Element) Click(ctx context.Context) error {
	if err := e.rec.record(OpClick, e.selector); err != nil {
		return err
	}
	return e.inner.Click(ctx)
}

func (e *Element) Tap(ctx context.Context) error {
	if err := e.rec.record(OpTap, e.selector); err != nil {
		return err
	}
	return e.inner.Tap(ctx)
}

func (e *Element) ScrollIntoView(ctx context.Context) error {
	if err := e.rec.record(OpScroll, e.selector); err != nil {
		return err
	}
	return e.inner.ScrollIntoView(ctx)
}

func (e *Element) InnerText(ctx context.Context) (string, error) {
	return e.inner.InnerText(ctx)
}

func (e *Element) TextContent(ctx context.Context) (string, error) {
	return e.inner.TextContent(ctx)
}

func (e *Element) OuterHTML(ctx context.Context) (string, error) {
	return e.inner.OuterHTML(ctx)
}

func (e *Element) NodeName(ctx context.Context) (string, error) {
	return e.inner.NodeName(ctx)
}

func (e *Element) Shape(ctx context.Context) (*stylesnap.Node, error) {
	if err := e.rec.record(OpShape, e.selector); err != nil {
		return nil, err
	}
	return e.inner.Shape(ctx)
}
