// Package dom provides a static render session backed by goquery.
//
// Documents are fetched over HTTP, read from file:// URLs, or served from an
// in-memory page table. Nothing is rendered and no page script runs; clicks
// and form submits only change the document through Hooks. Iframes with a
// srcdoc or src attribute are loaded as frames when their parent loads.
package dom

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/devicelab-dev/uxflow/pkg/core"
	"github.com/devicelab-dev/uxflow/pkg/logger"
	"github.com/devicelab-dev/uxflow/pkg/session"
	"github.com/devicelab-dev/uxflow/pkg/stylesnap"
)

const (
	blankPage    = "<html><head></head><body></body></html>"
	pollInterval = 25 * time.Millisecond
)

// Hooks let callers simulate page behavior. Each hook receives the
// selection it acts on and may mutate the document through it.
type Hooks struct {
	OnClick  func(el *goquery.Selection) error
	OnSubmit func(form *goquery.Selection) error
}

// Options configure a Session.
type Options struct {
	Client       *http.Client      // nil = http.DefaultClient
	Pages        map[string]string // URL -> HTML served without network access
	UserAgent    string
	DisableCache bool
	Hooks        Hooks
}

// Session is a static document session.
type Session struct {
	*document
	opts Options
}

var _ session.Session = (*Session)(nil)

// New creates a session holding an empty document.
func New(opts Options) *Session {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	s := &Session{opts: opts}
	s.document = &document{session: s}
	s.document.reset(mustParse(blankPage), "about:blank")
	return s
}

// LoadHTML replaces the current document with html, as if navigated to
// base.
func (s *Session) LoadHTML(ctx context.Context, base, html string) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fmt.Errorf("parsing %s: %w", base, err)
	}
	s.document.reset(doc, base)
	s.document.loadFrames(ctx)
	return nil
}

// Frames returns the frames found when the current document loaded.
func (s *Session) Frames(ctx context.Context) ([]session.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	frames := make([]session.Frame, len(s.frames))
	for i, f := range s.frames {
		frames[i] = f
	}
	return frames, nil
}

// Screenshot returns a blank PNG; static documents are never rendered.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return blankPNG(), nil
}

// Close releases nothing; it exists so batch runners can treat all
// sessions alike.
func (s *Session) Close() error {
	return nil
}

// fetch loads rawURL from the page table, the file system or the network.
func (s *Session) fetch(ctx context.Context, rawURL string) (string, error) {
	if html, ok := s.opts.Pages[rawURL]; ok {
		return html, nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", rawURL, err)
	}

	switch u.Scheme {
	case "about":
		return blankPage, nil
	case "file":
		data, err := os.ReadFile(u.Path)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", u.Path, err)
		}
		return string(data), nil
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	if s.opts.UserAgent != "" {
		req.Header.Set("User-Agent", s.opts.UserAgent)
	}
	if s.opts.DisableCache {
		req.Header.Set("Cache-Control", "no-cache")
		req.Header.Set("Pragma", "no-cache")
	}

	resp, err := s.opts.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetching %s: HTTP %d", rawURL, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", rawURL, err)
	}
	return string(body), nil
}

// document is one loaded HTML document. The top-level page and every frame
// are documents.
type document struct {
	session *Session
	mu      sync.Mutex
	doc     *goquery.Document
	base    string
	frames  []*Frame
	focused *goquery.Selection
}

func (d *document) reset(doc *goquery.Document, base string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.doc = doc
	d.base = base
	d.frames = nil
	d.focused = nil
}

// loadFrames builds a frame for every iframe in the current document.
// Frames whose content cannot be loaded are kept with an empty document.
func (d *document) loadFrames(ctx context.Context) {
	d.mu.Lock()
	iframes := d.doc.Find("iframe")
	base := d.base
	d.mu.Unlock()

	var frames []*Frame
	iframes.Each(func(_ int, el *goquery.Selection) {
		name, _ := el.Attr("name")
		if name == "" {
			name, _ = el.Attr("id")
		}

		html := blankPage
		frameURL := "about:srcdoc"
		if srcdoc, ok := el.Attr("srcdoc"); ok {
			html = srcdoc
		} else if src, ok := el.Attr("src"); ok && src != "" {
			frameURL = resolveURL(base, src)
			content, err := d.session.fetch(ctx, frameURL)
			if err != nil {
				logger.Warn("dom: loading frame %q: %v", frameURL, err)
			} else {
				html = content
			}
		}

		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			logger.Warn("dom: parsing frame %q: %v", frameURL, err)
			doc = mustParse(blankPage)
		}
		f := &Frame{name: name, document: &document{session: d.session}}
		f.reset(doc, frameURL)
		frames = append(frames, f)
	})

	d.mu.Lock()
	d.frames = frames
	d.mu.Unlock()
}

// Navigate loads url into this document. Frames of the new document are
// loaded before it returns.
func (d *document) Navigate(ctx context.Context, rawURL string) error {
	target := resolveURL(d.currentBase(), rawURL)
	html, err := d.session.fetch(ctx, target)
	if err != nil {
		return err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fmt.Errorf("parsing %s: %w", target, err)
	}
	d.reset(doc, target)
	d.loadFrames(ctx)
	return nil
}

// WaitForSelector polls until selector matches or ctx is done.
func (d *document) WaitForSelector(ctx context.Context, selector string) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if d.find(selector).Length() > 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Query returns the first element matching selector, or nil.
func (d *document) Query(ctx context.Context, selector string) (session.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sel := d.find(selector).First()
	if sel.Length() == 0 {
		return nil, nil
	}
	return &Element{owner: d, sel: sel}, nil
}

// Type appends text to the value of the element matching selector and
// focuses it.
func (d *document) Type(ctx context.Context, selector, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	sel := d.doc.Find(selector).First()
	if sel.Length() == 0 {
		return notFound(selector)
	}
	if goquery.NodeName(sel) == "textarea" {
		sel.SetText(sel.Text() + text)
	} else {
		current, _ := sel.Attr("value")
		sel.SetAttr("value", current+text)
	}
	d.focused = sel
	return nil
}

// PressKey handles Enter on a focused form control by submitting its form.
// Other keys have no effect on a static document.
func (d *document) PressKey(ctx context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if key != "Enter" || d.focused == nil {
		return nil
	}
	form := d.focused.Closest("form")
	if form.Length() == 0 || d.session.opts.Hooks.OnSubmit == nil {
		return nil
	}
	return d.session.opts.Hooks.OnSubmit(form)
}

// Select marks the option with the given value as selected.
func (d *document) Select(ctx context.Context, selector, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	sel := d.doc.Find(selector).First()
	if sel.Length() == 0 {
		return notFound(selector)
	}

	var match *goquery.Selection
	options := sel.Find("option")
	options.Each(func(_ int, opt *goquery.Selection) {
		v, ok := opt.Attr("value")
		if !ok {
			v = strings.TrimSpace(opt.Text())
		}
		if v == value && match == nil {
			match = opt
		}
	})
	if match == nil {
		return core.ErrElementNotFound.
			WithMessagef("no option %q in %s", value, selector).
			WithDetails(map[string]interface{}{"selector": selector})
	}
	options.RemoveAttr("selected")
	match.SetAttr("selected", "selected")
	return nil
}

// Title returns the text of the document's title element.
func (d *document) Title(ctx context.Context) (string, error) {
	return strings.TrimSpace(d.find("title").First().Text()), nil
}

// Content returns the serialized document.
func (d *document) Content(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return goquery.OuterHtml(d.doc.Selection)
}

func (d *document) find(selector string) *goquery.Selection {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doc.Find(selector)
}

func (d *document) currentBase() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.base
}

// Frame is an iframe document.
type Frame struct {
	*document
	name string
}

var _ session.Frame = (*Frame)(nil)

// Name returns the iframe's name attribute, or its id when unnamed.
func (f *Frame) Name() string {
	return f.name
}

// Element is a node of a static document.
type Element struct {
	owner *document
	sel   *goquery.Selection
}

var _ session.Element = (*Element)(nil)

// Selection exposes the underlying goquery selection.
func (e *Element) Selection() *goquery.Selection {
	return e.sel
}

// Click runs the OnClick hook. A submit button also triggers OnSubmit for
// its form.
func (e *Element) Click(ctx context.Context) error {
	e.owner.mu.Lock()
	defer e.owner.mu.Unlock()

	hooks := e.owner.session.opts.Hooks
	if hooks.OnClick != nil {
		if err := hooks.OnClick(e.sel); err != nil {
			return err
		}
	}
	if hooks.OnSubmit != nil && isSubmit(e.sel) {
		if form := e.sel.Closest("form"); form.Length() > 0 {
			return hooks.OnSubmit(form)
		}
	}
	return nil
}

// Tap behaves like Click.
func (e *Element) Tap(ctx context.Context) error {
	return e.Click(ctx)
}

// ScrollIntoView is a no-op for static documents.
func (e *Element) ScrollIntoView(ctx context.Context) error {
	return nil
}

// InnerText returns the element's text with whitespace runs collapsed.
func (e *Element) InnerText(ctx context.Context) (string, error) {
	e.owner.mu.Lock()
	defer e.owner.mu.Unlock()
	return strings.Join(strings.Fields(e.sel.Text()), " "), nil
}

// TextContent returns the element's raw text.
func (e *Element) TextContent(ctx context.Context) (string, error) {
	e.owner.mu.Lock()
	defer e.owner.mu.Unlock()
	return e.sel.Text(), nil
}

// OuterHTML serializes the element.
func (e *Element) OuterHTML(ctx context.Context) (string, error) {
	e.owner.mu.Lock()
	defer e.owner.mu.Unlock()
	return goquery.OuterHtml(e.sel)
}

// NodeName returns the upper-case tag name, as browsers report it.
func (e *Element) NodeName(ctx context.Context) (string, error) {
	e.owner.mu.Lock()
	defer e.owner.mu.Unlock()
	return strings.ToUpper(goquery.NodeName(e.sel)), nil
}

// Shape returns the tag/class tree of the element.
func (e *Element) Shape(ctx context.Context) (*stylesnap.Node, error) {
	e.owner.mu.Lock()
	defer e.owner.mu.Unlock()
	return stylesnap.FromHTML(e.sel.Get(0)), nil
}

func isSubmit(sel *goquery.Selection) bool {
	typ, _ := sel.Attr("type")
	switch goquery.NodeName(sel) {
	case "button":
		return typ == "" || typ == "submit"
	case "input":
		return typ == "submit"
	}
	return false
}

func notFound(selector string) error {
	return core.ErrElementNotFound.
		WithMessagef("unable to find element: %q", selector).
		WithDetails(map[string]interface{}{"selector": selector})
}

func resolveURL(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil || b.Scheme == "" || b.Scheme == "about" {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

func mustParse(html string) *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		panic(err)
	}
	return doc
}
