// Package browser implements render sessions on a real Chromium browser through
// go-rod.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/devicelab-dev/uxflow/pkg/core"
	"github.com/devicelab-dev/uxflow/pkg/logger"
	"github.com/devicelab-dev/uxflow/pkg/session"
	"github.com/devicelab-dev/uxflow/pkg/stylesnap"
)

// Default viewport, matching a common desktop window.
const (
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 800
)

// Options configure the browser and every page opened from it.
type Options struct {
	ControlURL     string // Connect to a running browser instead of launching one
	Bin            string // Browser binary for the launcher (empty = auto-detect)
	Headless       bool
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	DisableCache   bool
}

// Browser is a connected browser. Each NewSession call opens an isolated
// incognito page.
type Browser struct {
	opts     Options
	browser  *rod.Browser
	launched *launcher.Launcher
}

// Launch connects to opts.ControlURL, or starts a local browser when it is
// empty.
func Launch(ctx context.Context, opts Options) (*Browser, error) {
	if opts.ViewportWidth <= 0 {
		opts.ViewportWidth = DefaultViewportWidth
	}
	if opts.ViewportHeight <= 0 {
		opts.ViewportHeight = DefaultViewportHeight
	}

	b := &Browser{opts: opts}
	controlURL := opts.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(opts.Headless)
		if opts.Bin != "" {
			l = l.Bin(opts.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		b.launched = l
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		b.cleanup()
		return nil, fmt.Errorf("connect to browser: %w", err)
	}
	b.browser = browser
	logger.Info("rod: connected to %s", controlURL)
	return b, nil
}

// NewSession opens a fresh incognito page configured from the browser
// options.
func (b *Browser) NewSession(ctx context.Context) (session.Session, error) {
	incognito, err := b.browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}
	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = incognito.Close()
		return nil, fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             b.opts.ViewportWidth,
		Height:            b.opts.ViewportHeight,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		logger.Warn("rod: failed to set viewport: %v", err)
	}
	if b.opts.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: b.opts.UserAgent}); err != nil {
			logger.Warn("rod: failed to set user agent: %v", err)
		}
	}
	if b.opts.DisableCache {
		if err := (proto.NetworkSetCacheDisabled{CacheDisabled: true}).Call(page); err != nil {
			logger.Warn("rod: failed to disable cache: %v", err)
		}
	}

	return &Session{target: &target{page: page}, incognito: incognito}, nil
}

// Close disconnects from the browser and stops it if it was launched here.
func (b *Browser) Close() error {
	var err error
	if b.browser != nil {
		err = b.browser.Close()
	}
	b.cleanup()
	return err
}

func (b *Browser) cleanup() {
	if b.launched != nil {
		b.launched.Kill()
		b.launched.Cleanup()
		b.launched = nil
	}
}

// Session is one browser page.
type Session struct {
	*target
	incognito *rod.Browser
	closeOnce sync.Once
}

var _ session.Session = (*Session)(nil)

// Frames returns the page's iframes in document order.
func (s *Session) Frames(ctx context.Context) ([]session.Frame, error) {
	els, err := s.page.Context(ctx).Elements("iframe")
	if err != nil {
		return nil, err
	}

	frames := make([]session.Frame, 0, len(els))
	for _, el := range els {
		fp, err := el.Frame()
		if err != nil {
			return nil, fmt.Errorf("iframe document: %w", err)
		}
		name := ""
		if v, err := el.Attribute("name"); err == nil && v != nil {
			name = *v
		}
		frames = append(frames, &Frame{target: &target{page: fp}, name: name})
	}
	return frames, nil
}

// Screenshot captures the viewport.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	return s.page.Context(ctx).Screenshot(false, nil)
}

// Close closes the page and its incognito context.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = errors.Join(s.page.Close(), s.incognito.Close())
	})
	return err
}

// Frame is an iframe's document.
type Frame struct {
	*target
	name string
}

var _ session.Frame = (*Frame)(nil)

// Name returns the iframe's name attribute.
func (f *Frame) Name() string {
	return f.name
}

// target implements session.Target on a page or frame.
type target struct {
	page *rod.Page
}

// Navigate returns at DOMContentLoaded; images and other subresources may
// still be loading.
func (t *target) Navigate(ctx context.Context, url string) error {
	p := t.page.Context(ctx)
	wait := p.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	if err := p.Navigate(url); err != nil {
		return err
	}
	wait()
	return ctx.Err()
}

func (t *target) WaitForSelector(ctx context.Context, selector string) error {
	_, err := t.page.Context(ctx).Element(selector)
	return err
}

func (t *target) Query(ctx context.Context, selector string) (session.Element, error) {
	has, el, err := t.page.Context(ctx).Has(selector)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, nil
	}
	return &Element{el: el}, nil
}

func (t *target) Type(ctx context.Context, selector, text string) error {
	el, err := t.require(ctx, selector)
	if err != nil {
		return err
	}
	return el.Context(ctx).Input(text)
}

func (t *target) PressKey(ctx context.Context, key string) error {
	k, ok := keys[key]
	if !ok {
		runes := []rune(key)
		if len(runes) != 1 {
			return core.ErrInvalidField.WithMessagef("unknown key %q", key)
		}
		k = input.Key(runes[0])
	}
	return t.page.Context(ctx).Keyboard.Press(k)
}

func (t *target) Select(ctx context.Context, selector, value string) error {
	el, err := t.require(ctx, selector)
	if err != nil {
		return err
	}
	return el.Context(ctx).Select([]string{fmt.Sprintf("[value=%q]", value)}, true, rod.SelectorTypeCSSSector)
}

func (t *target) Title(ctx context.Context) (string, error) {
	res, err := t.page.Context(ctx).Eval(`() => document.title`)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (t *target) Content(ctx context.Context) (string, error) {
	return t.page.Context(ctx).HTML()
}

func (t *target) require(ctx context.Context, selector string) (*rod.Element, error) {
	has, el, err := t.page.Context(ctx).Has(selector)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, core.ErrElementNotFound.
			WithMessagef("unable to find element: %q", selector).
			WithDetails(map[string]interface{}{"selector": selector})
	}
	return el, nil
}

var keys = map[string]input.Key{
	"Enter":      input.Enter,
	"Tab":        input.Tab,
	"Escape":     input.Escape,
	"Backspace":  input.Backspace,
	"ArrowUp":    input.ArrowUp,
	"ArrowDown":  input.ArrowDown,
	"ArrowLeft":  input.ArrowLeft,
	"ArrowRight": input.ArrowRight,
}

// Element wraps a rod element.
type Element struct {
	el *rod.Element
}

var _ session.Element = (*Element)(nil)

func (e *Element) Click(ctx context.Context) error {
	return e.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1)
}

func (e *Element) Tap(ctx context.Context) error {
	return e.el.Context(ctx).Tap()
}

func (e *Element) ScrollIntoView(ctx context.Context) error {
	return e.el.Context(ctx).ScrollIntoView()
}

func (e *Element) InnerText(ctx context.Context) (string, error) {
	return e.el.Context(ctx).Text()
}

func (e *Element) TextContent(ctx context.Context) (string, error) {
	return e.evalString(ctx, `() => this.textContent`)
}

func (e *Element) OuterHTML(ctx context.Context) (string, error) {
	return e.el.Context(ctx).HTML()
}

func (e *Element) NodeName(ctx context.Context) (string, error) {
	return e.evalString(ctx, `() => this.nodeName`)
}

func (e *Element) Shape(ctx context.Context) (*stylesnap.Node, error) {
	raw, err := e.evalString(ctx, stylesnap.ElementScript)
	if err != nil {
		return nil, err
	}
	var node stylesnap.Node
	if err := json.Unmarshal([]byte(raw), &node); err != nil {
		return nil, fmt.Errorf("decoding element shape: %w", err)
	}
	return &node, nil
}

func (e *Element) evalString(ctx context.Context, js string) (string, error) {
	res, err := e.el.Context(ctx).Eval(js)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}
