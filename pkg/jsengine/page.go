package jsengine

import (
	"context"

	"github.com/dop251/goja"

	"github.com/devicelab-dev/uxflow/pkg/core"
	"github.com/devicelab-dev/uxflow/pkg/session"
)

// pageObject exposes target to scripts. Every call uses ctx; a failing
// call throws, carrying the Go error back out of RunHook.
func (e *Engine) pageObject(ctx context.Context, target session.Target) *goja.Object {
	rt := e.runtime
	obj := rt.NewObject()

	throw := func(err error) {
		panic(rt.NewGoError(err))
	}
	query := func(selector string) session.Element {
		el, err := target.Query(ctx, selector)
		if err != nil {
			throw(err)
		}
		if el == nil {
			throw(core.ErrElementNotFound.WithMessagef("unable to find element: %q", selector))
		}
		return el
	}

	_ = obj.Set("title", func() string {
		title, err := target.Title(ctx)
		if err != nil {
			throw(err)
		}
		return title
	})
	_ = obj.Set("content", func() string {
		html, err := target.Content(ctx)
		if err != nil {
			throw(err)
		}
		return html
	})
	_ = obj.Set("exists", func(selector string) bool {
		el, err := target.Query(ctx, selector)
		if err != nil {
			throw(err)
		}
		return el != nil
	})
	_ = obj.Set("text", func(selector string) string {
		text, err := query(selector).InnerText(ctx)
		if err != nil {
			throw(err)
		}
		return text
	})
	_ = obj.Set("click", func(selector string) {
		if err := query(selector).Click(ctx); err != nil {
			throw(err)
		}
	})
	_ = obj.Set("navigate", func(url string) {
		if err := target.Navigate(ctx, url); err != nil {
			throw(err)
		}
	})
	_ = obj.Set("waitFor", func(selector string) {
		if err := target.WaitForSelector(ctx, selector); err != nil {
			throw(err)
		}
	})
	_ = obj.Set("type", func(selector, text string) {
		if err := target.Type(ctx, selector, text); err != nil {
			throw(err)
		}
	})
	_ = obj.Set("press", func(key string) {
		if err := target.PressKey(ctx, key); err != nil {
			throw(err)
		}
	})
	_ = obj.Set("select", func(selector, value string) {
		if err := target.Select(ctx, selector, value); err != nil {
			throw(err)
		}
	})

	return obj
}
