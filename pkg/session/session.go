// Package session defines the capabilities a render session must offer to
// run flows. Drivers (browser, static DOM, mock) implement these interfaces;
// the executor only ever talks to them.
package session

import (
	"context"

	"github.com/devicelab-dev/uxflow/pkg/stylesnap"
)

// Target is a navigable context: the top-level page or one of its frames.
type Target interface {
	// Navigate loads url and returns once the document content is ready.
	Navigate(ctx context.Context, url string) error

	// WaitForSelector blocks until selector resolves or ctx expires.
	WaitForSelector(ctx context.Context, selector string) error

	// Query returns the first element matching selector.
	// It returns (nil, nil) when nothing matches.
	Query(ctx context.Context, selector string) (Element, error)

	// Type sends text to the element matching selector.
	Type(ctx context.Context, selector, text string) error

	// PressKey dispatches a key press (e.g. "Enter") to the focused element.
	PressKey(ctx context.Context, key string) error

	// Select sets the value of the control matching selector.
	Select(ctx context.Context, selector, value string) error

	// Title returns the document title.
	Title(ctx context.Context) (string, error)

	// Content returns the serialized document.
	Content(ctx context.Context) (string, error)
}

// Element is a handle to a resolved element.
type Element interface {
	Click(ctx context.Context) error
	Tap(ctx context.Context) error
	ScrollIntoView(ctx context.Context) error
	InnerText(ctx context.Context) (string, error)
	TextContent(ctx context.Context) (string, error)
	OuterHTML(ctx context.Context) (string, error)
	NodeName(ctx context.Context) (string, error)

	// Shape returns the tag/class tree rooted at this element.
	Shape(ctx context.Context) (*stylesnap.Node, error)
}

// Frame is a sub-frame of a session.
type Frame interface {
	Target
	Name() string
}

// Session is the top-level render context handed to a flow run.
// The executor borrows a session and never closes it.
type Session interface {
	Target

	// Frames lists the current sub-frames in document order.
	// The main frame is not included.
	Frames(ctx context.Context) ([]Frame, error)

	// Screenshot captures the current viewport as PNG.
	Screenshot(ctx context.Context) ([]byte, error)
}
