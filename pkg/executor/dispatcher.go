package executor

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/devicelab-dev/uxflow/pkg/core"
	"github.com/devicelab-dev/uxflow/pkg/flow"
	"github.com/devicelab-dev/uxflow/pkg/jsengine"
	"github.com/devicelab-dev/uxflow/pkg/session"
	"github.com/devicelab-dev/uxflow/pkg/stylesnap"
)

// DefaultWaitTimeout bounds element waits when a step sets no timeout.
const DefaultWaitTimeout = 30 * time.Second

// Scope is what one step executes against.
type Scope struct {
	Session   session.Session  // Top-level session; screenshots always use it
	Target    session.Target   // Page or frame chosen by Resolve
	FlowIndex int              // For artifact paths
	Context   core.StepContext // Run-scoped values shared between steps

	scripts *jsengine.Engine
}

func (sc *Scope) engine() *jsengine.Engine {
	if sc.scripts == nil {
		sc.scripts = jsengine.New()
	}
	return sc.scripts
}

// Dispatcher executes single steps.
type Dispatcher struct {
	Funcs       map[string]flow.CustomFunc // Hooks addressable by name from flow files
	Artifacts   core.ArtifactSink          // Destination for screenshot and writeToFile
	WaitTimeout time.Duration              // Default element wait timeout
}

// Execute runs step against sc. On success the step's outcome message is
// stored in sc.Context.
//
//nolint:gocyclo
func (d *Dispatcher) Execute(ctx context.Context, sc *Scope, step flow.Step) error {
	t := sc.Target
	stepCtx := sc.Context

	switch s := step.(type) {
	case *flow.NavigateStep:
		if s.URL == "" {
			return missing(s, "url")
		}
		if err := t.Navigate(ctx, s.URL); err != nil {
			return err
		}
		stepCtx.SetMessage("Opened URL " + s.URL)

	case *flow.SleepStep:
		dur, err := s.Duration()
		if err != nil {
			return core.ErrInvalidField.WithMessage(err.Error())
		}
		if err := sleep(ctx, dur); err != nil {
			return err
		}
		stepCtx.SetMessage(fmt.Sprintf("Waited for %s ms", strings.TrimSpace(s.Value)))

	case *flow.WaitForElementStep:
		if s.Selector == "" {
			return missing(s, "selector")
		}
		if err := d.wait(ctx, t, s.Selector, s.Timeout()); err != nil {
			return err
		}
		stepCtx.SetMessage("Waited for element " + s.Selector)

	case *flow.TypeThenSubmitStep:
		if s.Selector == "" {
			return missing(s, "selector")
		}
		if err := d.wait(ctx, t, s.Selector, s.Timeout()); err != nil {
			return err
		}
		if err := t.Type(ctx, s.Selector, s.InputText); err != nil {
			return err
		}
		if err := t.PressKey(ctx, "Enter"); err != nil {
			return err
		}
		stepCtx.SetMessage(fmt.Sprintf("Typed in element %s with %s", s.Selector, s.InputText))

	case *flow.ClickStep:
		el, err := require(ctx, t, s, s.Selector)
		if err != nil {
			return err
		}
		if err := el.Click(ctx); err != nil {
			return err
		}
		stepCtx.SetMessage("Clicked element: " + s.Selector)

	case *flow.TapStep:
		el, err := require(ctx, t, s, s.Selector)
		if err != nil {
			return err
		}
		if err := el.Tap(ctx); err != nil {
			return err
		}
		stepCtx.SetMessage("Tapped element: " + s.Selector)

	case *flow.SelectStep:
		if s.Selector == "" {
			return missing(s, "selector")
		}
		if err := t.Select(ctx, s.Selector, s.Value); err != nil {
			return err
		}
		stepCtx.SetMessage(fmt.Sprintf("Selected %s for element: %s", s.Value, s.Selector))

	case *flow.ScrollToStep:
		if s.Selector == "" {
			return missing(s, "selector")
		}
		el, err := t.Query(ctx, s.Selector)
		if err != nil {
			return err
		}
		if el != nil {
			if err := el.ScrollIntoView(ctx); err != nil {
				return err
			}
		}
		stepCtx.SetMessage("Scrolled to element: " + s.Selector)

	case *flow.AssertPageTitleStep:
		title, err := t.Title(ctx)
		if err != nil {
			return err
		}
		if err := matchText(s, title, s.Value, s.ValueRegex, func(want string) string {
			return fmt.Sprintf("page title %q doesn't match %s", title, want)
		}); err != nil {
			return err
		}
		stepCtx.SetMessage(fmt.Sprintf("Page title matched: %q", title))

	case *flow.AssertInnerTextStep:
		el, err := require(ctx, t, s, s.Selector)
		if err != nil {
			return err
		}
		text, err := el.InnerText(ctx)
		if err != nil {
			return err
		}
		if err := matchText(s, text, s.Value, s.ValueRegex, func(want string) string {
			return fmt.Sprintf("expected element %s to match %q, but got %q", s.Selector, want, text)
		}); err != nil {
			return err
		}
		stepCtx.SetMessage("Matched text for element " + s.Selector)

	case *flow.AssertExistStep:
		el, err := require(ctx, t, s, s.Selector)
		if err != nil {
			return err
		}
		name, err := el.NodeName(ctx)
		if err != nil {
			return err
		}
		stepCtx.SetMessage(fmt.Sprintf("Found %s for %s", name, s.Selector))

	case *flow.AssertContentStep:
		if s.Value == "" {
			return missing(s, "value")
		}
		selector := s.Selector
		if selector == "" {
			selector = "body"
		}
		el, err := require(ctx, t, s, selector)
		if err != nil {
			return err
		}
		text, err := el.TextContent(ctx)
		if err != nil {
			return err
		}
		if !strings.Contains(text, s.Value) && !strings.Contains(text, escapeXML(s.Value)) {
			return core.ErrAssertionFailed.
				WithMessagef("didn't see text %q", s.Value).
				WithDetails(map[string]interface{}{"selector": selector})
		}
		stepCtx.SetMessage(fmt.Sprintf("Saw text content %q on the page.", s.Value))

	case *flow.StyleSnapshotStep:
		fp, err := fingerprint(ctx, t, s, s.Selector)
		if err != nil {
			return err
		}
		stepCtx[core.ContextStyleSnapshot] = fp
		stepCtx.SetMessage("Took style snapshot of " + s.Selector)

	case *flow.AssertStyleChangeStep:
		before, ok := stepCtx[core.ContextStyleSnapshot].(string)
		if !ok {
			return core.ErrNoSnapshot
		}
		after, err := fingerprint(ctx, t, s, s.Selector)
		if err != nil {
			return err
		}
		if after == before {
			return core.ErrNoStyleChange.
				WithMessagef("no style change detected for %s", s.Selector).
				WithDetails(map[string]interface{}{"snapshot": before})
		}
		stepCtx.SetMessage(fmt.Sprintf("Style changed for %s\n%s", s.Selector, stylesnap.Diff(before, after)))

	case *flow.ScreenshotStep:
		if s.Filename == "" {
			return missing(s, "filename")
		}
		if d.Artifacts == nil {
			return core.ErrNoArtifactSink
		}
		png, err := sc.Session.Screenshot(ctx)
		if err != nil {
			return err
		}
		if err := d.Artifacts.WriteScreenshot(sc.FlowIndex, s.Filename, png); err != nil {
			return artifactError(s.Filename, err)
		}
		stepCtx.SetMessage("Screenshot saved to " + s.Filename)

	case *flow.WriteToFileStep:
		if s.Filename == "" {
			return missing(s, "filename")
		}
		if d.Artifacts == nil {
			return core.ErrNoArtifactSink
		}
		el, err := require(ctx, t, s, s.Selector)
		if err != nil {
			return err
		}
		html, err := el.OuterHTML(ctx)
		if err != nil {
			return err
		}
		if err := d.Artifacts.WriteHTML(sc.FlowIndex, s.Filename, html); err != nil {
			return artifactError(s.Filename, err)
		}
		stepCtx.SetMessage(fmt.Sprintf("write %s to %s", s.Selector, s.Filename))

	case *flow.CustomFuncStep:
		return d.custom(ctx, sc, s)

	default:
		return core.ErrUnsupportedAction.
			WithMessagef("action %s is not supported", step.Type()).
			WithDetails(map[string]interface{}{"actionType": string(step.Type())})
	}

	return nil
}

// custom runs a customFunc step. Hook errors are returned unchanged.
func (d *Dispatcher) custom(ctx context.Context, sc *Scope, s *flow.CustomFuncStep) error {
	before := sc.Context.Message()
	label := "inline"

	switch {
	case s.Func != nil:
		if err := s.Func(ctx, s, sc.Target); err != nil {
			return err
		}
	case s.Name != "":
		fn, ok := d.Funcs[s.Name]
		if !ok {
			return core.ErrInvalidField.WithMessagef("no custom function registered as %q", s.Name)
		}
		label = s.Name
		if err := fn(ctx, s, sc.Target); err != nil {
			return err
		}
	case s.Script != "":
		label = "script"
		fields := map[string]interface{}{"log": s.Log}
		if err := sc.engine().RunHook(ctx, s.Script, sc.Target, fields, sc.Context); err != nil {
			return err
		}
	default:
		return missing(s, "func or script")
	}

	// Hooks may leave their own message.
	if sc.Context.Message() == before {
		sc.Context.SetMessage("Ran custom function " + label)
	}
	return nil
}

// wait blocks until selector resolves, bounded by the step timeout or the
// dispatcher default.
func (d *Dispatcher) wait(ctx context.Context, t session.Target, selector string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = d.WaitTimeout
	}
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := t.WaitForSelector(waitCtx, selector)
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return core.ErrWaitTimeout.
			WithMessagef("timed out after %s waiting for %s", timeout, selector).
			WithCause(err)
	}
	return err
}

// require resolves selector to an element or fails with element-not-found.
func require(ctx context.Context, t session.Target, step flow.Step, selector string) (session.Element, error) {
	if selector == "" {
		return nil, missing(step, "selector")
	}
	el, err := t.Query(ctx, selector)
	if err != nil {
		return nil, err
	}
	if el == nil {
		return nil, core.ErrElementNotFound.
			WithMessagef("unable to find element: %q", selector).
			WithDetails(map[string]interface{}{"selector": selector})
	}
	return el, nil
}

func fingerprint(ctx context.Context, t session.Target, step flow.Step, selector string) (string, error) {
	el, err := require(ctx, t, step, selector)
	if err != nil {
		return "", err
	}
	shape, err := el.Shape(ctx)
	if err != nil {
		return "", err
	}
	return stylesnap.Fingerprint(shape), nil
}

// matchText checks got against an exact value and/or a pattern. At least
// one of them must be set.
func matchText(step flow.Step, got, value, pattern string, mismatch func(want string) string) error {
	if value == "" && pattern == "" {
		return missing(step, "value or valueRegex")
	}
	if value != "" && value != got {
		return core.ErrAssertionFailed.WithMessage(mismatch(value))
	}
	if pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return core.ErrInvalidField.WithMessagef("invalid valueRegex %q", pattern).WithCause(err)
		}
		if !re.MatchString(got) {
			return core.ErrAssertionFailed.WithMessage(mismatch(pattern))
		}
	}
	return nil
}

func missing(step flow.Step, field string) error {
	return core.ErrMissingField.
		WithMessagef("missing %s in %s step", field, step.Type()).
		WithDetails(map[string]interface{}{"field": field})
}

func artifactError(filename string, err error) error {
	return core.NewExecutionError(core.ErrCategoryArtifact, "artifact_write_failed",
		fmt.Sprintf("writing %s", filename)).WithCause(err)
}

var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&apos;",
)

func escapeXML(s string) string {
	return xmlEscaper.Replace(s)
}

// sleep pauses for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return core.ErrCancelled.WithCause(ctx.Err())
	}
}
