package executor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/devicelab-dev/uxflow/pkg/core"
	"github.com/devicelab-dev/uxflow/pkg/driver/mock"
	"github.com/devicelab-dev/uxflow/pkg/flow"
	"github.com/devicelab-dev/uxflow/pkg/session"
)

func loadedScope(t *testing.T, s *mock.Session) *Scope {
	t.Helper()
	if err := s.Navigate(context.Background(), formURL); err != nil {
		t.Fatalf("Navigate() error = %v", err)
	}
	return &Scope{Session: s, Target: s, FlowIndex: 1, Context: core.NewStepContext()}
}

func TestDispatcher_Messages(t *testing.T) {
	tests := []struct {
		name string
		step flow.Step
		want string
	}{
		{"url", &flow.NavigateStep{URL: formURL}, "Opened URL " + formURL},
		{"sleep", &flow.SleepStep{Value: "1"}, "Waited for 1 ms"},
		{"waitForElement", &flow.WaitForElementStep{Selector: "form"}, "Waited for element form"},
		{"typeThenSubmit", &flow.TypeThenSubmitStep{Selector: "input[name=email]", InputText: "a@b.c"},
			"Typed in element input[name=email] with a@b.c"},
		{"click", &flow.ClickStep{Selector: "button"}, "Clicked element: button"},
		{"tap", &flow.TapStep{Selector: "button"}, "Tapped element: button"},
		{"select", &flow.SelectStep{Selector: "#size", Value: "m"}, "Selected m for element: #size"},
		{"scrollTo", &flow.ScrollToStep{Selector: "#note"}, "Scrolled to element: #note"},
		{"scrollTo missing is not an error", &flow.ScrollToStep{Selector: "#gone"}, "Scrolled to element: #gone"},
		{"assertPageTitle", &flow.AssertPageTitleStep{Value: "Sample Form"}, `Page title matched: "Sample Form"`},
		{"assertPageTitle regex", &flow.AssertPageTitleStep{ValueRegex: "^Sample"}, `Page title matched: "Sample Form"`},
		{"assertInnerText", &flow.AssertInnerTextStep{Selector: "button", Value: "Go"}, "Matched text for element button"},
		{"assertExist", &flow.AssertExistStep{Selector: "form"}, "Found FORM for form"},
		{"assertContent escaped", &flow.AssertContentStep{Value: "Tom & Jerry"}, `Saw text content "Tom & Jerry" on the page.`},
		{"styleSnapshot", &flow.StyleSnapshotStep{Selector: "form"}, "Took style snapshot of form"},
		{"screenshot", &flow.ScreenshotStep{Filename: "shot.png"}, "Screenshot saved to shot.png"},
		{"writeToFile", &flow.WriteToFileStep{Selector: "form", Filename: "form.html"}, "write form to form.html"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := loadedScope(t, staticForm())
			d := &Dispatcher{Artifacts: newMemSink()}

			if err := d.Execute(context.Background(), sc, tt.step); err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if got := sc.Context.Message(); got != tt.want {
				t.Errorf("message = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDispatcher_Errors(t *testing.T) {
	tests := []struct {
		name string
		step flow.Step
		want error
	}{
		{"click missing element", &flow.ClickStep{Selector: "#nope"}, core.ErrElementNotFound},
		{"click without selector", &flow.ClickStep{}, core.ErrMissingField},
		{"title mismatch", &flow.AssertPageTitleStep{Value: "Other"}, core.ErrAssertionFailed},
		{"title regex mismatch", &flow.AssertPageTitleStep{ValueRegex: "^Other"}, core.ErrAssertionFailed},
		{"title invalid regex", &flow.AssertPageTitleStep{ValueRegex: "("}, core.ErrInvalidField},
		{"title without value", &flow.AssertPageTitleStep{}, core.ErrMissingField},
		{"inner text mismatch", &flow.AssertInnerTextStep{Selector: "button", Value: "Stop"}, core.ErrAssertionFailed},
		{"content missing", &flow.AssertContentStep{Value: "Spike"}, core.ErrAssertionFailed},
		{"exist missing", &flow.AssertExistStep{Selector: ".missing"}, core.ErrElementNotFound},
		{"style change without snapshot", &flow.AssertStyleChangeStep{Selector: "form"}, core.ErrNoSnapshot},
		{"sleep invalid", &flow.SleepStep{Value: "soon"}, core.ErrInvalidField},
		{"wait timeout", &flow.WaitForElementStep{Selector: "#never", BaseStep: flow.BaseStep{TimeoutMs: 30}}, core.ErrWaitTimeout},
		{"select unknown option", &flow.SelectStep{Selector: "#size", Value: "xl"}, core.ErrElementNotFound},
		{"custom unregistered", &flow.CustomFuncStep{Name: "fillCard"}, core.ErrInvalidField},
		{"custom without hook", &flow.CustomFuncStep{}, core.ErrMissingField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := loadedScope(t, staticForm())
			d := &Dispatcher{}

			err := d.Execute(context.Background(), sc, tt.step)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Execute() error = %v, want %v", err, tt.want)
			}
			if sc.Context.Message() != "" {
				t.Errorf("failed step left message %q", sc.Context.Message())
			}
		})
	}
}

func TestDispatcher_ArtifactsRequireSink(t *testing.T) {
	for _, step := range []flow.Step{
		&flow.ScreenshotStep{Filename: "a.png"},
		&flow.WriteToFileStep{Selector: "form", Filename: "a.html"},
	} {
		sc := loadedScope(t, staticForm())
		err := (&Dispatcher{}).Execute(context.Background(), sc, step)
		if !errors.Is(err, core.ErrNoArtifactSink) {
			t.Errorf("%s: error = %v, want ErrNoArtifactSink", step.Type(), err)
		}
	}
}

func TestDispatcher_ArtifactWriteFailure(t *testing.T) {
	sink := newMemSink()
	sink.fail = errors.New("disk full")
	sc := loadedScope(t, staticForm())

	err := (&Dispatcher{Artifacts: sink}).Execute(context.Background(), sc, &flow.ScreenshotStep{Filename: "a.png"})
	if core.CategoryOf(err) != core.ErrCategoryArtifact {
		t.Errorf("category = %v, want artifact", core.CategoryOf(err))
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Errorf("error %q should carry the cause", err)
	}
}

func TestDispatcher_WriteToFileStoresOuterHTML(t *testing.T) {
	sink := newMemSink()
	sc := loadedScope(t, staticForm())

	step := &flow.WriteToFileStep{Selector: "#note", Filename: "note.html"}
	if err := (&Dispatcher{Artifacts: sink}).Execute(context.Background(), sc, step); err != nil {
		t.Fatal(err)
	}
	got := string(sink.file("flow-1/note.html"))
	if !strings.HasPrefix(got, `<p id="note">`) {
		t.Errorf("stored %q", got)
	}
}

func TestDispatcher_StyleChange(t *testing.T) {
	ctx := context.Background()
	sc := loadedScope(t, validatingForm())
	d := &Dispatcher{}

	steps := []flow.Step{
		&flow.StyleSnapshotStep{Selector: "form"},
		&flow.ClickStep{Selector: "button[type=submit]"},
		&flow.AssertStyleChangeStep{Selector: "form"},
	}
	for _, step := range steps {
		if err := d.Execute(ctx, sc, step); err != nil {
			t.Fatalf("%s: %v", step.Type(), err)
		}
	}

	msg := sc.Context.Message()
	if !strings.HasPrefix(msg, "Style changed for form") {
		t.Errorf("message = %q", msg)
	}
	if !strings.Contains(msg, "+INPUT.field.invalid,") {
		t.Errorf("message should contain the diff, got %q", msg)
	}
}

func TestDispatcher_NoStyleChange(t *testing.T) {
	ctx := context.Background()
	sc := loadedScope(t, staticForm())
	d := &Dispatcher{}

	if err := d.Execute(ctx, sc, &flow.StyleSnapshotStep{Selector: "form"}); err != nil {
		t.Fatal(err)
	}
	err := d.Execute(ctx, sc, &flow.AssertStyleChangeStep{Selector: "form"})
	if !errors.Is(err, core.ErrNoStyleChange) {
		t.Fatalf("error = %v, want ErrNoStyleChange", err)
	}
	if !strings.Contains(err.Error(), "no style change") {
		t.Errorf("error %q should mention no style change", err)
	}
}

func TestDispatcher_CustomFunc(t *testing.T) {
	ctx := context.Background()

	t.Run("inline func", func(t *testing.T) {
		sc := loadedScope(t, staticForm())
		step := &flow.CustomFuncStep{Func: func(ctx context.Context, s *flow.CustomFuncStep, target session.Target) error {
			return target.Type(ctx, "input[name=email]", "x")
		}}
		if err := (&Dispatcher{}).Execute(ctx, sc, step); err != nil {
			t.Fatal(err)
		}
		if sc.Context.Message() != "Ran custom function inline" {
			t.Errorf("message = %q", sc.Context.Message())
		}
	})

	t.Run("registered func keeps its message", func(t *testing.T) {
		sc := loadedScope(t, staticForm())
		d := &Dispatcher{Funcs: map[string]flow.CustomFunc{
			"fillCard": func(ctx context.Context, s *flow.CustomFuncStep, target session.Target) error {
				sc.Context.SetMessage("card filled")
				return nil
			},
		}}
		if err := d.Execute(ctx, sc, &flow.CustomFuncStep{Name: "fillCard"}); err != nil {
			t.Fatal(err)
		}
		if sc.Context.Message() != "card filled" {
			t.Errorf("message = %q", sc.Context.Message())
		}
	})

	t.Run("hook error returned verbatim", func(t *testing.T) {
		sc := loadedScope(t, staticForm())
		declined := errors.New("card declined")
		step := &flow.CustomFuncStep{Func: func(context.Context, *flow.CustomFuncStep, session.Target) error {
			return declined
		}}
		if err := (&Dispatcher{}).Execute(ctx, sc, step); err != declined {
			t.Errorf("error = %v, want the hook's error", err)
		}
	})

	t.Run("script", func(t *testing.T) {
		s := staticForm()
		sc := loadedScope(t, s)
		step := &flow.CustomFuncStep{Script: `
			page.click("button");
			context.total = page.title();
		`}
		if err := (&Dispatcher{}).Execute(ctx, sc, step); err != nil {
			t.Fatal(err)
		}
		if sc.Context.String("total") != "Sample Form" {
			t.Errorf("context.total = %v", sc.Context["total"])
		}
		if s.Count(mock.OpClick) != 1 {
			t.Errorf("expected one click, calls: %v", s.Calls())
		}
		if sc.Context.Message() != "Ran custom function script" {
			t.Errorf("message = %q", sc.Context.Message())
		}
	})
}

func TestDispatcher_AllActionTypesHandled(t *testing.T) {
	for _, at := range flow.ActionTypes() {
		sc := loadedScope(t, staticForm())
		err := (&Dispatcher{}).Execute(context.Background(), sc, flow.NewStep(at))
		if errors.Is(err, core.ErrUnsupportedAction) {
			t.Errorf("%s is not handled by the dispatcher", at)
		}
	}
}

type unknownStep struct{ flow.BaseStep }

func (s *unknownStep) Type() flow.ActionType { return "hover" }
func (s *unknownStep) Describe() string      { return "hover" }

func TestDispatcher_UnsupportedAction(t *testing.T) {
	sc := loadedScope(t, staticForm())
	err := (&Dispatcher{}).Execute(context.Background(), sc, &unknownStep{})
	if !errors.Is(err, core.ErrUnsupportedAction) {
		t.Fatalf("error = %v, want ErrUnsupportedAction", err)
	}
	if core.CategoryOf(err) != core.ErrCategoryUnsupported {
		t.Errorf("category = %v", core.CategoryOf(err))
	}
}

func TestDispatcher_SleepCancelled(t *testing.T) {
	sc := loadedScope(t, staticForm())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := (&Dispatcher{}).Execute(ctx, sc, &flow.SleepStep{Value: "5000"})
	if !errors.Is(err, core.ErrCancelled) {
		t.Fatalf("error = %v, want ErrCancelled", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("sleep ignored cancellation")
	}
}
