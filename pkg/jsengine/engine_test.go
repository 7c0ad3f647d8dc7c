package jsengine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/devicelab-dev/uxflow/pkg/core"
	"github.com/devicelab-dev/uxflow/pkg/session"
	"github.com/devicelab-dev/uxflow/pkg/stylesnap"
)

// fakeTarget is a minimal session.Target for hook tests.
type fakeTarget struct {
	title    string
	elements map[string]*fakeElement
	typed    map[string]string
	pressed  []string
	queryErr error
}

type fakeElement struct {
	text    string
	clicked int
}

func (f *fakeTarget) Navigate(ctx context.Context, url string) error        { return nil }
func (f *fakeTarget) WaitForSelector(ctx context.Context, sel string) error { return nil }
func (f *fakeTarget) Query(ctx context.Context, sel string) (session.Element, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if el, ok := f.elements[sel]; ok {
		return el, nil
	}
	return nil, nil
}
func (f *fakeTarget) Type(ctx context.Context, sel, text string) error {
	if f.typed == nil {
		f.typed = map[string]string{}
	}
	f.typed[sel] = text
	return nil
}
func (f *fakeTarget) PressKey(ctx context.Context, key string) error {
	f.pressed = append(f.pressed, key)
	return nil
}
func (f *fakeTarget) Select(ctx context.Context, sel, value string) error { return nil }
func (f *fakeTarget) Title(ctx context.Context) (string, error)           { return f.title, nil }
func (f *fakeTarget) Content(ctx context.Context) (string, error)         { return "<html></html>", nil }

func (e *fakeElement) Click(ctx context.Context) error                    { e.clicked++; return nil }
func (e *fakeElement) Tap(ctx context.Context) error                      { return nil }
func (e *fakeElement) ScrollIntoView(ctx context.Context) error           { return nil }
func (e *fakeElement) InnerText(ctx context.Context) (string, error)      { return e.text, nil }
func (e *fakeElement) TextContent(ctx context.Context) (string, error)    { return e.text, nil }
func (e *fakeElement) OuterHTML(ctx context.Context) (string, error)      { return "", nil }
func (e *fakeElement) NodeName(ctx context.Context) (string, error)       { return "DIV", nil }
func (e *fakeElement) Shape(ctx context.Context) (*stylesnap.Node, error) { return nil, nil }

func TestEval(t *testing.T) {
	engine := New()

	tests := []struct {
		name     string
		script   string
		expected interface{}
	}{
		{"simple number", "1 + 2", int64(3)},
		{"string concat", "'hello' + ' ' + 'world'", "hello world"},
		{"boolean", "true && false", false},
		{"null coalescing", "null ?? 'default'", "default"},
		{"object property", "({name: 'test'}).name", "test"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := engine.Eval(tt.script)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result != tt.expected {
				t.Errorf("expected %v (%T), got %v (%T)", tt.expected, tt.expected, result, result)
			}
		})
	}
}

func TestEvalError(t *testing.T) {
	if _, err := New().Eval("undefinedFn()"); err == nil {
		t.Error("expected error")
	}
}

func TestSetVariable(t *testing.T) {
	engine := New()
	engine.SetVariable("baseURL", "https://example.com")

	got, err := engine.Eval("baseURL + '/form'")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "https://example.com/form" {
		t.Errorf("got %v", got)
	}
}

func TestRunHook_PageBindings(t *testing.T) {
	submit := &fakeElement{}
	target := &fakeTarget{
		title: "Checkout",
		elements: map[string]*fakeElement{
			"#total":  {text: "$12.00"},
			"#submit": submit,
		},
	}
	stepCtx := map[string]interface{}{}

	script := `
		if (page.title() !== "Checkout") throw new Error("wrong page");
		page.type("#card", step.card);
		page.press("Enter");
		page.click("#submit");
		context.total = page.text("#total");
		context.hasCoupon = page.exists("#coupon");
	`
	err := New().RunHook(context.Background(), script, target, map[string]interface{}{"card": "4242"}, stepCtx)
	if err != nil {
		t.Fatalf("RunHook() error = %v", err)
	}

	if target.typed["#card"] != "4242" {
		t.Errorf("typed = %v", target.typed)
	}
	if len(target.pressed) != 1 || target.pressed[0] != "Enter" {
		t.Errorf("pressed = %v", target.pressed)
	}
	if submit.clicked != 1 {
		t.Errorf("clicked %d times", submit.clicked)
	}
	if stepCtx["total"] != "$12.00" {
		t.Errorf("context.total = %v", stepCtx["total"])
	}
	if stepCtx["hasCoupon"] != false {
		t.Errorf("context.hasCoupon = %v", stepCtx["hasCoupon"])
	}
}

func TestRunHook_ThrownErrorMessage(t *testing.T) {
	err := New().RunHook(context.Background(), `throw new Error("card declined")`, &fakeTarget{}, nil, map[string]interface{}{})
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Error() != "card declined" {
		t.Errorf("error = %q, want %q", err.Error(), "card declined")
	}
}

func TestRunHook_ThrownString(t *testing.T) {
	err := New().RunHook(context.Background(), `throw "plain"`, &fakeTarget{}, nil, map[string]interface{}{})
	if err == nil || err.Error() != "plain" {
		t.Errorf("error = %v", err)
	}
}

func TestRunHook_PageErrorsKeepType(t *testing.T) {
	err := New().RunHook(context.Background(), `page.click("#missing")`, &fakeTarget{}, nil, map[string]interface{}{})
	if !errors.Is(err, core.ErrElementNotFound) {
		t.Fatalf("expected element-not-found, got %v", err)
	}
	if !strings.Contains(err.Error(), "#missing") {
		t.Errorf("error %q should name the selector", err.Error())
	}

	driverErr := errors.New("session closed")
	err = New().RunHook(context.Background(), `page.exists("a")`, &fakeTarget{queryErr: driverErr}, nil, map[string]interface{}{})
	if !errors.Is(err, driverErr) {
		t.Errorf("expected driver error, got %v", err)
	}
}

func TestRunHook_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := New().RunHook(ctx, `1`, &fakeTarget{}, nil, map[string]interface{}{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRunHook_InterruptsLongScript(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	engine := New()
	err := engine.RunHook(ctx, `for (;;) {}`, &fakeTarget{}, nil, map[string]interface{}{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	// The engine stays usable after an interrupt.
	if err := engine.RunHook(context.Background(), `context.ok = true`, &fakeTarget{}, nil, map[string]interface{}{}); err != nil {
		t.Errorf("engine unusable after interrupt: %v", err)
	}
}

func TestCompile(t *testing.T) {
	if err := Compile("ok", `page.click("#go"); context.done = true;`); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := Compile("bad", `page.click(`); err == nil {
		t.Error("expected syntax error")
	}
}
