// Package flow handles parsing and representation of UI interaction flows.
package flow

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/devicelab-dev/uxflow/pkg/session"
)

// ActionType is the tag identifying what a step does.
type ActionType string

// Action type constants. Values are the wire tags used in flow files.
const (
	// Navigation & waiting
	ActionNavigate       ActionType = "url"
	ActionSleep          ActionType = "sleep"
	ActionWaitForElement ActionType = "waitForElement"

	// Interaction
	ActionTypeThenSubmit ActionType = "typeThenSubmit"
	ActionClick          ActionType = "click"
	ActionTap            ActionType = "tap"
	ActionSelect         ActionType = "select"
	ActionScrollTo       ActionType = "scrollTo"

	// Assertions
	ActionAssertPageTitle   ActionType = "assertPageTitle"
	ActionAssertInnerText   ActionType = "assertInnerText"
	ActionAssertExist       ActionType = "assertExist"
	ActionAssertContent     ActionType = "assertContent"
	ActionAssertStyleChange ActionType = "assertStyleChange"
	ActionStyleSnapshot     ActionType = "styleSnapshot"

	// Output
	ActionScreenshot  ActionType = "screenshot"
	ActionWriteToFile ActionType = "writeToFile"

	// Escape hatch
	ActionCustomFunc ActionType = "customFunc"
)

var actionTypes = []ActionType{
	ActionNavigate, ActionSleep, ActionWaitForElement,
	ActionTypeThenSubmit, ActionClick, ActionTap, ActionSelect, ActionScrollTo,
	ActionAssertPageTitle, ActionAssertInnerText, ActionAssertExist,
	ActionAssertContent, ActionAssertStyleChange, ActionStyleSnapshot,
	ActionScreenshot, ActionWriteToFile, ActionCustomFunc,
}

// constantNames maps the upper-case constant spelling (CLICK, WAIT_FOR_ELEMENT)
// to the wire tag, so both spellings are accepted in flow files.
var constantNames = map[string]ActionType{
	"URL":                 ActionNavigate,
	"NAVIGATE":            ActionNavigate,
	"SLEEP":               ActionSleep,
	"WAIT_FOR_ELEMENT":    ActionWaitForElement,
	"TYPE_THEN_SUBMIT":    ActionTypeThenSubmit,
	"CLICK":               ActionClick,
	"TAP":                 ActionTap,
	"SELECT":              ActionSelect,
	"SCROLL_TO":           ActionScrollTo,
	"ASSERT_PAGE_TITLE":   ActionAssertPageTitle,
	"ASSERT_INNER_TEXT":   ActionAssertInnerText,
	"ASSERT_EXIST":        ActionAssertExist,
	"ASSERT_CONTENT":      ActionAssertContent,
	"ASSERT_STYLE_CHANGE": ActionAssertStyleChange,
	"STYLE_SNAPSHOT":      ActionStyleSnapshot,
	"SCREENSHOT":          ActionScreenshot,
	"WRITE_TO_FILE":       ActionWriteToFile,
	"CUSTOM_FUNC":         ActionCustomFunc,
}

// ActionTypes returns every known action type.
func ActionTypes() []ActionType {
	out := make([]ActionType, len(actionTypes))
	copy(out, actionTypes)
	return out
}

// ParseActionType resolves a wire tag or constant name to an ActionType.
func ParseActionType(s string) (ActionType, bool) {
	s = strings.TrimSpace(s)
	for _, t := range actionTypes {
		if string(t) == s {
			return t, true
		}
	}
	if t, ok := constantNames[strings.ToUpper(s)]; ok {
		return t, true
	}
	return "", false
}

// Step is the interface for all flow steps.
type Step interface {
	Type() ActionType
	Common() *BaseStep
	Describe() string
}

// BaseStep contains fields shared by every step.
type BaseStep struct {
	Log          string    `yaml:"log"`        // Human-readable annotation
	Skip         bool      `yaml:"skip"`       // Logged but not executed
	SleepAfterMs int       `yaml:"sleepAfter"` // Extra pause after the step
	Iframe       *FrameRef `yaml:"iframe"`     // Sub-frame to run against
	TimeoutMs    int       `yaml:"timeout"`    // Wait timeout override
}

// Common returns the shared step fields.
func (b *BaseStep) Common() *BaseStep { return b }

// SleepAfter returns the extra pause after the step.
func (b *BaseStep) SleepAfter() time.Duration {
	return time.Duration(b.SleepAfterMs) * time.Millisecond
}

// Timeout returns the step's wait timeout, or 0 when unset.
func (b *BaseStep) Timeout() time.Duration {
	return time.Duration(b.TimeoutMs) * time.Millisecond
}

// FrameRef selects a sub-frame by ordinal or by name.
type FrameRef struct {
	Index  int
	Name   string
	ByName bool
}

// FrameIndex returns a reference to the sub-frame at ordinal i.
func FrameIndex(i int) *FrameRef { return &FrameRef{Index: i} }

// FrameName returns a reference to the sub-frame whose name is name.
func FrameName(name string) *FrameRef { return &FrameRef{Name: name, ByName: true} }

// String renders the reference for logs.
func (r FrameRef) String() string {
	if r.ByName {
		return fmt.Sprintf("iframe name = %s", r.Name)
	}
	return fmt.Sprintf("iframe #%d", r.Index)
}

// ============================================
// Navigation & Waiting Steps
// ============================================

// NavigateStep loads a URL.
type NavigateStep struct {
	BaseStep `yaml:",inline"`
	URL      string `yaml:"url"`
}

// SleepStep pauses for Value milliseconds.
type SleepStep struct {
	BaseStep `yaml:",inline"`
	Value    string `yaml:"value"`
}

// Duration parses Value as milliseconds.
func (s *SleepStep) Duration() (time.Duration, error) {
	ms, err := strconv.Atoi(strings.TrimSpace(s.Value))
	if err != nil {
		return 0, fmt.Errorf("invalid sleep value %q", s.Value)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// WaitForElementStep waits for a selector to resolve.
type WaitForElementStep struct {
	BaseStep `yaml:",inline"`
	Selector string `yaml:"selector"`
}

// ============================================
// Interaction Steps
// ============================================

// TypeThenSubmitStep types into an input and presses Enter.
type TypeThenSubmitStep struct {
	BaseStep  `yaml:",inline"`
	Selector  string `yaml:"selector"`
	InputText string `yaml:"inputText"`
}

// ClickStep clicks an element.
type ClickStep struct {
	BaseStep `yaml:",inline"`
	Selector string `yaml:"selector"`
}

// TapStep taps an element.
type TapStep struct {
	BaseStep `yaml:",inline"`
	Selector string `yaml:"selector"`
}

// SelectStep sets the value of a select control.
type SelectStep struct {
	BaseStep `yaml:",inline"`
	Selector string `yaml:"selector"`
	Value    string `yaml:"value"`
}

// ScrollToStep scrolls the first matching element into view.
type ScrollToStep struct {
	BaseStep `yaml:",inline"`
	Selector string `yaml:"selector"`
}

// ============================================
// Assertion Steps
// ============================================

// AssertPageTitleStep compares the document title.
type AssertPageTitleStep struct {
	BaseStep   `yaml:",inline"`
	Value      string `yaml:"value"`
	ValueRegex string `yaml:"valueRegex"`
}

// AssertInnerTextStep compares an element's inner text.
type AssertInnerTextStep struct {
	BaseStep   `yaml:",inline"`
	Selector   string `yaml:"selector"`
	Value      string `yaml:"value"`
	ValueRegex string `yaml:"valueRegex"`
}

// AssertExistStep asserts an element matches the selector.
type AssertExistStep struct {
	BaseStep `yaml:",inline"`
	Selector string `yaml:"selector"`
}

// AssertContentStep asserts text appears in an element (body by default).
type AssertContentStep struct {
	BaseStep `yaml:",inline"`
	Selector string `yaml:"selector"`
	Value    string `yaml:"value"`
}

// StyleSnapshotStep stores the style fingerprint of a subtree.
type StyleSnapshotStep struct {
	BaseStep `yaml:",inline"`
	Selector string `yaml:"selector"`
}

// AssertStyleChangeStep asserts a subtree's fingerprint differs from the
// one stored by an earlier StyleSnapshotStep.
type AssertStyleChangeStep struct {
	BaseStep `yaml:",inline"`
	Selector string `yaml:"selector"`
}

// ============================================
// Output Steps
// ============================================

// ScreenshotStep captures the page to Filename.
type ScreenshotStep struct {
	BaseStep `yaml:",inline"`
	Filename string `yaml:"filename"`
}

// WriteToFileStep writes an element's outer HTML to Filename.
type WriteToFileStep struct {
	BaseStep `yaml:",inline"`
	Selector string `yaml:"selector"`
	Filename string `yaml:"filename"`
}

// ============================================
// Custom Steps
// ============================================

// CustomFunc is caller code run inside a CustomFuncStep.
type CustomFunc func(ctx context.Context, step *CustomFuncStep, target session.Target) error

// CustomFuncStep runs caller-supplied behavior. Exactly one of Func, Name
// or Script is expected: Func for flows built in Go, Name for hooks
// registered with the executor, Script for JavaScript bodies in flow files.
type CustomFuncStep struct {
	BaseStep `yaml:",inline"`
	Name     string     `yaml:"func"`
	Script   string     `yaml:"script"`
	Func     CustomFunc `yaml:"-"`
}

// ============================================
// Type and Describe
// ============================================

func (s *NavigateStep) Type() ActionType          { return ActionNavigate }
func (s *SleepStep) Type() ActionType             { return ActionSleep }
func (s *WaitForElementStep) Type() ActionType    { return ActionWaitForElement }
func (s *TypeThenSubmitStep) Type() ActionType    { return ActionTypeThenSubmit }
func (s *ClickStep) Type() ActionType             { return ActionClick }
func (s *TapStep) Type() ActionType               { return ActionTap }
func (s *SelectStep) Type() ActionType            { return ActionSelect }
func (s *ScrollToStep) Type() ActionType          { return ActionScrollTo }
func (s *AssertPageTitleStep) Type() ActionType   { return ActionAssertPageTitle }
func (s *AssertInnerTextStep) Type() ActionType   { return ActionAssertInnerText }
func (s *AssertExistStep) Type() ActionType       { return ActionAssertExist }
func (s *AssertContentStep) Type() ActionType     { return ActionAssertContent }
func (s *StyleSnapshotStep) Type() ActionType     { return ActionStyleSnapshot }
func (s *AssertStyleChangeStep) Type() ActionType { return ActionAssertStyleChange }
func (s *ScreenshotStep) Type() ActionType        { return ActionScreenshot }
func (s *WriteToFileStep) Type() ActionType       { return ActionWriteToFile }
func (s *CustomFuncStep) Type() ActionType        { return ActionCustomFunc }

func (s *NavigateStep) Describe() string { return fmt.Sprintf("url: %s", s.URL) }
func (s *SleepStep) Describe() string    { return fmt.Sprintf("sleep: %s ms", s.Value) }
func (s *WaitForElementStep) Describe() string {
	return fmt.Sprintf("waitForElement: %s", s.Selector)
}
func (s *TypeThenSubmitStep) Describe() string {
	return fmt.Sprintf("typeThenSubmit: %s", s.Selector)
}
func (s *ClickStep) Describe() string    { return fmt.Sprintf("click: %s", s.Selector) }
func (s *TapStep) Describe() string      { return fmt.Sprintf("tap: %s", s.Selector) }
func (s *SelectStep) Describe() string   { return fmt.Sprintf("select: %s = %s", s.Selector, s.Value) }
func (s *ScrollToStep) Describe() string { return fmt.Sprintf("scrollTo: %s", s.Selector) }
func (s *AssertPageTitleStep) Describe() string {
	return fmt.Sprintf("assertPageTitle: %s", firstNonEmpty(s.Value, s.ValueRegex))
}
func (s *AssertInnerTextStep) Describe() string {
	return fmt.Sprintf("assertInnerText: %s", s.Selector)
}
func (s *AssertExistStep) Describe() string { return fmt.Sprintf("assertExist: %s", s.Selector) }
func (s *AssertContentStep) Describe() string {
	return fmt.Sprintf("assertContent: %q", s.Value)
}
func (s *StyleSnapshotStep) Describe() string {
	return fmt.Sprintf("styleSnapshot: %s", s.Selector)
}
func (s *AssertStyleChangeStep) Describe() string {
	return fmt.Sprintf("assertStyleChange: %s", s.Selector)
}
func (s *ScreenshotStep) Describe() string { return fmt.Sprintf("screenshot: %s", s.Filename) }
func (s *WriteToFileStep) Describe() string {
	return fmt.Sprintf("writeToFile: %s -> %s", s.Selector, s.Filename)
}
func (s *CustomFuncStep) Describe() string {
	if s.Name != "" {
		return fmt.Sprintf("customFunc: %s", s.Name)
	}
	return "customFunc"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
