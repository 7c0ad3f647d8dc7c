// Package validator validates flow files before execution.
// It parses all files upfront and checks each step for the fields and
// ordering the executor needs, so a batch fails before any browser starts.
package validator

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/devicelab-dev/uxflow/pkg/flow"
	"github.com/devicelab-dev/uxflow/pkg/jsengine"
)

// ValidationError represents a validation error with context.
type ValidationError struct {
	File    string
	Step    int // 1-based; 0 for file-level errors
	Message string
}

func (e *ValidationError) Error() string {
	if e.Step > 0 {
		return fmt.Sprintf("%s: step %d: %s", e.File, e.Step, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}

// Result contains the validation result.
type Result struct {
	// Files is the list of flow file paths in execution order.
	Files []string
	// Flows are the parsed flows matching Files.
	Flows []*flow.Flow
	// Errors contains all validation errors found.
	Errors []error
}

// IsValid returns true if there are no validation errors.
func (r *Result) IsValid() bool {
	return len(r.Errors) == 0
}

// Validator validates flow files.
type Validator struct {
	includeTags []string
	excludeTags []string
	funcs       map[string]bool // nil: named hooks are not checked
}

// New creates a new Validator.
func New(includeTags, excludeTags []string) *Validator {
	return &Validator{
		includeTags: includeTags,
		excludeTags: excludeTags,
	}
}

// WithFuncs makes named customFunc steps fail validation unless their name
// is listed.
func (v *Validator) WithFuncs(names ...string) *Validator {
	v.funcs = make(map[string]bool, len(names))
	for _, n := range names {
		v.funcs[n] = true
	}
	return v
}

// Validate validates a file or directory.
func (v *Validator) Validate(path string) *Result {
	result := &Result{}

	info, err := os.Stat(path)
	if err != nil {
		result.Errors = append(result.Errors, &ValidationError{
			File:    path,
			Message: fmt.Sprintf("cannot access: %v", err),
		})
		return result
	}

	var files []string
	if info.IsDir() {
		files, err = collectFlowFiles(path)
		if err != nil {
			result.Errors = append(result.Errors, &ValidationError{
				File:    path,
				Message: fmt.Sprintf("failed to scan directory: %v", err),
			})
			return result
		}
	} else {
		files = []string{path}
	}

	for _, file := range files {
		v.validateFile(file, result)
	}
	return result
}

// collectFlowFiles finds all flow files in a directory, sorted by path.
func collectFlowFiles(dir string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && flow.IsFlowFile(path) {
			files = append(files, path)
		}
		return nil
	})

	sort.Strings(files)
	return files, err
}

func (v *Validator) validateFile(filePath string, result *Result) {
	f, err := flow.ParseFile(filePath)
	if err != nil {
		result.Errors = append(result.Errors, &ValidationError{
			File:    filePath,
			Message: fmt.Sprintf("parse error: %v", err),
		})
		return
	}

	if !flow.ShouldIncludeFlow(f, v.includeTags, v.excludeTags) {
		return
	}

	errs := v.CheckFlow(f)
	result.Errors = append(result.Errors, errs...)
	if len(errs) == 0 {
		result.Files = append(result.Files, filePath)
		result.Flows = append(result.Flows, f)
	}
}

// CheckFlow checks every step that will run. Skipped steps are not
// checked but also do not count as style snapshots.
func (v *Validator) CheckFlow(f *flow.Flow) []error {
	var errs []error
	file := f.DisplayName()
	snapshot := false

	for i, step := range f.Steps {
		if step.Common().Skip {
			continue
		}
		fail := func(format string, args ...interface{}) {
			errs = append(errs, &ValidationError{File: file, Step: i + 1, Message: fmt.Sprintf(format, args...)})
		}

		if ref := step.Common().Iframe; ref != nil && !ref.ByName && ref.Index < 0 {
			fail("%s: iframe index must not be negative", step.Type())
		}

		switch s := step.(type) {
		case *flow.NavigateStep:
			requireField(fail, s, "url", s.URL)
		case *flow.SleepStep:
			if _, err := s.Duration(); err != nil {
				fail("%v", err)
			}
		case *flow.WaitForElementStep:
			requireField(fail, s, "selector", s.Selector)
		case *flow.TypeThenSubmitStep:
			requireField(fail, s, "selector", s.Selector)
		case *flow.ClickStep:
			requireField(fail, s, "selector", s.Selector)
		case *flow.TapStep:
			requireField(fail, s, "selector", s.Selector)
		case *flow.SelectStep:
			requireField(fail, s, "selector", s.Selector)
		case *flow.ScrollToStep:
			requireField(fail, s, "selector", s.Selector)
		case *flow.AssertPageTitleStep:
			checkMatch(fail, s, s.Value, s.ValueRegex)
		case *flow.AssertInnerTextStep:
			requireField(fail, s, "selector", s.Selector)
			checkMatch(fail, s, s.Value, s.ValueRegex)
		case *flow.AssertExistStep:
			requireField(fail, s, "selector", s.Selector)
		case *flow.AssertContentStep:
			requireField(fail, s, "value", s.Value)
		case *flow.StyleSnapshotStep:
			requireField(fail, s, "selector", s.Selector)
			snapshot = true
		case *flow.AssertStyleChangeStep:
			requireField(fail, s, "selector", s.Selector)
			if !snapshot {
				fail("assertStyleChange has no earlier styleSnapshot")
			}
		case *flow.ScreenshotStep:
			checkFilename(fail, s, s.Filename)
		case *flow.WriteToFileStep:
			requireField(fail, s, "selector", s.Selector)
			checkFilename(fail, s, s.Filename)
		case *flow.CustomFuncStep:
			v.checkCustom(fail, s)
		}
	}
	return errs
}

func (v *Validator) checkCustom(fail func(string, ...interface{}), s *flow.CustomFuncStep) {
	switch {
	case s.Func != nil:
	case s.Name != "":
		if v.funcs != nil && !v.funcs[s.Name] {
			fail("no custom function registered as %q", s.Name)
		}
	case s.Script != "":
		if err := jsengine.Compile("customFunc", s.Script); err != nil {
			fail("customFunc script: %v", err)
		}
	default:
		fail("customFunc needs func or script")
	}
}

func requireField(fail func(string, ...interface{}), step flow.Step, field, value string) {
	if value == "" {
		fail("missing %s in %s step", field, step.Type())
	}
}

func checkMatch(fail func(string, ...interface{}), step flow.Step, value, pattern string) {
	if value == "" && pattern == "" {
		fail("missing value or valueRegex in %s step", step.Type())
		return
	}
	if pattern != "" {
		if _, err := regexp.Compile(pattern); err != nil {
			fail("invalid valueRegex %q: %v", pattern, err)
		}
	}
}

func checkFilename(fail func(string, ...interface{}), step flow.Step, name string) {
	if name == "" {
		fail("missing filename in %s step", step.Type())
		return
	}
	if !filepath.IsLocal(name) {
		fail("filename %q must stay inside the output directory", name)
	}
}
