package flow

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseError represents a parsing error with location info.
type ParseError struct {
	Path    string
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ParseFile parses a single flow file (YAML or JSON).
func ParseFile(path string) (*Flow, error) {
	data, err := os.ReadFile(path) //#nosec G304 -- path is user-provided flow file
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return Parse(data, path)
}

// Parse parses flow content. Three layouts are accepted:
//
//   - a list of steps;
//   - a config document, a "---" separator, then a list of steps;
//   - a single mapping with config keys and a "steps" list (JSON flows).
func Parse(data []byte, sourcePath string) (*Flow, error) {
	parts := splitYAMLDocuments(string(data))

	flow := &Flow{
		SourcePath: sourcePath,
	}

	switch len(parts) {
	case 0:
		return nil, &ParseError{Path: sourcePath, Line: 1, Message: "empty flow file"}
	case 1:
		if err := parseDocument(parts[0], flow); err != nil {
			return nil, err
		}
	default:
		if err := parseConfig(parts[0], flow); err != nil {
			return nil, err
		}
		if err := parseSteps(parts[1], flow); err != nil {
			return nil, err
		}
	}

	return flow, nil
}

func splitYAMLDocuments(content string) []string {
	var parts []string
	var current strings.Builder
	inBlock := false
	blockIndent := 0

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)

		if !inBlock {
			if strings.HasSuffix(trimmed, "|") || strings.HasSuffix(trimmed, ">") ||
				strings.HasSuffix(trimmed, "|-") || strings.HasSuffix(trimmed, ">-") {
				inBlock = true
				if i+1 < len(lines) {
					next := lines[i+1]
					blockIndent = len(next) - len(strings.TrimLeft(next, " \t"))
				}
			}
		} else {
			indent := len(line) - len(strings.TrimLeft(line, " \t"))
			if trimmed != "" && indent < blockIndent {
				inBlock = false
			}
		}

		if !inBlock && trimmed == "---" && strings.TrimLeft(line, " \t") == "---" {
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
	}

	if strings.TrimSpace(current.String()) != "" {
		parts = append(parts, current.String())
	}

	return parts
}

// parseDocument handles the single-document layouts.
func parseDocument(content string, flow *Flow) error {
	var root yaml.Node
	if err := yaml.Unmarshal([]byte(content), &root); err != nil {
		return &ParseError{Path: flow.SourcePath, Message: fmt.Sprintf("invalid flow: %v", err)}
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return &ParseError{Path: flow.SourcePath, Line: 1, Message: "empty flow file"}
	}

	doc := root.Content[0]
	switch doc.Kind {
	case yaml.SequenceNode:
		return appendSteps(doc, flow)
	case yaml.MappingNode:
		if err := doc.Decode(&flow.Config); err != nil {
			return wrapParseError(flow.SourcePath, doc.Line, err)
		}
		steps := mappingValue(doc, "steps")
		if steps == nil {
			return &ParseError{Path: flow.SourcePath, Line: doc.Line, Message: "missing steps"}
		}
		if steps.Kind != yaml.SequenceNode {
			return &ParseError{Path: flow.SourcePath, Line: steps.Line, Message: "steps must be a list"}
		}
		return appendSteps(steps, flow)
	default:
		return &ParseError{Path: flow.SourcePath, Line: doc.Line, Message: "flow must be a list of steps or a mapping"}
	}
}

func parseConfig(content string, flow *Flow) error {
	var config Config
	if err := yaml.Unmarshal([]byte(content), &config); err != nil {
		return &ParseError{
			Path:    flow.SourcePath,
			Message: fmt.Sprintf("invalid config: %v", err),
		}
	}
	flow.Config = config
	return nil
}

func parseSteps(content string, flow *Flow) error {
	var rawSteps []yaml.Node
	if err := yaml.Unmarshal([]byte(content), &rawSteps); err != nil {
		return &ParseError{
			Path:    flow.SourcePath,
			Message: fmt.Sprintf("invalid steps: %v", err),
		}
	}

	for i := range rawSteps {
		step, err := parseStep(&rawSteps[i], flow.SourcePath)
		if err != nil {
			return err
		}
		flow.Steps = append(flow.Steps, step)
	}
	return nil
}

func appendSteps(seq *yaml.Node, flow *Flow) error {
	for _, node := range seq.Content {
		step, err := parseStep(node, flow.SourcePath)
		if err != nil {
			return err
		}
		flow.Steps = append(flow.Steps, step)
	}
	return nil
}

// parseStep accepts either an explicit tag ("actionType: click" alongside
// the step fields) or the tag as the step's only key ("click: '#submit'"
// or "click: {selector: '#submit', log: ...}").
func parseStep(node *yaml.Node, sourcePath string) (Step, error) {
	if node.Kind != yaml.MappingNode {
		return nil, &ParseError{
			Path:    sourcePath,
			Line:    node.Line,
			Message: "step must be a mapping",
		}
	}

	if tagNode := mappingValue(node, "actionType"); tagNode != nil {
		actionType, ok := ParseActionType(tagNode.Value)
		if !ok {
			return nil, &ParseError{
				Path:    sourcePath,
				Line:    tagNode.Line,
				Message: fmt.Sprintf("unknown action type: %s", tagNode.Value),
			}
		}
		return decodeStep(actionType, node, sourcePath)
	}

	actionType, valueNode := extractActionType(node)
	if actionType == "" {
		return nil, &ParseError{
			Path:    sourcePath,
			Line:    node.Line,
			Message: "unknown step type",
		}
	}
	return decodeStep(actionType, valueNode, sourcePath)
}

func extractActionType(node *yaml.Node) (ActionType, *yaml.Node) {
	for i := 0; i < len(node.Content)-1; i += 2 {
		if t, ok := ParseActionType(node.Content[i].Value); ok {
			return t, node.Content[i+1]
		}
	}
	return "", nil
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	for i := 0; i < len(node.Content)-1; i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

func decodeStep(actionType ActionType, valueNode *yaml.Node, sourcePath string) (Step, error) {
	step := NewStep(actionType)
	if step == nil {
		return nil, &ParseError{
			Path:    sourcePath,
			Line:    valueNode.Line,
			Message: fmt.Sprintf("unknown action type: %s", actionType),
		}
	}

	switch valueNode.Kind {
	case yaml.ScalarNode:
		if !setPrimary(step, valueNode.Value) {
			return nil, &ParseError{
				Path:    sourcePath,
				Line:    valueNode.Line,
				Message: fmt.Sprintf("%s requires a mapping of fields", actionType),
			}
		}
	case yaml.MappingNode:
		if err := valueNode.Decode(step); err != nil {
			return nil, wrapParseError(sourcePath, valueNode.Line, err)
		}
	default:
		return nil, &ParseError{
			Path:    sourcePath,
			Line:    valueNode.Line,
			Message: fmt.Sprintf("invalid value for %s", actionType),
		}
	}

	return step, nil
}

// NewStep returns an empty step of the given type, or nil if unknown.
func NewStep(actionType ActionType) Step {
	switch actionType {
	case ActionNavigate:
		return &NavigateStep{}
	case ActionSleep:
		return &SleepStep{}
	case ActionWaitForElement:
		return &WaitForElementStep{}
	case ActionTypeThenSubmit:
		return &TypeThenSubmitStep{}
	case ActionClick:
		return &ClickStep{}
	case ActionTap:
		return &TapStep{}
	case ActionSelect:
		return &SelectStep{}
	case ActionScrollTo:
		return &ScrollToStep{}
	case ActionAssertPageTitle:
		return &AssertPageTitleStep{}
	case ActionAssertInnerText:
		return &AssertInnerTextStep{}
	case ActionAssertExist:
		return &AssertExistStep{}
	case ActionAssertContent:
		return &AssertContentStep{}
	case ActionStyleSnapshot:
		return &StyleSnapshotStep{}
	case ActionAssertStyleChange:
		return &AssertStyleChangeStep{}
	case ActionScreenshot:
		return &ScreenshotStep{}
	case ActionWriteToFile:
		return &WriteToFileStep{}
	case ActionCustomFunc:
		return &CustomFuncStep{}
	}
	return nil
}

// setPrimary fills the step's main field from the shorthand scalar form.
// Steps that need more than one field report false.
func setPrimary(step Step, value string) bool {
	switch s := step.(type) {
	case *NavigateStep:
		s.URL = value
	case *SleepStep:
		s.Value = value
	case *WaitForElementStep:
		s.Selector = value
	case *ClickStep:
		s.Selector = value
	case *TapStep:
		s.Selector = value
	case *ScrollToStep:
		s.Selector = value
	case *AssertPageTitleStep:
		s.Value = value
	case *AssertExistStep:
		s.Selector = value
	case *AssertContentStep:
		s.Value = value
	case *StyleSnapshotStep:
		s.Selector = value
	case *AssertStyleChangeStep:
		s.Selector = value
	case *ScreenshotStep:
		s.Filename = value
	case *CustomFuncStep:
		s.Name = value
	default:
		return false
	}
	return true
}

// UnmarshalYAML decodes an iframe reference: integers select by ordinal,
// anything else by frame name.
func (r *FrameRef) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: iframe must be a number or a name", node.Line)
	}
	if node.Tag == "!!int" {
		n, err := strconv.Atoi(node.Value)
		if err != nil {
			return fmt.Errorf("line %d: invalid iframe index %q", node.Line, node.Value)
		}
		if n < 0 {
			return fmt.Errorf("line %d: iframe index must not be negative", node.Line)
		}
		*r = FrameRef{Index: n}
		return nil
	}
	*r = FrameRef{Name: node.Value, ByName: true}
	return nil
}

func wrapParseError(path string, line int, err error) error {
	return &ParseError{
		Path:    path,
		Line:    line,
		Message: err.Error(),
	}
}

// ParseDirectory parses all flow files (.yaml, .yml, .json) in a directory.
func ParseDirectory(dir string, includeTags, excludeTags []string) ([]*Flow, error) {
	var flows []*Flow

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !IsFlowFile(path) {
			return nil
		}

		flow, parseErr := ParseFile(path)
		if parseErr != nil {
			fmt.Fprintf(os.Stderr, "warning: skipping %s: %v\n", path, parseErr)
			return nil
		}

		if ShouldIncludeFlow(flow, includeTags, excludeTags) {
			flows = append(flows, flow)
		}
		return nil
	})

	return flows, err
}

// IsFlowFile reports whether path has a flow file extension.
func IsFlowFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return true
	}
	return false
}
