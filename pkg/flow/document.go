package flow

import (
	"fmt"
)

// Document is a flow submitted inline, e.g. in an HTTP request or a queue
// message. Source holds YAML or JSON in any layout Parse accepts.
type Document struct {
	Name   string `json:"name,omitempty"`
	Source string `json:"source"`
}

// ParseDocuments parses inline flows and numbers them with AssignIndexes.
// Name fills in a missing flow name.
func ParseDocuments(docs []Document) ([]*Flow, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("no flows")
	}

	flows := make([]*Flow, 0, len(docs))
	for i, doc := range docs {
		label := doc.Name
		if label == "" {
			label = fmt.Sprintf("flows[%d]", i)
		}

		f, err := Parse([]byte(doc.Source), label)
		if err != nil {
			return nil, err
		}
		f.SourcePath = ""
		if f.Config.Name == "" {
			f.Config.Name = doc.Name
		}
		flows = append(flows, f)
	}
	if err := AssignIndexes(flows); err != nil {
		return nil, err
	}
	return flows, nil
}
