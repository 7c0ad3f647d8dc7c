// Package stylesnap encodes the tag/class shape of a DOM subtree as a
// comparable fingerprint string.
//
// The encoding ignores text, attributes other than class, and inline styles.
// Two fingerprints are equal exactly when the subtrees have the same tags,
// the same class attributes and the same child ordering. Example:
//
//	FORM.a[DIV.b[INPUT.c,INPUT.d,],DIV.e,],
package stylesnap

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/net/html"
)

// Node is the tag/class shape of one element and its element children.
type Node struct {
	Tag       string  `json:"tag"`
	ClassName string  `json:"className"`
	Children  []*Node `json:"children,omitempty"`
}

// Fingerprint returns the canonical encoding of the subtree rooted at n.
// A nil node encodes as the empty string.
func Fingerprint(n *Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	encode(&b, n)
	return b.String()
}

func encode(b *strings.Builder, n *Node) {
	b.WriteString(n.Tag)
	b.WriteByte('.')
	b.WriteString(strings.ReplaceAll(n.ClassName, " ", "."))

	if len(n.Children) == 0 {
		b.WriteByte(',')
		return
	}

	b.WriteByte('[')
	for _, c := range n.Children {
		encode(b, c)
	}
	b.WriteString("],")
}

// FromHTML builds the shape of an element node parsed by x/net/html.
// Tag names are upper-cased to match what a browser reports as tagName.
// Non-element nodes return nil.
func FromHTML(n *html.Node) *Node {
	if n == nil || n.Type != html.ElementNode {
		return nil
	}

	node := &Node{
		Tag:       strings.ToUpper(n.Data),
		ClassName: classAttr(n),
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if child := FromHTML(c); child != nil {
			node.Children = append(node.Children, child)
		}
	}
	return node
}

func classAttr(n *html.Node) string {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == "class" {
			return a.Val
		}
	}
	return ""
}

// ElementScript is an in-page function, bound to an element as this, that
// returns the element's shape as a JSON string decodable into Node.
const ElementScript = `function () {
  const walk = (el) => ({
    tag: el.tagName,
    className: typeof el.className === 'string' ? el.className : (el.getAttribute('class') || ''),
    children: Array.from(el.children).map(walk),
  });
  return JSON.stringify(walk(this));
}`

// Diff returns a unified diff between two fingerprints with one element per
// line. It is empty when the fingerprints are equal.
func Diff(before, after string) string {
	if before == after {
		return ""
	}
	diff := difflib.UnifiedDiff{
		A:        splitElements(before),
		B:        splitElements(after),
		FromFile: "before",
		ToFile:   "after",
		Context:  1,
	}
	out, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return ""
	}
	return out
}

func splitElements(fp string) []string {
	fp = strings.ReplaceAll(fp, "[", "[\n")
	fp = strings.ReplaceAll(fp, ",", ",\n")
	return difflib.SplitLines(fp)
}
