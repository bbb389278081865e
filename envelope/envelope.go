// Package envelope extracts the XML result document from a raw model response.
//
// Model answers are expected to wrap their payload in a small XML document
// (for example <root><translated>…</translated></root>), but they often add
// prose around it, forget to escape ampersands or produce slightly broken
// markup. Find cuts the document out of the response and parses it leniently.
package envelope

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

var (
	// ErrNoDocument is returned when the response has no <root>…</root> span.
	ErrNoDocument = errors.New("no XML document found in response")
	// ErrMalformed is returned when the document cannot be tokenized.
	ErrMalformed = errors.New("malformed XML document")
)

var (
	placeholderRe        = regexp.MustCompile(`<(/?)(\d+)(/?)>`)
	escapedPlaceholderRe = regexp.MustCompile(`<(/?)tag_(\d+)(/?)>`)
)

// EscapePlaceholderTags rewrites ordinal tags (<1>, </1>, <1/>) into valid
// element names (<tag_1>, </tag_1>, <tag_1/>).
func EscapePlaceholderTags(s string) string {
	return placeholderRe.ReplaceAllString(s, "<${1}tag_${2}${3}>")
}

// UnescapePlaceholderTags reverses EscapePlaceholderTags.
func UnescapePlaceholderTags(s string) string {
	return escapedPlaceholderRe.ReplaceAllString(s, "<${1}${2}${3}>")
}

var knownEntities = []string{"amp;", "lt;", "gt;", "quot;", "apos;", "#"}

// EscapeEntities replaces every bare '&' with "&amp;". Ampersands that
// already start a predefined entity or a numeric reference are kept.
func EscapeEntities(s string) string {
	if !strings.Contains(s, "&") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		if s[i] != '&' {
			b.WriteByte(s[i])
			continue
		}
		rest := s[i+1:]
		known := false
		for _, e := range knownEntities {
			if strings.HasPrefix(rest, e) {
				known = true
				break
			}
		}
		if known {
			b.WriteByte('&')
		} else {
			b.WriteString("&amp;")
		}
	}
	return b.String()
}

// escapeStrayLT replaces '<' characters that cannot start markup
// ("a < b", "<3") with "&lt;".
func escapeStrayLT(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '<' && !startsMarkup(s[i+1:]) {
			b.WriteString("&lt;")
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func startsMarkup(rest string) bool {
	if rest == "" {
		return false
	}
	c := rest[0]
	switch {
	case c == '/' || c == '!' || c == '?' || c == '_':
		return true
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		return true
	case c >= 0x80:
		return true
	}
	return false
}

// Node is one parsed element.
type Node struct {
	Name        string
	Attr        []xml.Attr
	Children    []*Node
	SelfClosing bool

	// Text is the character data before the first child.
	Text string
	// Tail is the character data after this element's end tag, up to the
	// next sibling or the parent's end.
	Tail string
}

// Child returns the first direct child with the given local name.
func (n *Node) Child(name string) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Inner renders the content of n without its own tags: leading text, then
// each child element with its tail. Character data is written unescaped.
func (n *Node) Inner() string {
	var b strings.Builder
	n.writeInner(&b)
	return b.String()
}

func (n *Node) writeInner(b *strings.Builder) {
	b.WriteString(n.Text)
	for _, c := range n.Children {
		c.write(b)
		b.WriteString(c.Tail)
	}
}

func (n *Node) write(b *strings.Builder) {
	b.WriteByte('<')
	b.WriteString(n.Name)
	for _, a := range n.Attr {
		name := a.Name.Local
		if a.Name.Space != "" {
			name = a.Name.Space + ":" + name
		}
		fmt.Fprintf(b, ` %s="%s"`, name, a.Value)
	}
	if n.SelfClosing && n.Text == "" && len(n.Children) == 0 {
		b.WriteString("/>")
		return
	}
	b.WriteByte('>')
	n.writeInner(b)
	b.WriteString("</")
	b.WriteString(n.Name)
	b.WriteByte('>')
}

// Find locates the first <root>…</root> span in s and parses it.
func Find(s, root string) (*Node, error) {
	start := strings.Index(s, "<"+root+">")
	endTag := "</" + root + ">"
	end := strings.Index(s, endTag)
	if start == -1 || end == -1 || start > end {
		return nil, fmt.Errorf("%w: <%s>", ErrNoDocument, root)
	}
	return Parse(s[start : end+len(endTag)])
}

// Parse parses one XML document after normalizing bare '&' and '<'.
//
// Element nesting is repaired rather than rejected: an end tag closes the
// nearest open element with the same name (closing anything opened inside
// it), end tags with no open match are dropped, and elements still open at
// the end of input are closed there.
func Parse(doc string) (*Node, error) {
	doc = escapeStrayLT(EscapeEntities(doc))

	dec := xml.NewDecoder(strings.NewReader(doc))
	dec.Strict = false

	var (
		top   *Node
		stack []*Node
	)
	// appendText adds character data at the current position.
	appendText := func(s string) {
		if len(stack) == 0 {
			return
		}
		cur := stack[len(stack)-1]
		if len(cur.Children) == 0 {
			cur.Text += s
		} else {
			last := cur.Children[len(cur.Children)-1]
			last.Tail += s
		}
	}

	for {
		tok, err := dec.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			name := t.Name.Local
			if t.Name.Space != "" {
				name = t.Name.Space + ":" + name
			}
			n := &Node{Name: name, Attr: t.Attr}
			off := int(dec.InputOffset())
			if off >= 2 && off <= len(doc) && doc[off-2:off] == "/>" {
				n.SelfClosing = true
			}
			if len(stack) == 0 {
				if top != nil {
					// Content after the document element is ignored.
					return top, nil
				}
				top = n
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, n)
			}
			stack = append(stack, n)

		case xml.EndElement:
			name := t.Name.Local
			if t.Name.Space != "" {
				name = t.Name.Space + ":" + name
			}
			for i := len(stack) - 1; i >= 0; i-- {
				if stack[i].Name == name {
					stack = stack[:i]
					break
				}
			}

		case xml.CharData:
			appendText(string(t))
		}
	}

	if top == nil {
		return nil, fmt.Errorf("%w: no element", ErrMalformed)
	}
	return top, nil
}
