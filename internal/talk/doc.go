// Package talk holds the per-task state document and the directive protocol
// used to mutate it.
//
// A talk document is a small XML tree rooted at <talk>. It is never edited in
// place: callers describe edits as Directives, which are applied to a private
// copy and validated before the stored version is replaced.
package talk

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// Attr is a single element attribute.
type Attr struct {
	Name  string
	Value string
}

// Node is an element of a talk document.
type Node struct {
	Name     string
	Attrs    []Attr
	Text     string
	Children []*Node

	parent *Node
}

// Attr returns the value of the named attribute.
func (n *Node) Attr(name string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// SetAttr sets or replaces an attribute, keeping attribute order stable.
func (n *Node) SetAttr(name, value string) {
	for i := range n.Attrs {
		if n.Attrs[i].Name == name {
			n.Attrs[i].Value = value
			return
		}
	}
	n.Attrs = append(n.Attrs, Attr{Name: name, Value: value})
}

// Child returns the first child with the given name.
func (n *Node) Child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ChildrenNamed returns all children with the given name.
func (n *Node) ChildrenNamed(name string) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// ChildText returns the text of the first child with the given name.
func (n *Node) ChildText(name string) string {
	if c := n.Child(name); c != nil {
		return c.Text
	}
	return ""
}

// Has reports whether a child with the given name exists.
func (n *Node) Has(name string) bool {
	return n.Child(name) != nil
}

func (n *Node) add(name string) *Node {
	child := &Node{Name: name, parent: n}
	n.Children = append(n.Children, child)
	return child
}

func (n *Node) detach() {
	if n.parent == nil {
		return
	}
	siblings := n.parent.Children
	for i, c := range siblings {
		if c == n {
			n.parent.Children = append(siblings[:i:i], siblings[i+1:]...)
			break
		}
	}
	n.parent = nil
}

func (n *Node) clone(parent *Node) *Node {
	c := &Node{
		Name:   n.Name,
		Attrs:  append([]Attr(nil), n.Attrs...),
		Text:   n.Text,
		parent: parent,
	}
	if len(n.Children) > 0 {
		c.Children = make([]*Node, len(n.Children))
		for i, child := range n.Children {
			c.Children[i] = child.clone(c)
		}
	}
	return c
}

// Doc is an immutable view of one version of a talk document.
type Doc struct {
	root *Node
}

// NewDoc returns an empty document for a talk with the given name and number.
func NewDoc(name string, number int64) *Doc {
	root := &Node{Name: "talk"}
	root.SetAttr("name", name)
	root.SetAttr("number", fmt.Sprintf("%d", number))
	root.SetAttr("later", "false")
	return &Doc{root: root}
}

// Root returns the <talk> element. Callers must not modify it.
func (d *Doc) Root() *Node {
	return d.root
}

// Copy returns a deep copy of the document.
func (d *Doc) Copy() *Doc {
	return &Doc{root: d.root.clone(nil)}
}

// Find returns every node matching an absolute slash path such as
// "/talk/daemon/dir".
func (d *Doc) Find(path string) []*Node {
	return find(d.root, path)
}

func find(root *Node, path string) []*Node {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] != root.Name {
		return nil
	}
	current := []*Node{root}
	for _, part := range parts[1:] {
		var next []*Node
		for _, n := range current {
			next = append(next, n.ChildrenNamed(part)...)
		}
		current = next
	}
	return current
}

// Exists reports whether at least one node matches the path.
func (d *Doc) Exists(path string) bool {
	return len(d.Find(path)) > 0
}

// XML renders the document.
func (d *Doc) XML() []byte {
	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	// encoding into a bytes.Buffer only fails on invalid names, which
	// Validate rejects before a document is ever stored
	_ = encodeNode(enc, d.root)
	_ = enc.Flush()
	return buf.Bytes()
}

// String implements fmt.Stringer.
func (d *Doc) String() string {
	return string(d.XML())
}

func encodeNode(enc *xml.Encoder, n *Node) error {
	start := xml.StartElement{Name: xml.Name{Local: n.Name}}
	for _, a := range n.Attrs {
		start.Attr = append(start.Attr, xml.Attr{Name: xml.Name{Local: a.Name}, Value: a.Value})
	}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if n.Text != "" {
		if err := enc.EncodeToken(xml.CharData(n.Text)); err != nil {
			return err
		}
	}
	for _, c := range n.Children {
		if err := encodeNode(enc, c); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

// Parse reads a document from its XML form.
func Parse(data []byte) (*Doc, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var stack []*Node
	var root *Node
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse talk document: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			var n *Node
			if len(stack) == 0 {
				if root != nil {
					return nil, fmt.Errorf("failed to parse talk document: multiple roots")
				}
				n = &Node{Name: t.Name.Local}
				root = n
			} else {
				n = stack[len(stack)-1].add(t.Name.Local)
			}
			for _, a := range t.Attr {
				n.Attrs = append(n.Attrs, Attr{Name: a.Name.Local, Value: a.Value})
			}
			stack = append(stack, n)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				top := stack[len(stack)-1]
				top.Text += string(t)
			}
		}
	}
	if root == nil {
		return nil, fmt.Errorf("failed to parse talk document: empty input")
	}
	trimIndent(root)
	return &Doc{root: root}, nil
}

// trimIndent drops whitespace-only text that the indenting encoder puts
// between child elements. Validate rejects any other text on a node with
// children, so nothing meaningful is lost.
func trimIndent(n *Node) {
	if len(n.Children) > 0 && strings.TrimSpace(n.Text) == "" {
		n.Text = ""
	}
	for _, c := range n.Children {
		trimIndent(c)
	}
}
