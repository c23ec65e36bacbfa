package talk

import (
	"errors"
	"fmt"
	"strings"
)

// ErrValidation is returned when a directive batch cannot be applied or
// would leave the document in a state the schema does not allow.
var ErrValidation = errors.New("talk document validation failed")

type cursor struct {
	root  *Node
	nodes []*Node
}

type directive struct {
	name  string
	apply func(c *cursor) error
}

// Directives is an ordered batch of tree edits. The zero value is an empty
// batch; builder methods return the receiver so calls can be chained.
type Directives struct {
	ops []directive
}

// NewDirectives returns an empty batch.
func NewDirectives() *Directives {
	return &Directives{}
}

// Len returns the number of primitives in the batch.
func (d *Directives) Len() int {
	if d == nil {
		return 0
	}
	return len(d.ops)
}

// Empty reports whether the batch holds no edits.
func (d *Directives) Empty() bool {
	return d.Len() == 0
}

func (d *Directives) push(name string, fn func(c *cursor) error) *Directives {
	d.ops = append(d.ops, directive{name: name, apply: fn})
	return d
}

// Path moves the cursor to every node matching an absolute path.
func (d *Directives) Path(path string) *Directives {
	return d.push("path "+path, func(c *cursor) error {
		c.nodes = find(c.root, path)
		return nil
	})
}

// Strict fails the batch unless the cursor holds exactly n nodes.
func (d *Directives) Strict(n int) *Directives {
	return d.push(fmt.Sprintf("strict %d", n), func(c *cursor) error {
		if len(c.nodes) != n {
			return fmt.Errorf("%w: expected %d node(s), found %d", ErrValidation, n, len(c.nodes))
		}
		return nil
	})
}

// Add appends a new child to every node under the cursor and moves the
// cursor to the new children.
func (d *Directives) Add(name string) *Directives {
	return d.push("add "+name, func(c *cursor) error {
		next := make([]*Node, 0, len(c.nodes))
		for _, n := range c.nodes {
			next = append(next, n.add(name))
		}
		c.nodes = next
		return nil
	})
}

// AddIf moves to an existing child with the given name, adding it first
// where it is missing.
func (d *Directives) AddIf(name string) *Directives {
	return d.push("addIf "+name, func(c *cursor) error {
		next := make([]*Node, 0, len(c.nodes))
		for _, n := range c.nodes {
			child := n.Child(name)
			if child == nil {
				child = n.add(name)
			}
			next = append(next, child)
		}
		c.nodes = next
		return nil
	})
}

// Set replaces the text of every node under the cursor.
func (d *Directives) Set(text string) *Directives {
	return d.push("set", func(c *cursor) error {
		for _, n := range c.nodes {
			n.Text = text
		}
		return nil
	})
}

// Attr sets an attribute on every node under the cursor.
func (d *Directives) Attr(name, value string) *Directives {
	return d.push("attr "+name, func(c *cursor) error {
		for _, n := range c.nodes {
			n.SetAttr(name, value)
		}
		return nil
	})
}

// Up moves the cursor to the parents of the current nodes.
func (d *Directives) Up() *Directives {
	return d.push("up", func(c *cursor) error {
		next := make([]*Node, 0, len(c.nodes))
		seen := make(map[*Node]bool)
		for _, n := range c.nodes {
			if n.parent == nil {
				return fmt.Errorf("%w: cannot move above the root", ErrValidation)
			}
			if !seen[n.parent] {
				seen[n.parent] = true
				next = append(next, n.parent)
			}
		}
		c.nodes = next
		return nil
	})
}

// Remove deletes every node under the cursor, together with its subtree,
// and moves the cursor to their parents.
func (d *Directives) Remove() *Directives {
	return d.push("remove", func(c *cursor) error {
		next := make([]*Node, 0, len(c.nodes))
		seen := make(map[*Node]bool)
		for _, n := range c.nodes {
			parent := n.parent
			if parent == nil {
				return fmt.Errorf("%w: cannot remove the root", ErrValidation)
			}
			n.detach()
			if !seen[parent] {
				seen[parent] = true
				next = append(next, parent)
			}
		}
		c.nodes = next
		return nil
	})
}

// Append adds all primitives of another batch, which will run against the
// cursor left by this one.
func (d *Directives) Append(other *Directives) *Directives {
	if other != nil {
		d.ops = append(d.ops, other.ops...)
	}
	return d
}

// String lists the primitives, mostly for logs.
func (d *Directives) String() string {
	names := make([]string, 0, d.Len())
	if d != nil {
		for _, op := range d.ops {
			names = append(names, op.name)
		}
	}
	return strings.Join(names, "; ")
}

// Apply runs a batch against a copy of doc and validates the result. The
// input document is never modified; on error the returned document is nil.
func Apply(doc *Doc, dirs *Directives) (*Doc, error) {
	out := doc.Copy()
	c := &cursor{root: out.root, nodes: []*Node{out.root}}
	if dirs != nil {
		for i, op := range dirs.ops {
			if err := op.apply(c); err != nil {
				return nil, fmt.Errorf("directive #%d (%s): %w", i, op.name, err)
			}
		}
	}
	if err := Validate(out); err != nil {
		return nil, err
	}
	return out, nil
}
