package talk

import (
	"fmt"
	"strconv"
	"time"
)

type occurs struct {
	min, max int
}

var (
	optional = occurs{0, 1}
	exactly  = occurs{1, 1}
)

// schema lists, per element path, the children whose cardinality is
// constrained. Children not listed are tolerated.
var schema = map[string]map[string]occurs{
	"talk": {
		"wire":         optional,
		"github-repo":  optional,
		"github-issue": optional,
		"shell":        optional,
		"daemon":       optional,
		"request":      optional,
	},
	"talk/wire": {
		"href":        exactly,
		"github-seen": optional,
	},
	"talk/shell": {
		"host":  exactly,
		"port":  exactly,
		"login": exactly,
		"key":   exactly,
	},
	"talk/daemon": {
		"title":   optional,
		"script":  exactly,
		"dir":     optional,
		"started": optional,
		"ended":   optional,
		"code":    optional,
		"tail":    optional,
	},
	"talk/request": {
		"type":   exactly,
		"author": optional,
		"args":   optional,
	},
}

// Validate checks a document against the talk schema.
func Validate(doc *Doc) error {
	root := doc.root
	if root == nil || root.Name != "talk" {
		return fmt.Errorf("%w: root element must be <talk>", ErrValidation)
	}
	if name, _ := root.Attr("name"); name == "" {
		return fmt.Errorf("%w: talk has no name", ErrValidation)
	}
	if later, ok := root.Attr("later"); ok && later != "true" && later != "false" {
		return fmt.Errorf("%w: invalid later=%q", ErrValidation, later)
	}
	if err := validateNode(root, "talk"); err != nil {
		return err
	}
	if d := root.Child("daemon"); d != nil {
		if d.Has("ended") && !d.Has("started") {
			return fmt.Errorf("%w: daemon ended without being started", ErrValidation)
		}
		if d.Has("code") {
			if !d.Has("ended") {
				return fmt.Errorf("%w: daemon has exit code but no end time", ErrValidation)
			}
			if _, err := strconv.Atoi(d.ChildText("code")); err != nil {
				return fmt.Errorf("%w: daemon exit code %q is not a number", ErrValidation, d.ChildText("code"))
			}
		}
	}
	if r := root.Child("request"); r != nil {
		if args := r.Child("args"); args != nil {
			seen := make(map[string]bool)
			for _, arg := range args.ChildrenNamed("arg") {
				name, _ := arg.Attr("name")
				if name == "" {
					return fmt.Errorf("%w: request argument without a name", ErrValidation)
				}
				if seen[name] {
					return fmt.Errorf("%w: duplicate request argument %q", ErrValidation, name)
				}
				seen[name] = true
			}
		}
	}
	return nil
}

func validateNode(n *Node, path string) error {
	if n.Name == "" {
		return fmt.Errorf("%w: unnamed element under /%s", ErrValidation, path)
	}
	// the indenting encoder cannot round-trip text next to child elements
	if n.Text != "" && len(n.Children) > 0 {
		return fmt.Errorf("%w: /%s mixes text with child elements", ErrValidation, path)
	}
	if rules, ok := schema[path]; ok {
		counts := make(map[string]int, len(n.Children))
		for _, c := range n.Children {
			counts[c.Name]++
		}
		for child, rule := range rules {
			if counts[child] < rule.min || counts[child] > rule.max {
				return fmt.Errorf("%w: /%s/%s occurs %d time(s), allowed %d..%d",
					ErrValidation, path, child, counts[child], rule.min, rule.max)
			}
		}
	}
	for _, c := range n.Children {
		if err := validateNode(c, path+"/"+c.Name); err != nil {
			return err
		}
	}
	return nil
}

// Shell describes the SSH endpoint a talk's daemon runs on.
type Shell struct {
	ID    string
	Host  string
	Port  int
	Login string
	Key   string
}

// Daemon is the remote build process declared for a talk.
type Daemon struct {
	ID      string
	Title   string
	Script  string
	Dir     string
	Started string
	Ended   string
	Code    int
	Tail    string
}

// IsStarted reports whether the daemon has been launched.
func (d Daemon) IsStarted() bool { return d.Started != "" }

// IsEnded reports whether the daemon has a recorded outcome.
func (d Daemon) IsEnded() bool { return d.Ended != "" }

// Arg is a named request argument.
type Arg struct {
	Name  string
	Value string
}

// Request is the pending command of a talk.
type Request struct {
	ID     string
	Type   string
	Author string
	Args   []Arg
}

// Arg returns the value of a named argument.
func (r Request) Arg(name string) (string, bool) {
	for _, a := range r.Args {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// Name returns the talk name.
func (d *Doc) Name() string {
	v, _ := d.root.Attr("name")
	return v
}

// Number returns the talk number.
func (d *Doc) Number() int64 {
	v, _ := d.root.Attr("number")
	n, _ := strconv.ParseInt(v, 10, 64)
	return n
}

// Later reports whether the talk is waiting to be confirmed.
func (d *Doc) Later() bool {
	v, _ := d.root.Attr("later")
	return v == "true"
}

// Wire returns the href of the conversation that owns the talk.
func (d *Doc) Wire() string {
	if w := d.root.Child("wire"); w != nil {
		return w.ChildText("href")
	}
	return ""
}

// Seen returns the id of the last GitHub comment already read.
func (d *Doc) Seen() int64 {
	if w := d.root.Child("wire"); w != nil {
		n, _ := strconv.ParseInt(w.ChildText("github-seen"), 10, 64)
		return n
	}
	return 0
}

// Repo returns the GitHub repository coordinates, "owner/repo".
func (d *Doc) Repo() string {
	return d.root.ChildText("github-repo")
}

// Issue returns the GitHub issue number, or zero.
func (d *Doc) Issue() int {
	n, _ := strconv.Atoi(d.root.ChildText("github-issue"))
	return n
}

// Shell returns the shell definition, if any.
func (d *Doc) Shell() (Shell, bool) {
	n := d.root.Child("shell")
	if n == nil {
		return Shell{}, false
	}
	port, _ := strconv.Atoi(n.ChildText("port"))
	id, _ := n.Attr("id")
	return Shell{
		ID:    id,
		Host:  n.ChildText("host"),
		Port:  port,
		Login: n.ChildText("login"),
		Key:   n.ChildText("key"),
	}, true
}

// Daemon returns the daemon definition, if any.
func (d *Doc) Daemon() (Daemon, bool) {
	n := d.root.Child("daemon")
	if n == nil {
		return Daemon{}, false
	}
	id, _ := n.Attr("id")
	code, _ := strconv.Atoi(n.ChildText("code"))
	return Daemon{
		ID:      id,
		Title:   n.ChildText("title"),
		Script:  n.ChildText("script"),
		Dir:     n.ChildText("dir"),
		Started: n.ChildText("started"),
		Ended:   n.ChildText("ended"),
		Code:    code,
		Tail:    n.ChildText("tail"),
	}, true
}

// HasDaemonDir reports whether a daemon workspace directory is recorded.
func (d *Doc) HasDaemonDir() bool {
	n := d.root.Child("daemon")
	return n != nil && n.Has("dir")
}

// Request returns the pending request, if any.
func (d *Doc) Request() (Request, bool) {
	n := d.root.Child("request")
	if n == nil {
		return Request{}, false
	}
	id, _ := n.Attr("id")
	req := Request{
		ID:     id,
		Type:   n.ChildText("type"),
		Author: n.ChildText("author"),
	}
	if args := n.Child("args"); args != nil {
		for _, arg := range args.ChildrenNamed("arg") {
			name, _ := arg.Attr("name")
			req.Args = append(req.Args, Arg{Name: name, Value: arg.Text})
		}
	}
	return req, true
}

// ISO formats a time the way talk documents store it.
func ISO(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// ParseISO reads a time written by ISO.
func ParseISO(s string) (time.Time, error) {
	return time.Parse("2006-01-02T15:04:05Z", s)
}
