// Package profile reads the build configuration a repository keeps in its
// .conductor.yml file.
//
// A profile is a read-only YAML document plus a set of named assets (files
// copied next to the build script). Every top-level key is a section; a
// section is either a text blob, a list of items or a mapping of entries.
package profile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileName is where a repository keeps its profile.
const FileName = ".conductor.yml"

// ConfigError reports a malformed profile. Agents turn it into a visible
// build failure instead of skipping the work.
type ConfigError struct {
	Msg string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IsConfigError reports whether err is, or wraps, a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Profile is the configuration of one talk.
type Profile interface {
	Read() (*Doc, error)
	Assets(ctx context.Context) (map[string]io.Reader, error)
}

// Files fetches raw file contents from a repository.
type Files interface {
	Content(ctx context.Context, repo, path string) ([]byte, error)
}

// YAML is a profile parsed from .conductor.yml contents.
type YAML struct {
	raw   []byte
	files Files
}

// NewYAML creates a profile from raw YAML. Files resolves assets and may be
// nil when the profile declares none.
func NewYAML(raw []byte, files Files) *YAML {
	return &YAML{raw: raw, files: files}
}

// Empty returns a profile with no sections.
func Empty() *YAML {
	return NewYAML(nil, nil)
}

// Read implements Profile.
func (y *YAML) Read() (*Doc, error) {
	return Parse(y.raw)
}

// Assets implements Profile. Each entry of the "assets" section maps a file
// name to "owner/repo#path".
func (y *YAML) Assets(ctx context.Context) (map[string]io.Reader, error) {
	doc, err := y.Read()
	if err != nil {
		return nil, err
	}
	sec, ok := doc.Section("assets")
	if !ok {
		return map[string]io.Reader{}, nil
	}
	entries, err := sec.Entries()
	if err != nil {
		return nil, &ConfigError{Msg: "assets must be a mapping of file names to sources", Err: err}
	}
	assets := make(map[string]io.Reader, len(entries))
	for _, e := range entries {
		repo, path, ok := strings.Cut(e.Value, "#")
		if !ok || repo == "" || path == "" || strings.Count(repo, "/") != 1 {
			return nil, &ConfigError{Msg: fmt.Sprintf("asset %q must look like owner/repo#path, got %q", e.Key, e.Value)}
		}
		if strings.Contains(e.Key, "/") {
			return nil, &ConfigError{Msg: fmt.Sprintf("asset name %q must not contain a slash", e.Key)}
		}
		if y.files == nil {
			return nil, &ConfigError{Msg: fmt.Sprintf("asset %q cannot be fetched", e.Key)}
		}
		data, err := y.files.Content(ctx, repo, path)
		if err != nil {
			return nil, &ConfigError{Msg: fmt.Sprintf("failed to fetch asset %q from %s", e.Key, e.Value), Err: err}
		}
		assets[e.Key] = bytes.NewReader(data)
	}
	return assets, nil
}

// AssetNames returns asset names in a stable order.
func AssetNames(assets map[string]io.Reader) []string {
	names := make([]string, 0, len(assets))
	for name := range assets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Fetch loads the profile of a repository. A repository without a profile
// gets an empty one.
func Fetch(ctx context.Context, files Files, repo string) (*YAML, error) {
	raw, err := files.Content(ctx, repo, FileName)
	if err != nil {
		if errors.Is(err, ErrNoFile) {
			return NewYAML(nil, files), nil
		}
		return nil, fmt.Errorf("failed to fetch %s of %s: %w", FileName, repo, err)
	}
	return NewYAML(raw, files), nil
}

// ErrNoFile is what Files implementations return for a missing file.
var ErrNoFile = errors.New("file not found")

// Doc is a parsed profile, or a subtree of one.
type Doc struct {
	node *yaml.Node
}

// Parse parses profile YAML. Empty input yields an empty document.
func Parse(raw []byte) (*Doc, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return &Doc{node: &yaml.Node{Kind: yaml.MappingNode}}, nil
	}
	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return nil, &ConfigError{Msg: "failed to parse " + FileName, Err: err}
	}
	node := &root
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		node = node.Content[0]
	}
	if node.Kind != yaml.MappingNode {
		return nil, &ConfigError{Msg: FileName + " must be a mapping"}
	}
	return &Doc{node: node}, nil
}

func (d *Doc) lookup(path string) *yaml.Node {
	node := d.node
	for _, key := range strings.Split(strings.Trim(path, "/"), "/") {
		if key == "" {
			continue
		}
		if node.Kind != yaml.MappingNode {
			return nil
		}
		var next *yaml.Node
		for i := 0; i+1 < len(node.Content); i += 2 {
			if node.Content[i].Value == key {
				next = node.Content[i+1]
				break
			}
		}
		if next == nil {
			return nil
		}
		node = next
	}
	return node
}

// Has reports whether a section exists at path, e.g. "merge/script".
func (d *Doc) Has(path string) bool {
	return d.lookup(path) != nil
}

// Sub returns the subtree at path.
func (d *Doc) Sub(path string) (*Doc, bool) {
	n := d.lookup(path)
	if n == nil {
		return nil, false
	}
	return &Doc{node: n}, true
}

// Section returns the section at path.
func (d *Doc) Section(path string) (*Section, bool) {
	n := d.lookup(path)
	if n == nil {
		return nil, false
	}
	return &Section{name: path, node: n}, true
}

// Strings returns a list of scalars at path. A single scalar counts as a
// one-element list; a missing path is an empty list.
func (d *Doc) Strings(path string) []string {
	sec, ok := d.Section(path)
	if !ok {
		return nil
	}
	items, err := sec.Items()
	if err != nil {
		return nil
	}
	return items
}

// String returns the scalar at path.
func (d *Doc) String(path string) string {
	n := d.lookup(path)
	if n == nil || n.Kind != yaml.ScalarNode {
		return ""
	}
	return n.Value
}

// Entry is one key/value pair of a mapping section.
type Entry struct {
	Key   string
	Value string
}

// Section is one configuration fragment.
type Section struct {
	name string
	node *yaml.Node
}

// IsText reports whether the section is a single (possibly multi-line)
// scalar.
func (s *Section) IsText() bool { return s.node.Kind == yaml.ScalarNode }

// IsList reports whether the section is a list of items.
func (s *Section) IsList() bool { return s.node.Kind == yaml.SequenceNode }

// IsMapping reports whether the section is a mapping of entries.
func (s *Section) IsMapping() bool { return s.node.Kind == yaml.MappingNode }

// Lines splits a text section into trimmed, non-empty lines.
func (s *Section) Lines() []string {
	if !s.IsText() {
		return nil
	}
	var lines []string
	for _, line := range strings.Split(s.node.Value, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// Items returns the items of a list section, or the text as one item.
func (s *Section) Items() ([]string, error) {
	switch s.node.Kind {
	case yaml.ScalarNode:
		if s.node.Value == "" {
			return nil, nil
		}
		return []string{s.node.Value}, nil
	case yaml.SequenceNode:
		items := make([]string, 0, len(s.node.Content))
		for _, c := range s.node.Content {
			if c.Kind != yaml.ScalarNode {
				return nil, &ConfigError{Msg: fmt.Sprintf("items of %q must be plain strings (line %d)", s.name, c.Line)}
			}
			items = append(items, strings.TrimSpace(c.Value))
		}
		return items, nil
	default:
		return nil, &ConfigError{Msg: fmt.Sprintf("%q must be a list (line %d)", s.name, s.node.Line)}
	}
}

// Entries returns the key/value pairs of a mapping section in file order.
func (s *Section) Entries() ([]Entry, error) {
	if s.node.Kind != yaml.MappingNode {
		return nil, &ConfigError{Msg: fmt.Sprintf("%q must be a mapping (line %d)", s.name, s.node.Line)}
	}
	entries := make([]Entry, 0, len(s.node.Content)/2)
	for i := 0; i+1 < len(s.node.Content); i += 2 {
		k, v := s.node.Content[i], s.node.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return nil, &ConfigError{Msg: fmt.Sprintf("%s/%s must be a plain value (line %d)", s.name, k.Value, v.Line)}
		}
		entries = append(entries, Entry{Key: k.Value, Value: v.Value})
	}
	return entries, nil
}
