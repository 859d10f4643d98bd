// Package corpus reads and rewrites the YAML test case corpus: recorded raw
// responses with the signal values they are expected to decode to.
package corpus

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"example.com/signalgate/internal/canframe"
	"example.com/signalgate/internal/decode"
)

// YearGroup holds the test case files of one model year directory.
type YearGroup struct {
	Year  int
	Files []string
}

// FindFiles collects *.yaml and *.yml files below the numeric year
// directories of root. A non-empty years list restricts the result to
// those years. Groups and files are sorted.
func FindFiles(root string, years []int) ([]YearGroup, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	want := make(map[int]bool, len(years))
	for _, y := range years {
		want[y] = true
	}
	var groups []YearGroup
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		year, err := strconv.Atoi(e.Name())
		if err != nil || year <= 0 {
			continue
		}
		if len(want) > 0 && !want[year] {
			continue
		}
		var files []string
		dir := filepath.Join(root, e.Name())
		err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			switch strings.ToLower(filepath.Ext(path)) {
			case ".yaml", ".yml":
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		if len(files) == 0 {
			continue
		}
		sort.Strings(files)
		groups = append(groups, YearGroup{Year: year, Files: files})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Year < groups[j].Year })
	return groups, nil
}

// File is one parsed test case file. It keeps the YAML node tree so a
// rewrite preserves comments, key order and scalar styles.
type File struct {
	Path        string
	Year        int
	ModelYear   int
	Signalset   string
	CANIDFormat canframe.Format
	Cases       []*Case

	doc  *yaml.Node
	perm fs.FileMode
	size int64
}

// Case is one recorded response and its expected values.
type Case struct {
	Index     int
	Response  string
	Signalset string
	Expected  []*Expectation

	expected *yaml.Node
}

// Expectation is one signal's recorded value.
type Expectation struct {
	Signal string
	Value  decode.Value

	value *yaml.Node
}

var ErrFormat = errors.New("invalid test case file")

// FormatError locates a structural problem in a test case file.
type FormatError struct {
	Path string
	Line int
	Msg  string
}

func (e *FormatError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Msg)
}

func (e *FormatError) Is(target error) bool { return target == ErrFormat }

// LoadFile reads a test case file found under the given year directory.
func LoadFile(path string, year int) (*File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := Parse(data, path, year)
	if err != nil {
		return nil, err
	}
	f.perm = info.Mode().Perm()
	f.size = int64(len(data))
	return f, nil
}

// Parse decodes test case YAML. path is used for error messages only.
func Parse(data []byte, path string, year int) (*File, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &FormatError{Path: path, Msg: err.Error()}
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, &FormatError{Path: path, Msg: "top level must be a mapping"}
	}
	f := &File{Path: path, Year: year, ModelYear: year, doc: &doc, perm: 0o644}
	top := doc.Content[0]
	var cases *yaml.Node
	for i := 0; i+1 < len(top.Content); i += 2 {
		key, val := top.Content[i], top.Content[i+1]
		switch key.Value {
		case "model_year":
			if err := val.Decode(&f.ModelYear); err != nil {
				return nil, &FormatError{Path: path, Line: val.Line, Msg: "model_year must be an integer"}
			}
		case "signalset":
			f.Signalset = strings.TrimSpace(val.Value)
		case "can_id_format":
			format, err := canframe.ParseFormat(val.Value)
			if err != nil {
				return nil, &FormatError{Path: path, Line: val.Line, Msg: err.Error()}
			}
			f.CANIDFormat = format
		case "test_cases":
			cases = val
		}
	}
	if cases == nil {
		return nil, &FormatError{Path: path, Msg: "missing test_cases"}
	}
	if cases.Kind != yaml.SequenceNode {
		return nil, &FormatError{Path: path, Line: cases.Line, Msg: "test_cases must be a list"}
	}
	for i, node := range cases.Content {
		c, err := parseCase(path, i, node)
		if err != nil {
			return nil, err
		}
		f.Cases = append(f.Cases, c)
	}
	return f, nil
}

func parseCase(path string, index int, node *yaml.Node) (*Case, error) {
	if node.Kind != yaml.MappingNode {
		return nil, &FormatError{Path: path, Line: node.Line, Msg: fmt.Sprintf("test case %d must be a mapping", index)}
	}
	c := &Case{Index: index}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		switch key.Value {
		case "response":
			c.Response = strings.TrimSpace(val.Value)
		case "signalset":
			c.Signalset = strings.TrimSpace(val.Value)
		case "expected_values":
			if val.Kind != yaml.MappingNode {
				return nil, &FormatError{Path: path, Line: val.Line, Msg: fmt.Sprintf("test case %d: expected_values must be a mapping", index)}
			}
			c.expected = val
		}
	}
	if c.Response == "" {
		return nil, &FormatError{Path: path, Line: node.Line, Msg: fmt.Sprintf("test case %d: missing response", index)}
	}
	if c.expected == nil {
		return c, nil
	}
	for i := 0; i+1 < len(c.expected.Content); i += 2 {
		key, val := c.expected.Content[i], c.expected.Content[i+1]
		var raw any
		if err := val.Decode(&raw); err != nil {
			return nil, &FormatError{Path: path, Line: val.Line, Msg: err.Error()}
		}
		v, ok := decode.ValueOf(raw)
		if !ok {
			return nil, &FormatError{Path: path, Line: val.Line,
				Msg: fmt.Sprintf("test case %d: %s: expected a number, label or list of labels", index, key.Value)}
		}
		c.Expected = append(c.Expected, &Expectation{Signal: key.Value, Value: v, value: val})
	}
	return c, nil
}

// SignalsetFor returns the signalset file name the case decodes against.
func (f *File) SignalsetFor(c *Case) string {
	if c.Signalset != "" {
		return c.Signalset
	}
	return f.Signalset
}

// Expectations returns the recorded values as plain data keyed by signal.
func (c *Case) Expectations() map[string]any {
	out := make(map[string]any, len(c.Expected))
	for _, e := range c.Expected {
		out[e.Signal] = e.Value.Interface()
	}
	return out
}

// Set replaces the recorded value of e in the node tree. Comments on the
// old value are kept.
func (c *Case) Set(e *Expectation, v decode.Value) {
	node := valueNode(v, e.value)
	node.HeadComment = e.value.HeadComment
	node.LineComment = e.value.LineComment
	node.FootComment = e.value.FootComment
	*e.value = *node
	e.Value = v
}

// Remove deletes the expectation for signal. It reports whether one was
// present.
func (c *Case) Remove(signal string) bool {
	if c.expected == nil {
		return false
	}
	for i := 0; i+1 < len(c.expected.Content); i += 2 {
		if c.expected.Content[i].Value != signal {
			continue
		}
		c.expected.Content = append(c.expected.Content[:i], c.expected.Content[i+2:]...)
		for j, e := range c.Expected {
			if e.Signal == signal {
				c.Expected = append(c.Expected[:j], c.Expected[j+1:]...)
				break
			}
		}
		return true
	}
	return false
}

// valueNode renders v as a YAML node, keeping the float style of a
// previously recorded number and the flow style of a recorded list.
func valueNode(v decode.Value, prev *yaml.Node) *yaml.Node {
	switch v.Kind {
	case decode.KindLabel:
		n := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v.Label}
		if prev != nil && prev.Kind == yaml.ScalarNode {
			n.Style = prev.Style & (yaml.DoubleQuotedStyle | yaml.SingleQuotedStyle)
		}
		return n
	case decode.KindLabels:
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		if prev != nil && prev.Kind == yaml.SequenceNode {
			seq.Style = prev.Style & yaml.FlowStyle
		}
		for _, l := range v.Labels {
			seq.Content = append(seq.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: l})
		}
		return seq
	default:
		n := v.Number
		if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
			if prev != nil && prev.ShortTag() == "!!float" {
				return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: strconv.FormatFloat(n, 'f', 1, 64)}
			}
			return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatInt(int64(n), 10)}
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: strconv.FormatFloat(n, 'f', -1, 64)}
	}
}

// Encode renders the file from its node tree with two-space indentation.
func (f *File) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(f.doc); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
