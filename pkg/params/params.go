// Package params implements elastix-style transform parameter maps: the
// ordered key/value descriptions of a geometric transform that the
// registration engine produces and the transform engine consumes.
package params

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// The interpolation-order key shared by all resample interpolators.
// Setting it to 0 selects nearest-neighbour interpolation.
const interpolationOrderKey = "FinalBSplineInterpolationOrder"

type entry struct {
	key    string
	values []string
}

// Map is a single transform parameter map: ordered (key, values) pairs
// with deterministic text serialization. Order is preserved so that a
// loaded file writes back byte-identically.
type Map struct {
	entries []entry
	index   map[string]int
}

// NewMap returns an empty parameter map.
func NewMap() *Map {
	return &Map{index: make(map[string]int)}
}

// Set replaces the values for key, appending the key if it is new.
func (m *Map) Set(key string, values ...string) {
	if i, ok := m.index[key]; ok {
		m.entries[i].values = values
		return
	}
	m.index[key] = len(m.entries)
	m.entries = append(m.entries, entry{key: key, values: values})
}

// Get returns the values for key, or nil if absent.
func (m *Map) Get(key string) []string {
	if i, ok := m.index[key]; ok {
		return m.entries[i].values
	}
	return nil
}

// GetOne returns the single value for key, or "" if absent.
func (m *Map) GetOne(key string) string {
	v := m.Get(key)
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

// Keys returns the keys in serialization order.
func (m *Map) Keys() []string {
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.key
	}
	return out
}

// Clone returns a deep copy of the map.
func (m *Map) Clone() *Map {
	out := NewMap()
	for _, e := range m.entries {
		vals := make([]string, len(e.values))
		copy(vals, e.values)
		out.Set(e.key, vals...)
	}
	return out
}

// Write renders the map in elastix text form, one
// "(Key value ...)" entry per line. Numeric values are written bare,
// everything else double-quoted.
func (m *Map) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, e := range m.entries {
		if _, err := bw.WriteString("(" + e.key); err != nil {
			return err
		}
		for _, v := range e.values {
			if _, err := bw.WriteString(" " + formatValue(v)); err != nil {
				return err
			}
		}
		if _, err := bw.WriteString(")\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteFile writes the map to path.
func (m *Map) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := m.Write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func formatValue(v string) string {
	if _, err := strconv.ParseFloat(v, 64); err == nil {
		return v
	}
	return `"` + v + `"`
}

// Read parses elastix parameter-map text. Blank lines and lines starting
// with "//" are skipped.
func Read(r io.Reader) (*Map, error) {
	m := NewMap()
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		if !strings.HasPrefix(line, "(") || !strings.HasSuffix(line, ")") {
			return nil, fmt.Errorf("parameter map line %d: not a parenthesised entry: %q", lineNo, line)
		}
		key, values, err := parseEntry(line[1 : len(line)-1])
		if err != nil {
			return nil, fmt.Errorf("parameter map line %d: %w", lineNo, err)
		}
		m.Set(key, values...)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

// ReadFile loads a parameter map from path.
func ReadFile(path string) (*Map, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func parseEntry(body string) (string, []string, error) {
	fields, err := splitFields(body)
	if err != nil {
		return "", nil, err
	}
	if len(fields) == 0 {
		return "", nil, fmt.Errorf("empty entry")
	}
	return fields[0], fields[1:], nil
}

// splitFields splits on whitespace, honouring double quotes.
func splitFields(s string) ([]string, error) {
	var fields []string
	i := 0
	for i < len(s) {
		switch {
		case s[i] == ' ' || s[i] == '\t':
			i++
		case s[i] == '"':
			end := strings.IndexByte(s[i+1:], '"')
			if end < 0 {
				return nil, fmt.Errorf("unterminated quote")
			}
			fields = append(fields, s[i+1:i+1+end])
			i += end + 2
		default:
			end := strings.IndexAny(s[i:], " \t")
			if end < 0 {
				fields = append(fields, s[i:])
				i = len(s)
			} else {
				fields = append(fields, s[i:i+end])
				i += end
			}
		}
	}
	return fields, nil
}

// Set is an ordered list of parameter maps applied as one chained
// transform. Once computed for an edge the set is immutable; the
// serialized files on disk are the authoritative record of it.
type Set []*Map

// Clone deep-copies the whole set.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for i, m := range s {
		out[i] = m.Clone()
	}
	return out
}

// NearestNeighbour derives the annotation variant of the set: a deep copy
// with every map's final interpolation order forced to 0 so that discrete
// label volumes are transformed without inventing intermediate values.
// The receiver is left unmodified.
func (s Set) NearestNeighbour() Set {
	if s == nil {
		return nil
	}
	out := s.Clone()
	for _, m := range out {
		m.Set(interpolationOrderKey, "0")
	}
	return out
}

// InterpolationOrder returns the final interpolation order of map i,
// defaulting to 3 when the key is absent.
func (s Set) InterpolationOrder(i int) int {
	v := s[i].GetOne(interpolationOrderKey)
	if v == "" {
		return 3
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 3
	}
	return n
}
