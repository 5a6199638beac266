// Package pds3 reads PDS3 labels and turns them into catalog
// observations.
package pds3

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Value is a label value. Quoted strings lose their quotes; sequences
// such as ("FILE.FIT", 5) are split into Items; a trailing <UNIT> is
// kept separately.
type Value struct {
	Raw   string
	Items []string
	Unit  string
}

func (v Value) String() string {
	if len(v.Items) > 0 {
		return v.Items[0]
	}
	return v.Raw
}

func (v Value) Float() (float64, error) {
	return strconv.ParseFloat(v.String(), 64)
}

// Label is a flattened PDS3 label. Keys inside OBJECT blocks are
// stored under "OBJECT.KEY" as well as their bare name, unless the
// bare name was already set at an outer level.
type Label struct {
	values map[string]Value
	order  []string
}

func (l *Label) Get(key string) (Value, bool) {
	v, ok := l.values[key]
	return v, ok
}

// String returns the value of key, or "" when it is absent.
func (l *Label) String(key string) string {
	v, ok := l.values[key]
	if !ok {
		return ""
	}
	return v.String()
}

func (l *Label) Keys() []string {
	return append([]string(nil), l.order...)
}

// IsLabel reports whether the file looks like a PDS3 label: within
// the first 100 lines there is PDS_VERSION_ID = PDS3.
func IsLabel(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for n := 0; n < 100 && s.Scan(); n++ {
		line := strings.Replace(strings.TrimSpace(s.Text()), " ", "", -1)
		if line == "PDS_VERSION_ID=PDS3" {
			return true
		}
	}
	return false
}

func ReadFile(path string) (*Label, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	l, err := Parse(f)
	return l, errors.Wrapf(err, "reading label %s", path)
}

// Parse reads statements up to END. Values may continue over several
// lines while a quote or bracket is open.
func Parse(r io.Reader) (*Label, error) {
	l := &Label{values: map[string]Value{}}
	var objects []string
	var pending string
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), 1024*1024)
	lineno := 0
	for s.Scan() {
		lineno++
		line := stripComment(strings.TrimRight(s.Text(), "\r\n"))
		if pending != "" {
			pending += "\n" + line
			if !balanced(pending) {
				continue
			}
			line, pending = pending, ""
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if trimmed == "END" {
			return l, nil
		}
		eq := strings.IndexByte(trimmed, '=')
		if eq < 0 {
			return nil, errors.Errorf("line %d: expected KEY = VALUE", lineno)
		}
		if !balanced(trimmed) {
			pending = line
			continue
		}
		key := strings.TrimSpace(trimmed[:eq])
		raw := strings.TrimSpace(trimmed[eq+1:])
		switch key {
		case "OBJECT", "GROUP":
			objects = append(objects, unquote(raw))
			continue
		case "END_OBJECT", "END_GROUP":
			if len(objects) == 0 {
				return nil, errors.Errorf("line %d: %s without OBJECT", lineno, key)
			}
			objects = objects[:len(objects)-1]
			continue
		}
		v := parseValue(raw)
		if len(objects) > 0 {
			l.set(strings.Join(objects, ".")+"."+key, v)
			if _, ok := l.values[key]; ok {
				continue
			}
		}
		l.set(key, v)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	if pending != "" {
		return nil, errors.New("unterminated value at end of label")
	}
	return l, nil
}

func (l *Label) set(key string, v Value) {
	if _, ok := l.values[key]; !ok {
		l.order = append(l.order, key)
	}
	l.values[key] = v
}

func parseValue(raw string) Value {
	v := Value{Raw: raw}
	if i := strings.LastIndexByte(raw, '<'); i >= 0 && strings.HasSuffix(raw, ">") && !strings.HasPrefix(raw, "\"") {
		v.Unit = strings.TrimSpace(raw[i+1 : len(raw)-1])
		raw = strings.TrimSpace(raw[:i])
	}
	if len(raw) >= 2 && (raw[0] == '(' || raw[0] == '{') {
		for _, item := range splitItems(raw[1 : len(raw)-1]) {
			v.Items = append(v.Items, unquote(item))
		}
		v.Raw = raw
		return v
	}
	v.Raw = unquote(raw)
	return v
}

func splitItems(s string) []string {
	var items []string
	var cur strings.Builder
	inQuote := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
			cur.WriteRune(r)
		case r == ',' && !inQuote:
			items = append(items, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if last := strings.TrimSpace(cur.String()); last != "" || len(items) > 0 {
		items = append(items, last)
	}
	return items
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '"' && s[len(s)-1] == '"' || s[0] == '\'' && s[len(s)-1] == '\'') {
		s = s[1 : len(s)-1]
	}
	return strings.TrimSpace(s)
}

func stripComment(line string) string {
	inQuote := false
	for i := 0; i < len(line)-1; i++ {
		switch {
		case line[i] == '"':
			inQuote = !inQuote
		case !inQuote && line[i] == '/' && line[i+1] == '*':
			if end := strings.Index(line[i+2:], "*/"); end >= 0 {
				return line[:i] + stripComment(line[i+2+end+2:])
			}
			return line[:i]
		}
	}
	return line
}

func balanced(s string) bool {
	depth := 0
	inQuote := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuote = !inQuote
		case inQuote:
		case r == '(' || r == '{':
			depth++
		case r == ')' || r == '}':
			depth--
		}
	}
	return !inQuote && depth <= 0
}
