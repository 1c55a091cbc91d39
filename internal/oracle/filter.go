package oracle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/alanyoungcy/predictx/internal/domain"
)

// step is one segment of a parsed filter path.
type step struct {
	name     string
	index    int
	isIndex  bool
	wildcard bool
}

// ApplyFilter evaluates a $-rooted JSON path over doc and returns the matches
// as a JSON array. Supported segments: .name, ['name'], [n], .* and [*].
// An empty filter returns doc unchanged.
func ApplyFilter(doc []byte, filter string) ([]byte, error) {
	if filter == "" {
		return doc, nil
	}
	steps, err := parseFilter(filter)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("oracle: filter: %w: body is not JSON", domain.ErrInvalidFormat)
	}

	matches := []any{root}
	for _, st := range steps {
		var next []any
		for _, m := range matches {
			next = append(next, st.apply(m)...)
		}
		matches = next
	}
	if matches == nil {
		matches = []any{}
	}
	return json.Marshal(matches)
}

func (st step) apply(v any) []any {
	switch node := v.(type) {
	case map[string]any:
		if st.wildcard {
			keys := make([]string, 0, len(node))
			for k := range node {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			out := make([]any, 0, len(keys))
			for _, k := range keys {
				out = append(out, node[k])
			}
			return out
		}
		if st.isIndex {
			return nil
		}
		if child, ok := node[st.name]; ok {
			return []any{child}
		}
	case []any:
		if st.wildcard {
			return append([]any(nil), node...)
		}
		if !st.isIndex {
			return nil
		}
		i := st.index
		if i < 0 {
			i += len(node)
		}
		if i >= 0 && i < len(node) {
			return []any{node[i]}
		}
	}
	return nil
}

func parseFilter(filter string) ([]step, error) {
	bad := func(reason string) error {
		return fmt.Errorf("oracle: filter %q: %w: %s", filter, domain.ErrInvalidFormat, reason)
	}
	if !strings.HasPrefix(filter, "$") {
		return nil, bad("must start with $")
	}

	var steps []step
	rest := filter[1:]
	for len(rest) > 0 {
		switch rest[0] {
		case '.':
			rest = rest[1:]
			end := strings.IndexAny(rest, ".[")
			if end < 0 {
				end = len(rest)
			}
			name := rest[:end]
			if name == "" {
				return nil, bad("empty member name")
			}
			if name == "*" {
				steps = append(steps, step{wildcard: true})
			} else {
				steps = append(steps, step{name: name})
			}
			rest = rest[end:]
		case '[':
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return nil, bad("unterminated [")
			}
			inner := rest[1:end]
			rest = rest[end+1:]
			switch {
			case inner == "*":
				steps = append(steps, step{wildcard: true})
			case len(inner) >= 2 && (inner[0] == '\'' || inner[0] == '"') && inner[len(inner)-1] == inner[0]:
				steps = append(steps, step{name: inner[1 : len(inner)-1]})
			default:
				n, err := strconv.Atoi(inner)
				if err != nil {
					return nil, bad("invalid index " + inner)
				}
				steps = append(steps, step{index: n, isIndex: true})
			}
		default:
			return nil, bad("unexpected " + string(rest[0]))
		}
	}
	return steps, nil
}
