// Package schema implements the per-table index grammar and key-path
// parser. A schema is declared as a primary-key
// descriptor plus a comma-separated list of secondary descriptors, each
// written in a tiny sigil grammar (`++id`, `id`, `&email`, `*tags`,
// `[a+b]`, `&*tags`). This generalizes the teacher's pkg/storage.Index
// (a flat struct with an explicit Name/Primary/Type field, declared
// programmatically in Go) into something parsed from a single string per
// table, matching how the original system (see original_source/) lets
// callers declare stores with one line each.
package schema

import (
	"strings"

	"github.com/relcore/db/pkg/errors"
	"github.com/relcore/db/pkg/key"
	"github.com/relcore/db/pkg/rowcodec"
)

// KeyPath is a parsed field path, one identifier per path segment
// ("a.b.c" -> ["a","b","c"]).
type KeyPath []string

// String renders the path back in dot notation.
func (p KeyPath) String() string { return strings.Join(p, ".") }

// Extract walks obj along the path and returns the leaf Value. ok is
// false if any segment is absent or not addressable (e.g. indexing into
// a non-map).
func (p KeyPath) Extract(obj rowcodec.Value) (rowcodec.Value, bool) {
	cur := obj
	for _, seg := range p {
		next, ok := cur.Field(seg)
		if !ok {
			return rowcodec.Value{}, false
		}
		cur = next
	}
	return cur, true
}

// Index describes one index declared on a table: either the table's
// primary key (Primary == true) or a secondary index.
type Index struct {
	// Name is the canonical name used in where() lookups: the dot-joined
	// compound path, e.g. "email" or "a+b" for a compound index.
	Name string
	// Paths holds one entry for a simple index, two or more for a
	// compound index.
	Paths         []KeyPath
	Primary       bool
	Unique        bool
	MultiEntry    bool
	AutoIncrement bool
	// Intrinsic is true when the primary key is stored inside the row
	// object itself (declared via "++id" or "id"); false means the key is
	// supplied externally on insert (declared via the empty string).
	Intrinsic bool
}

// Compound reports whether the index spans more than one key path.
func (ix Index) Compound() bool { return len(ix.Paths) > 1 }

// ExtractKey extracts this index's key from obj for a non-multi-entry
// index: a single path yields a scalar key.Key, a compound index yields a
// key.List of one key per path. ok is false if any path is absent or its
// leaf value is not key-representable — the row then simply
// contributes no entry under this index, rather than failing the write.
func (ix Index) ExtractKey(obj rowcodec.Value) (key.Key, bool) {
	if ix.MultiEntry {
		return nil, false
	}
	if !ix.Compound() {
		leaf, ok := ix.Paths[0].Extract(obj)
		if !ok {
			return nil, false
		}
		return leaf.ToKey()
	}
	parts := make(key.List, 0, len(ix.Paths))
	for _, p := range ix.Paths {
		leaf, ok := p.Extract(obj)
		if !ok {
			return nil, false
		}
		k, ok := leaf.ToKey()
		if !ok {
			return nil, false
		}
		parts = append(parts, k)
	}
	return parts, true
}

// ExtractMultiEntry extracts the sequence of keys a multi-entry index
// produces for obj: the leaf value at the (single, non-compound) path
// must be a list, and each key-representable element contributes one
// entry. Nested arrays are flattened one level: a list of lists
// contributes the inner lists as List keys, while a list of scalars
// contributes each scalar.
func (ix Index) ExtractMultiEntry(obj rowcodec.Value) ([]key.Key, bool) {
	if !ix.MultiEntry {
		return nil, false
	}
	leaf, ok := ix.Paths[0].Extract(obj)
	if !ok {
		return nil, false
	}
	items, ok := leaf.AsList()
	if !ok {
		return nil, false
	}
	out := make([]key.Key, 0, len(items))
	for _, item := range items {
		k, ok := item.ToKey()
		if !ok {
			continue
		}
		out = append(out, k)
	}
	return out, true
}

// Schema is the fully parsed declaration for one table.
type Schema struct {
	Table      string
	Primary    Index
	Secondary  []Index
}

// IndexByName looks up a secondary index (or the primary, via the
// sentinel name "") by name.
func (s Schema) IndexByName(name string) (Index, bool) {
	if name == "" || name == s.Primary.Name {
		return s.Primary, true
	}
	for _, ix := range s.Secondary {
		if ix.Name == name {
			return ix, true
		}
	}
	return Index{}, false
}

// Parse parses a full per-table schema string: the primary-key
// declaration, then a comma-separated list of secondary descriptors,
// e.g. "++id, &email, *tags, [a+b]".
func Parse(table, decl string) (Schema, error) {
	parts := splitTop(decl, ',')
	if len(parts) == 0 {
		return Schema{}, &errors.SchemaError{Table: table, Detail: "empty schema declaration"}
	}

	primary, err := parsePrimary(table, strings.TrimSpace(parts[0]))
	if err != nil {
		return Schema{}, err
	}

	secondary := make([]Index, 0, len(parts)-1)
	for _, raw := range parts[1:] {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		ix, err := parseSecondary(table, raw)
		if err != nil {
			return Schema{}, err
		}
		secondary = append(secondary, ix)
	}

	return Schema{Table: table, Primary: primary, Secondary: secondary}, nil
}

func parsePrimary(table, raw string) (Index, error) {
	switch {
	case raw == "":
		return Index{Name: "", Primary: true, Intrinsic: false}, nil
	case strings.HasPrefix(raw, "++"):
		body := raw[2:]
		paths, err := parsePathList(table, body)
		if err != nil {
			return Index{}, err
		}
		if len(paths) != 1 {
			return Index{}, &errors.SchemaError{Table: table, Detail: "auto-increment primary key must not be compound: " + raw}
		}
		return Index{Name: paths[0].String(), Paths: paths, Primary: true, Intrinsic: true, AutoIncrement: true}, nil
	default:
		paths, err := parsePathList(table, raw)
		if err != nil {
			return Index{}, err
		}
		return Index{Name: joinPaths(paths), Paths: paths, Primary: true, Intrinsic: true}, nil
	}
}

func parseSecondary(table, raw string) (Index, error) {
	if strings.HasPrefix(raw, "++") {
		return Index{}, &errors.SchemaError{Table: table, Detail: "'++' is only valid on the primary key: " + raw}
	}

	unique := false
	multi := false
	body := raw
	for {
		switch {
		case strings.HasPrefix(body, "&*"):
			unique, multi = true, true
			body = body[2:]
		case strings.HasPrefix(body, "*&"):
			unique, multi = true, true
			body = body[2:]
		case strings.HasPrefix(body, "&"):
			unique = true
			body = body[1:]
		case strings.HasPrefix(body, "*"):
			multi = true
			body = body[1:]
		default:
			goto parsed
		}
	}
parsed:
	paths, err := parsePathList(table, body)
	if err != nil {
		return Index{}, err
	}
	if multi && len(paths) > 1 {
		return Index{}, &errors.SchemaError{Table: table, Detail: "multi-entry index cannot be compound: " + raw}
	}
	return Index{
		Name:       joinPaths(paths),
		Paths:      paths,
		Unique:     unique,
		MultiEntry: multi,
	}, nil
}

// parsePathList parses either a single key path or a bracketed compound
// list "[p1+p2+...]".
func parsePathList(table, body string) ([]KeyPath, error) {
	if strings.HasPrefix(body, "[") {
		if !strings.HasSuffix(body, "]") {
			return nil, &errors.SchemaError{Table: table, Detail: "unterminated compound index: " + body}
		}
		inner := body[1 : len(body)-1]
		segs := strings.Split(inner, "+")
		if len(segs) < 2 {
			return nil, &errors.SchemaError{Table: table, Detail: "compound index requires at least two paths: " + body}
		}
		paths := make([]KeyPath, 0, len(segs))
		for _, s := range segs {
			p, err := parsePath(table, strings.TrimSpace(s))
			if err != nil {
				return nil, err
			}
			paths = append(paths, p)
		}
		return paths, nil
	}
	p, err := parsePath(table, body)
	if err != nil {
		return nil, err
	}
	return []KeyPath{p}, nil
}

func parsePath(table, s string) (KeyPath, error) {
	if s == "" {
		return nil, &errors.SchemaError{Table: table, Detail: "empty key path"}
	}
	segs := strings.Split(s, ".")
	for _, seg := range segs {
		if !isIdent(seg) {
			return nil, &errors.SchemaError{Table: table, Detail: "invalid identifier in key path: " + s}
		}
	}
	return KeyPath(segs), nil
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		isAlpha := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_'
		isDigit := r >= '0' && r <= '9'
		if i == 0 {
			if !isAlpha {
				return false
			}
			continue
		}
		if !isAlpha && !isDigit {
			return false
		}
	}
	return true
}

func joinPaths(paths []KeyPath) string {
	if len(paths) == 1 {
		return paths[0].String()
	}
	parts := make([]string, len(paths))
	for i, p := range paths {
		parts[i] = p.String()
	}
	return strings.Join(parts, "+")
}

// splitTop splits on sep at top level only, ignoring sep characters
// found inside [...] brackets, so "[a+b], &c" splits on the comma after
// the closing bracket, not inside it.
func splitTop(s string, sep byte) []string {
	var out []string
	depth := 0
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '[':
			depth++
		case ']':
			if depth > 0 {
				depth--
			}
		case sep:
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}
