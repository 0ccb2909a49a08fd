package filterql

import (
	"regexp"
	"strings"
)

// Row is the field set a compiled predicate is evaluated against — a
// document's scalar columns (id, uri, title, metadata.* entries).
type Row map[string]string

// Predicate is a compiled filter: true when row satisfies it.
type Predicate func(row Row) bool

// Compile turns a parsed AST into an evaluatable predicate over Row.
func Compile(expr Expr) Predicate {
	switch e := expr.(type) {
	case Logical:
		left := Compile(e.Left)
		right := Compile(e.Right)
		if e.Op == OpAnd {
			return func(row Row) bool { return left(row) && right(row) }
		}
		return func(row Row) bool { return left(row) || right(row) }
	case Comparison:
		return compileComparison(e)
	default:
		return func(Row) bool { return false }
	}
}

// Matches parses and compiles filter in one step, then evaluates it against
// row. Used by callers that don't need to reuse a compiled predicate across
// many rows.
func Matches(filter string, row Row) (bool, error) {
	expr, err := Parse(filter)
	if err != nil {
		return false, err
	}
	return Compile(expr)(row), nil
}

func compileComparison(c Comparison) Predicate {
	field := func(row Row) string {
		v := row[c.Column]
		if c.Lowercase {
			v = strings.ToLower(v)
		}
		return v
	}

	switch c.Op {
	case CompareEq:
		return func(row Row) bool { return field(row) == c.Value }
	case CompareNeq:
		return func(row Row) bool { return field(row) != c.Value }
	case CompareLike:
		re := likeToRegexp(c.Value)
		return func(row Row) bool { return re.MatchString(field(row)) }
	case CompareIn:
		set := make(map[string]struct{}, len(c.Values))
		for _, v := range c.Values {
			set[v] = struct{}{}
		}
		return func(row Row) bool {
			_, ok := set[field(row)]
			return ok
		}
	default:
		return func(Row) bool { return false }
	}
}

// likeToRegexp compiles a SQL LIKE pattern (% = any run, _ = any single
// char) to an anchored, case-sensitive regexp.
func likeToRegexp(pattern string) *regexp.Regexp {
	var sb strings.Builder
	sb.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	re, err := regexp.Compile(sb.String())
	if err != nil {
		// Unreachable: every input character is escaped or translated to a
		// fixed, valid regexp fragment.
		return regexp.MustCompile("^$")
	}
	return re
}
