// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

package audit

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/samber/oops"
)

// whereLexer tokenizes query expressions such as
//
//	type == "access.denied" && risk >= 40 && actor in ["u1", "u2"]
var whereLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "String", Pattern: `"[^"]*"`},
	{Name: "Int", Pattern: `\d+`},
	{Name: "Op", Pattern: `==|!=|>=|<=|&&|[<>]`},
	{Name: "Ident", Pattern: `[a-zA-Z_][\w.]*`},
	{Name: "Punct", Pattern: `[\[\],]`},
	{Name: "whitespace", Pattern: `\s+`},
})

// whereClause is a conjunction of comparisons.
type whereClause struct {
	Terms []*whereTerm `parser:"@@ ('&&' @@)*"`
}

type whereTerm struct {
	Pos   lexer.Position
	Field string          `parser:"@Ident"`
	Op    string          `parser:"( @('==' | '!=' | '>=' | '<=' | '>' | '<')"`
	Value *whereLiteral   `parser:"  @@"`
	In    []*whereLiteral `parser:"| 'in' '[' @@ (',' @@)* ']' )"`
}

type whereLiteral struct {
	Str  *string `parser:"  @String"`
	Int  *int    `parser:"| @Int"`
	Word *string `parser:"| @Ident"`
}

func (l *whereLiteral) text() string {
	switch {
	case l.Str != nil:
		return strings.Trim(*l.Str, `"`)
	case l.Int != nil:
		return strconv.Itoa(*l.Int)
	case l.Word != nil:
		return *l.Word
	}
	return ""
}

var whereParser = participle.MustBuild[whereClause](
	participle.Lexer(whereLexer),
	participle.Elide("whitespace"),
)

// Predicate reports whether an event matches a parsed expression.
type Predicate func(*Event) bool

type fieldKind int

const (
	kindString fieldKind = iota
	kindOrdinal
)

type fieldSpec struct {
	kind fieldKind
	get  func(*Event) string
	ord  func(*Event) int

	// parseOrd converts a literal into the ordinal space of the field.
	parseOrd func(string) (int, error)
}

var whereFields = map[string]fieldSpec{
	"type":        {kind: kindString, get: func(e *Event) string { return string(e.Type) }},
	"outcome":     {kind: kindString, get: func(e *Event) string { return string(e.Outcome) }},
	"actor":       {kind: kindString, get: func(e *Event) string { return e.Actor.ID }},
	"actor.type":  {kind: kindString, get: func(e *Event) string { return e.Actor.Type }},
	"target":      {kind: kindString, get: func(e *Event) string { return e.Target.ID }},
	"target.type": {kind: kindString, get: func(e *Event) string { return e.Target.Type }},
	"ip":          {kind: kindString, get: func(e *Event) string { return e.Source.IP }},
	"risk": {
		kind:     kindOrdinal,
		ord:      func(e *Event) int { return e.RiskScore },
		parseOrd: strconv.Atoi,
	},
	"severity": {
		kind: kindOrdinal,
		ord:  func(e *Event) int { return int(e.Severity) },
		parseOrd: func(s string) (int, error) {
			sev, err := ParseSeverity(s)
			return int(sev), err
		},
	},
}

// ParseWhere compiles a query expression into a predicate. An empty
// expression matches every event.
func ParseWhere(expr string) (Predicate, error) {
	if strings.TrimSpace(expr) == "" {
		return func(*Event) bool { return true }, nil
	}
	clause, err := whereParser.ParseString("", expr)
	if err != nil {
		return nil, oops.Code("INVALID_QUERY").With("expr", expr).Wrapf(err, "parsing query expression")
	}

	preds := make([]Predicate, 0, len(clause.Terms))
	for _, term := range clause.Terms {
		p, err := compileTerm(term)
		if err != nil {
			return nil, oops.Code("INVALID_QUERY").With("expr", expr).With("column", term.Pos.Column).Wrap(err)
		}
		preds = append(preds, p)
	}
	return func(e *Event) bool {
		for _, p := range preds {
			if !p(e) {
				return false
			}
		}
		return true
	}, nil
}

func compileTerm(t *whereTerm) (Predicate, error) {
	spec, ok := whereFields[t.Field]
	if !ok {
		return nil, fmt.Errorf("unknown field %q", t.Field)
	}

	if t.In != nil {
		values := make([]string, 0, len(t.In))
		for _, lit := range t.In {
			values = append(values, lit.text())
		}
		if spec.kind == kindOrdinal {
			ords := make([]int, 0, len(values))
			for _, v := range values {
				n, err := spec.parseOrd(v)
				if err != nil {
					return nil, fmt.Errorf("field %q: %w", t.Field, err)
				}
				ords = append(ords, n)
			}
			return func(e *Event) bool { return slices.Contains(ords, spec.ord(e)) }, nil
		}
		return func(e *Event) bool { return slices.Contains(values, spec.get(e)) }, nil
	}

	want := t.Value.text()
	if spec.kind == kindString {
		switch t.Op {
		case "==":
			return func(e *Event) bool { return spec.get(e) == want }, nil
		case "!=":
			return func(e *Event) bool { return spec.get(e) != want }, nil
		default:
			return nil, fmt.Errorf("operator %s not supported for field %q", t.Op, t.Field)
		}
	}

	n, err := spec.parseOrd(want)
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", t.Field, err)
	}
	var cmp func(a int) bool
	switch t.Op {
	case "==":
		cmp = func(a int) bool { return a == n }
	case "!=":
		cmp = func(a int) bool { return a != n }
	case ">=":
		cmp = func(a int) bool { return a >= n }
	case "<=":
		cmp = func(a int) bool { return a <= n }
	case ">":
		cmp = func(a int) bool { return a > n }
	case "<":
		cmp = func(a int) bool { return a < n }
	}
	return func(e *Event) bool { return cmp(spec.ord(e)) }, nil
}
