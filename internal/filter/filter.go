// Package filter parses the run search language:
//
//	metrics.rmse < 0.7 AND params.alpha = '0.1' AND tags.`data set` != "red"
//
// A filter is a conjunction of comparisons. Each comparison names an entity
// (metrics, params, tags, attributes), a key, an operator and a literal.
// Order-by clauses use the same entity.key syntax followed by ASC or DESC.
package filter

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/ashita-ai/tsuiseki/internal/model"
)

// Entity is the namespace a key lives in.
type Entity string

const (
	EntityMetric    Entity = "metrics"
	EntityParam     Entity = "params"
	EntityTag       Entity = "tags"
	EntityAttribute Entity = "attributes"
)

// Op is a comparison operator.
type Op string

const (
	OpEq Op = "="
	OpNe Op = "!="
	OpLt Op = "<"
	OpLe Op = "<="
	OpGt Op = ">"
	OpGe Op = ">="
)

// Searchable run attributes and whether they compare as numbers.
var attributes = map[string]bool{
	"run_id":     false,
	"run_name":   false,
	"status":     false,
	"start_time": true,
	"end_time":   true,
}

// Clause is one comparison. Exactly one of Num or Str is meaningful,
// selected by Numeric.
type Clause struct {
	Entity  Entity
	Key     string
	Op      Op
	Numeric bool
	Num     float64
	Str     string
}

// OrderBy is one sort key.
type OrderBy struct {
	Entity Entity
	Key    string
	Desc   bool
}

// Parse parses a filter expression. An empty expression yields no clauses.
func Parse(expr string) ([]Clause, error) {
	toks, err := lex(expr)
	if err != nil {
		return nil, err
	}
	var clauses []Clause
	for i := 0; i < len(toks); {
		if len(clauses) > 0 {
			if toks[i].kind != tokIdent || !strings.EqualFold(toks[i].text, "AND") {
				return nil, invalid("expected AND before %q", toks[i].text)
			}
			i++
		}
		if i+3 > len(toks) {
			return nil, invalid("incomplete comparison at end of %q", expr)
		}
		c, err := parseClause(toks[i], toks[i+1], toks[i+2])
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, c)
		i += 3
	}
	return clauses, nil
}

func parseClause(ident, op, lit token) (Clause, error) {
	if ident.kind != tokIdent {
		return Clause{}, invalid("expected identifier, got %q", ident.text)
	}
	entity, key, err := splitIdent(ident.text)
	if err != nil {
		return Clause{}, err
	}
	if op.kind != tokOp {
		return Clause{}, invalid("expected comparison operator after %s, got %q", ident.text, op.text)
	}
	c := Clause{Entity: entity, Key: key, Op: Op(op.text)}

	numeric := entity == EntityMetric || (entity == EntityAttribute && attributes[key])
	if numeric {
		if lit.kind != tokNumber {
			return Clause{}, invalid("%s expects a numeric literal, got %q", ident.text, lit.text)
		}
		v, err := strconv.ParseFloat(lit.text, 64)
		if err != nil {
			return Clause{}, invalid("bad number %q", lit.text)
		}
		c.Numeric = true
		c.Num = v
		return c, nil
	}

	if c.Op != OpEq && c.Op != OpNe {
		return Clause{}, invalid("%s only supports = and !=, got %s", ident.text, c.Op)
	}
	if lit.kind != tokString {
		return Clause{}, invalid("%s expects a quoted string literal, got %q", ident.text, lit.text)
	}
	c.Str = lit.text
	return c, nil
}

// ParseOrderBy parses clauses such as "metrics.rmse", "metrics.rmse DESC"
// or "attributes.start_time ASC". A bare "start_time" is an attribute.
func ParseOrderBy(clauses []string) ([]OrderBy, error) {
	out := make([]OrderBy, 0, len(clauses))
	for _, raw := range clauses {
		toks, err := lex(raw)
		if err != nil {
			return nil, err
		}
		if len(toks) == 0 || len(toks) > 2 || toks[0].kind != tokIdent {
			return nil, invalid("bad order_by clause %q", raw)
		}
		text := toks[0].text
		if !strings.Contains(text, ".") {
			text = string(EntityAttribute) + "." + text
		}
		entity, key, err := splitIdent(text)
		if err != nil {
			return nil, err
		}
		ob := OrderBy{Entity: entity, Key: key}
		if len(toks) == 2 {
			switch strings.ToUpper(toks[1].text) {
			case "ASC":
			case "DESC":
				ob.Desc = true
			default:
				return nil, invalid("bad sort direction %q in %q", toks[1].text, raw)
			}
		}
		out = append(out, ob)
	}
	return out, nil
}

func splitIdent(text string) (Entity, string, error) {
	dot := strings.IndexByte(text, '.')
	if dot <= 0 || dot == len(text)-1 {
		return "", "", invalid("identifier %q must look like <entity>.<key>", text)
	}
	prefix, key := strings.ToLower(text[:dot]), text[dot+1:]
	key = strings.Trim(key, "`")
	var e Entity
	switch prefix {
	case "metric", "metrics":
		e = EntityMetric
	case "param", "params", "parameter", "parameters":
		e = EntityParam
	case "tag", "tags":
		e = EntityTag
	case "attribute", "attributes", "attr", "run":
		e = EntityAttribute
	default:
		return "", "", invalid("unknown entity %q", prefix)
	}
	if key == "" {
		return "", "", invalid("empty key in %q", text)
	}
	if e == EntityAttribute {
		if _, ok := attributes[key]; !ok {
			return "", "", invalid("unknown attribute %q", key)
		}
	}
	return e, key, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: filter: %s", model.ErrInvalidArgument, fmt.Sprintf(format, args...))
}

type tokKind int

const (
	tokIdent tokKind = iota
	tokOp
	tokNumber
	tokString
)

type token struct {
	kind tokKind
	text string
}

func lex(s string) ([]token, error) {
	var toks []token
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '\'' || c == '"':
			end := strings.IndexByte(s[i+1:], c)
			if end < 0 {
				return nil, invalid("unterminated string starting at offset %d", i)
			}
			toks = append(toks, token{tokString, s[i+1 : i+1+end]})
			i += end + 2
		case c == '=' || c == '!' || c == '<' || c == '>':
			op := string(c)
			if i+1 < len(s) && s[i+1] == '=' {
				op += "="
			}
			if op == "!" {
				return nil, invalid("unexpected '!' at offset %d", i)
			}
			if op == "==" {
				op = "="
			}
			toks = append(toks, token{tokOp, op})
			i += len(op)
			if op == "=" && i < len(s) && s[i] == '=' {
				i++
			}
		case c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9'):
			j := i + 1
			for j < len(s) && (isDigit(s[j]) || s[j] == '.' || s[j] == 'e' || s[j] == 'E' ||
				((s[j] == '-' || s[j] == '+') && (s[j-1] == 'e' || s[j-1] == 'E'))) {
				j++
			}
			toks = append(toks, token{tokNumber, s[i:j]})
			i = j
		case isIdentStart(rune(c)):
			j := i
			for j < len(s) {
				if s[j] == '`' {
					end := strings.IndexByte(s[j+1:], '`')
					if end < 0 {
						return nil, invalid("unterminated back-quoted key at offset %d", j)
					}
					j += end + 2
					continue
				}
				if !isIdentPart(rune(s[j])) {
					break
				}
				j++
			}
			toks = append(toks, token{tokIdent, s[i:j]})
			i = j
		default:
			return nil, invalid("unexpected character %q at offset %d", c, i)
		}
	}
	return toks, nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentStart(r rune) bool { return unicode.IsLetter(r) || r == '_' }

func isIdentPart(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.' || r == '-'
}
