/*
Package router resolves (method, path) pairs of request envelopes to handlers.

Patterns follow the shape /api/<resource>[/<segment>...]. A segment is either a literal
token, a string parameter written {name}, or a positive integer parameter written {name:int}.
Resolution prefers the candidate with the most literal tokens, so
/api/products/category/{category} wins over /api/products/{id:int}/... shapes.
*/
package router

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	berr "github.com/next-trace/scg-api-bus/contract/errors"
)

// Handler serves one resolved route.
// Implementations must be safe for concurrent use by multiple goroutines.
type Handler interface {
	Serve(ctx context.Context, r *Request) (*Reply, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, r *Request) (*Reply, error)

func (f HandlerFunc) Serve(ctx context.Context, r *Request) (*Reply, error) { return f(ctx, r) }

// Route binds a method and a pattern to a handler.
type Route struct {
	Method  string
	Pattern string
	Handler Handler
}

type segKind int

const (
	segLiteral segKind = iota
	segString
	segInt
)

type segment struct {
	kind  segKind
	value string // literal token (lower case) or parameter name
}

type compiled struct {
	route    Route
	segs     []segment
	literals int
}

// Table is an immutable route table for one service. It is safe for concurrent use.
type Table struct {
	byResource map[string][]*compiled
}

// New compiles routes into a Table. Malformed patterns and duplicate (method, pattern)
// pairs are rejected.
func New(routes ...Route) (*Table, error) {
	t := &Table{byResource: make(map[string][]*compiled)}
	seen := make(map[string]struct{}, len(routes))

	for _, r := range routes {
		r.Method = strings.ToUpper(r.Method)

		c, err := compile(r)
		if err != nil {
			return nil, err
		}

		key := r.Method + " " + shapeKey(c.segs)
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("route %s %s: %w", r.Method, r.Pattern, berr.ErrHandlerExists)
		}

		seen[key] = struct{}{}

		res := c.segs[1].value
		t.byResource[res] = append(t.byResource[res], c)
	}

	return t, nil
}

// MustNew is New for static route tables; it panics on error.
func MustNew(routes ...Route) *Table {
	t, err := New(routes...)
	if err != nil {
		panic(err)
	}

	return t
}

func compile(r Route) (*compiled, error) {
	if r.Handler == nil {
		return nil, fmt.Errorf("route %s %s: nil handler", r.Method, r.Pattern)
	}

	parts := split(r.Pattern)
	if len(parts) < 2 || !strings.EqualFold(parts[0], "api") {
		return nil, fmt.Errorf("route %s %s: pattern must start with /api/<resource>", r.Method, r.Pattern)
	}

	c := &compiled{route: r, segs: make([]segment, 0, len(parts))}

	for i, p := range parts {
		if !strings.HasPrefix(p, "{") {
			c.segs = append(c.segs, segment{kind: segLiteral, value: strings.ToLower(p)})
			c.literals++

			continue
		}

		if i < 2 || !strings.HasSuffix(p, "}") {
			return nil, fmt.Errorf("route %s %s: bad parameter %q", r.Method, r.Pattern, p)
		}

		name, typ, _ := strings.Cut(strings.Trim(p, "{}"), ":")

		switch typ {
		case "":
			c.segs = append(c.segs, segment{kind: segString, value: name})
		case "int":
			c.segs = append(c.segs, segment{kind: segInt, value: name})
		default:
			return nil, fmt.Errorf("route %s %s: unknown parameter type %q", r.Method, r.Pattern, typ)
		}
	}

	return c, nil
}

func shapeKey(segs []segment) string {
	var b strings.Builder

	for _, s := range segs {
		b.WriteByte('/')

		if s.kind == segLiteral {
			b.WriteString(s.value)
		} else {
			b.WriteString("{}")
		}
	}

	return b.String()
}

func split(path string) []string {
	raw := strings.Split(strings.Trim(path, "/"), "/")
	out := raw[:0]

	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}

	return out
}

// Match is a successful resolution.
type Match struct {
	Pattern string
	Handler Handler
	Params  Params
}

// Resolve maps method and path to a handler.
// Unknown paths fail with ErrRouteNotFound, recognised paths with an unsupported verb with
// ErrMethodNotAllowed, and recognised shapes with a malformed integer id with ErrValidation.
func (t *Table) Resolve(method, path string) (*Match, error) {
	method = strings.ToUpper(method)
	parts := split(path)

	if len(parts) < 2 || !strings.EqualFold(parts[0], "api") {
		return nil, berr.Newf(berr.ErrRouteNotFound, "Invalid path")
	}

	candidates := t.byResource[strings.ToLower(parts[1])]
	if len(candidates) == 0 {
		return nil, berr.Newf(berr.ErrRouteNotFound, "Invalid path")
	}

	var (
		fits      []*compiled
		malformed *segment
		resource  = strings.ToLower(parts[1])
	)

	for _, c := range candidates {
		ok, bad := c.match(parts)
		if ok {
			fits = append(fits, c)
		} else if bad != nil && malformed == nil {
			malformed = bad
		}
	}

	if len(fits) == 0 {
		if malformed != nil {
			return nil, berr.Newf(berr.ErrValidation, "Invalid %s", paramLabel(resource, malformed.value))
		}

		return nil, berr.Newf(berr.ErrRouteNotFound, "Invalid path")
	}

	sort.SliceStable(fits, func(i, j int) bool { return fits[i].literals > fits[j].literals })

	for _, c := range fits {
		if c.route.Method == method {
			return &Match{Pattern: c.route.Pattern, Handler: c.route.Handler, Params: c.params(parts)}, nil
		}
	}

	return nil, berr.Newf(berr.ErrMethodNotAllowed, "Method %s not allowed", method)
}

// match reports whether parts fit the pattern. When only an integer parameter fails to
// parse, the offending segment is returned so the caller can report a malformed id.
func (c *compiled) match(parts []string) (bool, *segment) {
	if len(parts) != len(c.segs) {
		return false, nil
	}

	var bad *segment

	for i, s := range c.segs {
		switch s.kind {
		case segLiteral:
			if !strings.EqualFold(parts[i], s.value) {
				return false, nil
			}
		case segInt:
			if n, err := strconv.ParseInt(parts[i], 10, 64); err != nil || n <= 0 {
				if bad == nil {
					bad = &c.segs[i]
				}
			}
		case segString:
		}
	}

	return bad == nil, bad
}

func (c *compiled) params(parts []string) Params {
	p := Params{}

	for i, s := range c.segs {
		if s.kind != segLiteral {
			p[s.value] = parts[i]
		}
	}

	return p
}

// paramLabel turns a parameter name into the noun used in error messages:
// "id" on products becomes "product ID", "userId" becomes "user ID".
func paramLabel(resource, name string) string {
	if name == "id" {
		return strings.TrimSuffix(resource, "s") + " ID"
	}

	var b strings.Builder

	for i, r := range name {
		if unicode.IsUpper(r) && i > 0 {
			b.WriteByte(' ')
		}

		b.WriteRune(unicode.ToLower(r))
	}

	label := b.String()
	if base, ok := strings.CutSuffix(label, " id"); ok {
		return base + " ID"
	}

	return label
}
