// Package criteria builds backend independent query expressions.
//
// A criteria tree is built from attribute comparisons combined with And and
// Or. Trees serialize to a compact map form so they can travel inside query
// messages, SQL backends compile them to WHERE clauses and the memory backend
// evaluates them directly.
package criteria

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/drblury/chassis/internal/core/codec"
	cerrors "github.com/drblury/chassis/internal/core/errors"
)

// Op is a comparison or logical operator.
type Op string

const (
	OpEq         Op = "=="
	OpNe         Op = "!="
	OpGt         Op = ">"
	OpGte        Op = ">="
	OpLt         Op = "<"
	OpLte        Op = "<="
	OpIn         Op = "in"
	OpContains   Op = "contains"
	OpStartsWith Op = "startswith"
	OpIs         Op = "is"
	OpAnd        Op = "and"
	OpOr         Op = "or"
)

// Logical reports whether the operator combines two subtrees.
func (o Op) Logical() bool { return o == OpAnd || o == OpOr }

// Valid reports whether the operator is known.
func (o Op) Valid() bool {
	switch o {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpContains, OpStartsWith, OpIs, OpAnd, OpOr:
		return true
	default:
		return false
	}
}

// Node is one criteria tree node. For comparisons L holds an Attr and R the
// literal operand. For logical operators both sides hold *Node subtrees.
type Node struct {
	L  any
	Op Op
	R  any
}

// Attr names an entity attribute. Attribute names follow the JSON field names
// of the entity.
type Attr string

func (a Attr) compare(op Op, v any) *Node { return &Node{L: a, Op: op, R: v} }

func (a Attr) Eq(v any) *Node  { return a.compare(OpEq, v) }
func (a Attr) Ne(v any) *Node  { return a.compare(OpNe, v) }
func (a Attr) Gt(v any) *Node  { return a.compare(OpGt, v) }
func (a Attr) Gte(v any) *Node { return a.compare(OpGte, v) }
func (a Attr) Lt(v any) *Node  { return a.compare(OpLt, v) }
func (a Attr) Lte(v any) *Node { return a.compare(OpLte, v) }

// In matches when the attribute equals any of the given values.
func (a Attr) In(vs ...any) *Node { return a.compare(OpIn, vs) }

// Contains matches substrings on string attributes and membership on
// collection attributes.
func (a Attr) Contains(v any) *Node { return a.compare(OpContains, v) }

// StartsWith matches string prefixes.
func (a Attr) StartsWith(prefix string) *Node { return a.compare(OpStartsWith, prefix) }

// IsNone matches unset attributes.
func (a Attr) IsNone() *Node { return a.compare(OpIs, nil) }

// And combines the given nodes left to right, skipping nils. Returns nil when
// nothing remains.
func And(nodes ...*Node) *Node { return combine(OpAnd, nodes) }

// Or combines the given nodes left to right, skipping nils.
func Or(nodes ...*Node) *Node { return combine(OpOr, nodes) }

func combine(op Op, nodes []*Node) *Node {
	var out *Node
	for _, n := range nodes {
		if n == nil {
			continue
		}
		if out == nil {
			out = n
			continue
		}
		out = &Node{L: out, Op: op, R: n}
	}
	return out
}

// And returns n AND other.
func (n *Node) And(other *Node) *Node { return And(n, other) }

// Or returns n OR other.
func (n *Node) Or(other *Node) *Node { return Or(n, other) }

// Validate walks the tree and rejects unknown operators, missing attribute
// names and malformed logical nodes.
func (n *Node) Validate() error {
	if n == nil {
		return nil
	}
	if !n.Op.Valid() {
		return fmt.Errorf("%w: unknown criteria operator %q", cerrors.ErrInvalidArgument, string(n.Op))
	}
	if n.Op.Logical() {
		left, lok := n.L.(*Node)
		right, rok := n.R.(*Node)
		if !lok || !rok || left == nil || right == nil {
			return fmt.Errorf("%w: criteria %q requires two subtrees", cerrors.ErrInvalidArgument, string(n.Op))
		}
		if err := left.Validate(); err != nil {
			return err
		}
		return right.Validate()
	}
	if attrName(n.L) == "" {
		return fmt.Errorf("%w: criteria %q requires an attribute name", cerrors.ErrInvalidArgument, string(n.Op))
	}
	return nil
}

func attrName(l any) string {
	switch t := l.(type) {
	case Attr:
		return string(t)
	case string:
		return t
	default:
		return ""
	}
}

// AttrName returns the attribute a comparison node addresses, empty for
// logical nodes.
func (n *Node) AttrName() string {
	if n == nil || n.Op.Logical() {
		return ""
	}
	return attrName(n.L)
}

// Left returns the left subtree of a logical node.
func (n *Node) Left() *Node {
	l, _ := n.L.(*Node)
	return l
}

// Right returns the right subtree of a logical node.
func (n *Node) Right() *Node {
	r, _ := n.R.(*Node)
	return r
}

// ToMap converts the tree into its wire form. Comparison nodes carry the
// attribute name as a bare string.
func (n *Node) ToMap() map[string]any {
	if n == nil {
		return nil
	}
	return map[string]any{
		"l": encodeOperand(n.L),
		"o": string(n.Op),
		"r": encodeOperand(n.R),
	}
}

func encodeOperand(v any) any {
	switch t := v.(type) {
	case *Node:
		return t.ToMap()
	case Attr:
		return string(t)
	default:
		return v
	}
}

// FromMap rebuilds a tree from its wire form.
func FromMap(m map[string]any) (*Node, error) {
	if m == nil {
		return nil, nil
	}
	raw, ok := m["o"]
	if !ok {
		return nil, fmt.Errorf("%w: criteria node missing operator", cerrors.ErrInvalidArgument)
	}
	opStr, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("%w: criteria operator must be a string, got %T", cerrors.ErrInvalidArgument, raw)
	}
	op := Op(opStr)
	if !op.Valid() {
		return nil, fmt.Errorf("%w: unknown criteria operator %q", cerrors.ErrInvalidArgument, opStr)
	}
	if op.Logical() {
		left, err := childNode(m["l"], op)
		if err != nil {
			return nil, err
		}
		right, err := childNode(m["r"], op)
		if err != nil {
			return nil, err
		}
		return &Node{L: left, Op: op, R: right}, nil
	}
	attr, ok := m["l"].(string)
	if !ok || attr == "" {
		return nil, fmt.Errorf("%w: left side of criteria %q must be an attribute name", cerrors.ErrInvalidArgument, opStr)
	}
	return &Node{L: Attr(attr), Op: op, R: m["r"]}, nil
}

func childNode(v any, op Op) (*Node, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: criteria %q operand must be an object, got %T", cerrors.ErrInvalidArgument, string(op), v)
	}
	return FromMap(m)
}

// MarshalJSON encodes the wire form.
func (n *Node) MarshalJSON() ([]byte, error) {
	return codec.Marshal(n.ToMap())
}

// UnmarshalJSON decodes the wire form.
func (n *Node) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := codec.Unmarshal(data, &m); err != nil {
		return err
	}
	parsed, err := FromMap(m)
	if err != nil {
		return err
	}
	if parsed == nil {
		return fmt.Errorf("%w: empty criteria node", cerrors.ErrInvalidArgument)
	}
	*n = *parsed
	return nil
}

// Matches evaluates the tree against attribute values supplied by get.
// Absent attributes evaluate as nil.
func (n *Node) Matches(get func(attr string) (any, bool)) bool {
	if n == nil {
		return true
	}
	switch n.Op {
	case OpAnd:
		return n.Left().Matches(get) && n.Right().Matches(get)
	case OpOr:
		return n.Left().Matches(get) || n.Right().Matches(get)
	}

	value, _ := get(n.AttrName())
	switch n.Op {
	case OpIs:
		return value == nil
	case OpEq:
		return looseEqual(value, n.R)
	case OpNe:
		return !looseEqual(value, n.R)
	case OpGt:
		c, ok := Compare(value, n.R)
		return ok && c > 0
	case OpGte:
		c, ok := Compare(value, n.R)
		return ok && c >= 0
	case OpLt:
		c, ok := Compare(value, n.R)
		return ok && c < 0
	case OpLte:
		c, ok := Compare(value, n.R)
		return ok && c <= 0
	case OpIn:
		for _, candidate := range elements(n.R) {
			if looseEqual(value, candidate) {
				return true
			}
		}
		return false
	case OpContains:
		return contains(value, n.R)
	case OpStartsWith:
		s, sok := value.(string)
		p, pok := n.R.(string)
		return sok && pok && strings.HasPrefix(s, p)
	default:
		return false
	}
}

func contains(value, operand any) bool {
	if s, ok := value.(string); ok {
		sub, ok := operand.(string)
		return ok && strings.Contains(s, sub)
	}
	for _, el := range elements(value) {
		if looseEqual(el, operand) {
			return true
		}
	}
	return false
}

func elements(v any) []any {
	if vs, ok := v.([]any); ok {
		return vs
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, aok := numeric(a); aok {
		bf, bok := numeric(b)
		return bok && af == bf
	}
	if at, aok := a.(time.Time); aok {
		bt, bok := b.(time.Time)
		return bok && at.Equal(bt)
	}
	return reflect.DeepEqual(a, b)
}

// Compare orders two attribute values. Numbers compare numerically, strings
// lexicographically and times chronologically. The second return is false
// when the values are not comparable.
func Compare(a, b any) (int, bool) {
	if af, aok := numeric(a); aok {
		if bf, bok := numeric(b); bok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			default:
				return 0, true
			}
		}
		return 0, false
	}
	if at, aok := a.(time.Time); aok {
		if bt, bok := b.(time.Time); bok {
			return at.Compare(bt), true
		}
		return 0, false
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func numeric(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}
