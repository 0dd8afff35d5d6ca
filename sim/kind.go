package sim

import (
	"fmt"
	"strings"
)

// OpKind is the closed set of NAND commands the scheduler understands.
type OpKind int

const (
	KindRead OpKind = iota
	KindProgram
	KindErase
	KindDout
	KindSR
)

var kindNames = [...]string{"READ", "PROGRAM", "ERASE", "DOUT", "SR"}

// AllKinds lists every OpKind in declaration order.
var AllKinds = []OpKind{KindRead, KindProgram, KindErase, KindDout, KindSR}

func (k OpKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("unknown(%d)", int(k))
	}
	return kindNames[k]
}

// ParseOpKind parses a base kind name such as "READ".
func ParseOpKind(s string) (OpKind, error) {
	for i, name := range kindNames {
		if s == name {
			return OpKind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown operation kind %q (must be READ, PROGRAM, ERASE, DOUT or SR)", s)
}

// IsArrayOp reports whether the kind touches the cell array.
// Array ops are the ones gated by latches and core-busy exclusions.
func (k OpKind) IsArrayOp() bool {
	return k == KindRead || k == KindProgram || k == KindErase
}

// Alias distinguishes single-target from multi-target forms of a kind.
type Alias int

const (
	AliasAny Alias = iota
	AliasSingle
	AliasMulti
)

// AliasFor returns the alias implied by an operation's arity.
func AliasFor(arity int) Alias {
	if arity > 1 {
		return AliasMulti
	}
	return AliasSingle
}

func (a Alias) prefix() string {
	switch a {
	case AliasSingle:
		return "SIN_"
	case AliasMulti:
		return "MUL_"
	default:
		return ""
	}
}

// Token names a kind, optionally constrained to its single or multi alias.
// Tokens appear in exclusion rules, phase distributions and hook labels;
// they are parsed once from strings like "READ", "SIN_READ" or "MUL_PROGRAM".
type Token struct {
	Kind  OpKind
	Alias Alias
}

// ParseToken parses a token string.
func ParseToken(s string) (Token, error) {
	alias := AliasAny
	base := s
	switch {
	case strings.HasPrefix(s, "SIN_"):
		alias, base = AliasSingle, strings.TrimPrefix(s, "SIN_")
	case strings.HasPrefix(s, "MUL_"):
		alias, base = AliasMulti, strings.TrimPrefix(s, "MUL_")
	}
	kind, err := ParseOpKind(base)
	if err != nil {
		return Token{}, fmt.Errorf("token %q: %w", s, err)
	}
	return Token{Kind: kind, Alias: alias}, nil
}

func (t Token) String() string {
	return t.Alias.prefix() + t.Kind.String()
}

// Base drops the alias constraint.
func (t Token) Base() Token {
	return Token{Kind: t.Kind}
}

// Matches reports whether an operation of the given kind and arity is covered by t.
func (t Token) Matches(kind OpKind, arity int) bool {
	if t.Kind != kind {
		return false
	}
	return t.Alias == AliasAny || t.Alias == AliasFor(arity)
}

// Scope selects which planes an operation occupies on its die.
type Scope int

const (
	ScopeNone     Scope = iota // no plane reservation (status requests)
	ScopePlaneSet              // only the target planes
	ScopeDieWide               // every plane of the die
)

var scopeNames = map[string]Scope{"none": ScopeNone, "plane_set": ScopePlaneSet, "die_wide": ScopeDieWide}

// ParseScope parses "none", "plane_set" or "die_wide".
func ParseScope(s string) (Scope, error) {
	if sc, ok := scopeNames[s]; ok {
		return sc, nil
	}
	return 0, fmt.Errorf("unknown scope %q (must be none, plane_set or die_wide)", s)
}

func (s Scope) String() string {
	switch s {
	case ScopeNone:
		return "none"
	case ScopePlaneSet:
		return "plane_set"
	case ScopeDieWide:
		return "die_wide"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}
