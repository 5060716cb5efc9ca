// Package value is the tagged-variant model for whatever a snippet binds to its
// result variable. Engines convert their native values into it, the publisher
// walks it, and Render turns it back into text for the caller.
//
// CONTAINER KINDS:
// The model distinguishes the four container shapes a snippet can return:
//
//	Sequence  ordered, mutable list   ['a', 'b']
//	Tuple     ordered, fixed          ('a', 'b')
//	Set       unordered, unique       {'a', 'b'}
//	Mapping   key -> value            {'a': 1}
//
// Anything else (numbers, booleans, null, opaque objects) is an Other and is
// never looked into.
package value

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindString Kind = iota
	KindSequence
	KindTuple
	KindSet
	KindMapping
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindSequence:
		return "sequence"
	case KindTuple:
		return "tuple"
	case KindSet:
		return "set"
	case KindMapping:
		return "mapping"
	default:
		return "other"
	}
}

// Value is one node of a result tree.
type Value interface {
	Kind() Kind
}

// String is a text scalar. Only strings are candidates for publication.
type String string

// Sequence is an ordered list.
type Sequence []Value

// Tuple is a fixed-size ordered list.
type Tuple []Value

// Set is an unordered collection of distinct values. Element order is the
// order the engine reported them in and carries no meaning.
type Set []Value

// Entry is one key/value pair of a Mapping.
type Entry struct {
	Key   Value
	Value Value
}

// Mapping keeps its entries in insertion order.
type Mapping []Entry

// Other wraps any value the model does not look into. V holds a Go scalar
// (nil, bool, int64, float64) when the engine could export one; Repr holds
// the engine's own textual form when it could not.
type Other struct {
	V    any
	Repr string
}

func (String) Kind() Kind   { return KindString }
func (Sequence) Kind() Kind { return KindSequence }
func (Tuple) Kind() Kind    { return KindTuple }
func (Set) Kind() Kind      { return KindSet }
func (Mapping) Kind() Kind  { return KindMapping }
func (Other) Kind() Kind    { return KindOther }

// None is the null value.
var None = Other{V: nil}
