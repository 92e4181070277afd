// Package blob implements the serialized state tree contract: a
// recursive tagged-union tree used to export and import a slave's
// internal state as an opaque, language- and format-neutral value. The
// on-disk encoding (if any) is a concern for the backend that produces
// or consumes the tree; this package only defines the in-memory shape
// and a content digest used to detect accidental handle reuse.
package blob

import (
	"fmt"
	"sort"

	"golang.org/x/crypto/blake2b"
)

// Kind identifies which variant of the tagged union a Node holds.
type Kind int

const (
	KindBool Kind = iota
	KindByte
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindUint8
	KindUint16
	KindUint32
	KindUint64
	KindFloat32
	KindFloat64
	KindString
	KindBytes
	KindArray
	KindMap
)

// Node is one node of the serialized state tree. The zero Node is not
// meaningful; use one of the constructor functions below.
//
// Node mirrors the accessor-by-Type() shape of a tagged-union value
// (rather than a Go interface{} with type switches at every call site):
// callers branch once on Kind and then use the matching typed accessor.
type Node struct {
	kind  Kind
	b     bool
	i64   int64
	u64   uint64
	f32   float32
	f64   float64
	str   string
	bytes []byte
	arr   []Node
	m     map[string]Node
}

// Kind returns the node's variant tag.
func (n Node) Kind() Kind { return n.kind }

func Bool(v bool) Node    { return Node{kind: KindBool, b: v} }
func Byte(v byte) Node    { return Node{kind: KindByte, u64: uint64(v)} }
func Int8(v int8) Node    { return Node{kind: KindInt8, i64: int64(v)} }
func Int16(v int16) Node  { return Node{kind: KindInt16, i64: int64(v)} }
func Int32(v int32) Node  { return Node{kind: KindInt32, i64: int64(v)} }
func Int64(v int64) Node  { return Node{kind: KindInt64, i64: v} }
func Uint8(v uint8) Node  { return Node{kind: KindUint8, u64: uint64(v)} }
func Uint16(v uint16) Node { return Node{kind: KindUint16, u64: uint64(v)} }
func Uint32(v uint32) Node { return Node{kind: KindUint32, u64: uint64(v)} }
func Uint64(v uint64) Node { return Node{kind: KindUint64, u64: v} }
func Float32(v float32) Node { return Node{kind: KindFloat32, f32: v} }
func Float64(v float64) Node { return Node{kind: KindFloat64, f64: v} }
func String(v string) Node { return Node{kind: KindString, str: v} }
func Bytes(v []byte) Node {
	cp := make([]byte, len(v))
	copy(cp, v)
	return Node{kind: KindBytes, bytes: cp}
}

// Array constructs an ordered composite node from its children.
func Array(children ...Node) Node {
	cp := make([]Node, len(children))
	copy(cp, children)
	return Node{kind: KindArray, arr: cp}
}

// Map constructs a string-keyed composite node.
func Map(fields map[string]Node) Node {
	cp := make(map[string]Node, len(fields))
	for k, v := range fields {
		cp[k] = v
	}
	return Node{kind: KindMap, m: cp}
}

// Bool returns n's boolean value and whether n is a KindBool node.
func (n Node) Bool() (bool, bool) { return n.b, n.kind == KindBool }

// Int returns n's value widened to int64, and whether n holds one of
// the signed or unsigned integer kinds (including KindByte).
func (n Node) Int() (int64, bool) {
	switch n.kind {
	case KindInt8, KindInt16, KindInt32, KindInt64:
		return n.i64, true
	case KindByte, KindUint8, KindUint16, KindUint32:
		return int64(n.u64), true
	case KindUint64:
		return int64(n.u64), true
	default:
		return 0, false
	}
}

// Uint returns n's value widened to uint64, and whether n holds one of
// the unsigned integer kinds (including KindByte).
func (n Node) Uint() (uint64, bool) {
	switch n.kind {
	case KindByte, KindUint8, KindUint16, KindUint32, KindUint64:
		return n.u64, true
	default:
		return 0, false
	}
}

// Float returns n's value widened to float64, and whether n holds
// KindFloat32 or KindFloat64.
func (n Node) Float() (float64, bool) {
	switch n.kind {
	case KindFloat32:
		return float64(n.f32), true
	case KindFloat64:
		return n.f64, true
	default:
		return 0, false
	}
}

// String returns n's string value and whether n is a KindString node.
func (n Node) String() (string, bool) {
	if n.kind != KindString {
		return "", false
	}
	return n.str, true
}

// BytesValue returns a copy of n's byte slice and whether n is a
// KindBytes node.
func (n Node) BytesValue() ([]byte, bool) {
	if n.kind != KindBytes {
		return nil, false
	}
	cp := make([]byte, len(n.bytes))
	copy(cp, n.bytes)
	return cp, true
}

// Elements returns n's children and whether n is a KindArray node.
func (n Node) Elements() ([]Node, bool) {
	if n.kind != KindArray {
		return nil, false
	}
	return n.arr, true
}

// Fields returns n's field map and whether n is a KindMap node.
func (n Node) Fields() (map[string]Node, bool) {
	if n.kind != KindMap {
		return nil, false
	}
	return n.m, true
}

// Equal reports whether n and other represent the same tree, including
// element and field order for arrays (but not for maps, which compare
// by key/value set).
func (n Node) Equal(other Node) bool {
	if n.kind != other.kind {
		return false
	}
	switch n.kind {
	case KindBool:
		return n.b == other.b
	case KindByte, KindUint8, KindUint16, KindUint32, KindUint64:
		return n.u64 == other.u64
	case KindInt8, KindInt16, KindInt32, KindInt64:
		return n.i64 == other.i64
	case KindFloat32:
		return n.f32 == other.f32
	case KindFloat64:
		return n.f64 == other.f64
	case KindString:
		return n.str == other.str
	case KindBytes:
		return string(n.bytes) == string(other.bytes)
	case KindArray:
		if len(n.arr) != len(other.arr) {
			return false
		}
		for i := range n.arr {
			if !n.arr[i].Equal(other.arr[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(n.m) != len(other.m) {
			return false
		}
		for k, v := range n.m {
			ov, ok := other.m[k]
			if !ok || !v.Equal(ov) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Digest computes a content fingerprint of n, used to detect accidental
// reuse of a save-state handle across an export/import round trip (see
// execution.Execution.SaveState). It is not a stable wire format: two
// process builds are only guaranteed to agree on the digest of
// identical trees within the same binary.
func Digest(n Node) [32]byte {
	h, _ := blake2b.New256(nil)
	hashInto(h, n)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

type hasher interface {
	Write(p []byte) (int, error)
}

func hashInto(h hasher, n Node) {
	fmt.Fprintf(h, "%d:", n.kind)
	switch n.kind {
	case KindBool:
		fmt.Fprintf(h, "%v", n.b)
	case KindByte, KindUint8, KindUint16, KindUint32, KindUint64:
		fmt.Fprintf(h, "%d", n.u64)
	case KindInt8, KindInt16, KindInt32, KindInt64:
		fmt.Fprintf(h, "%d", n.i64)
	case KindFloat32:
		fmt.Fprintf(h, "%x", n.f32)
	case KindFloat64:
		fmt.Fprintf(h, "%x", n.f64)
	case KindString:
		fmt.Fprintf(h, "%s", n.str)
	case KindBytes:
		h.Write(n.bytes)
	case KindArray:
		fmt.Fprintf(h, "[%d]", len(n.arr))
		for _, c := range n.arr {
			hashInto(h, c)
		}
	case KindMap:
		fmt.Fprintf(h, "{%d}", len(n.m))
		keys := make([]string, 0, len(n.m))
		for k := range n.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(h, "%s=", k)
			hashInto(h, n.m[k])
		}
	}
}
