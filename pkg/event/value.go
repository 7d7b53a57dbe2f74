package event

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ValueKind tags the variant held by a Value.
type ValueKind uint8

const (
	KindInvalid ValueKind = iota
	KindAddress
	KindUint
	KindInt
	KindBool
	KindBytes
	KindString
)

func (k ValueKind) String() string {
	switch k {
	case KindAddress:
		return "address"
	case KindUint:
		return "uint"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	case KindBytes:
		return "bytes"
	case KindString:
		return "string"
	default:
		return "invalid"
	}
}

// Value is one decoded event parameter. Integers keep their declared ABI bit width.
type Value struct {
	kind ValueKind
	bits int
	addr common.Address
	num  *big.Int
	flag bool
	raw  []byte
	str  string
}

func AddressValue(a common.Address) Value {
	return Value{kind: KindAddress, addr: a}
}

// UintValue wraps an unsigned integer declared as uint<bits>.
func UintValue(bits int, v *big.Int) Value {
	return Value{kind: KindUint, bits: bits, num: new(big.Int).Set(v)}
}

// IntValue wraps a signed integer declared as int<bits>.
func IntValue(bits int, v *big.Int) Value {
	return Value{kind: KindInt, bits: bits, num: new(big.Int).Set(v)}
}

func BoolValue(b bool) Value {
	return Value{kind: KindBool, flag: b}
}

func BytesValue(b []byte) Value {
	return Value{kind: KindBytes, raw: append([]byte(nil), b...)}
}

func StringValue(s string) Value {
	return Value{kind: KindString, str: s}
}

// Kind returns the variant tag.
func (v Value) Kind() ValueKind {
	return v.kind
}

// Bits returns the declared width of an integer value, zero otherwise.
func (v Value) Bits() int {
	return v.bits
}

// String renders the value for logs.
func (v Value) String() string {
	switch v.kind {
	case KindAddress:
		return v.addr.Hex()
	case KindUint, KindInt:
		return v.num.String()
	case KindBool:
		if v.flag {
			return "true"
		}
		return "false"
	case KindBytes:
		return common.Bytes2Hex(v.raw)
	case KindString:
		return v.str
	default:
		return "<invalid>"
	}
}
