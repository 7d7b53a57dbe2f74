package event

import (
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var weiPerEther = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

// Param is one named parameter.
type Param struct {
	Name  string
	Value Value
}

// Params is the ordered, name-addressed parameter set of a decoded event.
//
// Accessors panic with *ParamError when the name is absent or the value has another
// shape. That is a handler/ABI mismatch, so callers run handlers under RecoverParamError
// and abort the event instead of writing state.
type Params struct {
	event  string
	order  []string
	values map[string]Value
}

// NewParams builds a parameter set for the named event, preserving argument order.
func NewParams(event string, params ...Param) Params {
	p := Params{
		event:  event,
		order:  make([]string, 0, len(params)),
		values: make(map[string]Value, len(params)),
	}
	for _, param := range params {
		if _, dup := p.values[param.Name]; !dup {
			p.order = append(p.order, param.Name)
		}
		p.values[param.Name] = param.Value
	}
	return p
}

// Names returns parameter names in ABI order.
func (p Params) Names() []string {
	return append([]string(nil), p.order...)
}

// Get returns the raw value without any shape check.
func (p Params) Get(name string) (Value, bool) {
	v, ok := p.values[name]
	return v, ok
}

func (p Params) lookup(name string, want ValueKind) Value {
	v, ok := p.values[name]
	if !ok {
		panic(&ParamError{Event: p.event, Name: name, Want: want, Missing: true})
	}
	if v.kind != want {
		panic(&ParamError{Event: p.event, Name: name, Want: want, Got: v.kind, GotBits: v.bits})
	}
	return v
}

func (p Params) integer(name string, want ValueKind, bits int) Value {
	v := p.lookup(name, want)
	if v.bits != bits {
		panic(&ParamError{Event: p.event, Name: name, Want: want, WantBits: bits, Got: v.kind, GotBits: v.bits})
	}
	return v
}

// narrow fetches an integer declared at most maxBits wide.
func (p Params) narrow(name string, want ValueKind, maxBits int) Value {
	v := p.lookup(name, want)
	if v.bits > maxBits {
		panic(&ParamError{Event: p.event, Name: name, Want: want, WantBits: maxBits, Got: v.kind, GotBits: v.bits})
	}
	return v
}

// Address returns an address parameter.
func (p Params) Address(name string) common.Address {
	return p.lookup(name, KindAddress).addr
}

// AddressString returns the canonical form of an address parameter: the 0x-prefixed,
// EIP-55 checksummed hex string. Stored addresses use the same form.
func (p Params) AddressString(name string) string {
	return p.Address(name).Hex()
}

// Uint returns an unsigned integer declared exactly uint<bits>.
func (p Params) Uint(name string, bits int) *big.Int {
	return new(big.Int).Set(p.integer(name, KindUint, bits).num)
}

// Int returns a signed integer declared exactly int<bits>.
func (p Params) Int(name string, bits int) *big.Int {
	return new(big.Int).Set(p.integer(name, KindInt, bits).num)
}

// Uint32 returns an unsigned integer declared at most 32 bits wide (e.g. uint24 fee).
func (p Params) Uint32(name string) uint32 {
	return uint32(p.narrow(name, KindUint, 32).num.Uint64()) //nolint:gosec
}

// Uint64 returns an unsigned integer declared at most 64 bits wide.
func (p Params) Uint64(name string) uint64 {
	return p.narrow(name, KindUint, 64).num.Uint64()
}

// Int32 returns a signed integer declared at most 32 bits wide (e.g. int24 tick).
func (p Params) Int32(name string) int32 {
	return int32(p.narrow(name, KindInt, 32).num.Int64()) //nolint:gosec
}

// Bool returns a bool parameter.
func (p Params) Bool(name string) bool {
	return p.lookup(name, KindBool).flag
}

// Bytes returns a bytes or bytesN parameter. Indexed dynamic values hold their topic hash.
func (p Params) Bytes(name string) []byte {
	return append([]byte(nil), p.lookup(name, KindBytes).raw...)
}

// String returns a string parameter.
func (p Params) String(name string) string {
	return p.lookup(name, KindString).str
}

// EtherAmount converts a base-unit integer (int or uint of any width) into ether by
// dividing by 10^18 and rounding to the nearest float64.
//
// The result is lossy: float64 carries ~15-17 significant digits while uint256 carries 78.
// Use it for approximate metrics such as traded volume, never for balances or accounting.
func (p Params) EtherAmount(name string) float64 {
	v, ok := p.values[name]
	if !ok {
		panic(&ParamError{Event: p.event, Name: name, Want: KindInt, Missing: true})
	}
	if v.kind != KindInt && v.kind != KindUint {
		panic(&ParamError{Event: p.event, Name: name, Want: KindInt, Got: v.kind, GotBits: v.bits})
	}

	ether, _ := new(big.Float).Quo(new(big.Float).SetInt(v.num), weiPerEther).Float64()
	if math.IsInf(ether, 0) {
		panic(&ParamError{Event: p.event, Name: name, Reason: "ether amount overflows float64"})
	}
	return ether
}
