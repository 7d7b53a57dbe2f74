package event

import (
	"fmt"
	"math/big"
	"reflect"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Decoder turns raw logs into Events for a fixed set of signatures.
type Decoder struct {
	byTopic map[common.Hash]*Signature
}

// NewDecoder indexes the given signatures by topic0.
func NewDecoder(sigs ...*Signature) (*Decoder, error) {
	d := &Decoder{byTopic: make(map[common.Hash]*Signature, len(sigs))}
	for _, sig := range sigs {
		if prev, ok := d.byTopic[sig.Topic]; ok && prev.Canonical != sig.Canonical {
			return nil, fmt.Errorf("topic collision between %s and %s", prev.Canonical, sig.Canonical)
		}
		d.byTopic[sig.Topic] = sig
	}
	return d, nil
}

// Signature returns the registered signature for topic0.
func (d *Decoder) Signature(topic common.Hash) (*Signature, bool) {
	sig, ok := d.byTopic[topic]
	return sig, ok
}

// Decode decodes one log observed on chainID. A log whose topic0 is not registered
// yields ErrUnknownEvent. A log whose shape disagrees with its registered signature
// yields an error wrapping ErrDecodingViolation.
func (d *Decoder) Decode(chainID uint64, log types.Log, blockTimestamp uint64) (*Event, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("log %s/%d has no topics: %w", log.TxHash.Hex(), log.Index, ErrUnknownEvent)
	}

	sig, ok := d.byTopic[log.Topics[0]]
	if !ok {
		return nil, fmt.Errorf("topic %s: %w", log.Topics[0].Hex(), ErrUnknownEvent)
	}

	params, err := decodeParams(sig, log)
	if err != nil {
		return nil, fmt.Errorf("decode %s in tx %s: %w: %w", sig.Canonical, log.TxHash.Hex(), ErrDecodingViolation, err)
	}

	return &Event{
		ChainID:         chainID,
		ContractAddress: log.Address,
		BlockNumber:     log.BlockNumber,
		BlockHash:       log.BlockHash,
		BlockTimestamp:  blockTimestamp,
		TxHash:          log.TxHash,
		TxIndex:         log.TxIndex,
		LogIndex:        log.Index,
		Removed:         log.Removed,
		Name:            sig.Name,
		Signature:       sig.Canonical,
		Topic:           sig.Topic,
		Params:          params,
	}, nil
}

func decodeParams(sig *Signature, log types.Log) (Params, error) {
	inputs := sig.Inputs()

	var indexed abi.Arguments
	for _, in := range inputs {
		if in.Indexed {
			indexed = append(indexed, in)
		}
	}
	if len(log.Topics)-1 != len(indexed) {
		return Params{}, fmt.Errorf("expected %d indexed topics, got %d", len(indexed), len(log.Topics)-1)
	}

	raw := make(map[string]any, len(inputs))
	if err := abi.ParseTopicsIntoMap(raw, indexed, log.Topics[1:]); err != nil {
		return Params{}, fmt.Errorf("topics: %w", err)
	}
	if err := inputs.NonIndexed().UnpackIntoMap(raw, log.Data); err != nil {
		return Params{}, fmt.Errorf("data: %w", err)
	}

	params := make([]Param, 0, len(inputs))
	for _, in := range inputs {
		v, err := toValue(in, raw[in.Name])
		if err != nil {
			return Params{}, fmt.Errorf("parameter %s: %w", in.Name, err)
		}
		params = append(params, Param{Name: in.Name, Value: v})
	}

	return NewParams(sig.Name, params...), nil
}

// toValue maps what go-ethereum produces for one argument onto a Value.
func toValue(arg abi.Argument, raw any) (Value, error) {
	switch arg.Type.T {
	case abi.AddressTy:
		addr, ok := raw.(common.Address)
		if !ok {
			return Value{}, fmt.Errorf("unexpected %T for address", raw)
		}
		return AddressValue(addr), nil

	case abi.UintTy:
		n, ok := asBigInt(raw)
		if !ok {
			return Value{}, fmt.Errorf("unexpected %T for %s", raw, arg.Type)
		}
		return UintValue(arg.Type.Size, n), nil

	case abi.IntTy:
		n, ok := asBigInt(raw)
		if !ok {
			return Value{}, fmt.Errorf("unexpected %T for %s", raw, arg.Type)
		}
		return IntValue(arg.Type.Size, n), nil

	case abi.BoolTy:
		b, ok := raw.(bool)
		if !ok {
			return Value{}, fmt.Errorf("unexpected %T for bool", raw)
		}
		return BoolValue(b), nil

	case abi.StringTy:
		switch s := raw.(type) {
		case string:
			return StringValue(s), nil
		case common.Hash:
			// indexed dynamic values only carry their hash
			return BytesValue(s.Bytes()), nil
		}
		return Value{}, fmt.Errorf("unexpected %T for string", raw)

	case abi.BytesTy:
		switch b := raw.(type) {
		case []byte:
			return BytesValue(b), nil
		case common.Hash:
			return BytesValue(b.Bytes()), nil
		}
		return Value{}, fmt.Errorf("unexpected %T for bytes", raw)

	case abi.FixedBytesTy:
		rv := reflect.ValueOf(raw)
		if rv.Kind() != reflect.Array || rv.Type().Elem().Kind() != reflect.Uint8 {
			return Value{}, fmt.Errorf("unexpected %T for %s", raw, arg.Type)
		}
		out := make([]byte, rv.Len())
		reflect.Copy(reflect.ValueOf(out), rv)
		return BytesValue(out), nil
	}

	return Value{}, fmt.Errorf("unsupported type %s", arg.Type)
}

func asBigInt(v any) (*big.Int, bool) {
	switch val := v.(type) {
	case *big.Int:
		if val == nil {
			return nil, false
		}
		return val, true
	case big.Int:
		return &val, true
	case uint8:
		return new(big.Int).SetUint64(uint64(val)), true
	case uint16:
		return new(big.Int).SetUint64(uint64(val)), true
	case uint32:
		return new(big.Int).SetUint64(uint64(val)), true
	case uint64:
		return new(big.Int).SetUint64(val), true
	case int8:
		return big.NewInt(int64(val)), true
	case int16:
		return big.NewInt(int64(val)), true
	case int32:
		return big.NewInt(int64(val)), true
	case int64:
		return big.NewInt(val), true
	default:
		return nil, false
	}
}
