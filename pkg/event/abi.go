package event

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var (
	eventNameRe = regexp.MustCompile(`^[A-Z][a-zA-Z0-9_]*$`)
	paramNameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	fixedBytes  = regexp.MustCompile(`^bytes([1-9]|[12][0-9]|3[0-2])$`)
	intTypeRe   = regexp.MustCompile(`^u?int(8|16|24|32|40|48|56|64|72|80|88|96|104|112|120|128|136|144|152|160|168|176|184|192|200|208|216|224|232|240|248|256)?$`) //nolint:lll
)

// Signature is a parsed human-readable event declaration.
type Signature struct {
	// Name is the event name, e.g. "Transfer"
	Name string
	// Canonical is the type-only form hashed into topic0, e.g. "Transfer(address,address,uint256)"
	Canonical string
	// Topic is keccak256(Canonical)
	Topic common.Hash

	abi abi.Event
}

// Inputs returns the ABI arguments in declaration order.
func (s *Signature) Inputs() abi.Arguments {
	return s.abi.Inputs
}

// IndexedCount returns the number of indexed arguments, i.e. the expected topic count minus one.
func (s *Signature) IndexedCount() int {
	n := 0
	for _, in := range s.abi.Inputs {
		if in.Indexed {
			n++
		}
	}
	return n
}

// ParseSignature parses a declaration such as
// "Transfer(address indexed from, address indexed to, uint256 indexed tokenId)".
// A leading "event " keyword is accepted. Every parameter must be named because handlers
// address parameters by name. Tuples are not supported.
func ParseSignature(sig string) (*Signature, error) {
	sig = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(sig), "event "))
	if sig == "" {
		return nil, fmt.Errorf("empty signature")
	}

	openParen := strings.Index(sig, "(")
	if openParen == -1 {
		return nil, fmt.Errorf("invalid signature: missing opening parenthesis")
	}

	name := strings.TrimSpace(sig[:openParen])
	if !eventNameRe.MatchString(name) {
		return nil, fmt.Errorf("invalid event name '%s': must start "+
			"with uppercase letter and contain only alphanumeric characters", name)
	}

	closeParen := strings.LastIndex(sig, ")")
	if closeParen <= openParen || strings.TrimSpace(sig[closeParen+1:]) != "" {
		return nil, fmt.Errorf("invalid signature: malformed parentheses")
	}

	inputs, err := parseArguments(sig[openParen+1 : closeParen])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	ev := abi.NewEvent(name, name, false, inputs)

	return &Signature{
		Name:      name,
		Canonical: ev.Sig,
		Topic:     ev.ID,
		abi:       ev,
	}, nil
}

// MustParseSignature is ParseSignature for package-level declarations.
func MustParseSignature(sig string) *Signature {
	s, err := ParseSignature(sig)
	if err != nil {
		panic(err)
	}
	return s
}

func parseArguments(list string) (abi.Arguments, error) {
	list = strings.TrimSpace(list)
	if list == "" {
		return abi.Arguments{}, nil
	}
	if strings.ContainsAny(list, "()") {
		return nil, fmt.Errorf("tuple parameters are not supported")
	}

	parts := strings.Split(list, ",")
	args := make(abi.Arguments, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))

	for _, part := range parts {
		arg, err := parseArgument(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid parameter '%s': %w", part, err)
		}
		if _, dup := seen[arg.Name]; dup {
			return nil, fmt.Errorf("duplicate parameter name: %s", arg.Name)
		}
		seen[arg.Name] = struct{}{}
		args = append(args, arg)
	}

	return args, nil
}

// parseArgument accepts "type name" or "type indexed name".
func parseArgument(s string) (abi.Argument, error) {
	fields := strings.Fields(s)

	var typ, name string
	indexed := false

	switch len(fields) {
	case 2: //nolint:mnd
		typ, name = fields[0], fields[1]
	case 3: //nolint:mnd
		if fields[1] != "indexed" {
			return abi.Argument{}, fmt.Errorf("expected 'indexed' keyword, got '%s'", fields[1])
		}
		typ, name, indexed = fields[0], fields[2], true
	case 0:
		return abi.Argument{}, fmt.Errorf("empty parameter")
	default:
		return abi.Argument{}, fmt.Errorf("parameter must be named: 'type [indexed] name'")
	}

	if !isSupportedType(typ) {
		return abi.Argument{}, fmt.Errorf("unsupported Solidity type: %s", typ)
	}
	if !paramNameRe.MatchString(name) {
		return abi.Argument{}, fmt.Errorf("invalid parameter name: %s", name)
	}

	abiType, err := abi.NewType(canonicalType(typ), "", nil)
	if err != nil {
		return abi.Argument{}, err
	}

	return abi.Argument{Name: name, Type: abiType, Indexed: indexed}, nil
}

func isSupportedType(typ string) bool {
	switch typ {
	case "address", "bool", "string", "bytes":
		return true
	}
	return fixedBytes.MatchString(typ) || intTypeRe.MatchString(typ)
}

// canonicalType expands the "uint"/"int" aliases so topic0 hashes match the chain.
func canonicalType(typ string) string {
	switch typ {
	case "uint":
		return "uint256"
	case "int":
		return "int256"
	}
	return typ
}
