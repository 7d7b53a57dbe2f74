package projection

import (
	"fmt"
	"math/big"
	"regexp"

	"github.com/ethereum/go-ethereum/common"
)

var identifierRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ValidIdentifier reports whether s can be used as a table or column name.
func ValidIdentifier(s string) bool {
	return identifierRe.MatchString(s)
}

// Term is one column/value pair of a filter or an update.
type Term struct {
	Column string
	Value  any
}

// Filters is a conjunction of equality predicates. Unless WithinMultiChain is set,
// the store also restricts matches to the handler's chain.
type Filters struct {
	terms      []Term
	multiChain bool
}

// Where starts a filter with column = value.
func Where(column string, value any) Filters {
	return Filters{}.And(column, value)
}

// And adds column = value.
func (f Filters) And(column string, value any) Filters {
	terms := make([]Term, len(f.terms), len(f.terms)+1)
	copy(terms, f.terms)
	f.terms = append(terms, Term{Column: column, Value: Normalize(value)})
	return f
}

// WithinMultiChain drops the implicit chain restriction, for entities aggregated across chains.
func (f Filters) WithinMultiChain() Filters {
	f.multiChain = true
	return f
}

// MultiChain reports whether the chain restriction is dropped.
func (f Filters) MultiChain() bool {
	return f.multiChain
}

// Terms returns the predicates in the order they were added.
func (f Filters) Terms() []Term {
	return f.terms
}

// Validate rejects empty filters and column names that are not plain identifiers.
func (f Filters) Validate() error {
	if len(f.terms) == 0 {
		return fmt.Errorf("filters must have at least one predicate")
	}
	return validateTerms(f.terms)
}

// Updates is an ordered list of column assignments.
type Updates struct {
	terms []Term
}

// Set starts an update list with column = value.
func Set(column string, value any) Updates {
	return Updates{}.Set(column, value)
}

// Set adds column = value.
func (u Updates) Set(column string, value any) Updates {
	terms := make([]Term, len(u.terms), len(u.terms)+1)
	copy(terms, u.terms)
	u.terms = append(terms, Term{Column: column, Value: Normalize(value)})
	return u
}

// Terms returns the assignments in the order they were added.
func (u Updates) Terms() []Term {
	return u.terms
}

// Validate rejects empty updates, bad column names and writes to store-managed columns.
func (u Updates) Validate() error {
	if len(u.terms) == 0 {
		return fmt.Errorf("updates must assign at least one column")
	}
	for _, t := range u.terms {
		switch t.Column {
		case "id", "chain_id", "block_number", "updated_block":
			return fmt.Errorf("column %s is managed by the store", t.Column)
		}
	}
	return validateTerms(u.terms)
}

func validateTerms(terms []Term) error {
	for _, t := range terms {
		if !ValidIdentifier(t.Column) {
			return fmt.Errorf("invalid column name %q", t.Column)
		}
	}
	return nil
}

// Normalize converts a value to the form it is stored in: addresses as checksummed hex,
// big integers as decimal text.
func Normalize(v any) any {
	switch val := v.(type) {
	case common.Address:
		return val.Hex()
	case *common.Address:
		return val.Hex()
	case *big.Int:
		return val.String()
	case big.Int:
		return val.String()
	case common.Hash:
		return val.Hex()
	default:
		return v
	}
}
