package event

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Position orders events inside one chain's stream.
type Position struct {
	Block    uint64
	LogIndex uint
}

// Less reports whether p comes strictly before o.
func (p Position) Less(o Position) bool {
	if p.Block != o.Block {
		return p.Block < o.Block
	}
	return p.LogIndex < o.LogIndex
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Block, p.LogIndex)
}

// Event is a decoded contract log together with its provenance.
type Event struct {
	ChainID         uint64
	ContractAddress common.Address
	BlockNumber     uint64
	BlockHash       common.Hash
	BlockTimestamp  uint64
	TxHash          common.Hash
	TxIndex         uint
	LogIndex        uint
	// Removed is set when the log was dropped by a chain reorganization.
	Removed bool

	Name      string
	Signature string
	Topic     common.Hash
	Params    Params
}

// Position returns the event's place in its chain's stream.
func (e *Event) Position() Position {
	return Position{Block: e.BlockNumber, LogIndex: e.LogIndex}
}

func (e *Event) String() string {
	return fmt.Sprintf("%s@%d/%s/%s", e.Name, e.ChainID, e.ContractAddress.Hex(), e.Position())
}
