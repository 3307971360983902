package monitor

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// State is a step of the transaction lifecycle.
type State string

const (
	StatePending    State = "pending"
	StateConfirming State = "confirming"
	StateConfirmed  State = "confirmed"
	StateExtracting State = "extracting"
	StateComplete   State = "complete"
	StateFailed     State = "failed"
	StateTimeout    State = "timeout"
)

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed || s == StateTimeout
}

// Provenance records which extraction strategy produced a game code.
type Provenance string

const (
	ProvenanceNone    Provenance = ""
	ProvenanceReceipt Provenance = "receipt"     // decoded from the receipt's own logs
	ProvenanceBlock   Provenance = "block_query" // contract events of the receipt block
	ProvenanceRepoll  Provenance = "repoll"      // patient re-poll around the receipt block
	ProvenanceDerived Provenance = "derived"     // derived from the transaction hash
)

// Fallback reports whether the code came from anything but a direct decode.
func (p Provenance) Fallback() bool {
	return p != ProvenanceReceipt && p != ProvenanceNone
}

// Status is one update of a monitored transaction.
type Status struct {
	State      State          `json:"state"`
	TxHash     common.Hash    `json:"tx_hash"`
	Submitter  common.Address `json:"submitter"`
	Block      uint64         `json:"block,omitempty"`
	GameCode   string         `json:"game_code,omitempty"`
	Provenance Provenance     `json:"provenance,omitempty"`
	Error      string         `json:"error,omitempty"`
	At         time.Time      `json:"at"`
}
