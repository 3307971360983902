package sink

import (
	"github.com/84hero/evm-gamefinder/pkg/decoder"
	"github.com/84hero/evm-gamefinder/pkg/monitor"
)

// RecordType distinguishes the two things the engine delivers.
type RecordType string

const (
	RecordEvent   RecordType = "event"
	RecordMonitor RecordType = "monitor"
)

// Record is one delivery: a decoded contract event or the terminal status of
// a monitored transaction.
type Record struct {
	Type   RecordType       `json:"type"`
	Event  *decoder.Decoded `json:"event,omitempty"`
	Status *monitor.Status  `json:"status,omitempty"`
}

// EventRecords wraps decoded events, preserving order.
func EventRecords(events []decoder.Decoded) []Record {
	out := make([]Record, len(events))
	for i := range events {
		ev := events[i]
		out[i] = Record{Type: RecordEvent, Event: &ev}
	}
	return out
}

// StatusRecord wraps a monitor status.
func StatusRecord(st monitor.Status) Record {
	return Record{Type: RecordMonitor, Status: &st}
}

// Name is the event kind, or "monitor.<state>".
func (r Record) Name() string {
	switch {
	case r.Event != nil:
		return string(r.Event.Kind)
	case r.Status != nil:
		return "monitor." + string(r.Status.State)
	default:
		return ""
	}
}

// GameCode returns the game the record is about, if known.
func (r Record) GameCode() string {
	switch {
	case r.Event != nil && r.Event.Event != nil:
		return r.Event.Event.Code()
	case r.Status != nil:
		return r.Status.GameCode
	default:
		return ""
	}
}

// TxHash returns the transaction hash in hex.
func (r Record) TxHash() string {
	switch {
	case r.Event != nil:
		return r.Event.TxHash.Hex()
	case r.Status != nil:
		return r.Status.TxHash.Hex()
	default:
		return ""
	}
}

// BlockNumber returns the block the record refers to, 0 when unknown.
func (r Record) BlockNumber() uint64 {
	switch {
	case r.Event != nil:
		return r.Event.BlockNumber
	case r.Status != nil:
		return r.Status.Block
	default:
		return 0
	}
}

// LogIndex is the event's log index; monitor records use 0.
func (r Record) LogIndex() uint {
	if r.Event != nil {
		return r.Event.LogIndex
	}
	return 0
}
