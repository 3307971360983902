package decoder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Kind names a contract event.
type Kind string

const (
	KindGameStarted     Kind = "GameStarted"
	KindPlayerJoined    Kind = "PlayerJoined"
	KindGameLocked      Kind = "GameLocked"
	KindWinnersReported Kind = "WinnersReported"
	KindPrizeClaimed    Kind = "PrizeClaimed"
	KindGameRefunded    Kind = "GameRefunded"
)

// Event is one decoded contract event. Concrete types are the structs below.
type Event interface {
	Kind() Kind
	Code() string
}

// GameStarted(string gameCode, address indexed creator, address token, uint256 stake)
type GameStarted struct {
	GameCode string         `json:"game_code"`
	Creator  common.Address `json:"creator"`
	Token    common.Address `json:"token"`
	Stake    *big.Int       `json:"stake"`
}

// PlayerJoined(string gameCode, address indexed player, uint256 stake)
type PlayerJoined struct {
	GameCode string         `json:"game_code"`
	Player   common.Address `json:"player"`
	Stake    *big.Int       `json:"stake"`
}

// GameLocked(string gameCode, address indexed creator)
type GameLocked struct {
	GameCode string         `json:"game_code"`
	Creator  common.Address `json:"creator"`
}

// WinnersReported(string gameCode, address indexed reporter, address[] winners)
type WinnersReported struct {
	GameCode string           `json:"game_code"`
	Reporter common.Address   `json:"reporter"`
	Winners  []common.Address `json:"winners"`
}

// PrizeClaimed(string gameCode, address indexed token, address indexed winner, uint256 amount)
type PrizeClaimed struct {
	GameCode string         `json:"game_code"`
	Token    common.Address `json:"token"`
	Winner   common.Address `json:"winner"`
	Amount   *big.Int       `json:"amount"`
}

// GameRefunded(string gameCode, address indexed token, address indexed creator, address indexed player, uint256 amount)
type GameRefunded struct {
	GameCode string         `json:"game_code"`
	Token    common.Address `json:"token"`
	Creator  common.Address `json:"creator"`
	Player   common.Address `json:"player"`
	Amount   *big.Int       `json:"amount"`
}

func (e GameStarted) Kind() Kind     { return KindGameStarted }
func (e PlayerJoined) Kind() Kind    { return KindPlayerJoined }
func (e GameLocked) Kind() Kind      { return KindGameLocked }
func (e WinnersReported) Kind() Kind { return KindWinnersReported }
func (e PrizeClaimed) Kind() Kind    { return KindPrizeClaimed }
func (e GameRefunded) Kind() Kind    { return KindGameRefunded }

func (e GameStarted) Code() string     { return e.GameCode }
func (e PlayerJoined) Code() string    { return e.GameCode }
func (e GameLocked) Code() string      { return e.GameCode }
func (e WinnersReported) Code() string { return e.GameCode }
func (e PrizeClaimed) Code() string    { return e.GameCode }
func (e GameRefunded) Code() string    { return e.GameCode }

// layout is the byte layout of one event.
type layout struct {
	kind      Kind
	signature string
	indexed   int // indexed arguments after topic0
	head      int // fixed 32-byte slots in data

	// decode receives exactly `indexed` topics (zero hashes when decoding
	// from data alone) and data at least `head` slots long.
	decode func(topics []common.Hash, data []byte) (Event, bool)
}

// Topics are derived from the signatures in init.
var layouts = []layout{
	{
		kind:      KindGameStarted,
		signature: "GameStarted(string,address,address,uint256)",
		indexed:   1,
		head:      3,
		decode: func(topics []common.Hash, data []byte) (Event, bool) {
			code, ok := decodeCode(data, 0)
			if !ok {
				return nil, false
			}
			token, _ := Word(data, 1)
			stake, _ := Word(data, 2)
			return GameStarted{GameCode: code, Creator: TopicAddress(topics[0]), Token: DecodeAddress(token), Stake: DecodeUint(stake)}, true
		},
	},
	{
		kind:      KindPlayerJoined,
		signature: "PlayerJoined(string,address,uint256)",
		indexed:   1,
		head:      2,
		decode: func(topics []common.Hash, data []byte) (Event, bool) {
			code, ok := decodeCode(data, 0)
			if !ok {
				return nil, false
			}
			stake, _ := Word(data, 1)
			return PlayerJoined{GameCode: code, Player: TopicAddress(topics[0]), Stake: DecodeUint(stake)}, true
		},
	},
	{
		kind:      KindGameLocked,
		signature: "GameLocked(string,address)",
		indexed:   1,
		head:      1,
		decode: func(topics []common.Hash, data []byte) (Event, bool) {
			code, ok := decodeCode(data, 0)
			if !ok {
				return nil, false
			}
			return GameLocked{GameCode: code, Creator: TopicAddress(topics[0])}, true
		},
	},
	{
		kind:      KindWinnersReported,
		signature: "WinnersReported(string,address,address[])",
		indexed:   1,
		head:      2,
		decode: func(topics []common.Hash, data []byte) (Event, bool) {
			code, ok := decodeCode(data, 0)
			if !ok {
				return nil, false
			}
			winners, ok := DecodeAddressArrayAt(data, 1)
			if !ok {
				return nil, false
			}
			return WinnersReported{GameCode: code, Reporter: TopicAddress(topics[0]), Winners: winners}, true
		},
	},
	{
		kind:      KindPrizeClaimed,
		signature: "PrizeClaimed(string,address,address,uint256)",
		indexed:   2,
		head:      2,
		decode: func(topics []common.Hash, data []byte) (Event, bool) {
			code, ok := decodeCode(data, 0)
			if !ok {
				return nil, false
			}
			amount, _ := Word(data, 1)
			return PrizeClaimed{GameCode: code, Token: TopicAddress(topics[0]), Winner: TopicAddress(topics[1]), Amount: DecodeUint(amount)}, true
		},
	},
	{
		kind:      KindGameRefunded,
		signature: "GameRefunded(string,address,address,address,uint256)",
		indexed:   3,
		head:      2,
		decode: func(topics []common.Hash, data []byte) (Event, bool) {
			code, ok := decodeCode(data, 0)
			if !ok {
				return nil, false
			}
			amount, _ := Word(data, 1)
			return GameRefunded{
				GameCode: code,
				Token:    TopicAddress(topics[0]),
				Creator:  TopicAddress(topics[1]),
				Player:   TopicAddress(topics[2]),
				Amount:   DecodeUint(amount),
			}, true
		},
	},
}

var (
	byTopic = make(map[common.Hash]*layout, len(layouts))
	byKind  = make(map[Kind]common.Hash, len(layouts))
)

func init() {
	for i := range layouts {
		l := &layouts[i]
		topic := crypto.Keccak256Hash([]byte(l.signature))
		byTopic[topic] = l
		byKind[l.kind] = topic
	}
}

// decodeCode decodes the game code string at slot and normalises it.
func decodeCode(data []byte, slot int) (string, bool) {
	s, ok := DecodeStringAt(data, slot)
	if !ok {
		return "", false
	}
	return NormalizeGameCode(s)
}

// Topic returns the signature topic (topic0) of an event kind.
func Topic(k Kind) (common.Hash, bool) {
	h, ok := byKind[k]
	return h, ok
}

// Signature returns the canonical signature of an event kind.
func Signature(k Kind) string {
	for _, l := range layouts {
		if l.kind == k {
			return l.signature
		}
	}
	return ""
}

// Topics returns the signature topics of every known event.
func Topics() []common.Hash {
	out := make([]common.Hash, 0, len(layouts))
	for _, l := range layouts {
		out = append(out, byKind[l.kind])
	}
	return out
}

// DecodeEvent decodes the data section of an event identified by its
// signature topic. Indexed fields are left zero. Unknown signatures and
// layouts too short for the event return ok == false.
func DecodeEvent(signature common.Hash, data []byte) (Event, bool) {
	l, ok := byTopic[signature]
	if !ok || len(data) < l.head*WordSize {
		return nil, false
	}
	return l.decode(make([]common.Hash, l.indexed), data)
}

// Decoded couples an event with the position of the log it came from.
type Decoded struct {
	Event       Event          `json:"event"`
	Kind        Kind           `json:"kind"`
	Contract    common.Address `json:"contract"`
	BlockNumber uint64         `json:"block_number"`
	TxHash      common.Hash    `json:"tx_hash"`
	TxIndex     uint           `json:"tx_index"`
	LogIndex    uint           `json:"log_index"`
}

// DecodeLog decodes a full log, indexed topics included.
func DecodeLog(lg types.Log) (Decoded, bool) {
	if len(lg.Topics) == 0 {
		return Decoded{}, false
	}
	l, ok := byTopic[lg.Topics[0]]
	if !ok || len(lg.Topics)-1 < l.indexed || len(lg.Data) < l.head*WordSize {
		return Decoded{}, false
	}
	ev, ok := l.decode(lg.Topics[1:1+l.indexed], lg.Data)
	if !ok {
		return Decoded{}, false
	}
	return Decoded{
		Event:       ev,
		Kind:        ev.Kind(),
		Contract:    lg.Address,
		BlockNumber: lg.BlockNumber,
		TxHash:      lg.TxHash,
		TxIndex:     lg.TxIndex,
		LogIndex:    lg.Index,
	}, true
}

// DecodeLogs decodes every recognised log, preserving order.
func DecodeLogs(logs []types.Log) []Decoded {
	out := make([]Decoded, 0, len(logs))
	for _, lg := range logs {
		if d, ok := DecodeLog(lg); ok {
			out = append(out, d)
		}
	}
	return out
}
