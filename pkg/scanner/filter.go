package scanner

import (
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

// IndexedPositions are the topic slots an indexed address may occupy.
// Topic 0 is always the event signature.
var IndexedPositions = []int{1, 2, 3}

// Filter defines one eth_getLogs query shape.
type Filter struct {
	// Contracts is the list of contract addresses to listen to (Log.Address).
	// If empty, listens to all contracts.
	Contracts []common.Address

	// Topics maps to the eth_getLogs topics parameter: [[A, B], nil, [C]]
	// means (Topic0 in [A, B]) AND (Topic2 in [C]); nil is a wildcard.
	Topics [][]common.Hash
}

// NewFilter creates a new filter
func NewFilter() *Filter {
	return &Filter{
		Contracts: make([]common.Address, 0),
		Topics:    make([][]common.Hash, 0),
	}
}

// AddContract adds contract addresses to listen to
func (f *Filter) AddContract(addrs ...common.Address) *Filter {
	f.Contracts = append(f.Contracts, addrs...)
	return f
}

// SetTopic sets the topics at a specific position, leaving any skipped
// positions as wildcards.
func (f *Filter) SetTopic(pos int, hashes ...common.Hash) *Filter {
	if len(f.Topics) <= pos {
		newTopics := make([][]common.Hash, pos+1)
		copy(newTopics, f.Topics)
		f.Topics = newTopics
	}
	f.Topics[pos] = append(f.Topics[pos], hashes...)
	return f
}

// ToQuery converts the filter to go-ethereum standard query parameters
func (f *Filter) ToQuery(fromBlock, toBlock uint64) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: f.Contracts,
		Topics:    f.Topics,
	}
}

// AddressTopic left-pads an address to the 32-byte form used by indexed
// topics.
func AddressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

// QueryFilters returns the filters issued for every chunk: a single
// contract-wide filter when involved is nil, otherwise one filter per
// indexed position with the address at that slot, in position order.
func QueryFilters(contract common.Address, involved *common.Address) []*Filter {
	if involved == nil {
		return []*Filter{NewFilter().AddContract(contract)}
	}
	topic := AddressTopic(*involved)
	filters := make([]*Filter, 0, len(IndexedPositions))
	for _, pos := range IndexedPositions {
		filters = append(filters, NewFilter().AddContract(contract).SetTopic(pos, topic))
	}
	return filters
}
