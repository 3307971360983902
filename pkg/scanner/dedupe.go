package scanner

import (
	"sort"

	"github.com/ethereum/go-ethereum/core/types"
)

type logKey struct {
	block   uint64
	txIndex uint
	index   uint
}

func keyOf(lg types.Log) logKey {
	return logKey{block: lg.BlockNumber, txIndex: lg.TxIndex, index: lg.Index}
}

// Dedupe removes logs sharing (blockNumber, txIndex, logIndex), keeping the
// first occurrence, and returns them in chain order. Dedupe(append(a, a...))
// equals Dedupe(a).
func Dedupe(logs []types.Log) []types.Log {
	seen := make(map[logKey]struct{}, len(logs))
	out := make([]types.Log, 0, len(logs))
	for _, lg := range logs {
		k := keyOf(lg)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, lg)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := keyOf(out[i]), keyOf(out[j])
		if a.block != b.block {
			return a.block < b.block
		}
		if a.txIndex != b.txIndex {
			return a.txIndex < b.txIndex
		}
		return a.index < b.index
	})
	return out
}
