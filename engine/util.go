package engine

import (
	"github.com/btcsuite/btcd/wire"

	"github.com/llfourn/gun-ng/contract"
)

// toOutPoints extracts the outpoints inputs reserve, for the Bet Store's
// reserved-utxo index.
func toOutPoints(inputs []contract.Input) []wire.OutPoint {
	ops := make([]wire.OutPoint, len(inputs))
	for i, in := range inputs {
		ops[i] = in.OutPoint
	}
	return ops
}

// inputTotal sums a set of inputs' values.
func inputTotal(inputs []contract.Input) int64 {
	var total int64
	for _, in := range inputs {
		total += in.Value
	}
	return total
}
