package engine

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/llfourn/gun-ng/contract"
)

func TestToOutPoints(t *testing.T) {
	t.Parallel()

	inputs := []contract.Input{
		{OutPoint: wire.OutPoint{Hash: chainhash.Hash{0x01}, Index: 0}, Value: 1000},
		{OutPoint: wire.OutPoint{Hash: chainhash.Hash{0x02}, Index: 1}, Value: 2000},
	}

	ops := toOutPoints(inputs)
	require.Len(t, ops, 2)
	require.Equal(t, inputs[0].OutPoint, ops[0])
	require.Equal(t, inputs[1].OutPoint, ops[1])
}

func TestInputTotal(t *testing.T) {
	t.Parallel()

	require.Equal(t, int64(0), inputTotal(nil))

	inputs := []contract.Input{
		{Value: 1_000},
		{Value: 2_500},
		{Value: 10},
	}
	require.Equal(t, int64(3_510), inputTotal(inputs))
}
