package engine

import (
	"testing"

	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/stretchr/testify/require"
)

func TestSatPerVByteToSatPerKWeight(t *testing.T) {
	t.Parallel()

	cases := []struct {
		vByte uint32
		want  chainfee.SatPerKWeight
	}{
		{vByte: 1, want: 250},
		{vByte: 4, want: 1000},
		{vByte: 2, want: 500},
		{vByte: 0, want: 0},
	}

	for _, c := range cases {
		require.Equal(t, c.want, satPerVByteToSatPerKWeight(c.vByte))
	}
}
