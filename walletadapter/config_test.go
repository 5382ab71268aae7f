package walletadapter

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/lnwallet/chainfee"
	"github.com/stretchr/testify/require"
)

// stubChainClient satisfies ChainClient for config validation tests
// that need a non-nil backend but never actually call it.
type stubChainClient struct{}

func (stubChainClient) Broadcast(context.Context, *wire.MsgTx) error { return nil }
func (stubChainClient) GetTransaction(context.Context, chainhash.Hash) (*wire.MsgTx, int64, error) {
	return nil, 0, ErrTxNotFound
}
func (stubChainClient) CurrentHeight(context.Context) (uint32, error) { return 0, nil }
func (stubChainClient) EstimateFee(context.Context, uint32) (chainfee.SatPerKWeight, error) {
	return 0, nil
}
func (stubChainClient) OutpointSpentBy(context.Context, wire.OutPoint) (*chainhash.Hash, error) {
	return nil, nil
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     *Config
		wantErr error
	}{
		{
			name: "valid config",
			cfg: &Config{
				NetParams:   &chaincfg.TestNet3Params,
				Chain:       stubChainClient{},
				PrivatePass: []byte("password"),
			},
			wantErr: nil,
		},
		{
			name: "missing net params",
			cfg: &Config{
				Chain:       stubChainClient{},
				PrivatePass: []byte("password"),
			},
			wantErr: ErrInvalidNetParams,
		},
		{
			name: "missing chain client",
			cfg: &Config{
				NetParams:   &chaincfg.TestNet3Params,
				PrivatePass: []byte("password"),
			},
			wantErr: ErrChainClientRequired,
		},
		{
			name: "missing private pass",
			cfg: &Config{
				NetParams: &chaincfg.TestNet3Params,
				Chain:     stubChainClient{},
			},
			wantErr: ErrPrivatePassRequired,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.cfg.Validate()
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
