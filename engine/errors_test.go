package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/llfourn/gun-ng/gunerr"
	"github.com/llfourn/gun-ng/oracleclient"
)

func TestWrapOracleErrNil(t *testing.T) {
	t.Parallel()
	require.NoError(t, wrapOracleErr(nil))
}

func TestWrapOracleErrMisbehaved(t *testing.T) {
	t.Parallel()

	oe := &oracleclient.Error{Kind: oracleclient.KindOracleMisbehaved, Err: errors.New("outcome not in set")}
	wrapped := wrapOracleErr(oe)

	var ge *gunerr.Error
	require.ErrorAs(t, wrapped, &ge)
	require.Equal(t, gunerr.ProtocolViolation, ge.Kind)
}

func TestWrapOracleErrTransientIsNetwork(t *testing.T) {
	t.Parallel()

	oe := &oracleclient.Error{Kind: oracleclient.KindTransient, Err: errors.New("timeout")}
	wrapped := wrapOracleErr(oe)

	var ge *gunerr.Error
	require.ErrorAs(t, wrapped, &ge)
	require.Equal(t, gunerr.Network, ge.Kind)
}

func TestWrapOracleErrUnclassifiedIsNetwork(t *testing.T) {
	t.Parallel()

	wrapped := wrapOracleErr(errors.New("connection refused"))

	var ge *gunerr.Error
	require.ErrorAs(t, wrapped, &ge)
	require.Equal(t, gunerr.Network, ge.Kind)
}
