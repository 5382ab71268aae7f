package engine

import (
	"errors"

	"github.com/llfourn/gun-ng/gunerr"
	"github.com/llfourn/gun-ng/oracleclient"
)

// wrapOracleErr maps an oracleclient error's taxonomy onto gunerr's:
// transient and permanent oracle failures are both Network from the
// Engine's point of view (neither mutates bet state), while a misbehaving
// oracle is a ProtocolViolation the caller surfaces to the user.
func wrapOracleErr(err error) error {
	if err == nil {
		return nil
	}
	var oe *oracleclient.Error
	if errors.As(err, &oe) {
		switch oe.Kind {
		case oracleclient.KindOracleMisbehaved:
			return gunerr.New(gunerr.ProtocolViolation, err)
		default:
			return gunerr.New(gunerr.Network, err)
		}
	}
	return gunerr.New(gunerr.Network, err)
}
