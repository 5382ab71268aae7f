package engine

import "github.com/lightningnetwork/lnd/lnwallet/chainfee"

// satPerVByteToSatPerKWeight converts the sat/vByte rate the bet record
// and CLI speak into the
// sat/kilo-weight-unit the Wallet Adapter's ChainClient and btcwallet
// expect internally. 1 vbyte == 4 weight units.
func satPerVByteToSatPerKWeight(satPerVByte uint32) chainfee.SatPerKWeight {
	return chainfee.SatPerKWeight(uint64(satPerVByte) * 1000 / 4)
}
