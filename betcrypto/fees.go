package betcrypto

// Rough per-input/output vsize constants for a funding transaction whose
// inputs and bet/change outputs are all P2WPKH/P2WSH -- the same shape of
// estimate walletadapter's coin selection uses for its own rough sizing.
const (
	fundingVSizePerInput  = 68
	fundingVSizePerOutput = 31
	fundingVSizeOverhead  = 11
)

// EstimateFundingVSize roughly sizes a funding transaction with nInputs
// inputs and nOutputs outputs, closely enough for fee-share computation.
// Both parties compute this from input/output counts alone -- public
// information already exchanged in the proposal and offer -- so each
// side derives the identical fee split without a chain round-trip.
func EstimateFundingVSize(nInputs, nOutputs int) int64 {
	return int64(nInputs)*fundingVSizePerInput +
		int64(nOutputs)*fundingVSizePerOutput +
		fundingVSizeOverhead
}

// SplitFundingFee divides a funding transaction's total fee between the
// proposer and offerer in proportion to how many inputs each contributed,
// giving the proposer the integer-division remainder so the two shares
// always sum to fee exactly. Both parties derive the same split from the
// same (proposal, offer) public counts.
func SplitFundingFee(fee int64, proposerInputs, offererInputs int) (proposerShare, offererShare int64) {
	total := proposerInputs + offererInputs
	if total == 0 {
		return 0, 0
	}
	offererShare = fee * int64(offererInputs) / int64(total)
	proposerShare = fee - offererShare
	return proposerShare, offererShare
}
