package state

import "math/big"

// Verifying keys are registered on chain under a signature packing the
// parameters the circuit was compiled with.

// GenProcessVkSig returns batchSize<<128 + stateTreeDepth<<64 +
// voteOptionTreeDepth.
func GenProcessVkSig(stateTreeDepth, voteOptionTreeDepth uint8, batchSize uint64) *big.Int {
	return packVkSig(batchSize, uint64(stateTreeDepth), uint64(voteOptionTreeDepth))
}

// GenTallyVkSig returns stateTreeDepth<<128 + intStateTreeDepth<<64 +
// voteOptionTreeDepth.
func GenTallyVkSig(stateTreeDepth, intStateTreeDepth, voteOptionTreeDepth uint8) *big.Int {
	return packVkSig(uint64(stateTreeDepth), uint64(intStateTreeDepth), uint64(voteOptionTreeDepth))
}

// GenPollJoiningVkSig returns stateTreeDepth<<64 + voteOptionTreeDepth.
func GenPollJoiningVkSig(stateTreeDepth, voteOptionTreeDepth uint8) *big.Int {
	return packVkSig(0, uint64(stateTreeDepth), uint64(voteOptionTreeDepth))
}

// GenPollJoinedVkSig returns stateTreeDepth<<128 + voteOptionTreeDepth<<64.
func GenPollJoinedVkSig(stateTreeDepth, voteOptionTreeDepth uint8) *big.Int {
	return packVkSig(uint64(stateTreeDepth), uint64(voteOptionTreeDepth), 0)
}

func packVkSig(hi, mid, lo uint64) *big.Int {
	sig := new(big.Int).Lsh(new(big.Int).SetUint64(hi), 128)
	sig.Add(sig, new(big.Int).Lsh(new(big.Int).SetUint64(mid), 64))
	return sig.Add(sig, new(big.Int).SetUint64(lo))
}
