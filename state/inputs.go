package state

import (
	"github.com/vocdoni/maci-coordinator/types"
)

// ProcessMessagesInputs is the witness of one message processing batch, as
// consumed by the message processing circuit.
type ProcessMessagesInputs struct {
	PollID                   types.PollID      `json:"pollId"`
	ActualStateTreeDepth     uint64            `json:"actualStateTreeDepth"`
	NumSignUps               uint64            `json:"numSignUps"`
	Index                    uint64            `json:"index"`
	BatchEndIndex            uint64            `json:"batchEndIndex"`
	InputBatchHash           *types.BigInt     `json:"inputBatchHash"`
	OutputBatchHash          *types.BigInt     `json:"outputBatchHash"`
	Msgs                     [][]*types.BigInt `json:"msgs"`
	CoordPrivKey             *types.BigInt     `json:"coordPrivKey"`
	CoordinatorPublicKeyHash *types.BigInt     `json:"coordinatorPublicKeyHash"`
	EncPubKeys               [][]*types.BigInt `json:"encPubKeys"`

	CurrentStateRoot               *types.BigInt     `json:"currentStateRoot"`
	CurrentStateLeaves             [][]*types.BigInt `json:"currentStateLeaves"`
	CurrentStateLeavesPathElements [][]*types.BigInt `json:"currentStateLeavesPathElements"`
	CurrentSbCommitment            *types.BigInt     `json:"currentSbCommitment"`
	CurrentSbSalt                  *types.BigInt     `json:"currentSbSalt"`
	NewSbCommitment                *types.BigInt     `json:"newSbCommitment"`
	NewSbSalt                      *types.BigInt     `json:"newSbSalt"`
	CurrentBallotRoot              *types.BigInt     `json:"currentBallotRoot"`
	CurrentBallots                 [][]*types.BigInt `json:"currentBallots"`
	CurrentBallotsPathElements     [][]*types.BigInt `json:"currentBallotsPathElements"`
	CurrentVoteWeights             []*types.BigInt   `json:"currentVoteWeights"`
	// one entry per message, per level, with the four siblings of the
	// arity 5 vote option tree
	CurrentVoteWeightsPathElements [][][]*types.BigInt `json:"currentVoteWeightsPathElements"`

	// Outcomes holds the validation result of each message of the batch in
	// log order. It is not part of the circuit witness.
	Outcomes []*MessageOutcome `json:"-" cbor:"-"`
}

// TallyVotesInputs is the witness of one tally batch.
type TallyVotesInputs struct {
	PollID                 types.PollID      `json:"pollId"`
	StateRoot              *types.BigInt     `json:"stateRoot"`
	BallotRoot             *types.BigInt     `json:"ballotRoot"`
	SbSalt                 *types.BigInt     `json:"sbSalt"`
	Index                  uint64            `json:"index"`
	NumSignUps             uint64            `json:"numSignUps"`
	SbCommitment           *types.BigInt     `json:"sbCommitment"`
	CurrentTallyCommitment *types.BigInt     `json:"currentTallyCommitment"`
	NewTallyCommitment     *types.BigInt     `json:"newTallyCommitment"`
	Ballots                [][]*types.BigInt `json:"ballots"`
	BallotPathElements     [][]*types.BigInt `json:"ballotPathElements"`
	Votes                  [][]*types.BigInt `json:"votes"`

	CurrentResults                        []*types.BigInt `json:"currentResults"`
	CurrentResultsRootSalt                *types.BigInt   `json:"currentResultsRootSalt"`
	CurrentSpentVoiceCreditSubtotal       *types.BigInt   `json:"currentSpentVoiceCreditSubtotal"`
	CurrentSpentVoiceCreditSubtotalSalt   *types.BigInt   `json:"currentSpentVoiceCreditSubtotalSalt"`
	CurrentPerVOSpentVoiceCredits         []*types.BigInt `json:"currentPerVOSpentVoiceCredits,omitempty"`
	CurrentPerVOSpentVoiceCreditsRootSalt *types.BigInt   `json:"currentPerVOSpentVoiceCreditsRootSalt,omitempty"`
	NewResultsRootSalt                    *types.BigInt   `json:"newResultsRootSalt"`
	NewPerVOSpentVoiceCreditsRootSalt     *types.BigInt   `json:"newPerVOSpentVoiceCreditsRootSalt,omitempty"`
	NewSpentVoiceCreditSubtotalSalt       *types.BigInt   `json:"newSpentVoiceCreditSubtotalSalt"`
}

// PollJoiningInputs proves that a registry signup owns a poll nullifier.
type PollJoiningInputs struct {
	PrivKey              *types.BigInt   `json:"privKey"`
	PollPubKey           []*types.BigInt `json:"pollPubKey"`
	StateLeaf            []*types.BigInt `json:"stateLeaf"`
	Siblings             []*types.BigInt `json:"siblings"`
	Indices              []*types.BigInt `json:"indices"`
	Nullifier            *types.BigInt   `json:"nullifier"`
	Credits              *types.BigInt   `json:"credits"`
	StateRoot            *types.BigInt   `json:"stateRoot"`
	ActualStateTreeDepth uint64          `json:"actualStateTreeDepth"`
	PollID               types.PollID    `json:"pollId"`
}

// PollJoinedInputs proves that a voter holds a leaf of the poll state tree.
type PollJoinedInputs struct {
	PrivKey              *types.BigInt     `json:"privKey"`
	VoiceCreditsBalance  *types.BigInt     `json:"voiceCreditsBalance"`
	JoinTimestamp        *types.BigInt     `json:"joinTimestamp"`
	StateLeaf            []*types.BigInt   `json:"stateLeaf"`
	PathElements         [][]*types.BigInt `json:"pathElements"`
	PathIndices          []*types.BigInt   `json:"pathIndices"`
	Credits              *types.BigInt     `json:"credits"`
	StateRoot            *types.BigInt     `json:"stateRoot"`
	ActualStateTreeDepth uint64            `json:"actualStateTreeDepth"`
}
