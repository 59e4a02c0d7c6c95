package state

import (
	"fmt"
	"math/big"

	"github.com/vocdoni/maci-coordinator/command"
	"github.com/vocdoni/maci-coordinator/crypto/keys"
)

// RejectReason tells why a message had no effect.
type RejectReason uint8

const (
	// RejectNone is the reason of accepted messages.
	RejectNone RejectReason = iota
	// RejectDecryption: the message does not decrypt under the coordinator key.
	RejectDecryption
	// RejectStateIndex: the state index is not a joined voter.
	RejectStateIndex
	// RejectSignature: the signature does not match the current voter key.
	RejectSignature
	// RejectNonce: the nonce is not the ballot nonce plus one.
	RejectNonce
	// RejectVoteOption: the vote option index is out of range.
	RejectVoteOption
	// RejectVoiceCredits: the voter cannot afford the new weight.
	RejectVoiceCredits
	// RejectPollID: the command targets another poll.
	RejectPollID
)

var rejectReasonNames = map[RejectReason]string{
	RejectNone:         "none",
	RejectDecryption:   "decryption failed",
	RejectStateIndex:   "invalid state index",
	RejectSignature:    "invalid signature",
	RejectNonce:        "invalid nonce",
	RejectVoteOption:   "invalid vote option",
	RejectVoiceCredits: "insufficient voice credits",
	RejectPollID:       "invalid poll id",
}

// String returns a human readable reason.
func (r RejectReason) String() string {
	if s, ok := rejectReasonNames[r]; ok {
		return s
	}
	return fmt.Sprintf("reason(%d)", uint8(r))
}

// MessageOutcome is the result of validating one message against the
// current poll state. Validation never mutates the poll; accepted outcomes
// carry the leaf and ballot that replace the current ones.
type MessageOutcome struct {
	Accepted bool
	Reason   RejectReason
	// Command is the decrypted command, or the unauthenticated decryption
	// when Reason is RejectDecryption.
	Command *command.Command
	// StateIndex and VoteOptionIndex locate the witness leaves: the target
	// of an accepted command, or a deterministic in-range position for a
	// rejected one.
	StateIndex      uint64
	VoteOptionIndex uint64
	NewStateLeaf    *StateLeaf
	NewBallot       *Ballot
}

// ProcessMessage decrypts and validates one message. Invalid messages are
// not errors: they produce a rejected outcome. Errors are only returned
// when the poll cannot validate at all.
func (p *Poll) ProcessMessage(msg *command.Message, encPubKey *keys.PubKey) (*MessageOutcome, error) {
	if p.coordinatorPrivKey == nil {
		return nil, ErrCoordinatorKeyMissing
	}
	if msg == nil || encPubKey == nil {
		return nil, fmt.Errorf("nil message or encryption key")
	}
	shared := keys.GenEcdhSharedKey(p.coordinatorPrivKey, encPubKey)
	cmd, sig, err := command.Decrypt(msg, shared)
	if err != nil {
		return p.reject(command.ForceDecrypt(msg, shared), RejectDecryption), nil
	}
	return p.validate(cmd, sig), nil
}

func (p *Poll) reject(cmd *command.Command, reason RejectReason) *MessageOutcome {
	out := &MessageOutcome{Reason: reason, Command: cmd}
	if cmd.StateIndex < uint64(len(p.stateLeaves)) {
		out.StateIndex = cmd.StateIndex
	}
	if cmd.VoteOptionIndex < p.maxValues.MaxVoteOptions {
		out.VoteOptionIndex = cmd.VoteOptionIndex
	}
	return out
}

func (p *Poll) validate(cmd *command.Command, sig *keys.Signature) *MessageOutcome {
	si := cmd.StateIndex
	if si >= p.numSignUps || si >= uint64(len(p.stateLeaves)) {
		return p.reject(cmd, RejectStateIndex)
	}
	leaf := p.stateLeaves[si]
	if !cmd.VerifySignature(sig, leaf.PubKey) {
		return p.reject(cmd, RejectSignature)
	}
	if cmd.PollID != p.id {
		return p.reject(cmd, RejectPollID)
	}
	ballot := p.ballots[si]
	if cmd.Nonce != ballot.Nonce+1 {
		return p.reject(cmd, RejectNonce)
	}
	vo := cmd.VoteOptionIndex
	if vo >= p.maxValues.MaxVoteOptions {
		return p.reject(cmd, RejectVoteOption)
	}
	left := p.creditsLeft(leaf.VoiceCreditBalance, ballot.Votes[vo], new(big.Int).SetUint64(cmd.NewVoteWeight))
	if left.Sign() < 0 {
		return p.reject(cmd, RejectVoiceCredits)
	}

	newLeaf := leaf.Copy()
	newLeaf.VoiceCreditBalance = left
	newLeaf.PubKey = cmd.NewPubKey.Copy()
	newBallot := ballot.Copy()
	newBallot.Nonce++
	if err := newBallot.SetVote(vo, new(big.Int).SetUint64(cmd.NewVoteWeight)); err != nil {
		// vo is below the vote option tree capacity
		panic(err)
	}
	return &MessageOutcome{
		Accepted:        true,
		Command:         cmd,
		StateIndex:      si,
		VoteOptionIndex: vo,
		NewStateLeaf:    newLeaf,
		NewBallot:       newBallot,
	}
}

// creditsLeft returns the balance after replacing the previous weight of
// an option with the new one. Quadratic polls charge the square of each
// weight.
func (p *Poll) creditsLeft(balance, prevWeight, newWeight *big.Int) *big.Int {
	prev, next := prevWeight, newWeight
	if p.mode.IsQuadratic() {
		prev = new(big.Int).Mul(prevWeight, prevWeight)
		next = new(big.Int).Mul(newWeight, newWeight)
	}
	left := new(big.Int).Add(balance, prev)
	return left.Sub(left, next)
}
