package types

import (
	"fmt"
	"strconv"
)

const (
	// StateTreeArity is the arity of the poll state tree and the ballot tree.
	StateTreeArity = 2
	// VoteOptionTreeArity is the arity of the vote option and tally trees.
	VoteOptionTreeArity = 5
	// MessageLength is the number of field elements of an encrypted message.
	MessageLength = 10
	// PackedValueBits is the width of each value packed into a command.
	PackedValueBits = 50
)

// PollID identifies a poll inside a registry. Ids are assigned contiguously
// starting at zero.
type PollID uint64

// String returns the decimal representation of the poll id.
func (id PollID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Mode selects how vote weights are charged against voice credits.
type Mode uint8

const (
	// ModeQV charges weight² credits per vote option.
	ModeQV Mode = iota
	// ModeNonQV charges weight credits per vote option.
	ModeNonQV
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeQV:
		return "qv"
	case ModeNonQV:
		return "non-qv"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ParseMode parses the output of Mode.String.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "qv", "":
		return ModeQV, nil
	case "non-qv", "nonqv":
		return ModeNonQV, nil
	default:
		return 0, fmt.Errorf("unknown voting mode %q", s)
	}
}

// IsQuadratic reports whether the mode is quadratic voting.
func (m Mode) IsQuadratic() bool {
	return m == ModeQV
}

// TreeDepths holds the depths of the poll trees.
type TreeDepths struct {
	// IntStateTreeDepth is the depth of the ballot subtree tallied in one batch.
	IntStateTreeDepth uint8 `json:"intStateTreeDepth" cbor:"0,keyasint"`
	// VoteOptionTreeDepth is the depth of the per-ballot vote option tree.
	VoteOptionTreeDepth uint8 `json:"voteOptionTreeDepth" cbor:"1,keyasint"`
}

// BatchSizes holds the batch sizes of the poll.
type BatchSizes struct {
	TallyBatchSize   uint64 `json:"tallyBatchSize" cbor:"0,keyasint"`
	MessageBatchSize uint64 `json:"messageBatchSize" cbor:"1,keyasint"`
}

// MaxValues holds the poll capacity limits.
type MaxValues struct {
	MaxVoteOptions uint64 `json:"maxVoteOptions" cbor:"0,keyasint"`
}

// Pow returns base^exp for small unsigned integers.
func Pow(base, exp uint64) uint64 {
	r := uint64(1)
	for range exp {
		r *= base
	}
	return r
}

// TallyBatchSizeFor returns the number of ballots tallied per batch.
func TallyBatchSizeFor(d TreeDepths) uint64 {
	return Pow(StateTreeArity, uint64(d.IntStateTreeDepth))
}

// VoteOptionsCapacity returns the number of leaves of the vote option tree.
func VoteOptionsCapacity(d TreeDepths) uint64 {
	return Pow(VoteOptionTreeArity, uint64(d.VoteOptionTreeDepth))
}
