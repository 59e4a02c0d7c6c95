package state

import "errors"

var (
	// ErrStateNotCopied is returned when processing a poll before UpdatePoll.
	ErrStateNotCopied = errors.New("the poll must be updated with the signup count before processing")
	// ErrNoMoreMessages is returned when every message batch is processed.
	ErrNoMoreMessages = errors.New("no more messages to process")
	// ErrMessagesNotProcessed is returned when tallying with messages left.
	ErrMessagesNotProcessed = errors.New("all messages have not been processed yet")
	// ErrAllBallotsTallied is returned when every ballot batch is tallied.
	ErrAllBallotsTallied = errors.New("no more ballots to tally")
	// ErrDuplicateNullifier is returned when joining twice with one nullifier.
	ErrDuplicateNullifier = errors.New("nullifier already used")
	// ErrVotingPeriodOver is returned for publications after the poll end.
	ErrVotingPeriodOver = errors.New("voting period is over")
	// ErrVotingPeriodNotOver is returned when padding or processing an open poll.
	ErrVotingPeriodNotOver = errors.New("voting period is not over")
	// ErrSignupCapacity is returned when the registry state tree is full.
	ErrSignupCapacity = errors.New("registry signup capacity exceeded")
	// ErrPollFull is returned when the poll state tree is full.
	ErrPollFull = errors.New("poll state tree capacity exceeded")
	// ErrPollNotFound is returned for unknown or null poll ids.
	ErrPollNotFound = errors.New("poll not found")
	// ErrInvalidPollConfig is returned by DeployPoll for bad parameters.
	ErrInvalidPollConfig = errors.New("invalid poll configuration")
	// ErrNotRelayer is returned when a relayed batch comes from an
	// address outside the poll allow-list.
	ErrNotRelayer = errors.New("sender is not an allowed relayer")
	// ErrInvalidBatchReference is returned for unusable batch CIDs.
	ErrInvalidBatchReference = errors.New("invalid relayed batch reference")
	// ErrInvalidBatchLength is returned for mismatched or empty batches.
	ErrInvalidBatchLength = errors.New("invalid batch length")
	// ErrUnknownRelayedMessage is returned when a provided message body
	// does not match any unresolved relayed hash.
	ErrUnknownRelayedMessage = errors.New("message does not match any relayed hash")
	// ErrUnresolvedMessage is returned when processing a batch containing
	// a relayed hash whose message body was never provided.
	ErrUnresolvedMessage = errors.New("batch contains a relayed message without body")
	// ErrInvalidPubKey is returned for keys outside the curve.
	ErrInvalidPubKey = errors.New("invalid public key")
	// ErrInvalidNullifier is returned for nullifiers outside the field.
	ErrInvalidNullifier = errors.New("invalid nullifier")
	// ErrCoordinatorKeyMissing is returned when processing without the
	// coordinator private key.
	ErrCoordinatorKeyMissing = errors.New("coordinator private key not set")
	// ErrCoordinatorKeyMismatch is returned when setting a private key that
	// does not match the poll coordinator public key.
	ErrCoordinatorKeyMismatch = errors.New("coordinator private key does not match the poll public key")
	// ErrCoordinatorKeyLocked is returned when replacing the coordinator
	// keypair after processing started.
	ErrCoordinatorKeyLocked = errors.New("coordinator key cannot be replaced once processing started")
	// ErrTallyModeMismatch is returned when tally batches mix modes.
	ErrTallyModeMismatch = errors.New("tally mode differs from the mode of previous batches")
	// ErrPollComplete is returned for mutations on a finished poll.
	ErrPollComplete = errors.New("poll is complete")
	// ErrTallyNotComplete is returned when exporting a partial tally.
	ErrTallyNotComplete = errors.New("tally is not complete")
	// ErrTallyCommitmentMismatch is returned when exported tally values do
	// not match their commitments.
	ErrTallyCommitmentMismatch = errors.New("tally commitment mismatch")
)
