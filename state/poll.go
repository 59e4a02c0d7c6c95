package state

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ipfs/go-cid"
	"github.com/vocdoni/arbo"
	"github.com/vocdoni/arbo/memdb"
	"github.com/vocdoni/maci-coordinator/command"
	"github.com/vocdoni/maci-coordinator/crypto/field"
	"github.com/vocdoni/maci-coordinator/crypto/keys"
	"github.com/vocdoni/maci-coordinator/tree"
	"github.com/vocdoni/maci-coordinator/types"
)

// nullifierTreeLevels keeps the whole 32 byte nullifier as the tree key.
const nullifierTreeLevels = 256

// PollConfig holds the deployment parameters of a poll.
type PollConfig struct {
	// EndTime is the end of the voting window.
	EndTime time.Time
	// TreeDepths sets the tally batch size and the vote option tree depth.
	TreeDepths types.TreeDepths
	// MessageBatchSize is the number of messages processed per batch.
	MessageBatchSize uint64
	// CoordinatorKeypair is the key voters encrypt their commands to. The
	// private key may be omitted and installed later.
	CoordinatorKeypair *keys.Keypair
	// Mode selects quadratic or linear credit accounting.
	Mode types.Mode
	// MaxVoteOptions bounds valid vote option indices. Zero means the full
	// vote option tree.
	MaxVoteOptions uint64
	// Relayers may publish batches of pre-hashed messages.
	Relayers []common.Address
}

// Phase is the lifecycle stage of a poll.
type Phase uint8

const (
	// PhaseJoining: the window is open and no vote was published yet.
	PhaseJoining Phase = iota
	// PhaseVoting: the window is open and votes are being published.
	PhaseVoting
	// PhaseProcessing: the window closed and message batches remain.
	PhaseProcessing
	// PhaseTallying: every message is processed and ballot batches remain.
	PhaseTallying
	// PhaseComplete: the tally is final.
	PhaseComplete
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseJoining:
		return "joining"
	case PhaseVoting:
		return "voting"
	case PhaseProcessing:
		return "processing"
	case PhaseTallying:
		return "tallying"
	case PhaseComplete:
		return "complete"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// messageEntry is one slot of the message log. Relayed entries only carry
// the hash until the message body is provided.
type messageEntry struct {
	message   *command.Message
	encPubKey *keys.PubKey
	hash      *big.Int
	relayed   bool
}

func (e *messageEntry) resolved() bool {
	return e.message != nil && e.encPubKey != nil
}

// RelayedBatch records a batch of message hashes published by a relayer.
type RelayedBatch struct {
	Sender     common.Address
	Reference  cid.Cid
	FirstIndex uint64
	Count      uint64
}

// Poll is the processing engine of one poll. It is not safe for concurrent
// use; a poll must be owned by a single goroutine at a time.
type Poll struct {
	id             types.PollID
	endTime        int64
	stateTreeDepth uint8
	treeDepths     types.TreeDepths
	batchSizes     types.BatchSizes
	maxValues      types.MaxValues
	mode           types.Mode
	relayers       []common.Address
	clock          Clock

	coordinatorPubKey  *keys.PubKey
	coordinatorPrivKey *keys.PrivKey

	// joined voters, index aligned; index 0 is the blank leaf
	stateLeaves   []*StateLeaf
	ballots       []*Ballot
	stateTree     *tree.Incremental
	ballotTree    *tree.Incremental
	nullifiers    []*big.Int
	nullifierTree *arbo.Tree

	// message log
	messages       []*messageEntry
	chainHash      *big.Int
	batchHashes    []*big.Int
	relayedBatches []RelayedBatch
	padded         bool
	numVotes       uint64

	// processing
	numSignUps          uint64
	stateCopied         bool
	processingStarted   bool
	processingCursor    uint64
	numBatchesProcessed uint64
	sbSalt              *big.Int

	// tally
	numBatchesTallied            uint64
	tallyMode                    *types.Mode
	tallyResult                  []*big.Int
	perVOSpentVoiceCredits       []*big.Int
	totalSpentVoiceCredits       *big.Int
	resultsRootSalt              *big.Int
	perVOSpentVoiceCreditsSalt   *big.Int
	spentVoiceCreditSubtotalSalt *big.Int
	tallyCommitment              *big.Int
}

// newPoll builds a poll with an empty state. Callers validate cfg.
func newPoll(id types.PollID, stateTreeDepth uint8, cfg PollConfig, clock Clock) (*Poll, error) {
	p := &Poll{
		id:             id,
		endTime:        cfg.EndTime.Unix(),
		stateTreeDepth: stateTreeDepth,
		treeDepths:     cfg.TreeDepths,
		batchSizes: types.BatchSizes{
			TallyBatchSize:   types.TallyBatchSizeFor(cfg.TreeDepths),
			MessageBatchSize: cfg.MessageBatchSize,
		},
		maxValues:         types.MaxValues{MaxVoteOptions: cfg.MaxVoteOptions},
		mode:              cfg.Mode,
		relayers:          append([]common.Address(nil), cfg.Relayers...),
		clock:             clock,
		coordinatorPubKey: cfg.CoordinatorKeypair.PubKey.Copy(),
		sbSalt:            new(big.Int),
	}
	if p.maxValues.MaxVoteOptions == 0 {
		p.maxValues.MaxVoteOptions = types.VoteOptionsCapacity(cfg.TreeDepths)
	}
	if cfg.CoordinatorKeypair.PrivKey != nil {
		p.coordinatorPrivKey = cfg.CoordinatorKeypair.PrivKey
	}
	if err := p.initTrees(); err != nil {
		return nil, err
	}
	p.resetTally()
	return p, nil
}

// initTrees creates the empty trees, inserts the blank leaf and ballot at
// index 0 and sets the chain hash to its genesis value.
func (p *Poll) initTrees() error {
	blank := BlankStateLeaf()
	emptyBallot := NewBallot(p.treeDepths.VoteOptionTreeDepth)
	var err error
	if p.stateTree, err = tree.NewIncremental(types.StateTreeArity, int(p.stateTreeDepth), blank.Hash()); err != nil {
		return err
	}
	if p.ballotTree, err = tree.NewIncremental(types.StateTreeArity, int(p.stateTreeDepth), emptyBallot.Hash()); err != nil {
		return err
	}
	if p.nullifierTree, err = arbo.NewTree(arbo.Config{
		Database:     memdb.New(),
		MaxLevels:    nullifierTreeLevels,
		HashFunction: arbo.HashFunctionPoseidon,
	}); err != nil {
		return fmt.Errorf("create nullifier tree: %w", err)
	}
	p.stateLeaves = []*StateLeaf{blank}
	p.ballots = []*Ballot{emptyBallot}
	if _, err := p.stateTree.Insert(blank.Hash()); err != nil {
		return err
	}
	if _, err := p.ballotTree.Insert(emptyBallot.Hash()); err != nil {
		return err
	}
	p.chainHash = field.NothingUpMySleeve()
	p.batchHashes = []*big.Int{field.NothingUpMySleeve()}
	return nil
}

func (p *Poll) resetTally() {
	n := p.maxValues.MaxVoteOptions
	p.tallyResult = zeros(n)
	p.perVOSpentVoiceCredits = zeros(n)
	p.totalSpentVoiceCredits = new(big.Int)
	p.resultsRootSalt = new(big.Int)
	p.perVOSpentVoiceCreditsSalt = new(big.Int)
	p.spentVoiceCreditSubtotalSalt = new(big.Int)
	p.tallyCommitment = new(big.Int)
}

func zeros(n uint64) []*big.Int {
	out := make([]*big.Int, n)
	for i := range out {
		out[i] = new(big.Int)
	}
	return out
}

// ID returns the poll id.
func (p *Poll) ID() types.PollID { return p.id }

// EndTime returns the end of the voting window.
func (p *Poll) EndTime() time.Time { return time.Unix(p.endTime, 0) }

// Mode returns the voting mode of the poll.
func (p *Poll) Mode() types.Mode { return p.mode }

// TreeDepths returns the poll tree depths.
func (p *Poll) TreeDepths() types.TreeDepths { return p.treeDepths }

// BatchSizes returns the message and tally batch sizes.
func (p *Poll) BatchSizes() types.BatchSizes { return p.batchSizes }

// MaxValues returns the poll capacity limits.
func (p *Poll) MaxValues() types.MaxValues { return p.maxValues }

// StateTreeDepth returns the depth of the poll state and ballot trees.
func (p *Poll) StateTreeDepth() uint8 { return p.stateTreeDepth }

// Relayers returns the relayer allow-list.
func (p *Poll) Relayers() []common.Address {
	return append([]common.Address(nil), p.relayers...)
}

// IsOpen reports whether the voting window is open.
func (p *Poll) IsOpen() bool {
	return p.clock.Now().Unix() < p.endTime
}

// SetClock replaces the clock of the poll.
func (p *Poll) SetClock(c Clock) { p.clock = c }

// CoordinatorPubKey returns the coordinator public key.
func (p *Poll) CoordinatorPubKey() *keys.PubKey { return p.coordinatorPubKey.Copy() }

// SetCoordinatorKeypair installs the coordinator private key. A key for a
// different public key replaces the coordinator keypair, which is only
// allowed until processing starts; messages published afterwards must be
// encrypted to the new public key.
func (p *Poll) SetCoordinatorKeypair(priv *keys.PrivKey) error {
	if priv == nil {
		return ErrCoordinatorKeyMissing
	}
	if p.Phase() == PhaseComplete {
		return ErrPollComplete
	}
	pub := priv.Public()
	if !pub.Equal(p.coordinatorPubKey) {
		if p.processingStarted {
			return ErrCoordinatorKeyLocked
		}
		p.coordinatorPubKey = pub
	}
	p.coordinatorPrivKey = priv
	return nil
}

// HasCoordinatorKey reports whether the coordinator private key is set.
func (p *Poll) HasCoordinatorKey() bool { return p.coordinatorPrivKey != nil }

// Phase returns the current lifecycle stage.
func (p *Poll) Phase() Phase {
	if p.IsOpen() {
		if p.numVotes == 0 {
			return PhaseJoining
		}
		return PhaseVoting
	}
	if p.HasUnprocessedMessages() {
		return PhaseProcessing
	}
	if p.HasUntalliedBallots() {
		return PhaseTallying
	}
	return PhaseComplete
}

// NumSignUps returns the signup count snapshot taken by UpdatePoll.
func (p *Poll) NumSignUps() uint64 { return p.numSignUps }

// SetNumSignUps overrides the signup count snapshot.
func (p *Poll) SetNumSignUps(n uint64) { p.numSignUps = n }

// UpdatePoll snapshots the registry signup count into the poll. It must be
// called before processing.
func (p *Poll) UpdatePoll(numSignUps uint64) error {
	if p.Phase() == PhaseComplete {
		return ErrPollComplete
	}
	p.numSignUps = numSignUps
	p.stateCopied = true
	return nil
}

// StateCopied reports whether UpdatePoll was called.
func (p *Poll) StateCopied() bool { return p.stateCopied }

// NumJoined returns the number of poll state leaves, the blank leaf
// included.
func (p *Poll) NumJoined() uint64 { return uint64(len(p.stateLeaves)) }

// StateLeaf returns a copy of the poll state leaf at index.
func (p *Poll) StateLeaf(index uint64) (*StateLeaf, error) {
	if index >= uint64(len(p.stateLeaves)) {
		return nil, fmt.Errorf("state leaf %d: %w", index, tree.ErrIndexOutOfRange)
	}
	return p.stateLeaves[index].Copy(), nil
}

// StateLeaves returns copies of every poll state leaf.
func (p *Poll) StateLeaves() []*StateLeaf {
	out := make([]*StateLeaf, len(p.stateLeaves))
	for i, l := range p.stateLeaves {
		out[i] = l.Copy()
	}
	return out
}

// Ballot returns a copy of the ballot at index.
func (p *Poll) Ballot(index uint64) (*Ballot, error) {
	if index >= uint64(len(p.ballots)) {
		return nil, fmt.Errorf("ballot %d: %w", index, tree.ErrIndexOutOfRange)
	}
	return p.ballots[index].Copy(), nil
}

// Ballots returns copies of every ballot.
func (p *Poll) Ballots() []*Ballot {
	out := make([]*Ballot, len(p.ballots))
	for i, b := range p.ballots {
		out[i] = b.Copy()
	}
	return out
}

// StateRoot returns the root of the poll state tree.
func (p *Poll) StateRoot() *big.Int { return p.stateTree.Root() }

// BallotRoot returns the root of the ballot tree.
func (p *Poll) BallotRoot() *big.Int { return p.ballotTree.Root() }

// SbCommitment returns Poseidon(stateRoot, ballotRoot, sbSalt).
func (p *Poll) SbCommitment() *big.Int {
	return sbCommitment(p.stateTree.Root(), p.ballotTree.Root(), p.sbSalt)
}

// NullifierRoot returns the root of the nullifier tree.
func (p *Poll) NullifierRoot() (*big.Int, error) {
	root, err := p.nullifierTree.Root()
	if err != nil {
		return nil, err
	}
	return arbo.BytesToBigInt(root), nil
}
