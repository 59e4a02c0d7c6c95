package state

import (
	"fmt"
	"math/big"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/vocdoni/maci-coordinator/command"
	"github.com/vocdoni/maci-coordinator/crypto/field"
	"github.com/vocdoni/maci-coordinator/crypto/hash/poseidon"
	"github.com/vocdoni/maci-coordinator/crypto/keys"
	"github.com/vocdoni/maci-coordinator/log"
)

// publishGenesis appends the nothing-up-my-sleeve message. It is called
// once, when the poll is deployed.
func (p *Poll) publishGenesis() {
	msg := command.NothingUpMySleeveMessage()
	p.appendEntry(&messageEntry{
		message:   msg,
		encPubKey: keys.PadKey.Copy(),
		hash:      msg.Hash(keys.PadKey),
	})
}

// appendEntry adds an entry to the log and absorbs its hash into the chain
// hash, sealing a batch hash every MessageBatchSize entries.
func (p *Poll) appendEntry(e *messageEntry) {
	p.messages = append(p.messages, e)
	p.chainHash = poseidon.HashLeftRight(p.chainHash, e.hash)
	if uint64(len(p.messages))%p.batchSizes.MessageBatchSize == 0 {
		p.batchHashes = append(p.batchHashes, new(big.Int).Set(p.chainHash))
	}
}

func (p *Poll) checkPublishable() error {
	if !p.IsOpen() {
		return ErrVotingPeriodOver
	}
	return nil
}

// PublishMessage appends an encrypted message and the ephemeral public key
// it was encrypted with.
func (p *Poll) PublishMessage(msg *command.Message, encPubKey *keys.PubKey) error {
	if err := p.checkPublishable(); err != nil {
		return err
	}
	if msg == nil {
		return fmt.Errorf("nil message")
	}
	if err := checkPubKey(encPubKey); err != nil {
		return err
	}
	p.appendEntry(&messageEntry{
		message:   msg.Copy(),
		encPubKey: encPubKey.Copy(),
		hash:      msg.Hash(encPubKey),
	})
	p.numVotes++
	return nil
}

// PublishMessageBatch publishes several messages at once. Either every
// message is appended or none is.
func (p *Poll) PublishMessageBatch(msgs []*command.Message, encPubKeys []*keys.PubKey) error {
	if err := p.checkPublishable(); err != nil {
		return err
	}
	if len(msgs) == 0 || len(msgs) != len(encPubKeys) {
		return fmt.Errorf("%w: %d messages and %d keys", ErrInvalidBatchLength, len(msgs), len(encPubKeys))
	}
	for i := range msgs {
		if msgs[i] == nil {
			return fmt.Errorf("nil message at position %d", i)
		}
		if err := checkPubKey(encPubKeys[i]); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
	}
	for i := range msgs {
		if err := p.PublishMessage(msgs[i], encPubKeys[i]); err != nil {
			return err
		}
	}
	return nil
}

// IsRelayer reports whether addr is in the relayer allow-list.
func (p *Poll) IsRelayer(addr common.Address) bool {
	return slices.Contains(p.relayers, addr)
}

// BatchReferenceDigest returns the sha2-256 digest carried by a relayed
// batch reference, the value stored on chain for the batch.
func BatchReferenceDigest(ref cid.Cid) (*big.Int, error) {
	if !ref.Defined() {
		return nil, fmt.Errorf("%w: undefined cid", ErrInvalidBatchReference)
	}
	decoded, err := multihash.Decode(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBatchReference, err)
	}
	if decoded.Code != multihash.SHA2_256 {
		return nil, fmt.Errorf("%w: unsupported multihash %s", ErrInvalidBatchReference, decoded.Name)
	}
	return new(big.Int).SetBytes(decoded.Digest), nil
}

// RelayMessagesBatch appends message hashes published by an allowed relayer.
// The message bodies are supplied later with ProvideRelayedMessage and must
// be known before their batch is processed.
func (p *Poll) RelayMessagesBatch(sender common.Address, hashes []*big.Int, ref cid.Cid) error {
	if err := p.checkPublishable(); err != nil {
		return err
	}
	if !p.IsRelayer(sender) {
		return fmt.Errorf("%w: %s", ErrNotRelayer, sender.Hex())
	}
	if len(hashes) == 0 {
		return ErrInvalidBatchLength
	}
	if _, err := BatchReferenceDigest(ref); err != nil {
		return err
	}
	for i, h := range hashes {
		if h == nil || !field.InField(h) {
			return fmt.Errorf("relayed hash %d is not a field element", i)
		}
	}
	p.relayedBatches = append(p.relayedBatches, RelayedBatch{
		Sender:     sender,
		Reference:  ref,
		FirstIndex: uint64(len(p.messages)),
		Count:      uint64(len(hashes)),
	})
	for _, h := range hashes {
		p.appendEntry(&messageEntry{hash: new(big.Int).Set(h), relayed: true})
		p.numVotes++
	}
	log.Debugw("relayed message batch",
		"pollID", p.id.String(),
		"relayer", sender.Hex(),
		"count", len(hashes),
		"ref", ref.String(),
	)
	return nil
}

// RelayedBatches returns the relayed batch records in publication order.
func (p *Poll) RelayedBatches() []RelayedBatch {
	return slices.Clone(p.relayedBatches)
}

// ProvideRelayedMessage attaches a message body to the first unresolved
// relayed entry with the same hash and returns the entry index.
func (p *Poll) ProvideRelayedMessage(msg *command.Message, encPubKey *keys.PubKey) (uint64, error) {
	if msg == nil {
		return 0, fmt.Errorf("nil message")
	}
	if err := checkPubKey(encPubKey); err != nil {
		return 0, err
	}
	h := msg.Hash(encPubKey)
	for i, e := range p.messages {
		if e.relayed && !e.resolved() && e.hash.Cmp(h) == 0 {
			e.message = msg.Copy()
			e.encPubKey = encPubKey.Copy()
			return uint64(i), nil
		}
	}
	return 0, ErrUnknownRelayedMessage
}

// UnresolvedMessages returns the number of relayed entries without body.
func (p *Poll) UnresolvedMessages() int {
	n := 0
	for _, e := range p.messages {
		if !e.resolved() {
			n++
		}
	}
	return n
}

// PadLastBatch fills the trailing batch with padding messages and seals
// it. It can only run once the voting window is closed and is a no-op when
// the log already ends on a batch boundary or was padded before.
func (p *Poll) PadLastBatch() error {
	if p.IsOpen() {
		return ErrVotingPeriodNotOver
	}
	if p.padded {
		return nil
	}
	size := p.batchSizes.MessageBatchSize
	if rem := uint64(len(p.messages)) % size; rem != 0 {
		for range size - rem {
			msg := command.PaddingMessage()
			p.appendEntry(&messageEntry{
				message:   msg,
				encPubKey: keys.PadKey.Copy(),
				hash:      msg.Hash(keys.PadKey),
			})
		}
	}
	p.padded = true
	return nil
}

// IsPadded reports whether PadLastBatch ran.
func (p *Poll) IsPadded() bool { return p.padded }

// NumMessages returns the number of log entries, including the genesis
// message and padding.
func (p *Poll) NumMessages() uint64 { return uint64(len(p.messages)) }

// Message returns the message and encryption key at index. Both are nil for
// unresolved relayed entries.
func (p *Poll) Message(index uint64) (*command.Message, *keys.PubKey, error) {
	if index >= uint64(len(p.messages)) {
		return nil, nil, fmt.Errorf("message %d out of range", index)
	}
	e := p.messages[index]
	if !e.resolved() {
		return nil, nil, nil
	}
	return e.message.Copy(), e.encPubKey.Copy(), nil
}

// ChainHash returns the current message chain hash.
func (p *Poll) ChainHash() *big.Int { return new(big.Int).Set(p.chainHash) }

// BatchHashes returns the sealed batch hashes. The first element is the
// genesis value the chain starts from.
func (p *Poll) BatchHashes() []*big.Int {
	out := make([]*big.Int, len(p.batchHashes))
	for i, h := range p.batchHashes {
		out[i] = new(big.Int).Set(h)
	}
	return out
}

// NumBatches returns the number of sealed message batches.
func (p *Poll) NumBatches() uint64 { return uint64(len(p.batchHashes) - 1) }
