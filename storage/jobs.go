package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vocdoni/maci-coordinator/db/prefixeddb"
	"github.com/vocdoni/maci-coordinator/log"
	"github.com/vocdoni/maci-coordinator/types"
)

// ProverJobKind is the circuit a prover job targets.
type ProverJobKind uint8

const (
	// ProverJobProcessMessages proves one message processing batch.
	ProverJobProcessMessages ProverJobKind = iota
	// ProverJobTallyVotes proves one tally batch.
	ProverJobTallyVotes
)

func (k ProverJobKind) String() string {
	switch k {
	case ProverJobProcessMessages:
		return "processMessages"
	case ProverJobTallyVotes:
		return "tallyVotes"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ProverJob is a circuit input bundle waiting to be proven. Inputs holds
// the JSON encoded bundle, the format provers consume.
type ProverJob struct {
	ID        uuid.UUID     `cbor:"0,keyasint"`
	PollID    types.PollID  `cbor:"1,keyasint"`
	Kind      ProverJobKind `cbor:"2,keyasint"`
	Batch     uint64        `cbor:"3,keyasint"`
	Inputs    []byte        `cbor:"4,keyasint"`
	CreatedAt int64         `cbor:"5,keyasint"`
}

// proverJobKey sorts jobs by poll, kind and batch.
func proverJobKey(job *ProverJob) []byte {
	key := pollKey(job.PollID)
	key = append(key, byte(job.Kind))
	key = binary.BigEndian.AppendUint64(key, job.Batch)
	return append(key, job.ID[:]...)
}

// NewProverJob builds a job for the given inputs, encoded as JSON.
func NewProverJob(pollID types.PollID, kind ProverJobKind, batch uint64, inputs any) (*ProverJob, error) {
	data, err := EncodeArtifact(inputs, ArtifactEncodingJSON)
	if err != nil {
		return nil, fmt.Errorf("encode %s inputs: %w", kind, err)
	}
	return &ProverJob{
		ID:        uuid.New(),
		PollID:    pollID,
		Kind:      kind,
		Batch:     batch,
		Inputs:    data,
		CreatedAt: time.Now().Unix(),
	}, nil
}

// PushProverJob stores a job. A job without id gets a fresh one.
func (s *Storage) PushProverJob(job *ProverJob) (uuid.UUID, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	key := proverJobKey(job)
	if _, err := prefixeddb.NewPrefixedReader(s.db, proverJobPrefix).Get(key); err == nil {
		return uuid.Nil, ErrKeyAlreadyExists
	}
	if err := s.setArtifact(proverJobPrefix, key, job); err != nil {
		return uuid.Nil, fmt.Errorf("push prover job: %w", err)
	}
	log.Debugw("prover job stored",
		"id", job.ID.String(),
		"pollID", job.PollID.String(),
		"kind", job.Kind.String(),
		"batch", job.Batch,
	)
	return job.ID, nil
}

// ProverJobs returns the pending jobs of a poll, message processing jobs
// first, each kind in batch order.
func (s *Storage) ProverJobs(pollID types.PollID) ([]*ProverJob, error) {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	var (
		jobs   []*ProverJob
		decErr error
		pr     = prefixeddb.NewPrefixedReader(s.db, proverJobPrefix)
	)
	if err := pr.Iterate(pollKey(pollID), func(_, v []byte) bool {
		job := new(ProverJob)
		if decErr = DecodeArtifact(v, job); decErr != nil {
			return false
		}
		jobs = append(jobs, job)
		return true
	}); err != nil {
		return nil, fmt.Errorf("iterate prover jobs: %w", err)
	}
	if decErr != nil {
		return nil, fmt.Errorf("decode prover job: %w", decErr)
	}
	return jobs, nil
}

// NextProverJob returns the first pending job of any poll, or
// ErrNoMoreElements.
func (s *Storage) NextProverJob() (*ProverJob, error) {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	var data []byte
	if err := prefixeddb.NewPrefixedReader(s.db, proverJobPrefix).Iterate(nil, func(_, v []byte) bool {
		data = bytes.Clone(v)
		return false
	}); err != nil {
		return nil, fmt.Errorf("iterate prover jobs: %w", err)
	}
	if data == nil {
		return nil, ErrNoMoreElements
	}
	job := new(ProverJob)
	if err := DecodeArtifact(data, job); err != nil {
		return nil, fmt.Errorf("decode prover job: %w", err)
	}
	return job, nil
}

// MarkProverJobDone removes a job. It returns ErrNotFound if no pending
// job has that id.
func (s *Storage) MarkProverJobDone(id uuid.UUID) error {
	s.globalLock.Lock()
	defer s.globalLock.Unlock()
	var found []byte
	if err := prefixeddb.NewPrefixedReader(s.db, proverJobPrefix).Iterate(nil, func(k, _ []byte) bool {
		if bytes.HasSuffix(k, id[:]) {
			found = bytes.Clone(k)
			return false
		}
		return true
	}); err != nil {
		return fmt.Errorf("iterate prover jobs: %w", err)
	}
	if found == nil {
		return ErrNotFound
	}
	return s.deleteArtifact(proverJobPrefix, found)
}
