package ledger

import (
	"errors"

	"github.com/0xsysr3ll/electledger/internal/model"
)

var (
	// ErrNotFound is returned by lookups that match no row.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateKey is returned when an insert violates a uniqueness
	// constraint. Benign during reconciliation (a lost race), fatal anywhere
	// else.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrAlreadyVoted is returned by RecordVote when the voter's ballot has
	// already been bound to a candidate.
	ErrAlreadyVoted = errors.New("voter has already voted")
	// ErrUnknownVoter is returned by RecordVote for identities that were
	// never registered.
	ErrUnknownVoter = errors.New("voter is not registered")
	// ErrUnknownCandidate is returned by RecordVote for candidate ids that
	// do not exist.
	ErrUnknownCandidate = errors.New("candidate is not registered")
	// ErrUnavailable wraps connection-level store failures. The ledger never
	// retries internally; a retry could double-apply a vote across the
	// boundary.
	ErrUnavailable = errors.New("ledger store unavailable")
)

// Ledger is the durable record of candidates, voters and votes. It is the
// sole authority for the election invariants: every method relies on
// storage-level constraints, never on check-then-act, so concurrent callers
// and concurrent processes stay correct.
type Ledger interface {
	// EnsureSchema creates the underlying tables if they do not exist.
	// Idempotent; called on every process start.
	EnsureSchema() error

	FindCandidateByName(name string) (*model.Candidate, error)
	// InsertCandidate fails with ErrDuplicateKey when the name exists.
	InsertCandidate(name, description string) (*model.Candidate, error)

	FindVoter(userID int64) (*model.Voter, error)
	// InsertVoter registers an eligible identity with no vote attached.
	// Fails with ErrDuplicateKey when the identity exists.
	InsertVoter(userID int64) (*model.Voter, error)

	// ListCandidates returns all candidates ordered by ascending id. This is
	// the ballot order; it must be stable across calls.
	ListCandidates() ([]*model.Candidate, error)

	// RecordVote atomically verifies the voter exists and has not voted,
	// verifies the candidate exists, binds the ballot and increments the
	// candidate counter. Two concurrent calls for one voter can never both
	// succeed.
	RecordVote(userID, candidateID int64) error

	// Tally derives per-candidate counts from the vote records at read time,
	// ordered by ascending candidate id. It never trusts the cached counter.
	Tally() ([]*model.TallyEntry, error)

	Close() error
}
