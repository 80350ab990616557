package model

import (
	"time"
)

// Candidate is one option voters may select. The id is assigned by the store
// and stable for the life of the election; Votes is a cached counter that the
// store keeps in step with the vote records.
type Candidate struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Votes       int    `json:"votes"`
}

// Voter is an eligible identity. CandidateID is nil until the voter has cast
// a ballot; a voter with no row at all is not eligible.
type Voter struct {
	UserID      int64  `json:"userId"`
	HasVoted    bool   `json:"hasVoted"`
	CandidateID *int64 `json:"candidateId,omitempty"`
}

// CandidateSpec is a bootstrap entry from configuration.
type CandidateSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// TallyEntry is one row of the election results, derived from vote records.
type TallyEntry struct {
	Name  string `json:"name"`
	Votes int    `json:"votes"`
}

// CastVoteEvent is the stream message emitted for every vote attempt.
// Delivery is at-least-once; the ledger's uniqueness constraint makes
// duplicates harmless. Selector is an ordinal into the ballot listing.
type CastVoteEvent struct {
	EventID  string    `json:"eventId"`
	VoterID  int64     `json:"voterId"`
	Selector int       `json:"selector"`
	CastAt   time.Time `json:"castAt"`
}

// VoteOutcome is the protocol-level result of a cast-vote attempt.
type VoteOutcome string

const (
	// OutcomeAccepted means the vote was recorded.
	OutcomeAccepted VoteOutcome = "ACCEPTED"
	// OutcomeDuplicateVote means the voter already voted. Terminal and
	// non-retryable.
	OutcomeDuplicateVote VoteOutcome = "DUPLICATE_VOTE"
	// OutcomeNotEligible means the voter was never registered.
	OutcomeNotEligible VoteOutcome = "NOT_ELIGIBLE"
	// OutcomeInvalidSelection means the selector did not resolve to a
	// registered candidate.
	OutcomeInvalidSelection VoteOutcome = "INVALID_SELECTION"
	// OutcomeUnavailable means the ledger store could not be reached. The
	// caller owns the retry policy.
	OutcomeUnavailable VoteOutcome = "UNAVAILABLE"
)

// VoteResponse is the API-facing shape of a cast-vote result.
type VoteResponse struct {
	Outcome   VoteOutcome `json:"outcome"`
	Message   string      `json:"message"`
	VoterID   int64       `json:"voterId"`
	Timestamp time.Time   `json:"timestamp"`
}
