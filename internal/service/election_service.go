package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/0xsysr3ll/electledger/internal/ledger"
	"github.com/0xsysr3ll/electledger/internal/model"
	"github.com/0xsysr3ll/electledger/internal/repository"
)

// ElectionService implements the exactly-once voting protocol on top of the
// ledger. It is stateless; every instance of the process can run one and all
// correctness comes from the store's constraints, so handlers may call it
// concurrently without coordination.
type ElectionService struct {
	ledger ledger.Ledger
	cache  *repository.RedisCache
	log    *logrus.Logger
}

// NewElectionService wires the service. cache may be nil, in which case every
// read goes straight to the ledger.
func NewElectionService(l ledger.Ledger, cache *repository.RedisCache, log *logrus.Logger) *ElectionService {
	return &ElectionService{
		ledger: l,
		cache:  cache,
		log:    log,
	}
}

// ReconcileCandidates ensures every configured candidate exists. A lost
// insert race (another instance bootstrapping concurrently) surfaces as
// ErrDuplicateKey and is treated as success. Running it twice changes
// nothing after the first run.
func (s *ElectionService) ReconcileCandidates(specs []model.CandidateSpec) error {
	for _, spec := range specs {
		_, err := s.ledger.FindCandidateByName(spec.Name)
		if err == nil {
			s.log.WithField("candidate", spec.Name).Debug("candidate already registered")
			continue
		}
		if !errors.Is(err, ledger.ErrNotFound) {
			return fmt.Errorf("look up candidate %q: %w", spec.Name, err)
		}

		if _, err := s.ledger.InsertCandidate(spec.Name, spec.Description); err != nil {
			if errors.Is(err, ledger.ErrDuplicateKey) {
				s.log.WithField("candidate", spec.Name).Debug("lost candidate insert race, already registered")
				continue
			}
			return fmt.Errorf("register candidate %q: %w", spec.Name, err)
		}
		s.log.WithField("candidate", spec.Name).Info("registered candidate")
	}

	if s.cache != nil {
		if err := s.cache.InvalidateBallot(); err != nil {
			s.log.WithError(err).Warn("failed to invalidate ballot cache")
		}
	}

	return nil
}

// ReconcileVoters ensures every eligible identity has a ballot row. Same
// idempotent insert-if-absent pattern as ReconcileCandidates.
func (s *ElectionService) ReconcileVoters(userIDs []int64) error {
	for _, userID := range userIDs {
		_, err := s.ledger.FindVoter(userID)
		if err == nil {
			continue
		}
		if !errors.Is(err, ledger.ErrNotFound) {
			return fmt.Errorf("look up voter %d: %w", userID, err)
		}

		if _, err := s.ledger.InsertVoter(userID); err != nil {
			if errors.Is(err, ledger.ErrDuplicateKey) {
				s.log.WithField("voter", userID).Debug("lost voter insert race, already registered")
				continue
			}
			return fmt.Errorf("register voter %d: %w", userID, err)
		}
		s.log.WithField("voter", userID).Info("registered voter")
	}

	return nil
}

// ListBallot returns the listing voters are shown: all candidates ordered by
// ascending id. The order is stable for the life of the election because
// candidates are append-only, so a selector ordinal always resolves to the
// same candidate.
func (s *ElectionService) ListBallot() ([]*model.Candidate, error) {
	if s.cache != nil {
		candidates, found, err := s.cache.GetBallot()
		if err != nil {
			s.log.WithError(err).Warn("ballot cache read failed")
		}
		if found {
			return candidates, nil
		}
	}

	candidates, err := s.ledger.ListCandidates()
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.SetBallot(candidates); err != nil {
			s.log.WithError(err).Warn("ballot cache write failed")
		}
	}

	return candidates, nil
}

// CastVote resolves the selector against the ballot listing and commits the
// vote. Safe to call concurrently for many voters and safe to call twice for
// the same voter: the store's atomic guard makes the second attempt
// DUPLICATE_VOTE, never a second recorded vote. The returned error is non-nil
// only for OutcomeUnavailable and carries the store failure for the caller's
// retry policy.
func (s *ElectionService) CastVote(userID int64, selector int) (model.VoteOutcome, error) {
	ballot, err := s.ListBallot()
	if err != nil {
		return model.OutcomeUnavailable, err
	}

	if selector < 0 || selector >= len(ballot) {
		s.log.WithFields(logrus.Fields{
			"voter":    userID,
			"selector": selector,
		}).Warn("selector out of ballot range")
		return model.OutcomeInvalidSelection, nil
	}

	// The resolved candidate id, not the ordinal, is what gets persisted.
	candidateID := ballot[selector].ID

	err = s.ledger.RecordVote(userID, candidateID)
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrAlreadyVoted):
		s.log.WithField("voter", userID).Info("duplicate vote rejected")
		return model.OutcomeDuplicateVote, nil
	case errors.Is(err, ledger.ErrUnknownVoter):
		s.log.WithField("voter", userID).Warn("vote from unregistered identity rejected")
		return model.OutcomeNotEligible, nil
	case errors.Is(err, ledger.ErrUnknownCandidate):
		s.log.WithFields(logrus.Fields{
			"voter":     userID,
			"candidate": candidateID,
		}).Warn("vote for unknown candidate rejected")
		return model.OutcomeInvalidSelection, nil
	default:
		return model.OutcomeUnavailable, fmt.Errorf("record vote: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.MarkVoted(userID); err != nil {
			s.log.WithError(err).WithField("voter", userID).Warn("failed to set voted flag")
		}
	}

	s.log.WithFields(logrus.Fields{
		"voter":     userID,
		"candidate": ballot[selector].Name,
	}).Info("vote accepted")

	return model.OutcomeAccepted, nil
}

// HasVoted reflects committed state only. The cache can only hold flags that
// were written after a commit, so a cache hit is always truthful; a miss
// falls through to the store. Unknown voters have not voted.
func (s *ElectionService) HasVoted(userID int64) (bool, error) {
	if s.cache != nil {
		voted, err := s.cache.GetVoted(userID)
		if err != nil {
			s.log.WithError(err).Warn("voted flag read failed")
		}
		if voted {
			return true, nil
		}
	}

	voter, err := s.ledger.FindVoter(userID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("look up voter %d: %w", userID, err)
	}

	return voter.HasVoted, nil
}

// Results returns the tally, derived from vote records at read time.
func (s *ElectionService) Results() ([]*model.TallyEntry, error) {
	entries, err := s.ledger.Tally()
	if err != nil {
		return nil, fmt.Errorf("tally votes: %w", err)
	}
	return entries, nil
}

// ProcessCastVoteEvent is the stream consumer handler. Terminal outcomes
// (accepted, duplicate, not eligible, invalid selection) consume the event;
// only a store outage is returned as an error so the consumer can back off
// and let the broker redeliver.
func (s *ElectionService) ProcessCastVoteEvent(event *model.CastVoteEvent) error {
	outcome, err := s.CastVote(event.VoterID, event.Selector)
	if err != nil {
		return fmt.Errorf("process event %s: %w", event.EventID, err)
	}

	s.log.WithFields(logrus.Fields{
		"event":   event.EventID,
		"voter":   event.VoterID,
		"outcome": outcome,
	}).Debug("cast-vote event processed")

	return nil
}

// ResponseFor shapes a protocol outcome for the API surfaces. Rendering of
// user-facing text stays with the chat collaborator; these messages are for
// operators and logs.
func ResponseFor(voterID int64, outcome model.VoteOutcome) *model.VoteResponse {
	messages := map[model.VoteOutcome]string{
		model.OutcomeAccepted:         "vote recorded",
		model.OutcomeDuplicateVote:    "voter has already voted",
		model.OutcomeNotEligible:      "voter is not eligible",
		model.OutcomeInvalidSelection: "selector does not resolve to a candidate",
		model.OutcomeUnavailable:      "ledger store unavailable",
	}

	return &model.VoteResponse{
		Outcome:   outcome,
		Message:   messages[outcome],
		VoterID:   voterID,
		Timestamp: time.Now(),
	}
}
