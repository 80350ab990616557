package repository

import (
	"sort"
	"sync"

	"github.com/0xsysr3ll/electledger/internal/ledger"
	"github.com/0xsysr3ll/electledger/internal/model"
)

// MemoryLedger is an in-process ledger with the same constraint semantics as
// the MySQL implementation. Used by tests and local development; a single
// mutex stands in for the storage engine's transactions.
type MemoryLedger struct {
	mu         sync.Mutex
	nextID     int64
	byID       map[int64]*model.Candidate
	byName     map[string]*model.Candidate
	candidates []int64 // insertion order == ascending id
	voters     map[int64]*model.Voter
}

var _ ledger.Ledger = (*MemoryLedger)(nil)

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		nextID: 1,
		byID:   make(map[int64]*model.Candidate),
		byName: make(map[string]*model.Candidate),
		voters: make(map[int64]*model.Voter),
	}
}

func (l *MemoryLedger) EnsureSchema() error {
	return nil
}

func (l *MemoryLedger) FindCandidateByName(name string) (*model.Candidate, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	candidate, ok := l.byName[name]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	copied := *candidate
	return &copied, nil
}

func (l *MemoryLedger) InsertCandidate(name, description string) (*model.Candidate, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.byName[name]; ok {
		return nil, ledger.ErrDuplicateKey
	}

	candidate := &model.Candidate{
		ID:          l.nextID,
		Name:        name,
		Description: description,
	}
	l.nextID++
	l.byID[candidate.ID] = candidate
	l.byName[name] = candidate
	l.candidates = append(l.candidates, candidate.ID)

	copied := *candidate
	return &copied, nil
}

func (l *MemoryLedger) FindVoter(userID int64) (*model.Voter, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	voter, ok := l.voters[userID]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	copied := *voter
	if voter.CandidateID != nil {
		id := *voter.CandidateID
		copied.CandidateID = &id
	}
	return &copied, nil
}

func (l *MemoryLedger) InsertVoter(userID int64) (*model.Voter, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.voters[userID]; ok {
		return nil, ledger.ErrDuplicateKey
	}

	voter := &model.Voter{UserID: userID}
	l.voters[userID] = voter

	copied := *voter
	return &copied, nil
}

func (l *MemoryLedger) ListCandidates() ([]*model.Candidate, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*model.Candidate, 0, len(l.candidates))
	for _, id := range l.candidates {
		copied := *l.byID[id]
		out = append(out, &copied)
	}
	return out, nil
}

func (l *MemoryLedger) RecordVote(userID, candidateID int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.byID[candidateID]; !ok {
		return ledger.ErrUnknownCandidate
	}

	voter, ok := l.voters[userID]
	if !ok {
		return ledger.ErrUnknownVoter
	}
	if voter.CandidateID != nil {
		return ledger.ErrAlreadyVoted
	}

	bound := candidateID
	voter.CandidateID = &bound
	voter.HasVoted = true
	l.byID[candidateID].Votes++

	return nil
}

// Tally re-derives counts from the vote records; the Votes counter on the
// candidate is ignored, matching the MySQL implementation.
func (l *MemoryLedger) Tally() ([]*model.TallyEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	counts := make(map[int64]int, len(l.byID))
	for _, voter := range l.voters {
		if voter.CandidateID != nil {
			counts[*voter.CandidateID]++
		}
	}

	ids := make([]int64, len(l.candidates))
	copy(ids, l.candidates)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	entries := make([]*model.TallyEntry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, &model.TallyEntry{
			Name:  l.byID[id].Name,
			Votes: counts[id],
		})
	}
	return entries, nil
}

func (l *MemoryLedger) Close() error {
	return nil
}
