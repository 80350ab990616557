package repository

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/0xsysr3ll/electledger/internal/ledger"
)

func TestInsertCandidateDuplicateName(t *testing.T) {
	l := NewMemoryLedger()

	first, err := l.InsertCandidate("Liste Alpha", "first list")
	require.NoError(t, err)
	require.Equal(t, int64(1), first.ID)

	_, err = l.InsertCandidate("Liste Alpha", "someone else's bootstrap")
	require.ErrorIs(t, err, ledger.ErrDuplicateKey)

	candidates, err := l.ListCandidates()
	require.NoError(t, err)
	require.Len(t, candidates, 1)
}

func TestInsertVoterDuplicate(t *testing.T) {
	l := NewMemoryLedger()

	_, err := l.InsertVoter(42)
	require.NoError(t, err)

	_, err = l.InsertVoter(42)
	require.ErrorIs(t, err, ledger.ErrDuplicateKey)
}

func TestFindVoterThreeStates(t *testing.T) {
	l := NewMemoryLedger()
	candidate, err := l.InsertCandidate("Liste Alpha", "")
	require.NoError(t, err)

	_, err = l.FindVoter(7)
	require.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = l.InsertVoter(7)
	require.NoError(t, err)

	voter, err := l.FindVoter(7)
	require.NoError(t, err)
	require.False(t, voter.HasVoted)
	require.Nil(t, voter.CandidateID)

	require.NoError(t, l.RecordVote(7, candidate.ID))

	voter, err = l.FindVoter(7)
	require.NoError(t, err)
	require.True(t, voter.HasVoted)
	require.NotNil(t, voter.CandidateID)
	require.Equal(t, candidate.ID, *voter.CandidateID)
}

func TestRecordVoteRejections(t *testing.T) {
	l := NewMemoryLedger()
	candidate, err := l.InsertCandidate("Liste Alpha", "")
	require.NoError(t, err)
	_, err = l.InsertVoter(1)
	require.NoError(t, err)

	require.ErrorIs(t, l.RecordVote(99, candidate.ID), ledger.ErrUnknownVoter)
	require.ErrorIs(t, l.RecordVote(1, 12345), ledger.ErrUnknownCandidate)

	require.NoError(t, l.RecordVote(1, candidate.ID))
	require.ErrorIs(t, l.RecordVote(1, candidate.ID), ledger.ErrAlreadyVoted)
}

func TestListCandidatesOrderedByID(t *testing.T) {
	l := NewMemoryLedger()

	for _, name := range []string{"Charlie", "Alpha", "Beta"} {
		_, err := l.InsertCandidate(name, "")
		require.NoError(t, err)
	}

	candidates, err := l.ListCandidates()
	require.NoError(t, err)
	require.Len(t, candidates, 3)

	// Ballot order is insertion order, which is ascending id, regardless of
	// name ordering.
	require.Equal(t, "Charlie", candidates[0].Name)
	require.Equal(t, "Alpha", candidates[1].Name)
	require.Equal(t, "Beta", candidates[2].Name)
	for i := 1; i < len(candidates); i++ {
		require.Greater(t, candidates[i].ID, candidates[i-1].ID)
	}
}

func TestTallyDerivedFromVoteRecords(t *testing.T) {
	l := NewMemoryLedger()

	alpha, err := l.InsertCandidate("Alpha", "")
	require.NoError(t, err)
	beta, err := l.InsertCandidate("Beta", "")
	require.NoError(t, err)

	for userID := int64(1); userID <= 5; userID++ {
		_, err := l.InsertVoter(userID)
		require.NoError(t, err)
	}

	require.NoError(t, l.RecordVote(1, alpha.ID))
	require.NoError(t, l.RecordVote(2, alpha.ID))
	require.NoError(t, l.RecordVote(3, beta.ID))

	entries, err := l.Tally()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "Alpha", entries[0].Name)
	require.Equal(t, 2, entries[0].Votes)
	require.Equal(t, "Beta", entries[1].Name)
	require.Equal(t, 1, entries[1].Votes)

	// Re-derive independently of the cached counter.
	voted := 0
	for userID := int64(1); userID <= 5; userID++ {
		voter, err := l.FindVoter(userID)
		require.NoError(t, err)
		if voter.HasVoted {
			voted++
		}
	}
	total := 0
	for _, e := range entries {
		total += e.Votes
	}
	require.Equal(t, voted, total)
}

func TestConcurrentRecordVoteSingleWinner(t *testing.T) {
	l := NewMemoryLedger()
	candidate, err := l.InsertCandidate("Alpha", "")
	require.NoError(t, err)
	_, err = l.InsertVoter(1)
	require.NoError(t, err)

	const attempts = 64

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted, duplicate := 0, 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.RecordVote(1, candidate.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case err == ledger.ErrAlreadyVoted:
				duplicate++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, accepted)
	require.Equal(t, attempts-1, duplicate)

	entries, err := l.Tally()
	require.NoError(t, err)
	require.Equal(t, 1, entries[0].Votes)
}
