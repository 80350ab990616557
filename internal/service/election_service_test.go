package service

import (
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/0xsysr3ll/electledger/internal/model"
	"github.com/0xsysr3ll/electledger/internal/repository"
)

func newTestService(t *testing.T) (*ElectionService, *repository.MemoryLedger) {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	memLedger := repository.NewMemoryLedger()
	return NewElectionService(memLedger, nil, log), memLedger
}

func bootstrap(t *testing.T, svc *ElectionService, names []string, voters []int64) {
	t.Helper()

	specs := make([]model.CandidateSpec, 0, len(names))
	for _, name := range names {
		specs = append(specs, model.CandidateSpec{Name: name, Description: name + " description"})
	}
	require.NoError(t, svc.ReconcileCandidates(specs))
	require.NoError(t, svc.ReconcileVoters(voters))
}

func TestReconcileIdempotent(t *testing.T) {
	svc, _ := newTestService(t)

	specs := []model.CandidateSpec{
		{Name: "A", Description: "first"},
		{Name: "B", Description: "second"},
	}
	voters := []int64{1, 2, 3}

	require.NoError(t, svc.ReconcileCandidates(specs))
	require.NoError(t, svc.ReconcileVoters(voters))

	first, err := svc.ListBallot()
	require.NoError(t, err)

	// Second run must change nothing.
	require.NoError(t, svc.ReconcileCandidates(specs))
	require.NoError(t, svc.ReconcileVoters(voters))

	second, err := svc.ListBallot()
	require.NoError(t, err)
	require.Equal(t, first, second)

	results, err := svc.Results()
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, entry := range results {
		require.Zero(t, entry.Votes)
	}
}

func TestConcurrentReconcileSingleRowPerCandidate(t *testing.T) {
	svc, _ := newTestService(t)

	specs := []model.CandidateSpec{{Name: "A"}, {Name: "B"}, {Name: "C"}}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, svc.ReconcileCandidates(specs))
		}()
	}
	wg.Wait()

	ballot, err := svc.ListBallot()
	require.NoError(t, err)
	require.Len(t, ballot, 3)
}

func TestCastVoteScenario(t *testing.T) {
	svc, _ := newTestService(t)
	bootstrap(t, svc, []string{"A", "B"}, []int64{1, 2})

	outcome, err := svc.CastVote(1, 0)
	require.NoError(t, err)
	require.Equal(t, model.OutcomeAccepted, outcome)

	// Same voter again, different selector: terminal duplicate, no state
	// change.
	outcome, err = svc.CastVote(1, 1)
	require.NoError(t, err)
	require.Equal(t, model.OutcomeDuplicateVote, outcome)

	outcome, err = svc.CastVote(2, 1)
	require.NoError(t, err)
	require.Equal(t, model.OutcomeAccepted, outcome)

	results, err := svc.Results()
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "A", results[0].Name)
	require.Equal(t, 1, results[0].Votes)
	require.Equal(t, "B", results[1].Name)
	require.Equal(t, 1, results[1].Votes)
}

func TestCastVoteInvalidSelector(t *testing.T) {
	svc, _ := newTestService(t)
	bootstrap(t, svc, []string{"A", "B"}, []int64{1})

	for _, selector := range []int{-1, 2, 100} {
		outcome, err := svc.CastVote(1, selector)
		require.NoError(t, err)
		require.Equal(t, model.OutcomeInvalidSelection, outcome)
	}

	// Nothing was recorded.
	voted, err := svc.HasVoted(1)
	require.NoError(t, err)
	require.False(t, voted)

	results, err := svc.Results()
	require.NoError(t, err)
	for _, entry := range results {
		require.Zero(t, entry.Votes)
	}
}

func TestCastVoteNotEligible(t *testing.T) {
	svc, _ := newTestService(t)
	bootstrap(t, svc, []string{"A"}, []int64{1})

	outcome, err := svc.CastVote(99, 0)
	require.NoError(t, err)
	require.Equal(t, model.OutcomeNotEligible, outcome)

	results, err := svc.Results()
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "A", results[0].Name)
	require.Zero(t, results[0].Votes)
}

func TestCastVoteConcurrentDuplicatesExactlyOnce(t *testing.T) {
	svc, _ := newTestService(t)
	bootstrap(t, svc, []string{"A", "B"}, []int64{1})

	const attempts = 32

	var wg sync.WaitGroup
	var mu sync.Mutex
	counts := make(map[model.VoteOutcome]int)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(selector int) {
			defer wg.Done()
			outcome, err := svc.CastVote(1, selector)
			require.NoError(t, err)
			mu.Lock()
			counts[outcome]++
			mu.Unlock()
		}(i % 2)
	}
	wg.Wait()

	require.Equal(t, 1, counts[model.OutcomeAccepted])
	require.Equal(t, attempts-1, counts[model.OutcomeDuplicateVote])

	results, err := svc.Results()
	require.NoError(t, err)
	total := 0
	for _, entry := range results {
		total += entry.Votes
	}
	require.Equal(t, 1, total)
}

func TestHasVotedReflectsCommittedState(t *testing.T) {
	svc, _ := newTestService(t)
	bootstrap(t, svc, []string{"A"}, []int64{1})

	voted, err := svc.HasVoted(1)
	require.NoError(t, err)
	require.False(t, voted)

	// Unknown identities have not voted.
	voted, err = svc.HasVoted(99)
	require.NoError(t, err)
	require.False(t, voted)

	outcome, err := svc.CastVote(1, 0)
	require.NoError(t, err)
	require.Equal(t, model.OutcomeAccepted, outcome)

	voted, err = svc.HasVoted(1)
	require.NoError(t, err)
	require.True(t, voted)
}

func TestProcessCastVoteEventRedelivery(t *testing.T) {
	svc, _ := newTestService(t)
	bootstrap(t, svc, []string{"A", "B"}, []int64{1})

	event := &model.CastVoteEvent{
		EventID:  "evt-1",
		VoterID:  1,
		Selector: 1,
	}

	// At-least-once delivery: the same event arrives three times. Only the
	// first application changes state, none of them errors.
	for i := 0; i < 3; i++ {
		require.NoError(t, svc.ProcessCastVoteEvent(event))
	}

	results, err := svc.Results()
	require.NoError(t, err)
	require.Equal(t, 0, results[0].Votes)
	require.Equal(t, 1, results[1].Votes)
}

func TestBallotOrderStable(t *testing.T) {
	svc, _ := newTestService(t)
	bootstrap(t, svc, []string{"Zulu", "Alpha", "Mike"}, nil)

	first, err := svc.ListBallot()
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := svc.ListBallot()
		require.NoError(t, err)
		require.Equal(t, first, again)
	}

	// Ordinals resolve to candidate identity via the id-ascending listing.
	require.Equal(t, "Zulu", first[0].Name)
	require.Equal(t, "Alpha", first[1].Name)
	require.Equal(t, "Mike", first[2].Name)
}

func TestResponseForMessages(t *testing.T) {
	resp := ResponseFor(7, model.OutcomeDuplicateVote)
	require.Equal(t, model.OutcomeDuplicateVote, resp.Outcome)
	require.Equal(t, int64(7), resp.VoterID)
	require.NotEmpty(t, resp.Message)
}
