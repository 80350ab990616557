package repository

import (
	"io"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/0xsysr3ll/electledger/config"
	"github.com/0xsysr3ll/electledger/internal/ledger"
)

// Integration test against a live MySQL. Set ELECTLEDGER_MYSQL_DSN to run,
// e.g. "root:root@tcp(127.0.0.1:3306)/electledger_test?parseTime=true".
// The candidates and votes tables are dropped and recreated.
func setupMySQL(t *testing.T) *MySQLLedger {
	t.Helper()

	dsn := os.Getenv("ELECTLEDGER_MYSQL_DSN")
	if dsn == "" {
		t.Skip("ELECTLEDGER_MYSQL_DSN not set, skipping mysql integration test")
	}

	log := logrus.New()
	log.SetOutput(io.Discard)

	l, err := NewMySQLLedger(&config.MySQLConfig{
		Master:       dsn,
		MaxOpenConns: 10,
		MaxIdleConns: 5,
	}, log)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	// votes first, it holds the foreign key.
	_, err = l.masterDB.Exec("DROP TABLE IF EXISTS votes")
	require.NoError(t, err)
	_, err = l.masterDB.Exec("DROP TABLE IF EXISTS candidates")
	require.NoError(t, err)

	require.NoError(t, l.EnsureSchema())

	return l
}

func TestMySQLEnsureSchemaIdempotent(t *testing.T) {
	l := setupMySQL(t)

	require.NoError(t, l.EnsureSchema())
	require.NoError(t, l.EnsureSchema())
}

func TestMySQLLedgerRoundTrip(t *testing.T) {
	l := setupMySQL(t)

	alpha, err := l.InsertCandidate("Alpha", "first list")
	require.NoError(t, err)
	beta, err := l.InsertCandidate("Beta", "second list")
	require.NoError(t, err)
	require.Greater(t, beta.ID, alpha.ID)

	_, err = l.InsertCandidate("Alpha", "again")
	require.ErrorIs(t, err, ledger.ErrDuplicateKey)

	found, err := l.FindCandidateByName("Alpha")
	require.NoError(t, err)
	require.Equal(t, alpha.ID, found.ID)

	_, err = l.FindCandidateByName("Gamma")
	require.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = l.InsertVoter(1)
	require.NoError(t, err)
	_, err = l.InsertVoter(2)
	require.NoError(t, err)
	_, err = l.InsertVoter(1)
	require.ErrorIs(t, err, ledger.ErrDuplicateKey)

	require.ErrorIs(t, l.RecordVote(99, alpha.ID), ledger.ErrUnknownVoter)
	require.ErrorIs(t, l.RecordVote(1, 424242), ledger.ErrUnknownCandidate)

	require.NoError(t, l.RecordVote(1, alpha.ID))
	require.ErrorIs(t, l.RecordVote(1, beta.ID), ledger.ErrAlreadyVoted)
	require.NoError(t, l.RecordVote(2, beta.ID))

	voter, err := l.FindVoter(1)
	require.NoError(t, err)
	require.True(t, voter.HasVoted)
	require.Equal(t, alpha.ID, *voter.CandidateID)

	candidates, err := l.ListCandidates()
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	require.Equal(t, "Alpha", candidates[0].Name)

	entries, err := l.Tally()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, 1, entries[0].Votes)
	require.Equal(t, 1, entries[1].Votes)
}

func TestMySQLTallyMatchesCachedCounter(t *testing.T) {
	l := setupMySQL(t)

	alpha, err := l.InsertCandidate("Alpha", "")
	require.NoError(t, err)

	for userID := int64(1); userID <= 3; userID++ {
		_, err = l.InsertVoter(userID)
		require.NoError(t, err)
		require.NoError(t, l.RecordVote(userID, alpha.ID))
	}

	entries, err := l.Tally()
	require.NoError(t, err)
	require.Equal(t, 3, entries[0].Votes)

	// The cached counter must not have drifted from the derived count.
	found, err := l.FindCandidateByName("Alpha")
	require.NoError(t, err)
	require.Equal(t, entries[0].Votes, found.Votes)
}
