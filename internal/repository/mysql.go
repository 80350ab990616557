package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"

	"github.com/0xsysr3ll/electledger/config"
	"github.com/0xsysr3ll/electledger/internal/ledger"
	"github.com/0xsysr3ll/electledger/internal/model"
)

const (
	candidatesSchema = `
	CREATE TABLE IF NOT EXISTS candidates (
		id INT PRIMARY KEY AUTO_INCREMENT,
		name VARCHAR(255) NOT NULL,
		description TEXT,
		votes INT NOT NULL DEFAULT 0,
		UNIQUE KEY uniq_candidate_name (name)
	)`

	votesSchema = `
	CREATE TABLE IF NOT EXISTS votes (
		id INT PRIMARY KEY AUTO_INCREMENT,
		user_id BIGINT NOT NULL,
		candidate_id INT NULL,
		UNIQUE KEY uniq_voter (user_id),
		FOREIGN KEY (candidate_id) REFERENCES candidates(id)
	)`

	mysqlErrDuplicateEntry = 1062
)

// MySQLLedger is the production ledger. Writes go to the master, reads to the
// slave; when no slave is configured the master serves both. The pool is
// long-lived and shared by every concurrent operation.
type MySQLLedger struct {
	masterDB *sql.DB
	slaveDB  *sql.DB
	log      *logrus.Logger
}

var _ ledger.Ledger = (*MySQLLedger)(nil)

func NewMySQLLedger(cfg *config.MySQLConfig, log *logrus.Logger) (*MySQLLedger, error) {
	masterDB, err := sql.Open("mysql", cfg.Master)
	if err != nil {
		return nil, fmt.Errorf("open master database: %w", err)
	}

	masterDB.SetMaxOpenConns(cfg.MaxOpenConns)
	masterDB.SetMaxIdleConns(cfg.MaxIdleConns)
	masterDB.SetConnMaxLifetime(time.Hour)

	if err = masterDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping master database: %w", err)
	}

	slaveDB := masterDB
	if cfg.Slave != "" {
		slaveDB, err = sql.Open("mysql", cfg.Slave)
		if err != nil {
			return nil, fmt.Errorf("open slave database: %w", err)
		}

		slaveDB.SetMaxOpenConns(cfg.MaxOpenConns)
		slaveDB.SetMaxIdleConns(cfg.MaxIdleConns)
		slaveDB.SetConnMaxLifetime(time.Hour)

		if err = slaveDB.Ping(); err != nil {
			log.WithError(err).Warn("slave database unreachable, falling back to master for reads")
			slaveDB.Close()
			slaveDB = masterDB
		}
	}

	return &MySQLLedger{
		masterDB: masterDB,
		slaveDB:  slaveDB,
		log:      log,
	}, nil
}

// EnsureSchema creates the candidates and votes tables. Safe to call on every
// start.
func (l *MySQLLedger) EnsureSchema() error {
	if _, err := l.masterDB.Exec(candidatesSchema); err != nil {
		return unavailable("create candidates table", err)
	}
	if _, err := l.masterDB.Exec(votesSchema); err != nil {
		return unavailable("create votes table", err)
	}
	return nil
}

func (l *MySQLLedger) FindCandidateByName(name string) (*model.Candidate, error) {
	query := "SELECT id, name, description, votes FROM candidates WHERE name = ?"
	row := l.slaveDB.QueryRow(query, name)

	var candidate model.Candidate
	err := row.Scan(&candidate.ID, &candidate.Name, &candidate.Description, &candidate.Votes)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ledger.ErrNotFound
		}
		return nil, unavailable("query candidate by name", err)
	}

	return &candidate, nil
}

// InsertCandidate relies on the uniqueness constraint on name, not on a prior
// existence check, so concurrent bootstrap runs cannot slip a duplicate
// through the check-then-act gap.
func (l *MySQLLedger) InsertCandidate(name, description string) (*model.Candidate, error) {
	result, err := l.masterDB.Exec(
		"INSERT INTO candidates (name, description) VALUES (?, ?)", name, description)
	if err != nil {
		if isDuplicateEntry(err) {
			return nil, ledger.ErrDuplicateKey
		}
		return nil, unavailable("insert candidate", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, unavailable("read candidate id", err)
	}

	return &model.Candidate{ID: id, Name: name, Description: description}, nil
}

func (l *MySQLLedger) FindVoter(userID int64) (*model.Voter, error) {
	query := "SELECT user_id, candidate_id FROM votes WHERE user_id = ?"
	row := l.slaveDB.QueryRow(query, userID)

	var voter model.Voter
	var candidateID sql.NullInt64
	err := row.Scan(&voter.UserID, &candidateID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ledger.ErrNotFound
		}
		return nil, unavailable("query voter", err)
	}

	if candidateID.Valid {
		voter.HasVoted = true
		voter.CandidateID = &candidateID.Int64
	}

	return &voter, nil
}

func (l *MySQLLedger) InsertVoter(userID int64) (*model.Voter, error) {
	_, err := l.masterDB.Exec("INSERT INTO votes (user_id) VALUES (?)", userID)
	if err != nil {
		if isDuplicateEntry(err) {
			return nil, ledger.ErrDuplicateKey
		}
		return nil, unavailable("insert voter", err)
	}

	return &model.Voter{UserID: userID}, nil
}

func (l *MySQLLedger) ListCandidates() ([]*model.Candidate, error) {
	query := "SELECT id, name, description, votes FROM candidates ORDER BY id"
	rows, err := l.slaveDB.Query(query)
	if err != nil {
		return nil, unavailable("query candidates", err)
	}
	defer rows.Close()

	var candidates []*model.Candidate
	for rows.Next() {
		var candidate model.Candidate
		if err := rows.Scan(&candidate.ID, &candidate.Name, &candidate.Description, &candidate.Votes); err != nil {
			return nil, unavailable("scan candidate", err)
		}
		candidates = append(candidates, &candidate)
	}

	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate candidates", err)
	}

	return candidates, nil
}

// RecordVote executes as one transaction. The exactly-once guard is the
// conditional UPDATE: it only binds a ballot whose candidate_id is still
// NULL, so of two racing attempts for the same voter exactly one sees an
// affected row and the counter is incremented exactly once.
func (l *MySQLLedger) RecordVote(userID, candidateID int64) error {
	tx, err := l.masterDB.Begin()
	if err != nil {
		return unavailable("begin transaction", err)
	}

	var exists int64
	err = tx.QueryRow("SELECT id FROM candidates WHERE id = ?", candidateID).Scan(&exists)
	if err != nil {
		tx.Rollback()
		if err == sql.ErrNoRows {
			return ledger.ErrUnknownCandidate
		}
		return unavailable("verify candidate", err)
	}

	result, err := tx.Exec(
		"UPDATE votes SET candidate_id = ? WHERE user_id = ? AND candidate_id IS NULL",
		candidateID, userID)
	if err != nil {
		tx.Rollback()
		return unavailable("bind ballot", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		tx.Rollback()
		return unavailable("read ballot update result", err)
	}

	if affected == 0 {
		// Unvoted row was not there: either the voter is unknown or the
		// ballot is already bound.
		var bound sql.NullInt64
		err = tx.QueryRow("SELECT candidate_id FROM votes WHERE user_id = ?", userID).Scan(&bound)
		tx.Rollback()
		if err != nil {
			if err == sql.ErrNoRows {
				return ledger.ErrUnknownVoter
			}
			return unavailable("inspect ballot", err)
		}
		return ledger.ErrAlreadyVoted
	}

	if _, err := tx.Exec("UPDATE candidates SET votes = votes + 1 WHERE id = ?", candidateID); err != nil {
		tx.Rollback()
		return unavailable("increment candidate counter", err)
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit vote", err)
	}

	return nil
}

// Tally joins candidates to their vote records at read time; the cached
// votes column is deliberately not consulted.
func (l *MySQLLedger) Tally() ([]*model.TallyEntry, error) {
	query := `SELECT c.name, COUNT(v.candidate_id)
			 FROM candidates c
			 LEFT JOIN votes v ON v.candidate_id = c.id
			 GROUP BY c.id, c.name
			 ORDER BY c.id`

	rows, err := l.slaveDB.Query(query)
	if err != nil {
		return nil, unavailable("query tally", err)
	}
	defer rows.Close()

	var entries []*model.TallyEntry
	for rows.Next() {
		var entry model.TallyEntry
		if err := rows.Scan(&entry.Name, &entry.Votes); err != nil {
			return nil, unavailable("scan tally entry", err)
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate tally", err)
	}

	return entries, nil
}

func (l *MySQLLedger) Close() error {
	if l.slaveDB != nil && l.slaveDB != l.masterDB {
		l.slaveDB.Close()
	}
	if l.masterDB != nil {
		return l.masterDB.Close()
	}
	return nil
}

func isDuplicateEntry(err error) bool {
	if mysqlErr, ok := err.(*mysql.MySQLError); ok {
		return mysqlErr.Number == mysqlErrDuplicateEntry
	}
	return false
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ledger.ErrUnavailable, op, err)
}
