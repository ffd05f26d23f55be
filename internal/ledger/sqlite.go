package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"intraday-trader/internal/models"
	"intraday-trader/pkg/utils"
)

const schema = `
CREATE TABLE IF NOT EXISTS cycle_records (
    id            TEXT PRIMARY KEY,
    cycle_at      DATETIME NOT NULL,
    trade_day     TEXT NOT NULL,
    symbol        TEXT NOT NULL,
    state_before  TEXT NOT NULL,
    state_after   TEXT NOT NULL,
    err_kind      TEXT NOT NULL DEFAULT '',
    err_detail    TEXT NOT NULL DEFAULT '',
    realized_pnl  REAL NOT NULL DEFAULT 0,
    account_json  TEXT,
    snapshot_json TEXT,
    directive_json TEXT,
    verdict_json  TEXT,
    order_json    TEXT,
    created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_cycle_records_cycle_at ON cycle_records(cycle_at);
CREATE INDEX IF NOT EXISTS idx_cycle_records_day ON cycle_records(trade_day);
CREATE INDEX IF NOT EXISTS idx_cycle_records_symbol_day ON cycle_records(symbol, trade_day);
`

// SQLiteLedger implements DecisionLedger backed by SQLite.
type SQLiteLedger struct {
	db      *sql.DB
	logger  zerolog.Logger
	entropy *ulid.MonotonicEntropy
}

// NewSQLiteLedger opens (or creates) the ledger database at path.
func NewSQLiteLedger(path string, logger zerolog.Logger) (*SQLiteLedger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping ledger database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create ledger schema: %w", err)
	}

	return &SQLiteLedger{
		db:      db,
		logger:  logger.With().Str("component", "ledger").Logger(),
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}, nil
}

// Append writes one cycle record. Nested structs are stored as JSON so
// the row stays a faithful snapshot of what the cycle saw.
func (l *SQLiteLedger) Append(ctx context.Context, record *models.CycleRecord) error {
	if record.ID == "" {
		record.ID = ulid.MustNew(ulid.Timestamp(record.CycleAt), l.entropy).String()
	}

	account, err := json.Marshal(record.Account)
	if err != nil {
		return fmt.Errorf("failed to encode account state: %w", err)
	}
	snapshot, err := marshalNullable(record.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	directive, err := marshalNullable(record.Directive)
	if err != nil {
		return fmt.Errorf("failed to encode directive: %w", err)
	}
	verdict, err := marshalNullable(record.Verdict)
	if err != nil {
		return fmt.Errorf("failed to encode verdict: %w", err)
	}
	order, err := marshalNullable(record.Order)
	if err != nil {
		return fmt.Errorf("failed to encode order: %w", err)
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO cycle_records (
			id, cycle_at, trade_day, symbol, state_before, state_after,
			err_kind, err_detail, realized_pnl,
			account_json, snapshot_json, directive_json, verdict_json, order_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.CycleAt.UTC(), tradeDay(record.CycleAt), record.Symbol,
		string(record.StateBefore), string(record.StateAfter),
		string(record.ErrKind), record.ErrDetail, record.RealizedPnL,
		string(account), snapshot, directive, verdict, order,
	)
	if err != nil {
		return fmt.Errorf("failed to append cycle record: %w", err)
	}

	l.logger.Debug().
		Str("id", record.ID).
		Str("symbol", record.Symbol).
		Str("state", string(record.StateAfter)).
		Msg("Cycle record appended")
	return nil
}

// GetByTimestamp returns the record written at exactly the given cycle
// timestamp, or sql.ErrNoRows if none exists.
func (l *SQLiteLedger) GetByTimestamp(ctx context.Context, at time.Time) (*models.CycleRecord, error) {
	row := l.db.QueryRowContext(ctx, selectColumns+` FROM cycle_records WHERE cycle_at = ?`, at.UTC())
	return scanRecord(row)
}

// GetRecent returns up to limit records for the symbol on the given
// day, oldest first.
func (l *SQLiteLedger) GetRecent(ctx context.Context, symbol string, day time.Time, limit int) ([]models.CycleRecord, error) {
	rows, err := l.db.QueryContext(ctx, selectColumns+`
		FROM cycle_records
		WHERE symbol = ? AND trade_day = ?
		ORDER BY cycle_at DESC
		LIMIT ?`, symbol, tradeDay(day), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent records: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	// Reverse into chronological order for the oracle prompt.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// GetDay returns all records for the given day, oldest first.
func (l *SQLiteLedger) GetDay(ctx context.Context, day time.Time) ([]models.CycleRecord, error) {
	rows, err := l.db.QueryContext(ctx, selectColumns+`
		FROM cycle_records
		WHERE trade_day = ?
		ORDER BY cycle_at ASC`, tradeDay(day))
	if err != nil {
		return nil, fmt.Errorf("failed to query day records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Close closes the underlying database.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

const selectColumns = `
	SELECT id, cycle_at, symbol, state_before, state_after,
	       err_kind, err_detail, realized_pnl,
	       account_json, snapshot_json, directive_json, verdict_json, order_json`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*models.CycleRecord, error) {
	var (
		rec         models.CycleRecord
		stateBefore string
		stateAfter  string
		errKind     string
		account     sql.NullString
		snapshot    sql.NullString
		directive   sql.NullString
		verdict     sql.NullString
		order       sql.NullString
	)
	err := row.Scan(&rec.ID, &rec.CycleAt, &rec.Symbol, &stateBefore, &stateAfter,
		&errKind, &rec.ErrDetail, &rec.RealizedPnL,
		&account, &snapshot, &directive, &verdict, &order)
	if err != nil {
		return nil, err
	}
	rec.StateBefore = models.PositionState(stateBefore)
	rec.StateAfter = models.PositionState(stateAfter)
	rec.ErrKind = models.ErrorKind(errKind)

	if account.Valid && account.String != "" {
		if err := json.Unmarshal([]byte(account.String), &rec.Account); err != nil {
			return nil, fmt.Errorf("failed to decode account state: %w", err)
		}
	}
	if err := unmarshalNullable(snapshot, &rec.Snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if err := unmarshalNullable(directive, &rec.Directive); err != nil {
		return nil, fmt.Errorf("failed to decode directive: %w", err)
	}
	if err := unmarshalNullable(verdict, &rec.Verdict); err != nil {
		return nil, fmt.Errorf("failed to decode verdict: %w", err)
	}
	if err := unmarshalNullable(order, &rec.Order); err != nil {
		return nil, fmt.Errorf("failed to decode order: %w", err)
	}
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]models.CycleRecord, error) {
	var records []models.CycleRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// marshalNullable encodes a possibly-nil pointer as a nullable JSON
// column value.
func marshalNullable[T any](p *T) (sql.NullString, error) {
	if p == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// unmarshalNullable decodes a nullable JSON column into **T, leaving
// the target nil for NULL columns.
func unmarshalNullable[T any](col sql.NullString, target **T) error {
	if !col.Valid || col.String == "" || col.String == "null" {
		return nil
	}
	var v T
	if err := json.Unmarshal([]byte(col.String), &v); err != nil {
		return err
	}
	*target = &v
	return nil
}

// tradeDay buckets records by the exchange's calendar day.
func tradeDay(t time.Time) string {
	return t.In(utils.IndiaLocation).Format("2006-01-02")
}
