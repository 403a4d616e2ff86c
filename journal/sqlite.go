package journal

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

func (j *SQLite) AppendClosed(r ClosedRecord) error {
	_, err := j.db.Exec(`
		INSERT OR IGNORE INTO closed_positions
		(position_id, symbol, system, direction, units, entry_price, exit_price,
		 open_time, close_time, realized_pl, r_multiple, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.PositionID, r.Symbol, r.System, r.Direction, r.Units,
		r.EntryPrice, r.ExitPrice, r.OpenTime, r.CloseTime,
		r.RealizedPL, r.RMultiple, r.Reason,
	)
	return err
}

// GetClosed returns a single archived position by id.
func (j *SQLite) GetClosed(positionID string) (ClosedRecord, error) {
	row := j.db.QueryRow(`
		SELECT position_id, symbol, system, direction, units, entry_price, exit_price,
		       open_time, close_time, realized_pl, r_multiple, reason
		FROM closed_positions
		WHERE position_id = ?`, positionID)

	var rec ClosedRecord
	err := row.Scan(
		&rec.PositionID, &rec.Symbol, &rec.System, &rec.Direction, &rec.Units,
		&rec.EntryPrice, &rec.ExitPrice, &rec.OpenTime, &rec.CloseTime,
		&rec.RealizedPL, &rec.RMultiple, &rec.Reason,
	)
	if err == sql.ErrNoRows {
		return ClosedRecord{}, fmt.Errorf("position %q not found in archive", positionID)
	}
	if err != nil {
		return ClosedRecord{}, err
	}
	return rec, nil
}

// ListClosedBetween returns archived positions whose close_time is within
// [start, end), oldest first.
func (j *SQLite) ListClosedBetween(start, end time.Time) ([]ClosedRecord, error) {
	rows, err := j.db.Query(`
		SELECT position_id, symbol, system, direction, units, entry_price, exit_price,
		       open_time, close_time, realized_pl, r_multiple, reason
		FROM closed_positions
		WHERE close_time >= ? AND close_time < ?
		ORDER BY close_time ASC`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ClosedRecord
	for rows.Next() {
		var rec ClosedRecord
		if err := rows.Scan(
			&rec.PositionID, &rec.Symbol, &rec.System, &rec.Direction, &rec.Units,
			&rec.EntryPrice, &rec.ExitPrice, &rec.OpenTime, &rec.CloseTime,
			&rec.RealizedPL, &rec.RMultiple, &rec.Reason,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (j *SQLite) Summarize() (Summary, error) {
	row := j.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN realized_pl > 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(realized_pl), 0),
		       COALESCE(AVG(r_multiple), 0)
		FROM closed_positions`)

	var s Summary
	if err := row.Scan(&s.Closed, &s.Winners, &s.TotalPL, &s.AvgR); err != nil {
		return Summary{}, err
	}
	if s.Closed > 0 {
		s.WinRate = float64(s.Winners) / float64(s.Closed)
	}
	return s, nil
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
