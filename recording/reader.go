package recording

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

// Reader reads back a recorded database.
type Reader struct {
	db *sql.DB
}

// OpenReader opens a database file written by a DataRecorder.
func OpenReader(filename string) (*Reader, error) {
	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", filename)
	}

	return &Reader{db: db}, nil
}

// Summary returns the number of recorded events per hook position.
func (r *Reader) Summary(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT Pos, COUNT(*) FROM "+EventTable+" GROUP BY Pos")
	if err != nil {
		return nil, errors.Wrap(err, "query summary")
	}
	defer rows.Close()

	summary := make(map[string]int)
	for rows.Next() {
		var (
			pos   string
			count int
		)

		if err := rows.Scan(&pos, &count); err != nil {
			return nil, errors.Wrap(err, "scan summary")
		}

		summary[pos] = count
	}

	return summary, rows.Err()
}

// Events returns the events of one address space in recording order.
func (r *Reader) Events(ctx context.Context, asid uint64) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT ID, Time, Domain, Pos, ASID, VPN, Frame, Slot, Access FROM "+
			EventTable+" WHERE ASID = ? ORDER BY Time, rowid", asid)
	if err != nil {
		return nil, errors.Wrap(err, "query events")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry

		err := rows.Scan(&e.ID, &e.Time, &e.Domain, &e.Pos, &e.ASID, &e.VPN,
			&e.Frame, &e.Slot, &e.Access)
		if err != nil {
			return nil, errors.Wrap(err, "scan event")
		}

		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// Close closes the database.
func (r *Reader) Close() error {
	return r.db.Close()
}
