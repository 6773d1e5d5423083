package source

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteSource reads records from a local SQLite table, keyset-paginated
// by id so resume is a WHERE clause rather than a client-side skip.
// The table needs id, creator_user_id, assigned_group and creator_group
// columns; rows with a NULL or empty creator_group are eligible.
type SQLiteSource struct {
	db    *sql.DB
	table string

	// PageSize controls how many rows are fetched per query. Default 500.
	PageSize int
}

// NewSQLiteSource opens the database at path and reads from table.
func NewSQLiteSource(path, table string) (*SQLiteSource, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return &SQLiteSource{db: db, table: table, PageSize: 500}, nil
}

// Probe verifies the table is readable and has the expected shape.
func (s *SQLiteSource) Probe(ctx context.Context) error {
	query := fmt.Sprintf(`
		SELECT id, creator_user_id, assigned_group, creator_group
		FROM %q LIMIT 1
	`, s.table)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMissingColumns, err)
	}
	return rows.Close()
}

// Open implements Source.
func (s *SQLiteSource) Open(_ context.Context, afterKey string) (Cursor, error) {
	pageSize := s.PageSize
	if pageSize <= 0 {
		pageSize = 500
	}
	return &sqliteCursor{
		src:      s,
		lastKey:  afterKey,
		pageSize: pageSize,
	}, nil
}

// Close releases the database handle.
func (s *SQLiteSource) Close() error {
	return s.db.Close()
}

type sqliteCursor struct {
	src      *SQLiteSource
	lastKey  string
	pageSize int

	page []Record
	pos  int
	done bool
}

// Next implements Cursor.
func (c *sqliteCursor) Next(ctx context.Context) (Record, bool, error) {
	if c.pos >= len(c.page) {
		if c.done {
			return Record{}, false, nil
		}
		if err := c.fetch(ctx); err != nil {
			return Record{}, false, err
		}
		if len(c.page) == 0 {
			return Record{}, false, nil
		}
	}

	rec := c.page[c.pos]
	c.pos++
	c.lastKey = rec.ID
	return rec, true, nil
}

// Close implements Cursor. The underlying handle belongs to the source.
func (c *sqliteCursor) Close() error {
	return nil
}

// fetch loads the next page of eligible records past lastKey.
func (c *sqliteCursor) fetch(ctx context.Context) error {
	query := fmt.Sprintf(`
		SELECT id, creator_user_id, assigned_group
		FROM %q
		WHERE (creator_group IS NULL OR creator_group = '') AND id > ?
		ORDER BY id
		LIMIT ?
	`, c.src.table)

	rows, err := c.src.db.QueryContext(ctx, query, c.lastKey, c.pageSize)
	if err != nil {
		return fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	c.page = c.page[:0]
	c.pos = 0
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.CreatorUserID, &rec.AssignedGroup); err != nil {
			return fmt.Errorf("scan record: %w", err)
		}
		c.page = append(c.page, rec)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate records: %w", err)
	}

	c.done = len(c.page) < c.pageSize
	return nil
}
