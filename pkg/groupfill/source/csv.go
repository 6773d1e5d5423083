package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

// Required CSV columns. creator_group is optional; absent or null-ish
// values mark the record as eligible for backfill.
var requiredColumns = []string{"id", "creator_user_id", "assigned_group"}

// CSVSource reads records from a CSV file with a header row.
// Rows are yielded in file order; resume skips rows until the resume key
// has been passed.
type CSVSource struct {
	path string

	// EligibleOnly, when true, yields only records whose creator_group
	// is empty. Default true, matching the backfill use case.
	EligibleOnly bool
}

// NewCSVSource creates a source reading from the CSV file at path.
func NewCSVSource(path string) *CSVSource {
	return &CSVSource{path: path, EligibleOnly: true}
}

// Probe verifies the file exists and carries the required header columns.
func (s *CSVSource) Probe() error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	header, err := csv.NewReader(f).Read()
	if err != nil {
		return fmt.Errorf("read csv header: %w", err)
	}
	if _, err := columnIndex(header); err != nil {
		return err
	}
	return nil
}

// Open implements Source.
func (s *CSVSource) Open(_ context.Context, afterKey string) (Cursor, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // ragged rows are handled per-row

	header, err := r.Read()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	cols, err := columnIndex(header)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &csvCursor{
		f:            f,
		r:            r,
		cols:         cols,
		afterKey:     afterKey,
		skipping:     afterKey != "",
		eligibleOnly: s.EligibleOnly,
	}, nil
}

// columns maps field names to their positions in the header row.
type columns struct {
	id           int
	creatorUser  int
	assigned     int
	creatorGroup int // -1 when the column is absent
}

func columnIndex(header []string) (columns, error) {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.TrimSpace(strings.ToLower(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := idx[name]; !ok {
			return columns{}, fmt.Errorf("%w: %s", ErrMissingColumns, name)
		}
	}
	cols := columns{
		id:           idx["id"],
		creatorUser:  idx["creator_user_id"],
		assigned:     idx["assigned_group"],
		creatorGroup: -1,
	}
	if i, ok := idx["creator_group"]; ok {
		cols.creatorGroup = i
	}
	return cols, nil
}

type csvCursor struct {
	f            *os.File
	r            *csv.Reader
	cols         columns
	afterKey     string
	skipping     bool
	eligibleOnly bool
}

// Next implements Cursor.
func (c *csvCursor) Next(ctx context.Context) (Record, bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Record{}, false, err
		}

		row, err := c.r.Read()
		if err == io.EOF {
			return Record{}, false, nil
		}
		if err != nil {
			return Record{}, false, fmt.Errorf("read csv row: %w", err)
		}

		rec, ok := c.toRecord(row)
		if !ok {
			continue // malformed row, skip
		}

		if c.skipping {
			if rec.ID == c.afterKey {
				c.skipping = false
			}
			continue
		}

		if c.eligibleOnly && rec.CreatorGroup != "" {
			continue
		}
		return rec, true, nil
	}
}

// Close implements Cursor.
func (c *csvCursor) Close() error {
	return c.f.Close()
}

// toRecord builds a Record from a row, normalizing null-ish creator
// groups to empty.
func (c *csvCursor) toRecord(row []string) (Record, bool) {
	get := func(i int) string {
		if i < 0 || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	rec := Record{
		ID:            get(c.cols.id),
		CreatorUserID: get(c.cols.creatorUser),
		AssignedGroup: get(c.cols.assigned),
		CreatorGroup:  get(c.cols.creatorGroup),
	}
	if rec.ID == "" {
		return Record{}, false
	}

	switch strings.ToLower(rec.CreatorGroup) {
	case "null", "none":
		rec.CreatorGroup = ""
	}
	return rec, true
}
