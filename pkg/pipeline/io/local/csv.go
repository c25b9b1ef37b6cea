package local

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Row is one accepted CSV record. ID is its 1-based position among accepted rows.
type Row struct {
	ID     int64
	Values map[string]string
}

// Table is the known-column projection of a CSV file.
type Table struct {
	// Columns lists the known columns found in the header, in header order.
	Columns []string
	Rows    []Row
	// Skipped counts records dropped for having the wrong number of fields.
	Skipped int
}

// ReadTable reads a CSV file, keeps only the columns named in known (matched
// case-insensitively) and assigns stable ids 1..N to the accepted rows. Every column
// in required must be present in the header.
func ReadTable(r io.Reader, known []string, required ...string) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read header: empty file")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	canonical := make(map[string]string, len(known))
	for _, k := range known {
		canonical[strings.ToLower(k)] = k
	}

	t := &Table{}
	colIdx := map[string]int{}
	for i, col := range header {
		name, ok := canonical[strings.ToLower(strings.TrimSpace(col))]
		if !ok {
			continue
		}
		if _, dup := colIdx[name]; dup {
			continue
		}
		colIdx[name] = i
		t.Columns = append(t.Columns, name)
	}
	for _, req := range required {
		if _, ok := colIdx[req]; !ok {
			return nil, fmt.Errorf("missing required column %q", req)
		}
	}

	var nextID int64 = 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if len(rec) != len(header) {
			t.Skipped++
			continue
		}
		values := make(map[string]string, len(colIdx))
		for name, i := range colIdx {
			values[name] = strings.TrimSpace(rec[i])
		}
		t.Rows = append(t.Rows, Row{ID: nextID, Values: values})
		nextID++
	}
	return t, nil
}

// WriteTable writes a header line followed by records.
func WriteTable(w io.Writer, header []string, records [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, rec := range records {
		if len(rec) != len(header) {
			return fmt.Errorf("record %d has %d fields, want %d", i, len(rec), len(header))
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write record %d: %w", i, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}
