package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/shpitdev/product-enrichment-pipeline/internal/enrich"
	"github.com/shpitdev/product-enrichment-pipeline/internal/store"
	localio "github.com/shpitdev/product-enrichment-pipeline/pkg/pipeline/io/local"
)

// ReadItems parses a product CSV. Only recognised input columns are kept,
// product_name is required and every accepted row gets a stable id 1..N. The second
// return value counts rows skipped for a bad field count.
func ReadItems(r io.Reader) ([]enrich.Item, int, error) {
	t, err := localio.ReadTable(r, enrich.InputColumns[1:], "product_name")
	if err != nil {
		return nil, 0, err
	}
	items := make([]enrich.Item, 0, len(t.Rows))
	for _, row := range t.Rows {
		id := row.ID
		items = append(items, enrich.ItemFromValues(&id, row.Values))
	}
	return items, t.Skipped, nil
}

// WriteResults writes merged rows as CSV.
func WriteResults(w io.Writer, rows []store.Result) error {
	header := store.Header(rows)
	recs, err := store.Records(header, rows)
	if err != nil {
		return err
	}
	return localio.WriteTable(w, header, recs)
}

// CSVSource loads items from a CSV file.
type CSVSource struct {
	Path string
	// Skipped is set by Load.
	Skipped int
}

func (s *CSVSource) Load(_ context.Context) ([]enrich.Item, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	items, skipped, err := ReadItems(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.Path, err)
	}
	s.Skipped = skipped
	return items, nil
}

// CSVSink writes merged rows to a CSV file, replacing its contents.
type CSVSink struct {
	Path string
}

func (s CSVSink) Store(_ context.Context, rows []store.Result) error {
	f, err := os.Create(s.Path)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()

	if err := WriteResults(f, rows); err != nil {
		return err
	}
	return f.Close()
}
