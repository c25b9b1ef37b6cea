package consumer

import (
	"context"
	"strings"
	"testing"

	"github.com/shpitdev/product-enrichment-pipeline/pkg/mockllm"
	"github.com/shpitdev/product-enrichment-pipeline/pkg/pipeline/core"
	localio "github.com/shpitdev/product-enrichment-pipeline/pkg/pipeline/io/local"
	"github.com/shpitdev/product-enrichment-pipeline/pkg/pipeline/redact"
	"github.com/shpitdev/product-enrichment-pipeline/pkg/pipeline/schema"
	"github.com/shpitdev/product-enrichment-pipeline/pkg/pipeline/worker"
)

func TestPublicPackagesCompile(t *testing.T) {
	t.Parallel()

	sch, err := schema.Select(schema.Selection{Mode: "defaults", Profile: "catalog"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(sch.Names()) == 0 || sch.Names()[0] != "identifier" {
		t.Fatalf("unexpected schema names: %v", sch.Names())
	}

	srv := mockllm.New(nil)
	if srv.Handler() == nil {
		t.Fatalf("handler must not be nil")
	}

	table, err := localio.ReadTable(strings.NewReader("product_name\nWidget\n"), []string{"product_name"}, "product_name")
	if err != nil {
		t.Fatalf("ReadTable: %v", err)
	}
	if len(table.Rows) != 1 || table.Rows[0].ID != 1 {
		t.Fatalf("unexpected rows: %#v", table.Rows)
	}

	runner := core.ProcessFunc[string, string](func(_ context.Context, in string) (string, error) {
		return strings.ToUpper(in), nil
	})
	out, err := worker.ProcessAll(context.Background(), []string{"x"}, runner.Process, worker.Options{Workers: 1})
	if err != nil {
		t.Fatalf("ProcessAll failed: %v", err)
	}
	if len(out) != 1 || out[0].Output != "X" {
		t.Fatalf("unexpected output: %#v", out)
	}

	if got := redact.Secrets("key=sk-abcdef"); got == "" {
		t.Fatalf("redact returned empty string")
	}
}
