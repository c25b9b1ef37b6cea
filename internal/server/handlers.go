package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/shpitdev/product-enrichment-pipeline/internal/enrich"
	"github.com/shpitdev/product-enrichment-pipeline/internal/pipeline"
	"github.com/shpitdev/product-enrichment-pipeline/internal/store"
	localio "github.com/shpitdev/product-enrichment-pipeline/pkg/pipeline/io/local"
	"github.com/shpitdev/product-enrichment-pipeline/pkg/pipeline/schema"
)

var errStoreDisabled = errors.New("result store is not configured")

type enrichRequest struct {
	Items  []enrich.Item     `json:"items"`
	Schema *schema.Selection `json:"schema,omitempty"`
	Policy string            `json:"policy,omitempty"`
}

type statsResponse struct {
	Total      int   `json:"total"`
	Succeeded  int   `json:"succeeded"`
	Failed     int   `json:"failed"`
	Chunks     int   `json:"chunks"`
	DurationMS int64 `json:"duration_ms"`
}

type enrichResponse struct {
	RunID    string           `json:"run_id"`
	Schema   string           `json:"schema"`
	Policy   pipeline.Policy  `json:"policy"`
	Results  []enrich.Record  `json:"results"`
	Failures []enrich.Failure `json:"failures"`
	Stats    statsResponse    `json:"stats"`
}

func (s *Server) healthz(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (s *Server) selection(sel *schema.Selection) (*schema.Schema, error) {
	if sel == nil {
		return schema.Select(s.schema)
	}
	return schema.Select(*sel)
}

func (s *Server) enrichItems(c *gin.Context) {
	s.limitBody(c)
	var req enrichRequest
	if err := decodeJSON(c.Request.Body, &req); err != nil {
		respondBodyError(c, err)
		return
	}
	if len(req.Items) == 0 {
		respondError(c, http.StatusUnprocessableEntity, "invalid_body", errors.New("no items provided"))
		return
	}
	policy, err := pipeline.ParsePolicy(req.Policy)
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_policy", err)
		return
	}
	sch, err := s.selection(req.Schema)
	if err != nil {
		respondRunError(c, err)
		return
	}

	opts := s.pipeline
	opts.Policy = policy
	out, err := s.enricher.RunSchema(c.Request.Context(), req.Items, sch, opts)
	if err != nil {
		respondRunError(c, err)
		return
	}

	st := out.Stats()
	failures := out.Failures()
	if failures == nil {
		failures = []enrich.Failure{}
	}
	c.JSON(http.StatusOK, enrichResponse{
		RunID:    out.RunID,
		Schema:   out.Schema.Name,
		Policy:   out.Policy,
		Results:  out.Results(),
		Failures: failures,
		Stats: statsResponse{
			Total:      st.Total,
			Succeeded:  st.Succeeded,
			Failed:     st.Failed,
			Chunks:     st.Chunks,
			DurationMS: st.Duration.Milliseconds(),
		},
	})
}

// enrichProducts enriches an uploaded CSV and replaces the stored results with the
// merged rows.
func (s *Server) enrichProducts(c *gin.Context) {
	s.limitBody(c)

	var sel *schema.Selection
	if raw := strings.TrimSpace(c.PostForm("schema_config")); raw != "" {
		sel = &schema.Selection{}
		if err := decodeJSON(strings.NewReader(raw), sel); err != nil {
			respondError(c, http.StatusUnprocessableEntity, "invalid_schema_config", err)
			return
		}
	}
	sch, err := s.selection(sel)
	if err != nil {
		respondRunError(c, err)
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		respondError(c, http.StatusUnprocessableEntity, "missing_file", err)
		return
	}
	f, err := fh.Open()
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_file", err)
		return
	}
	defer func() {
		_ = f.Close()
	}()

	table, err := localio.ReadTable(f, enrich.InputColumns[1:], "product_name")
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid_csv", fmt.Errorf("parse csv: %w", err))
		return
	}
	if len(table.Rows) == 0 {
		respondError(c, http.StatusBadRequest, "invalid_csv", errors.New("csv file is empty"))
		return
	}
	items := make([]enrich.Item, 0, len(table.Rows))
	for _, row := range table.Rows {
		id := row.ID
		items = append(items, enrich.ItemFromValues(&id, row.Values))
	}
	s.logger.Info("csv upload parsed",
		zap.String("filename", fh.Filename),
		zap.Int("rows", len(items)),
		zap.Int("skipped", table.Skipped),
		zap.Strings("columns", table.Columns),
	)

	rows, ok := s.runMerged(c, items, sch)
	if !ok {
		return
	}
	if s.store != nil {
		if err := s.store.Replace(c.Request.Context(), rows); err != nil {
			respondError(c, http.StatusInternalServerError, "store_failed", err)
			return
		}
	}
	s.respondMerged(c, rows)
}

type resynthesizeRequest struct {
	Rows   []enrich.Item     `json:"rows"`
	Schema *schema.Selection `json:"schema,omitempty"`
}

// resynthesizeBatch re-enriches edited rows and upserts them by id. The body is
// either a JSON array of rows or an object {rows, schema}.
func (s *Server) resynthesizeBatch(c *gin.Context) {
	s.limitBody(c)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondBodyError(c, err)
		return
	}
	var req resynthesizeRequest
	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &req.Rows)
	} else {
		err = decodeJSON(bytes.NewReader(body), &req)
	}
	if err != nil {
		respondError(c, http.StatusUnprocessableEntity, "invalid_body", err)
		return
	}
	if len(req.Rows) == 0 {
		respondError(c, http.StatusUnprocessableEntity, "invalid_body", errors.New("no rows provided for batch processing"))
		return
	}
	seen := make(map[int64]int, len(req.Rows))
	for i, it := range req.Rows {
		if it.ID == nil {
			respondError(c, http.StatusUnprocessableEntity, "invalid_body", fmt.Errorf("row %d is missing its id", i))
			return
		}
		if first, dup := seen[*it.ID]; dup {
			respondError(c, http.StatusUnprocessableEntity, "invalid_body",
				fmt.Errorf("rows %d and %d share id %d", first, i, *it.ID))
			return
		}
		seen[*it.ID] = i
	}
	sch, err := s.selection(req.Schema)
	if err != nil {
		respondRunError(c, err)
		return
	}

	rows, ok := s.runMerged(c, req.Rows, sch)
	if !ok {
		return
	}
	if s.store != nil {
		if err := s.store.Upsert(c.Request.Context(), rows); err != nil {
			respondError(c, http.StatusInternalServerError, "store_failed", err)
			return
		}
	}
	s.respondMerged(c, rows)
}

func (s *Server) updateRow(c *gin.Context) {
	if s.store == nil {
		respondError(c, http.StatusServiceUnavailable, "store_disabled", errStoreDisabled)
		return
	}
	s.limitBody(c)
	patch := map[string]any{}
	if err := decodeJSON(c.Request.Body, &patch); err != nil {
		respondBodyError(c, err)
		return
	}
	id, err := rowID(patch["id"])
	if err != nil {
		respondError(c, http.StatusUnprocessableEntity, "invalid_body", err)
		return
	}

	row, err := s.store.Update(c.Request.Context(), id, patch)
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(c, http.StatusNotFound, "not_found", err)
		return
	case errors.Is(err, store.ErrInvalidPatch):
		respondError(c, http.StatusUnprocessableEntity, "invalid_body", err)
		return
	case err != nil:
		respondError(c, http.StatusInternalServerError, "store_failed", err)
		return
	}
	merged, err := row.Merged()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "store_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "row": merged})
}

func (s *Server) results(c *gin.Context) {
	if s.store == nil {
		respondError(c, http.StatusServiceUnavailable, "store_disabled", errStoreDisabled)
		return
	}
	rows, err := s.store.List(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "store_failed", err)
		return
	}
	s.respondMerged(c, rows)
}

func (s *Server) downloadResults(c *gin.Context) {
	if s.store == nil {
		respondError(c, http.StatusServiceUnavailable, "store_disabled", errStoreDisabled)
		return
	}
	rows, err := s.store.List(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "store_failed", err)
		return
	}
	if len(rows) == 0 {
		respondError(c, http.StatusNotFound, "no_results", errors.New("no data found to download"))
		return
	}

	header := store.Header(rows)
	recs, err := store.Records(header, rows)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "store_failed", err)
		return
	}
	var buf bytes.Buffer
	if err := localio.WriteTable(&buf, header, recs); err != nil {
		respondError(c, http.StatusInternalServerError, "csv_failed", err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename=enrichment_results.csv")
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

// runMerged enriches items with the complete policy and merges every item with its
// outcome. It writes the error response itself and reports false on failure.
func (s *Server) runMerged(c *gin.Context, items []enrich.Item, sch *schema.Schema) ([]store.Result, bool) {
	opts := s.pipeline
	opts.Policy = pipeline.PolicyComplete
	out, err := s.enricher.RunSchema(c.Request.Context(), items, sch, opts)
	if err != nil {
		respondRunError(c, err)
		return nil, false
	}
	rows, err := store.FromOutcome(out)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "merge_failed", err)
		return nil, false
	}
	return rows, true
}

func (s *Server) respondMerged(c *gin.Context, rows []store.Result) {
	out := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		m, err := r.Merged()
		if err != nil {
			respondError(c, http.StatusInternalServerError, "store_failed", err)
			return
		}
		out = append(out, m)
	}
	c.JSON(http.StatusOK, out)
}

// limitBody caps the request body at the configured upload size.
func (s *Server) limitBody(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload)
}

func respondBodyError(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		respondError(c, http.StatusRequestEntityTooLarge, "body_too_large", err)
		return
	}
	respondError(c, http.StatusUnprocessableEntity, "invalid_body", err)
}

func decodeJSON(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

func rowID(v any) (int64, error) {
	switch t := v.(type) {
	case json.Number:
		id, err := t.Int64()
		if err != nil {
			return 0, fmt.Errorf("id must be an integer: %w", err)
		}
		return id, nil
	case nil:
		return 0, errors.New("missing 'id' key in request body")
	default:
		return 0, fmt.Errorf("id must be an integer, got %T", v)
	}
}
