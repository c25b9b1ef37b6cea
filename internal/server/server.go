package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/shpitdev/product-enrichment-pipeline/internal/pipeline"
	"github.com/shpitdev/product-enrichment-pipeline/internal/store"
	"github.com/shpitdev/product-enrichment-pipeline/pkg/pipeline/schema"
)

// DefaultMaxUploadBytes caps multipart uploads when Config.MaxUploadBytes is unset.
const DefaultMaxUploadBytes = 32 << 20

// ResultStore is the persistence used by the CSV endpoints. *store.Store satisfies it.
type ResultStore interface {
	Replace(ctx context.Context, rows []store.Result) error
	Upsert(ctx context.Context, rows []store.Result) error
	List(ctx context.Context) ([]store.Result, error)
	Update(ctx context.Context, id int64, patch map[string]any) (*store.Result, error)
}

type Config struct {
	Enricher *pipeline.Enricher
	// Store is optional. Without it uploads are enriched but not persisted and the
	// read endpoints answer 503.
	Store ResultStore
	// Schema is used when a request does not carry its own selection.
	Schema   schema.Selection
	Pipeline pipeline.Options

	MaxUploadBytes int64
	Logger         *zap.Logger
}

type Server struct {
	enricher  *pipeline.Enricher
	store     ResultStore
	schema    schema.Selection
	pipeline  pipeline.Options
	maxUpload int64
	logger    *zap.Logger

	engine *gin.Engine
}

func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}
	s := &Server{
		enricher:  cfg.Enricher,
		store:     cfg.Store,
		schema:    cfg.Schema,
		pipeline:  cfg.Pipeline,
		maxUpload: maxUpload,
		logger:    logger.Named("http"),
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(s.logger))

	r.GET("/healthz", s.healthz)
	r.POST("/enrich", s.enrichItems)
	r.POST("/enrich-products", s.enrichProducts)
	r.POST("/resynthesize-batch", s.resynthesizeBatch)
	r.PUT("/update-row", s.updateRow)
	r.GET("/results", s.results)
	r.GET("/download-results", s.downloadResults)
	return r
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on addr until ctx is cancelled, then drains in-flight requests for up
// to shutdownTimeout.
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down", zap.Duration("timeout", shutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start).Round(time.Millisecond)),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Warn("request failed", fields...)
			return
		}
		logger.Info("request", fields...)
	}
}
