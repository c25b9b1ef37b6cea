package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"
)

// ErrNotFound is returned by Get when no row has the requested id.
var ErrNotFound = errors.New("result not found")

// Store persists merged enrichment rows in a single table.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open connects to dsn and migrates the results table. dsn is sqlite://<path> or a
// postgres:// (postgresql://) URL.
func Open(dsn string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dialector, err := dialectorFor(dsn)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := db.AutoMigrate(&Result{}); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	s := &Store{db: db, logger: logger.Named("store")}
	s.logger.Debug("store ready", zap.String("dialect", dialector.Name()))
	return s, nil
}

func dialectorFor(dsn string) (gorm.Dialector, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case strings.HasPrefix(dsn, "sqlite://"):
		path := strings.TrimPrefix(dsn, "sqlite://")
		if path == "" {
			return nil, errors.New("sqlite dsn has no path")
		}
		return sqlite.Open(path), nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return postgres.Open(dsn), nil
	case dsn == "":
		return nil, errors.New("empty store dsn")
	default:
		return nil, fmt.Errorf("unsupported store dsn scheme in %q", schemeOf(dsn))
	}
}

func schemeOf(dsn string) string {
	if i := strings.Index(dsn, "://"); i >= 0 {
		return dsn[:i]
	}
	return dsn
}

// Store implements core.OutputAdapter by replacing the table contents.
func (s *Store) Store(ctx context.Context, rows []Result) error {
	return s.Replace(ctx, rows)
}

// Replace deletes every stored row and inserts rows in one transaction.
func (s *Store) Replace(ctx context.Context, rows []Result) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&Result{}).Error; err != nil {
			return fmt.Errorf("clear results: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.CreateInBatches(rows, 100).Error; err != nil {
			return fmt.Errorf("insert results: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("results replaced", zap.Int("rows", len(rows)))
	return nil
}

// Upsert inserts rows, overwriting any stored row with the same id.
func (s *Store) Upsert(ctx context.Context, rows []Result) error {
	if len(rows) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).CreateInBatches(rows, 100).Error
	if err != nil {
		return fmt.Errorf("upsert results: %w", err)
	}
	s.logger.Info("results upserted", zap.Int("rows", len(rows)))
	return nil
}

// List returns every stored row ordered by id.
func (s *Store) List(ctx context.Context) ([]Result, error) {
	var out []Result
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	return out, nil
}

// Get returns the row with the given id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id int64) (*Result, error) {
	var r Result
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get result %d: %w", id, err)
	}
	return &r, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Update applies patch to the row with the given id and returns the stored result.
func (s *Store) Update(ctx context.Context, id int64, patch map[string]any) (*Result, error) {
	var out Result
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).Take(&out).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("get result %d: %w", id, err)
		}
		if err := out.Apply(patch); err != nil {
			return err
		}
		if err := tx.Save(&out).Error; err != nil {
			return fmt.Errorf("save result %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("result updated", zap.Int64("id", id), zap.Int("columns", len(patch)))
	return &out, nil
}
