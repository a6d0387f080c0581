package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"github.com/SLRio/Railway3/internal/filter"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const (
	defaultPageSize = 1000
	maxPageSize     = 10000
)

type Repo struct {
	db *gorm.DB
}

func gormConfig() *gorm.Config {
	return &gorm.Config{Logger: logger.New(
		log.New(os.Stdout, "", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)}
}

func OpenPostgres(user, password, dbName, host, port, sslMode string) (*gorm.DB, error) {
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC", host, user, password, dbName, port, sslMode)
	return gorm.Open(postgres.Open(dsn), gormConfig())
}

// OpenSQLite opens a file (or "file:...?mode=memory" DSN) database, used for
// single node deployments and tests. SQLite has a single writer, so the pool
// is pinned to one connection.
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), gormConfig())
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

func New(db *gorm.DB) (*Repo, error) {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("migrate records: %w", err)
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *Repo) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func validate(value float64, date string) (time.Time, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return time.Time{}, &ValidationError{Field: "value", Reason: "must be a finite number"}
	}
	ts, err := ParseDate(date)
	if err != nil {
		return time.Time{}, &ValidationError{Field: "date", Reason: "must be an ISO-8601 timestamp"}
	}
	return ts, nil
}

// Create assigns a fresh id and persists rec.
func (r *Repo) Create(ctx context.Context, rec *Record) error {
	ts, err := validate(rec.Value, rec.Date)
	if err != nil {
		return err
	}
	rec.ID = uuid.New()
	rec.TS = ts
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	var row Record
	err := r.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load record: %w", err)
	}
	return &row, nil
}

type Order int

const (
	Unordered Order = iota
	Asc
	Desc
)

// ListOptions only take effect when an Order is set; an unordered listing
// always returns every matching record.
type ListOptions struct {
	Order  Order
	Limit  int
	Cursor *Cursor
}

type Page struct {
	Records    []Record
	NextCursor string
}

func (r *Repo) Find(ctx context.Context, f filter.Filter, opts ListOptions) (Page, error) {
	exprs := f.Exprs()
	q := r.db.WithContext(ctx).Model(&Record{})

	if opts.Order == Unordered {
		if len(exprs) > 0 {
			q = q.Clauses(clause.Where{Exprs: exprs})
		}
		var rows []Record
		if err := q.Find(&rows).Error; err != nil {
			return Page{}, fmt.Errorf("find records: %w", err)
		}
		return Page{Records: rows}, nil
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	desc := opts.Order == Desc

	if c := opts.Cursor; c != nil {
		ts := clause.Column{Name: "ts"}
		id := clause.Column{Name: "id"}
		if desc {
			exprs = append(exprs, clause.Or(
				clause.Lt{Column: ts, Value: c.TS},
				clause.And(clause.Eq{Column: ts, Value: c.TS}, clause.Lt{Column: id, Value: c.ID}),
			))
		} else {
			exprs = append(exprs, clause.Or(
				clause.Gt{Column: ts, Value: c.TS},
				clause.And(clause.Eq{Column: ts, Value: c.TS}, clause.Gt{Column: id, Value: c.ID}),
			))
		}
	}
	if len(exprs) > 0 {
		q = q.Clauses(clause.Where{Exprs: exprs})
	}
	order := clause.OrderBy{Columns: []clause.OrderByColumn{
		{Column: clause.Column{Name: "ts"}, Desc: desc},
		{Column: clause.Column{Name: "id"}, Desc: desc},
	}}

	var rows []Record
	if err := q.Clauses(order).Limit(limit + 1).Find(&rows).Error; err != nil {
		return Page{}, fmt.Errorf("find records: %w", err)
	}

	out := Page{Records: rows}
	if len(rows) > limit {
		last := rows[limit-1]
		out.Records = rows[:limit]
		out.NextCursor = Cursor{TS: last.TS, ID: last.ID}.Encode()
	}
	return out, nil
}

func (r *Repo) Count(ctx context.Context, f filter.Filter) (int64, error) {
	q := f.Apply(r.db.WithContext(ctx).Model(&Record{}))
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// UpdateByID replaces value, date and topic. There is no merge: a field left
// at its zero value is written as such.
func (r *Repo) UpdateByID(ctx context.Context, id uuid.UUID, in Fields) (*Record, error) {
	ts, err := validate(in.Value, in.Date)
	if err != nil {
		return nil, err
	}
	res := r.db.WithContext(ctx).Model(&Record{}).Where("id = ?", id).Updates(map[string]any{
		"value":      in.Value,
		"date":       in.Date,
		"topic":      in.Topic,
		"ts":         ts,
		"updated_at": time.Now().UTC(),
	})
	if res.Error != nil {
		return nil, fmt.Errorf("update record: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return r.Get(ctx, id)
}

// DeleteByID removes the record and returns what was stored.
func (r *Repo) DeleteByID(ctx context.Context, id uuid.UUID) (*Record, error) {
	var row Record
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&row, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		res := tx.Delete(&Record{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("delete record: %w", err)
	}
	return &row, nil
}

// DeleteMany removes every record matching f. The None filter empties the
// table.
func (r *Repo) DeleteMany(ctx context.Context, f filter.Filter) (int64, error) {
	q := f.Apply(r.db.WithContext(ctx))
	if f.IsNone() {
		q = q.Session(&gorm.Session{AllowGlobalUpdate: true})
	}
	res := q.Delete(&Record{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete records: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteBefore removes records whose timestamp is older than cutoff.
func (r *Repo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("ts < ?", cutoff.UTC()).Delete(&Record{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune records: %w", res.Error)
	}
	return res.RowsAffected, nil
}
