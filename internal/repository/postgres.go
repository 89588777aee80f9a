package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"fudosan-agent/internal/domain"
)

// turnRecord is the row shape of the turn log table.
type turnRecord struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	UserID    string    `gorm:"not null;index:idx_user_id_id,priority:1"`
	Question  string    `gorm:"not null"`
	Response  string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (r turnRecord) toTurn() domain.Turn {
	return domain.Turn{
		UserID:    r.UserID,
		Question:  r.Question,
		Response:  r.Response,
		Sequence:  r.ID,
		CreatedAt: r.CreatedAt,
	}
}

func recordFromTurn(t domain.Turn) turnRecord {
	return turnRecord{UserID: t.UserID, Question: t.Question, Response: t.Response}
}

// Postgres stores turns through gorm. It fits a Supabase project reached by
// its direct database connection string.
type Postgres struct {
	db    *gorm.DB
	table string
}

// NewPostgres connects to dsn and makes sure the turn table exists.
func NewPostgres(dsn, table string) (*Postgres, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("repository: postgres dsn must not be empty")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("repository: connect postgres: %w", err)
	}
	p, err := NewPostgresFromDB(db, table)
	if err != nil {
		return nil, err
	}
	if err := db.Table(table).AutoMigrate(&turnRecord{}); err != nil {
		return nil, fmt.Errorf("repository: migrate %s: %w", table, err)
	}
	return p, nil
}

// NewPostgresFromDB wraps an existing gorm handle.
func NewPostgresFromDB(db *gorm.DB, table string) (*Postgres, error) {
	if db == nil {
		return nil, errors.New("repository: gorm db must not be nil")
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("repository: invalid table name %q", table)
	}
	return &Postgres{db: db, table: table}, nil
}

func (p *Postgres) AppendTurn(ctx context.Context, turn domain.Turn) error {
	if strings.TrimSpace(turn.UserID) == "" {
		return errors.New("repository: AppendTurn: user id is required")
	}
	rec := recordFromTurn(turn)
	if err := p.db.WithContext(ctx).Table(p.table).Create(&rec).Error; err != nil {
		return fmt.Errorf("repository: AppendTurn: %w", err)
	}
	return nil
}

func (p *Postgres) RecentTurns(ctx context.Context, userID string, limit int) ([]domain.Turn, error) {
	var recs []turnRecord
	if err := p.recentQuery(ctx, userID, limit).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("repository: RecentTurns: %w", err)
	}
	turns := make([]domain.Turn, len(recs))
	for i, r := range recs {
		turns[len(recs)-1-i] = r.toTurn()
	}
	return turns, nil
}

func (p *Postgres) recentQuery(ctx context.Context, userID string, limit int) *gorm.DB {
	q := p.db.WithContext(ctx).Table(p.table).Where("user_id = ?", userID).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return q
}

// Close releases the underlying connection pool.
func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return fmt.Errorf("repository: postgres pool: %w", err)
	}
	return sqlDB.Close()
}
