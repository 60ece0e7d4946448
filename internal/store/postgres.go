package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Preference is one row of the preferences table.
type Preference struct {
	TournamentID string `gorm:"primaryKey;size:128"`
	Theme        string `gorm:"size:64;not null"`
	UpdatedAt    time.Time
}

type Postgres struct {
	db  *gorm.DB
	log *zap.Logger
}

// Open connects to Postgres through pgx and migrates the preferences table.
func Open(ctx context.Context, dsn string, log *zap.Logger) (*Postgres, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	sqlDB := stdlib.OpenDB(*cfg)
	sqlDB.SetMaxOpenConns(4)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := db.WithContext(ctx).AutoMigrate(&Preference{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate preferences: %w", err)
	}

	log.Named("store").Info("preferences store ready", zap.String("host", cfg.Host), zap.String("database", cfg.Database))
	return &Postgres{db: db, log: log.Named("store")}, nil
}

func (p *Postgres) Theme(ctx context.Context, tournamentID string) (string, error) {
	var pref Preference
	err := p.db.WithContext(ctx).Where("tournament_id = ?", tournamentID).First(&pref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load theme %q: %w", tournamentID, err)
	}
	return pref.Theme, nil
}

func (p *Postgres) SetTheme(ctx context.Context, tournamentID, theme string) error {
	theme, err := NormalizeTheme(theme)
	if err != nil {
		return err
	}
	pref := Preference{TournamentID: tournamentID, Theme: theme, UpdatedAt: time.Now().UTC()}
	err = p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tournament_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"theme", "updated_at"}),
	}).Create(&pref).Error
	if err != nil {
		return fmt.Errorf("save theme %q: %w", tournamentID, err)
	}
	return nil
}

func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
