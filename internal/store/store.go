package store

import (
	"context"
	"errors"

	"github.com/kubev2v/ids-validator/internal/store/model"
	"gorm.io/gorm"
)

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrDuplicateKey   = errors.New("already exists")
)

type Store interface {
	Run() Run
	Migrate() error
	Statistics(ctx context.Context) (model.RunStats, error)
	Close() error
}

type DataStore struct {
	db  *gorm.DB
	run Run
}

func NewStore(db *gorm.DB) Store {
	return &DataStore{
		db:  db,
		run: NewRunStore(db),
	}
}

func (s *DataStore) Run() Run {
	return s.run
}

// Migrate creates or updates the tables of every model.
func (s *DataStore) Migrate() error {
	return s.db.AutoMigrate(&model.Run{})
}

func (s *DataStore) Statistics(ctx context.Context) (model.RunStats, error) {
	runs, err := s.Run().List(ctx, nil, nil)
	if err != nil {
		return model.RunStats{}, err
	}
	return model.NewRunStats(runs), nil
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
