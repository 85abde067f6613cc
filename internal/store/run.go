package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kubev2v/ids-validator/internal/store/model"
	"gorm.io/gorm"
)

type Run interface {
	List(ctx context.Context, filter *RunQueryFilter, opts *RunQueryOptions) (model.RunList, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Run, error)
	Create(ctx context.Context, run model.Run) (*model.Run, error)
	Update(ctx context.Context, run model.Run) (*model.Run, error)
}

type RunStore struct {
	db *gorm.DB
}

// Make sure we conform to Run interface
var _ Run = (*RunStore)(nil)

func NewRunStore(db *gorm.DB) Run {
	return &RunStore{db: db}
}

func (r *RunStore) List(ctx context.Context, filter *RunQueryFilter, opts *RunQueryOptions) (model.RunList, error) {
	var runs model.RunList
	tx := r.db.WithContext(ctx).Model(&runs)

	if filter != nil {
		for _, fn := range filter.QueryFn {
			tx = fn(tx)
		}
	}

	if opts == nil {
		opts = NewRunQueryOptions().WithSortOrder(SortByCreatedTime)
	}
	for _, fn := range opts.QueryFn {
		tx = fn(tx)
	}

	if err := tx.Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

func (r *RunStore) Get(ctx context.Context, id uuid.UUID) (*model.Run, error) {
	var run model.Run
	result := r.db.WithContext(ctx).First(&run, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, result.Error
	}
	return &run, nil
}

func (r *RunStore) Create(ctx context.Context, run model.Run) (*model.Run, error) {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.Status == "" {
		run.Status = model.RunStatusRunning
	}

	result := r.db.WithContext(ctx).Create(&run)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, result.Error
	}
	return &run, nil
}

// Update overwrites every column of an existing run except its creation time.
func (r *RunStore) Update(ctx context.Context, run model.Run) (*model.Run, error) {
	result := r.db.WithContext(ctx).
		Model(&model.Run{ID: run.ID}).
		Select("*").
		Omit("id", "created_at").
		Updates(&run)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrRecordNotFound
	}
	return r.Get(ctx, run.ID)
}
