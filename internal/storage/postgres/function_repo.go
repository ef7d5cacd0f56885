package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/sandrun/internal/domain"
	"github.com/jkaninda/sandrun/internal/storage"
)

// FunctionRepository implements storage.FunctionStore on any GORM dialect.
// The SQLite backend reuses it unchanged.
type FunctionRepository struct {
	db *gorm.DB
}

// NewFunctionRepository creates a FunctionRepository.
func NewFunctionRepository(db *gorm.DB) *FunctionRepository {
	return &FunctionRepository{db: db}
}

// Create persists fn, assigning an id when it has none.
func (r *FunctionRepository) Create(ctx context.Context, fn *domain.Function) error {
	if err := storage.Validate(fn); err != nil {
		return err
	}
	if fn.ID == uuid.Nil {
		fn.ID = uuid.New()
	}
	model := toFunctionModel(fn)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("creating function: %w", err)
	}
	fn.CreatedAt, fn.UpdatedAt = model.CreatedAt, model.UpdatedAt
	return nil
}

// Get retrieves a function by id.
func (r *FunctionRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Function, error) {
	var model FunctionModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("getting function %s: %w", id, err)
	}
	return toFunctionDomain(&model), nil
}

// List returns saved functions, newest first.
func (r *FunctionRepository) List(ctx context.Context, opts storage.ListOptions) ([]domain.Function, error) {
	q := r.db.WithContext(ctx).Order("created_at DESC").Limit(opts.PageSize()).Offset(opts.Offset)
	if opts.CreatedBy != "" {
		q = q.Where("created_by = ?", opts.CreatedBy)
	}
	if opts.Scheduled {
		q = q.Where("schedule <> ''")
	}

	var models []FunctionModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing functions: %w", err)
	}
	fns := make([]domain.Function, len(models))
	for i := range models {
		fns[i] = *toFunctionDomain(&models[i])
	}
	return fns, nil
}

// Update overwrites the editable fields of an existing function.
func (r *FunctionRepository) Update(ctx context.Context, fn *domain.Function) error {
	if err := storage.Validate(fn); err != nil {
		return err
	}
	model := toFunctionModel(fn)
	res := r.db.WithContext(ctx).
		Model(&FunctionModel{}).
		Where("id = ?", fn.ID).
		Select("name", "description", "function_name", "parameter_names", "body_source", "arguments_text", "schedule", "updated_at").
		Updates(&model)
	if res.Error != nil {
		return fmt.Errorf("updating function %s: %w", fn.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Delete soft-deletes a function.
func (r *FunctionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).Delete(&FunctionModel{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("deleting function %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

var _ storage.FunctionStore = (*FunctionRepository)(nil)
