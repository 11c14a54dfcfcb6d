package repository

import (
	"context"
	"errors"

	"github.com/timmy/mpcrawl/internal/domain"
	"gorm.io/gorm"
)

// TaskRepository keeps an audit trail of crawl tasks.
type TaskRepository struct {
	db *gorm.DB
}

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Save inserts or updates the task row.
func (r *TaskRepository) Save(ctx context.Context, task *domain.Task) error {
	if err := r.db.WithContext(ctx).Save(task).Error; err != nil {
		return &domain.StorageError{Op: "save task", Err: err}
	}
	return nil
}

// GetByID retrieves a task by ID.
func (r *TaskRepository) GetByID(ctx context.Context, id string) (*domain.Task, error) {
	var task domain.Task
	err := r.db.WithContext(ctx).First(&task, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &domain.NotFoundError{Resource: "task", ID: id}
	}
	if err != nil {
		return nil, &domain.StorageError{Op: "get task", Err: err}
	}
	return &task, nil
}

// List returns tasks matching the filter, newest first.
func (r *TaskRepository) List(ctx context.Context, filter domain.TaskFilter) ([]domain.Task, error) {
	query := r.db.WithContext(ctx).Model(&domain.Task{})
	if filter.Account != "" {
		query = query.Where("account_name = ?", filter.Account)
	}
	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var tasks []domain.Task
	if err := query.Order("created_at DESC").Find(&tasks).Error; err != nil {
		return nil, &domain.StorageError{Op: "list tasks", Err: err}
	}
	return tasks, nil
}
