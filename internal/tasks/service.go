package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()

	// ErrTaskNotFound indicates the requested task does not exist for the user.
	ErrTaskNotFound = errors.New("tasks: task not found")
	// ErrCourseNotFound indicates the referenced course does not exist for the user.
	ErrCourseNotFound = errors.New("tasks: course not found")
	// ErrMissingTitle indicates a create or update without a title.
	ErrMissingTitle = errors.New("tasks: title is required")
	// ErrCanvasRowImmutable indicates an attempt to create or retag Canvas rows
	// through the manual-entry path.
	ErrCanvasRowImmutable = errors.New("tasks: canvas rows are owned by the importer")
)

const (
	opServiceNew   = "tasks.service.new"
	opCreateTask   = "tasks.create"
	opListTasks    = "tasks.list"
	opGetTask      = "tasks.get"
	opUpdateTask   = "tasks.update"
	opDeleteTask   = "tasks.delete"
	opCreateCourse = "tasks.course.create"
	opListCourses  = "tasks.course.list"
)

// ServiceError carries a dotted operation code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the dotted operation code.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// IDProvider issues identifiers for new rows.
type IDProvider interface {
	NewID() (string, error)
}

// PlanRemover deletes the study plan depending on a task, if any. Deleting a
// Canvas-sourced task must cascade to its plan.
type PlanRemover interface {
	RemoveForTask(ctx context.Context, userID, taskID string) error
}

// ServiceConfig describes the dependencies of the task service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Plans      PlanRemover
	Logger     *zap.Logger
}

// Service implements manual task and course CRUD. Canvas-sourced rows are
// written only by the importer; this service reads them but refuses to mint
// new ones.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	plans      PlanRemover
	logger     *zap.Logger
}

// NewService constructs the task service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		plans:      cfg.Plans,
		logger:     logger,
	}, nil
}

// CreateTaskInput bundles the fields accepted from the manual task form.
type CreateTaskInput struct {
	Title       string
	Description string
	DueDate     time.Time
	WorkDate    *time.Time
	Category    string
	Priority    int
	CourseID    string
}

// CreateTask persists a manual task for the user.
func (s *Service) CreateTask(ctx context.Context, userID UserID, input CreateTaskInput) (Task, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return Task{}, newServiceError(opCreateTask, "missing_title", ErrMissingTitle)
	}

	priority := input.Priority
	if priority == 0 {
		priority = DefaultPriority
	}
	if _, err := NewPriority(priority); err != nil {
		return Task{}, newServiceError(opCreateTask, "invalid_priority", err)
	}

	dueDate := input.DueDate
	if dueDate.IsZero() {
		dueDate = SentinelDueDate
	}

	courseName := ""
	if input.CourseID != "" {
		course, err := s.courseByID(ctx, userID.String(), input.CourseID)
		if err != nil {
			return Task{}, newServiceError(opCreateTask, "course_lookup_failed", err)
		}
		courseName = course.Name
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateTask, "id_generation_failed", err, zap.String("user_id", userID.String()))
		return Task{}, newServiceError(opCreateTask, "id_generation_failed", err)
	}

	task := Task{
		TaskID:      id,
		UserID:      userID.String(),
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		DueDate:     dueDate.UTC(),
		WorkDate:    input.WorkDate,
		Category:    strings.TrimSpace(input.Category),
		Priority:    priority,
		Status:      StatusPending,
		Source:      SourceManual,
		CourseID:    input.CourseID,
		CourseName:  courseName,
	}
	if err := s.db.WithContext(ctx).Create(&task).Error; err != nil {
		s.logError(opCreateTask, "insert_failed", err, zap.String("user_id", userID.String()))
		return Task{}, newServiceError(opCreateTask, "insert_failed", err)
	}
	return task, nil
}

// ListTasks returns all tasks for the user ordered by due date, earliest first.
// Imported assignments without a real due date carry the sentinel and sort last.
func (s *Service) ListTasks(ctx context.Context, userID UserID) ([]Task, error) {
	var rows []Task
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("due_date ASC, created_at ASC").
		Find(&rows).Error
	if err != nil {
		s.logError(opListTasks, "query_failed", err, zap.String("user_id", userID.String()))
		return nil, newServiceError(opListTasks, "query_failed", err)
	}
	return rows, nil
}

// GetTask returns the task with the provided id, scoped to the user.
func (s *Service) GetTask(ctx context.Context, userID UserID, taskID TaskID) (Task, error) {
	var task Task
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND task_id = ?", userID.String(), taskID.String()).
		Take(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Task{}, newServiceError(opGetTask, "not_found", ErrTaskNotFound)
	}
	if err != nil {
		s.logError(opGetTask, "query_failed", err,
			zap.String("user_id", userID.String()),
			zap.String("task_id", taskID.String()))
		return Task{}, newServiceError(opGetTask, "query_failed", err)
	}
	return task, nil
}

// UpdateTaskInput carries optional field updates; nil pointers leave the
// stored value untouched.
type UpdateTaskInput struct {
	Title       *string
	Description *string
	DueDate     *time.Time
	WorkDate    *time.Time
	Category    *string
	Priority    *int
	Status      *TaskStatus
}

// UpdateTask applies the provided field updates to an existing task. Source
// and Canvas reference are never updatable; imported rows keep their link to
// the remote assignment.
func (s *Service) UpdateTask(ctx context.Context, userID UserID, taskID TaskID, input UpdateTaskInput) (Task, error) {
	task, err := s.GetTask(ctx, userID, taskID)
	if err != nil {
		return Task{}, err
	}

	updates := map[string]interface{}{}
	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			return Task{}, newServiceError(opUpdateTask, "missing_title", ErrMissingTitle)
		}
		updates["title"] = title
	}
	if input.Description != nil {
		updates["description"] = strings.TrimSpace(*input.Description)
	}
	if input.DueDate != nil {
		updates["due_date"] = input.DueDate.UTC()
	}
	if input.WorkDate != nil {
		updates["work_date"] = input.WorkDate
	}
	if input.Category != nil {
		updates["category"] = strings.TrimSpace(*input.Category)
	}
	if input.Priority != nil {
		if _, err := NewPriority(*input.Priority); err != nil {
			return Task{}, newServiceError(opUpdateTask, "invalid_priority", err)
		}
		updates["priority"] = *input.Priority
	}
	if input.Status != nil {
		if _, err := ParseStatus(string(*input.Status)); err != nil {
			return Task{}, newServiceError(opUpdateTask, "invalid_status", err)
		}
		updates["status"] = *input.Status
	}
	if len(updates) == 0 {
		return task, nil
	}

	err = s.db.WithContext(ctx).Model(&Task{}).
		Where("user_id = ? AND task_id = ?", userID.String(), taskID.String()).
		Updates(updates).Error
	if err != nil {
		s.logError(opUpdateTask, "update_failed", err,
			zap.String("user_id", userID.String()),
			zap.String("task_id", taskID.String()))
		return Task{}, newServiceError(opUpdateTask, "update_failed", err)
	}
	return s.GetTask(ctx, userID, taskID)
}

// DeleteTask removes a task and cascades to its dependent study plan.
func (s *Service) DeleteTask(ctx context.Context, userID UserID, taskID TaskID) error {
	if _, err := s.GetTask(ctx, userID, taskID); err != nil {
		return err
	}

	if s.plans != nil {
		if err := s.plans.RemoveForTask(ctx, userID.String(), taskID.String()); err != nil {
			s.logError(opDeleteTask, "plan_cascade_failed", err,
				zap.String("user_id", userID.String()),
				zap.String("task_id", taskID.String()))
			return newServiceError(opDeleteTask, "plan_cascade_failed", err)
		}
	}

	err := s.db.WithContext(ctx).
		Where("user_id = ? AND task_id = ?", userID.String(), taskID.String()).
		Delete(&Task{}).Error
	if err != nil {
		s.logError(opDeleteTask, "delete_failed", err,
			zap.String("user_id", userID.String()),
			zap.String("task_id", taskID.String()))
		return newServiceError(opDeleteTask, "delete_failed", err)
	}
	return nil
}

// CreateCourse persists a manual course for the user.
func (s *Service) CreateCourse(ctx context.Context, userID UserID, name string) (Course, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return Course{}, newServiceError(opCreateCourse, "missing_name", ErrMissingTitle)
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		return Course{}, newServiceError(opCreateCourse, "id_generation_failed", err)
	}

	course := Course{
		CourseID:   id,
		UserID:     userID.String(),
		Name:       trimmed,
		Source:     SourceManual,
		Categories: "[]",
	}
	if err := s.db.WithContext(ctx).Create(&course).Error; err != nil {
		s.logError(opCreateCourse, "insert_failed", err, zap.String("user_id", userID.String()))
		return Course{}, newServiceError(opCreateCourse, "insert_failed", err)
	}
	return course, nil
}

// ListCourses returns all courses for the user, imported and manual alike.
func (s *Service) ListCourses(ctx context.Context, userID UserID) ([]Course, error) {
	var rows []Course
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("name ASC").
		Find(&rows).Error
	if err != nil {
		s.logError(opListCourses, "query_failed", err, zap.String("user_id", userID.String()))
		return nil, newServiceError(opListCourses, "query_failed", err)
	}
	return rows, nil
}

func (s *Service) courseByID(ctx context.Context, userID, courseID string) (Course, error) {
	var course Course
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND course_id = ?", userID, courseID).
		Take(&course).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Course{}, ErrCourseNotFound
	}
	if err != nil {
		return Course{}, err
	}
	return course, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("tasks service error", attrs...)
}
