package studyplan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/StudyDeskLabs/studydesk/backend/internal/tasks"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	opServiceNew       = "studyplan.service.new"
	opGenerate         = "studyplan.generate"
	opGet              = "studyplan.get"
	opRemove           = "studyplan.remove"
	opSuggestPriority  = "studyplan.suggest_priority"
	opSuggestWorkDate  = "studyplan.suggest_work_date"
	workDateLayout     = "2006-01-02"
	promptDateLayout   = "January 2, 2006"
	fallbackPriority   = 3
	emptyDescription   = "No description provided"
	emptyWorkDate      = "Not set"
	minPlanListEntries = 1
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingGenerator  = errors.New("text generator is required")
	noOpLogger           = zap.NewNop()

	// ErrTaskNotFound indicates the task does not exist or belongs to another user.
	ErrTaskNotFound = errors.New("studyplan: task not found")
	// ErrPlanNotFound indicates no plan has been generated for the task yet.
	ErrPlanNotFound = errors.New("studyplan: plan not found")
	// ErrMalformedCompletion indicates the model reply could not be decoded
	// into the expected plan structure.
	ErrMalformedCompletion = errors.New("studyplan: malformed completion")
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

// ServiceConfig describes the dependencies of the study plan service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider tasks.IDProvider
	Generator  TextGenerator
	Logger     *zap.Logger
}

// Service generates, stores and serves per-task study plans, and offers the
// two lightweight suggestion calls built on the same generator.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider tasks.IDProvider
	generator  TextGenerator
	logger     *zap.Logger
}

// NewService constructs the study plan service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.Generator == nil {
		return nil, newServiceError(opServiceNew, "missing_generator", errMissingGenerator)
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
		generator:  cfg.Generator,
		logger:     logger,
	}, nil
}

type completionPayload struct {
	Subtasks      []string `json:"subtasks"`
	TimeEstimates []string `json:"timeEstimates"`
	Techniques    []string `json:"techniques"`
	KeyPoints     []string `json:"keyPoints"`
	Resources     []string `json:"resources"`
}

// GenerateForTask produces a fresh study plan for the task and stores it,
// replacing any previous plan for the same task.
func (s *Service) GenerateForTask(ctx context.Context, userID tasks.UserID, taskID tasks.TaskID) (Plan, error) {
	task, err := s.loadTask(ctx, opGenerate, userID, taskID)
	if err != nil {
		return Plan{}, err
	}

	completion, err := s.generator.GenerateText(ctx, buildPlanPrompt(task))
	if err != nil {
		s.logError(opGenerate, "generation_failed", err, zap.String("task_id", taskID.String()))
		return Plan{}, newServiceError(opGenerate, "generation_failed", err)
	}

	payload, err := parseCompletion(completion)
	if err != nil {
		s.logError(opGenerate, "malformed_completion", err, zap.String("task_id", taskID.String()))
		return Plan{}, newServiceError(opGenerate, "malformed_completion", err)
	}

	record, err := s.buildRecord(userID.String(), taskID.String(), payload)
	if err != nil {
		return Plan{}, newServiceError(opGenerate, "encode_failed", err)
	}

	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "task_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"subtasks_json", "time_estimates_json", "techniques_json",
				"key_points_json", "resources_json", "updated_at",
			}),
		}).
		Create(&record).Error
	if err != nil {
		s.logError(opGenerate, "store_failed", err, zap.String("task_id", taskID.String()))
		return Plan{}, newServiceError(opGenerate, "store_failed", err)
	}

	plan, err := record.toPlan()
	if err != nil {
		return Plan{}, newServiceError(opGenerate, "decode_failed", err)
	}
	return plan, nil
}

// GetForTask returns the stored plan for the task.
func (s *Service) GetForTask(ctx context.Context, userID tasks.UserID, taskID tasks.TaskID) (Plan, error) {
	if _, err := s.loadTask(ctx, opGet, userID, taskID); err != nil {
		return Plan{}, err
	}

	var record StudyPlan
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND task_id = ?", userID.String(), taskID.String()).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Plan{}, newServiceError(opGet, "plan_not_found", ErrPlanNotFound)
	}
	if err != nil {
		return Plan{}, newServiceError(opGet, "select_failed", err)
	}
	plan, err := record.toPlan()
	if err != nil {
		return Plan{}, newServiceError(opGet, "decode_failed", err)
	}
	return plan, nil
}

// RemoveForTask deletes the stored plan for a task, if any. It satisfies the
// task service's cascade hook, so deleting a task drops its plan with it.
func (s *Service) RemoveForTask(ctx context.Context, userID string, taskID string) error {
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND task_id = ?", userID, taskID).
		Delete(&StudyPlan{}).Error
	if err != nil {
		s.logError(opRemove, "delete_failed", err, zap.String("task_id", taskID))
		return newServiceError(opRemove, "delete_failed", err)
	}
	return nil
}

// SuggestPriority asks the generator for a 1..5 priority. An unparseable
// reply falls back to the mid-scale default; a generator failure surfaces.
func (s *Service) SuggestPriority(ctx context.Context, userID tasks.UserID, taskID tasks.TaskID) (int, error) {
	task, err := s.loadTask(ctx, opSuggestPriority, userID, taskID)
	if err != nil {
		return 0, err
	}

	completion, err := s.generator.GenerateText(ctx, buildPriorityPrompt(task))
	if err != nil {
		s.logError(opSuggestPriority, "generation_failed", err, zap.String("task_id", taskID.String()))
		return 0, newServiceError(opSuggestPriority, "generation_failed", err)
	}

	parsed, err := strconv.Atoi(strings.TrimSpace(completion))
	if err != nil {
		s.logger.Debug("priority completion not numeric, using default",
			zap.String("task_id", taskID.String()),
			zap.String("completion", completion))
		return fallbackPriority, nil
	}
	if parsed < tasks.PriorityMin {
		parsed = tasks.PriorityMin
	}
	if parsed > tasks.PriorityMax {
		parsed = tasks.PriorityMax
	}
	return parsed, nil
}

// SuggestWorkDate asks the generator for a YYYY-MM-DD work date. An
// unparseable reply falls back to the task's due date.
func (s *Service) SuggestWorkDate(ctx context.Context, userID tasks.UserID, taskID tasks.TaskID) (time.Time, error) {
	task, err := s.loadTask(ctx, opSuggestWorkDate, userID, taskID)
	if err != nil {
		return time.Time{}, err
	}

	completion, err := s.generator.GenerateText(ctx, buildWorkDatePrompt(task))
	if err != nil {
		s.logError(opSuggestWorkDate, "generation_failed", err, zap.String("task_id", taskID.String()))
		return time.Time{}, newServiceError(opSuggestWorkDate, "generation_failed", err)
	}

	parsed, err := time.Parse(workDateLayout, strings.TrimSpace(completion))
	if err != nil {
		s.logger.Debug("work date completion not parseable, using due date",
			zap.String("task_id", taskID.String()),
			zap.String("completion", completion))
		return task.DueDate, nil
	}
	return parsed, nil
}

func (s *Service) loadTask(ctx context.Context, operation string, userID tasks.UserID, taskID tasks.TaskID) (tasks.Task, error) {
	var task tasks.Task
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND task_id = ?", userID.String(), taskID.String()).
		First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tasks.Task{}, newServiceError(operation, "task_not_found", ErrTaskNotFound)
	}
	if err != nil {
		return tasks.Task{}, newServiceError(operation, "task_select_failed", err)
	}
	return task, nil
}

func (s *Service) buildRecord(userID string, taskID string, payload completionPayload) (StudyPlan, error) {
	planID, err := s.idProvider.NewID()
	if err != nil {
		return StudyPlan{}, err
	}
	record := StudyPlan{
		PlanID: planID,
		UserID: userID,
		TaskID: taskID,
	}
	columns := []struct {
		items  []string
		target *string
	}{
		{payload.Subtasks, &record.SubtasksJSON},
		{payload.TimeEstimates, &record.TimeEstimatesJSON},
		{payload.Techniques, &record.TechniquesJSON},
		{payload.KeyPoints, &record.KeyPointsJSON},
		{payload.Resources, &record.ResourcesJSON},
	}
	for _, column := range columns {
		encoded, err := encodeList(column.items)
		if err != nil {
			return StudyPlan{}, err
		}
		*column.target = encoded
	}
	return record, nil
}

// parseCompletion extracts the JSON object from the completion text and
// validates that all five lists are present and non-empty. Models often wrap
// the object in prose or code fences, so everything outside the outermost
// braces is discarded.
func parseCompletion(completion string) (completionPayload, error) {
	start := strings.Index(completion, "{")
	end := strings.LastIndex(completion, "}")
	if start < 0 || end < start {
		return completionPayload{}, fmt.Errorf("%w: no JSON object in completion", ErrMalformedCompletion)
	}

	var payload completionPayload
	if err := json.Unmarshal([]byte(completion[start:end+1]), &payload); err != nil {
		return completionPayload{}, fmt.Errorf("%w: %v", ErrMalformedCompletion, err)
	}

	lists := []struct {
		name  string
		items []string
	}{
		{"subtasks", payload.Subtasks},
		{"timeEstimates", payload.TimeEstimates},
		{"techniques", payload.Techniques},
		{"keyPoints", payload.KeyPoints},
		{"resources", payload.Resources},
	}
	for _, list := range lists {
		if len(list.items) < minPlanListEntries {
			return completionPayload{}, fmt.Errorf("%w: %s list is empty", ErrMalformedCompletion, list.name)
		}
	}

	payload.Subtasks = trimItems(payload.Subtasks)
	payload.TimeEstimates = trimItems(payload.TimeEstimates)
	payload.Techniques = trimItems(payload.Techniques)
	payload.KeyPoints = trimItems(payload.KeyPoints)
	payload.Resources = trimItems(payload.Resources)
	return payload, nil
}

func trimItems(items []string) []string {
	trimmed := make([]string, 0, len(items))
	for _, item := range items {
		trimmed = append(trimmed, strings.TrimSpace(item))
	}
	return trimmed
}

func buildPlanPrompt(task tasks.Task) string {
	builder := strings.Builder{}
	builder.WriteString("Generate a detailed study plan for this task.\n")
	builder.WriteString("Respond with valid JSON only, using this exact format:\n")
	builder.WriteString("{\n")
	builder.WriteString("  \"subtasks\": [\"task1\", \"task2\", ...],\n")
	builder.WriteString("  \"timeEstimates\": [\"estimate1\", \"estimate2\", ...],\n")
	builder.WriteString("  \"techniques\": [\"technique1\", \"technique2\", ...],\n")
	builder.WriteString("  \"keyPoints\": [\"point1\", \"point2\", ...],\n")
	builder.WriteString("  \"resources\": [\"resource1\", \"resource2\", ...]\n")
	builder.WriteString("}\n\n")
	writeTaskDetails(&builder, task, false)
	builder.WriteString("\nRules:\n")
	builder.WriteString("1. Create 3-5 specific subtasks\n")
	builder.WriteString("2. Provide time estimates for each subtask\n")
	builder.WriteString("3. Suggest 3-4 study techniques\n")
	builder.WriteString("4. List 3-5 key points to focus on\n")
	builder.WriteString("5. Recommend 2-3 resources\n")
	builder.WriteString("6. Response must be valid JSON only, no other text\n")
	return builder.String()
}

func buildPriorityPrompt(task tasks.Task) string {
	builder := strings.Builder{}
	builder.WriteString("Analyze this task and respond with a single number (1-5) indicating priority level.\n")
	builder.WriteString("5 is highest priority, 1 is lowest.\n")
	builder.WriteString("Respond with only the number, no other text.\n\n")
	writeTaskDetails(&builder, task, true)
	builder.WriteString("\nConsider:\n")
	builder.WriteString("1. Urgency based on due date\n")
	builder.WriteString("2. Complexity of the task\n")
	builder.WriteString("3. Category importance\n")
	builder.WriteString("4. Time required\n")
	return builder.String()
}

func buildWorkDatePrompt(task tasks.Task) string {
	builder := strings.Builder{}
	builder.WriteString("Suggest an optimal work/study date for this task.\n")
	builder.WriteString("Respond with only the date in YYYY-MM-DD format, no other text.\n\n")
	writeTaskDetails(&builder, task, false)
	builder.WriteString("\nConsider:\n")
	builder.WriteString("1. Time needed for the task\n")
	builder.WriteString("2. Buffer time for revisions\n")
	builder.WriteString("3. Best practices for the category\n")
	return builder.String()
}

func writeTaskDetails(builder *strings.Builder, task tasks.Task, includeWorkDate bool) {
	description := task.Description
	if strings.TrimSpace(description) == "" {
		description = emptyDescription
	}
	builder.WriteString("Task Details:\n")
	fmt.Fprintf(builder, "Title: %s\n", task.Title)
	fmt.Fprintf(builder, "Description: %s\n", description)
	fmt.Fprintf(builder, "Category: %s\n", task.Category)
	fmt.Fprintf(builder, "Due Date: %s\n", task.DueDate.Format(promptDateLayout))
	if includeWorkDate {
		workDate := emptyWorkDate
		if task.WorkDate != nil {
			workDate = task.WorkDate.Format(promptDateLayout)
		}
		fmt.Fprintf(builder, "Work Date: %s\n", workDate)
	}
}

func (s *Service) logError(operation string, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("study plan service error", attrs...)
}
