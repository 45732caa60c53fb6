package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SourceTag distinguishes rows created by the Canvas importer from rows
// entered manually by the user.
type SourceTag string

const (
	// SourceCanvas marks rows written by the import reconciler.
	SourceCanvas SourceTag = "canvas"
	// SourceManual marks rows entered through the regular task form.
	SourceManual SourceTag = "manual"
)

// TaskStatus enumerates the lifecycle states of a task.
type TaskStatus string

const (
	// StatusPending is the initial state of every task.
	StatusPending TaskStatus = "pending"
	// StatusInProgress marks a task the student has started.
	StatusInProgress TaskStatus = "in_progress"
	// StatusCompleted marks a finished task.
	StatusCompleted TaskStatus = "completed"
)

const (
	maxIdentifierLength = 190

	// PriorityMin and PriorityMax bound the 1..5 priority scale.
	PriorityMin = 1
	PriorityMax = 5
	// DefaultPriority is the mid-scale value assigned to imported tasks.
	DefaultPriority = 3
)

// SentinelDueDate is the fixed far-future placeholder assigned to imported
// assignments without a due date, so they sort last instead of being dropped.
var SentinelDueDate = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)

var (
	// ErrInvalidTaskID indicates that a task identifier is empty or exceeds storage bounds.
	ErrInvalidTaskID = errors.New("tasks: invalid task id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("tasks: invalid user id")
	// ErrInvalidPriority indicates a priority outside the 1..5 scale.
	ErrInvalidPriority = errors.New("tasks: invalid priority")
	// ErrInvalidStatus indicates an unknown task status value.
	ErrInvalidStatus = errors.New("tasks: invalid status")
	// ErrInvalidSource indicates an unknown source tag.
	ErrInvalidSource = errors.New("tasks: invalid source tag")
)

// TaskID represents a validated task identifier.
type TaskID string

// NewTaskID validates raw input and returns a TaskID.
func NewTaskID(rawInput string) (TaskID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidTaskID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidTaskID, maxIdentifierLength)
	}
	return TaskID(trimmed), nil
}

// String returns the underlying string identifier.
func (id TaskID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// NewPriority validates the 1..5 priority scale.
func NewPriority(value int) (int, error) {
	if value < PriorityMin || value > PriorityMax {
		return 0, fmt.Errorf("%w: %d", ErrInvalidPriority, value)
	}
	return value, nil
}

// ParseStatus validates a raw status string.
func ParseStatus(value string) (TaskStatus, error) {
	switch TaskStatus(strings.ToLower(strings.TrimSpace(value))) {
	case StatusPending:
		return StatusPending, nil
	case StatusInProgress:
		return StatusInProgress, nil
	case StatusCompleted:
		return StatusCompleted, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, value)
	}
}

// ParseSource validates a raw source tag.
func ParseSource(value string) (SourceTag, error) {
	switch SourceTag(strings.ToLower(strings.TrimSpace(value))) {
	case SourceCanvas:
		return SourceCanvas, nil
	case SourceManual:
		return SourceManual, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSource, value)
	}
}

// Task models a persisted task row. Canvas-sourced rows always carry a
// CanvasTaskID (the remote assignment id); manual rows never do. The
// composite unique index makes re-imports conflict instead of duplicating.
type Task struct {
	TaskID       string     `gorm:"column:task_id;primaryKey;size:190;not null"`
	UserID       string     `gorm:"column:user_id;size:190;not null;index:idx_tasks_user_due,priority:1;uniqueIndex:idx_tasks_canvas_ref,priority:1"`
	Title        string     `gorm:"column:title;size:512;not null"`
	Description  string     `gorm:"column:description;type:text;not null;default:''"`
	DueDate      time.Time  `gorm:"column:due_date;not null;index:idx_tasks_user_due,priority:2"`
	WorkDate     *time.Time `gorm:"column:work_date"`
	Category     string     `gorm:"column:category;size:190;not null;default:''"`
	Priority     int        `gorm:"column:priority;not null;default:3"`
	Status       TaskStatus `gorm:"column:status;size:32;not null;default:'pending'"`
	Source       SourceTag  `gorm:"column:source;size:16;not null;default:'manual'"`
	CanvasTaskID *string    `gorm:"column:canvas_task_id;size:190;uniqueIndex:idx_tasks_canvas_ref,priority:2"`
	CourseID     string     `gorm:"column:course_id;size:190;not null;default:''"`
	CourseName   string     `gorm:"column:course_name;size:512;not null;default:''"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Task) TableName() string {
	return "tasks"
}

// Course models a persisted course row. The categories column stores the
// JSON-encoded set of assignment-group names observed for the course.
type Course struct {
	CourseID       string    `gorm:"column:course_id;primaryKey;size:190;not null"`
	UserID         string    `gorm:"column:user_id;size:190;not null;index;uniqueIndex:idx_courses_canvas_ref,priority:1"`
	Name           string    `gorm:"column:name;size:512;not null"`
	Source         SourceTag `gorm:"column:source;size:16;not null;default:'manual'"`
	CanvasCourseID *string   `gorm:"column:canvas_course_id;size:190;uniqueIndex:idx_courses_canvas_ref,priority:2"`
	Categories     string    `gorm:"column:categories_json;type:text;not null;default:'[]'"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Course) TableName() string {
	return "courses"
}

// CategoryList decodes the stored category names. A corrupt column yields an
// empty list; the importer rebuilds it on the next write.
func (c Course) CategoryList() []string {
	if strings.TrimSpace(c.Categories) == "" {
		return nil
	}
	var names []string
	if err := json.Unmarshal([]byte(c.Categories), &names); err != nil {
		return nil
	}
	return names
}
