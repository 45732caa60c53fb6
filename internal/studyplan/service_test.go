package studyplan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/StudyDeskLabs/studydesk/backend/internal/tasks"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type scriptedGenerator struct {
	replies []string
	err     error
	prompts []string
}

func (g *scriptedGenerator) GenerateText(_ context.Context, prompt string) (string, error) {
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return "", g.err
	}
	if len(g.replies) == 0 {
		return "", errors.New("scripted generator exhausted")
	}
	reply := g.replies[0]
	g.replies = g.replies[1:]
	return reply, nil
}

type sequentialIDGenerator struct {
	next int
}

func (g *sequentialIDGenerator) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("plan-%03d", g.next), nil
}

var testDatabaseSequence int

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	testDatabaseSequence++
	dsn := fmt.Sprintf("file:studyplan_test_%d?mode=memory&cache=shared", testDatabaseSequence)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := db.AutoMigrate(&tasks.Task{}, &StudyPlan{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB, generator TextGenerator) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      func() time.Time { return time.Date(2024, time.September, 1, 9, 0, 0, 0, time.UTC) },
		IDProvider: &sequentialIDGenerator{},
		Generator:  generator,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service
}

func seedTask(t *testing.T, db *gorm.DB) (tasks.UserID, tasks.TaskID) {
	t.Helper()
	task := tasks.Task{
		TaskID:      "task-1",
		UserID:      "student-1",
		Title:       "Essay 1",
		Description: "Write an essay about photosynthesis.",
		Category:    "Essays",
		DueDate:     time.Date(2024, time.October, 15, 23, 59, 0, 0, time.UTC),
		Priority:    tasks.DefaultPriority,
		Status:      tasks.StatusPending,
		Source:      tasks.SourceCanvas,
	}
	if err := db.Create(&task).Error; err != nil {
		t.Fatalf("seed task: %v", err)
	}
	userID, err := tasks.NewUserID(task.UserID)
	if err != nil {
		t.Fatalf("user id: %v", err)
	}
	taskID, err := tasks.NewTaskID(task.TaskID)
	if err != nil {
		t.Fatalf("task id: %v", err)
	}
	return userID, taskID
}

const validPlanCompletion = `Here is your plan:
{
  "subtasks": [" Outline the essay ", "Draft the body", "Revise"],
  "timeEstimates": ["30 minutes", "2 hours", "45 minutes"],
  "techniques": ["Pomodoro", "Active recall", "Peer review"],
  "keyPoints": ["Light reactions", "Calvin cycle", "Chlorophyll"],
  "resources": ["Textbook chapter 8", "Khan Academy"]
}
Good luck!`

func TestGenerateForTaskStoresPlan(t *testing.T) {
	db := newTestDatabase(t)
	generator := &scriptedGenerator{replies: []string{validPlanCompletion}}
	service := newTestService(t, db, generator)
	userID, taskID := seedTask(t, db)

	plan, err := service.GenerateForTask(context.Background(), userID, taskID)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if plan.TaskID != "task-1" {
		t.Fatalf("unexpected task id %q", plan.TaskID)
	}
	if len(plan.Subtasks) != 3 || plan.Subtasks[0] != "Outline the essay" {
		t.Fatalf("unexpected subtasks %v", plan.Subtasks)
	}
	if len(plan.Resources) != 2 {
		t.Fatalf("unexpected resources %v", plan.Resources)
	}

	if len(generator.prompts) != 1 {
		t.Fatalf("unexpected prompt count %d", len(generator.prompts))
	}
	if !strings.Contains(generator.prompts[0], "Title: Essay 1") {
		t.Fatalf("prompt missing task title:\n%s", generator.prompts[0])
	}

	stored, err := service.GetForTask(context.Background(), userID, taskID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Subtasks[0] != "Outline the essay" {
		t.Fatalf("unexpected stored subtasks %v", stored.Subtasks)
	}
}

func TestGenerateForTaskReplacesExistingPlan(t *testing.T) {
	db := newTestDatabase(t)
	second := strings.ReplaceAll(validPlanCompletion, "Outline the essay", "Research sources")
	generator := &scriptedGenerator{replies: []string{validPlanCompletion, second}}
	service := newTestService(t, db, generator)
	userID, taskID := seedTask(t, db)

	if _, err := service.GenerateForTask(context.Background(), userID, taskID); err != nil {
		t.Fatalf("first generate: %v", err)
	}
	if _, err := service.GenerateForTask(context.Background(), userID, taskID); err != nil {
		t.Fatalf("second generate: %v", err)
	}

	var count int64
	if err := db.Model(&StudyPlan{}).Count(&count).Error; err != nil {
		t.Fatalf("count plans: %v", err)
	}
	if count != 1 {
		t.Fatalf("plan rows after regeneration: %d", count)
	}

	plan, err := service.GetForTask(context.Background(), userID, taskID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if plan.Subtasks[0] != "Research sources" {
		t.Fatalf("plan was not replaced: %v", plan.Subtasks)
	}
}

func TestGenerateForTaskRejectsMalformedCompletions(t *testing.T) {
	testCases := []struct {
		name       string
		completion string
	}{
		{name: "no JSON object", completion: "I cannot help with that."},
		{name: "invalid JSON", completion: "{ subtasks: broken }"},
		{name: "missing list", completion: `{"subtasks":["a"],"timeEstimates":["b"],"techniques":["c"],"keyPoints":["d"]}`},
		{name: "empty list", completion: `{"subtasks":[],"timeEstimates":["b"],"techniques":["c"],"keyPoints":["d"],"resources":["e"]}`},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			db := newTestDatabase(t)
			generator := &scriptedGenerator{replies: []string{testCase.completion}}
			service := newTestService(t, db, generator)
			userID, taskID := seedTask(t, db)

			_, err := service.GenerateForTask(context.Background(), userID, taskID)
			if !errors.Is(err, ErrMalformedCompletion) {
				t.Fatalf("expected ErrMalformedCompletion, got %v", err)
			}

			if _, err := service.GetForTask(context.Background(), userID, taskID); !errors.Is(err, ErrPlanNotFound) {
				t.Fatalf("plan stored despite malformed completion: %v", err)
			}
		})
	}
}

func TestGenerateForTaskRequiresOwnedTask(t *testing.T) {
	db := newTestDatabase(t)
	service := newTestService(t, db, &scriptedGenerator{replies: []string{validPlanCompletion}})
	_, taskID := seedTask(t, db)

	otherUser, err := tasks.NewUserID("student-2")
	if err != nil {
		t.Fatalf("user id: %v", err)
	}
	if _, err := service.GenerateForTask(context.Background(), otherUser, taskID); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestRemoveForTaskDeletesPlan(t *testing.T) {
	db := newTestDatabase(t)
	service := newTestService(t, db, &scriptedGenerator{replies: []string{validPlanCompletion}})
	userID, taskID := seedTask(t, db)

	if _, err := service.GenerateForTask(context.Background(), userID, taskID); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := service.RemoveForTask(context.Background(), userID.String(), taskID.String()); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := service.GetForTask(context.Background(), userID, taskID); !errors.Is(err, ErrPlanNotFound) {
		t.Fatalf("expected ErrPlanNotFound after removal, got %v", err)
	}

	// Removing again is a no-op.
	if err := service.RemoveForTask(context.Background(), userID.String(), taskID.String()); err != nil {
		t.Fatalf("second remove: %v", err)
	}
}

func TestSuggestPriority(t *testing.T) {
	testCases := []struct {
		name       string
		completion string
		expected   int
	}{
		{name: "plain number", completion: "4", expected: 4},
		{name: "padded number", completion: "  5\n", expected: 5},
		{name: "clamped high", completion: "9", expected: 5},
		{name: "clamped low", completion: "0", expected: 1},
		{name: "not numeric", completion: "probably a four", expected: 3},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			db := newTestDatabase(t)
			service := newTestService(t, db, &scriptedGenerator{replies: []string{testCase.completion}})
			userID, taskID := seedTask(t, db)

			priority, err := service.SuggestPriority(context.Background(), userID, taskID)
			if err != nil {
				t.Fatalf("suggest priority: %v", err)
			}
			if priority != testCase.expected {
				t.Fatalf("priority %d, want %d", priority, testCase.expected)
			}
		})
	}
}

func TestSuggestPrioritySurfacesGeneratorFailure(t *testing.T) {
	db := newTestDatabase(t)
	service := newTestService(t, db, &scriptedGenerator{err: errors.New("quota exhausted")})
	userID, taskID := seedTask(t, db)

	if _, err := service.SuggestPriority(context.Background(), userID, taskID); err == nil {
		t.Fatal("expected generator failure to surface")
	}
}

func TestSuggestWorkDate(t *testing.T) {
	db := newTestDatabase(t)
	service := newTestService(t, db, &scriptedGenerator{replies: []string{"2024-10-10\n"}})
	userID, taskID := seedTask(t, db)

	workDate, err := service.SuggestWorkDate(context.Background(), userID, taskID)
	if err != nil {
		t.Fatalf("suggest work date: %v", err)
	}
	if !workDate.Equal(time.Date(2024, time.October, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected work date %v", workDate)
	}
}

func TestSuggestWorkDateFallsBackToDueDate(t *testing.T) {
	db := newTestDatabase(t)
	service := newTestService(t, db, &scriptedGenerator{replies: []string{"whenever works"}})
	userID, taskID := seedTask(t, db)

	workDate, err := service.SuggestWorkDate(context.Background(), userID, taskID)
	if err != nil {
		t.Fatalf("suggest work date: %v", err)
	}
	if !workDate.Equal(time.Date(2024, time.October, 15, 23, 59, 0, 0, time.UTC)) {
		t.Fatalf("expected due date fallback, got %v", workDate)
	}
}
