package importer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/StudyDeskLabs/studydesk/backend/internal/canvas"
	"github.com/StudyDeskLabs/studydesk/backend/internal/tasks"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CategoryUncategorized is assigned when an assignment's group is missing
// from the fetched context or carries an empty name.
const CategoryUncategorized = "Uncategorized"

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingProfiles   = errors.New("profile store is required")
	noOpLogger           = zap.NewNop()

	// ErrNoCoursesResolved indicates the selection referenced only courses
	// absent from the fetched context; nothing was written.
	ErrNoCoursesResolved = errors.New("importer: selection references no fetched course")
)

const (
	opServiceNew = "importer.service.new"
	opImport     = "importer.import"
)

// ServiceError carries a dotted operation code alongside the cause. The code
// names the reconciliation step that failed, so callers can tell a course
// upsert failure from a task insert failure when deciding to retry.
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

// ProfileStore merges newly observed category names into the user's taxonomy.
type ProfileStore interface {
	AppendCategories(ctx context.Context, userID string, names []string) error
}

// EventPublisher is notified after a successful import that created rows.
type EventPublisher interface {
	PublishTaskChange(userID string, taskIDs []string)
}

// ServiceConfig describes the dependencies of the import reconciler.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider tasks.IDProvider
	Profiles   ProfileStore
	Events     EventPublisher
	Logger     *zap.Logger
}

// Service reconciles a user's Canvas assignment selection against the local
// store: it reuses or creates courses, merges the category taxonomy, skips
// already-imported assignments and batch-inserts the rest. Re-running the
// same import is safe and creates nothing; manual rows are never touched.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider tasks.IDProvider
	profiles   ProfileStore
	events     EventPublisher
	logger     *zap.Logger
}

// NewService constructs the import reconciler.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.Profiles == nil {
		return nil, newServiceError(opServiceNew, "missing_profile_store", errMissingProfiles)
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
		profiles:   cfg.Profiles,
		events:     cfg.Events,
		logger:     logger,
	}, nil
}

// Request carries one import invocation: the user's assignment selection and
// the remote context fetched for this sync session.
type Request struct {
	UserID   tasks.UserID
	Selected []canvas.Assignment
	Courses  []canvas.Course
	Groups   map[int64]canvas.AssignmentGroup
}

// Report summarizes what one reconciliation pass wrote. TasksSkipped counts
// assignments left untouched, whether already imported or unresolvable.
type Report struct {
	CoursesCreated int `json:"courses_created"`
	TasksCreated   int `json:"tasks_created"`
	TasksSkipped   int `json:"tasks_skipped"`
}

// Import runs one reconciliation pass. Course creation commits before any
// task referencing it is written; there is no transaction spanning the whole
// pass, so a mid-flight failure leaves earlier steps in place and the caller
// retries the whole import, which is idempotent.
func (s *Service) Import(ctx context.Context, req Request) (Report, error) {
	userID := req.UserID.String()
	if userID == "" {
		return Report{}, newServiceError(opImport, "missing_user_id", tasks.ErrInvalidUserID)
	}

	report := Report{}
	if len(req.Selected) == 0 {
		return report, nil
	}

	fetchedCourses := make(map[int64]canvas.Course, len(req.Courses))
	for _, course := range req.Courses {
		fetchedCourses[course.ID] = course
	}

	// Distinct course ids referenced by the selection, in selection order.
	referencedIDs := make([]int64, 0, len(req.Selected))
	referencedSeen := make(map[int64]struct{}, len(req.Selected))
	resolved := 0
	for _, assignment := range req.Selected {
		if _, ok := referencedSeen[assignment.CourseID]; ok {
			continue
		}
		referencedSeen[assignment.CourseID] = struct{}{}
		referencedIDs = append(referencedIDs, assignment.CourseID)
		if _, ok := fetchedCourses[assignment.CourseID]; ok {
			resolved++
		}
	}
	if resolved == 0 {
		return Report{}, newServiceError(opImport, "no_courses_resolved",
			fmt.Errorf("%w: course ids %v", ErrNoCoursesResolved, referencedIDs))
	}

	localCourseIDs, created, err := s.resolveCourses(ctx, userID, req, referencedIDs, fetchedCourses)
	if err != nil {
		return Report{}, err
	}
	report.CoursesCreated = created

	if err := s.mergeCategories(ctx, userID, req); err != nil {
		return Report{}, err
	}

	createdTasks, skipped, err := s.writeTasks(ctx, userID, req, fetchedCourses, localCourseIDs)
	if err != nil {
		return Report{}, err
	}
	report.TasksCreated = len(createdTasks)
	report.TasksSkipped = skipped

	if s.events != nil && len(createdTasks) > 0 {
		s.events.PublishTaskChange(userID, createdTasks)
	}

	s.logger.Info("canvas import completed",
		zap.String("user_id", userID),
		zap.Int("courses_created", report.CoursesCreated),
		zap.Int("tasks_created", report.TasksCreated),
		zap.Int("tasks_skipped", report.TasksSkipped))
	return report, nil
}

// resolveCourses reuses existing Canvas-sourced courses by remote reference
// and stages the rest as a single conflict-tolerant batch upsert. The map it
// returns is rebuilt from the store after the write, so a concurrent
// duplicate sync attempt resolves to whichever row won the conflict.
func (s *Service) resolveCourses(
	ctx context.Context,
	userID string,
	req Request,
	referencedIDs []int64,
	fetchedCourses map[int64]canvas.Course,
) (map[string]tasks.Course, int, error) {
	existing, err := s.loadCanvasCourses(ctx, userID)
	if err != nil {
		return nil, 0, newServiceError(opImport, "course_select_failed", err)
	}

	staged := make([]tasks.Course, 0, len(referencedIDs))
	for _, remoteID := range referencedIDs {
		remote, ok := fetchedCourses[remoteID]
		if !ok {
			continue
		}
		ref := strconv.FormatInt(remoteID, 10)
		if _, ok := existing[ref]; ok {
			continue
		}

		localID, err := s.idProvider.NewID()
		if err != nil {
			return nil, 0, newServiceError(opImport, "id_generation_failed", err)
		}
		refCopy := ref
		staged = append(staged, tasks.Course{
			CourseID:       localID,
			UserID:         userID,
			Name:           remote.Name,
			Source:         tasks.SourceCanvas,
			CanvasCourseID: &refCopy,
			Categories:     encodeNames(s.courseGroupNames(req, remoteID)),
		})
	}

	created := 0
	if len(staged) > 0 {
		result := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_id"}, {Name: "canvas_course_id"}},
				DoNothing: true,
			}).
			Create(&staged)
		if result.Error != nil {
			s.logError("course_upsert_failed", result.Error, zap.String("user_id", userID))
			return nil, 0, newServiceError(opImport, "course_upsert_failed", result.Error)
		}
		created = int(result.RowsAffected)

		existing, err = s.loadCanvasCourses(ctx, userID)
		if err != nil {
			return nil, 0, newServiceError(opImport, "course_select_failed", err)
		}
	}

	return existing, created, nil
}

// mergeCategories appends the group names referenced by the selection to the
// user's profile taxonomy before any task is written.
func (s *Service) mergeCategories(ctx context.Context, userID string, req Request) error {
	names := make([]string, 0, len(req.Groups))
	seen := make(map[string]struct{}, len(req.Groups))
	for _, assignment := range req.Selected {
		group, ok := req.Groups[assignment.AssignmentGroupID]
		if !ok {
			continue
		}
		name := strings.TrimSpace(group.Name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil
	}
	if err := s.profiles.AppendCategories(ctx, userID, names); err != nil {
		s.logError("category_merge_failed", err, zap.String("user_id", userID))
		return newServiceError(opImport, "category_merge_failed", err)
	}
	return nil
}

// writeTasks partitions the selection into new and already-imported
// assignments and batch-inserts only the new partition. Already-imported
// assignments stay frozen: a re-import never refreshes them.
func (s *Service) writeTasks(
	ctx context.Context,
	userID string,
	req Request,
	fetchedCourses map[int64]canvas.Course,
	localCourses map[string]tasks.Course,
) ([]string, int, error) {
	var existingRows []tasks.Task
	err := s.db.WithContext(ctx).
		Select("canvas_task_id").
		Where("user_id = ? AND source = ?", userID, tasks.SourceCanvas).
		Find(&existingRows).Error
	if err != nil {
		s.logError("task_select_failed", err, zap.String("user_id", userID))
		return nil, 0, newServiceError(opImport, "task_select_failed", err)
	}

	existingRefs := make(map[string]struct{}, len(existingRows))
	for _, row := range existingRows {
		if row.CanvasTaskID != nil {
			existingRefs[*row.CanvasTaskID] = struct{}{}
		}
	}

	inserts := make([]tasks.Task, 0, len(req.Selected))
	createdIDs := make([]string, 0, len(req.Selected))
	skipped := 0
	for _, assignment := range req.Selected {
		ref := strconv.FormatInt(assignment.ID, 10)
		if _, dup := existingRefs[ref]; dup {
			skipped++
			continue
		}

		courseRef := strconv.FormatInt(assignment.CourseID, 10)
		localCourse, ok := localCourses[courseRef]
		if !ok {
			// Course absent from the fetched context; the assignment cannot
			// be attached anywhere, so it is left out of this pass.
			s.logger.Warn("skipping assignment without resolvable course",
				zap.String("user_id", userID),
				zap.Int64("assignment_id", assignment.ID),
				zap.Int64("course_id", assignment.CourseID))
			skipped++
			continue
		}
		existingRefs[ref] = struct{}{}

		dueDate := tasks.SentinelDueDate
		if assignment.DueAt != nil {
			dueDate = assignment.DueAt.UTC()
		}

		localID, err := s.idProvider.NewID()
		if err != nil {
			return nil, 0, newServiceError(opImport, "id_generation_failed", err)
		}
		refCopy := ref
		inserts = append(inserts, tasks.Task{
			TaskID:       localID,
			UserID:       userID,
			Title:        assignment.Name,
			Description:  canvas.CleanDescription(assignment.DescriptionHTML),
			DueDate:      dueDate,
			Category:     s.resolveCategory(req, assignment),
			Priority:     tasks.DefaultPriority,
			Status:       tasks.StatusPending,
			Source:       tasks.SourceCanvas,
			CanvasTaskID: &refCopy,
			CourseID:     localCourse.CourseID,
			CourseName:   localCourse.Name,
		})
		createdIDs = append(createdIDs, localID)
	}

	if len(inserts) > 0 {
		if err := s.db.WithContext(ctx).Create(&inserts).Error; err != nil {
			s.logError("task_insert_failed", err, zap.String("user_id", userID))
			return nil, 0, newServiceError(opImport, "task_insert_failed", err)
		}
	}
	return createdIDs, skipped, nil
}

// resolveCategory maps an assignment to its group name, defaulting when the
// group is missing from the fetched context or unnamed.
func (s *Service) resolveCategory(req Request, assignment canvas.Assignment) string {
	group, ok := req.Groups[assignment.AssignmentGroupID]
	if !ok || strings.TrimSpace(group.Name) == "" {
		return CategoryUncategorized
	}
	return strings.TrimSpace(group.Name)
}

// courseGroupNames collects the distinct group names of the selected
// assignments belonging to one remote course, in selection order.
func (s *Service) courseGroupNames(req Request, courseRemoteID int64) []string {
	names := make([]string, 0, 4)
	seen := make(map[string]struct{}, 4)
	for _, assignment := range req.Selected {
		if assignment.CourseID != courseRemoteID {
			continue
		}
		group, ok := req.Groups[assignment.AssignmentGroupID]
		if !ok {
			continue
		}
		name := strings.TrimSpace(group.Name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

func (s *Service) loadCanvasCourses(ctx context.Context, userID string) (map[string]tasks.Course, error) {
	var rows []tasks.Course
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND source = ?", userID, tasks.SourceCanvas).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	byRef := make(map[string]tasks.Course, len(rows))
	for _, row := range rows {
		if row.CanvasCourseID != nil {
			byRef[*row.CanvasCourseID] = row
		}
	}
	return byRef, nil
}

func encodeNames(names []string) string {
	if len(names) == 0 {
		return "[]"
	}
	encoded := strings.Builder{}
	encoded.WriteByte('[')
	for index, name := range names {
		if index > 0 {
			encoded.WriteByte(',')
		}
		encoded.WriteString(strconv.Quote(name))
	}
	encoded.WriteByte(']')
	return encoded.String()
}

func (s *Service) logError(reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", opImport),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("import reconciliation error", attrs...)
}
