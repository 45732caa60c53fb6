package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/StudyDeskLabs/studydesk/backend/internal/canvas"
	"github.com/StudyDeskLabs/studydesk/backend/internal/importer"
	"github.com/StudyDeskLabs/studydesk/backend/internal/tasks"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// CanvasClient is the slice of the Canvas REST client the handlers use.
type CanvasClient interface {
	ListCourses(ctx context.Context) ([]canvas.Course, error)
	ListAssignments(ctx context.Context, courseID int64) ([]canvas.Assignment, error)
	ListAssignmentGroups(ctx context.Context, courseID int64) ([]canvas.AssignmentGroup, error)
}

// CanvasFactory builds a client from the caller's stored credentials.
type CanvasFactory interface {
	ClientFor(domain, token string) (CanvasClient, error)
}

// HTTPCanvasFactory is the production CanvasFactory.
type HTTPCanvasFactory struct {
	Timeout time.Duration
	Logger  *zap.Logger
}

// ClientFor constructs a REST client against the account's Canvas instance.
func (f *HTTPCanvasFactory) ClientFor(domain, token string) (CanvasClient, error) {
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return canvas.NewClient(canvas.ClientConfig{
		Domain:     domain,
		Token:      token,
		HTTPClient: &http.Client{Timeout: timeout},
		Logger:     f.Logger,
	})
}

// canvasClientForRequest loads the caller's stored credentials and builds a
// client. Missing credentials abort the request with 412: the client app
// directs the user to the settings screen.
func (h *httpHandler) canvasClientForRequest(c *gin.Context, userID tasks.UserID) (CanvasClient, bool) {
	account, err := h.accounts.Get(c.Request.Context(), userID.String())
	if err != nil {
		h.logger.Error("failed to load account for canvas request", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "account_lookup_failed"})
		return nil, false
	}
	if strings.TrimSpace(account.CanvasDomain) == "" || strings.TrimSpace(account.CanvasToken) == "" {
		c.JSON(http.StatusPreconditionFailed, gin.H{"error": "canvas_credentials_missing"})
		return nil, false
	}

	client, err := h.canvas.ClientFor(account.CanvasDomain, account.CanvasToken)
	if err != nil {
		h.logger.Warn("failed to build canvas client", zap.Error(err))
		c.JSON(http.StatusPreconditionFailed, gin.H{"error": "canvas_credentials_invalid"})
		return nil, false
	}
	return client, true
}

func respondCanvasError(c *gin.Context, logger *zap.Logger, err error) {
	var apiErr *canvas.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden {
			c.JSON(http.StatusPreconditionFailed, gin.H{"error": "canvas_credentials_rejected"})
			return
		}
		logger.Warn("canvas api error",
			zap.Int("status", apiErr.StatusCode),
			zap.String("endpoint", apiErr.Endpoint))
		c.JSON(http.StatusBadGateway, gin.H{"error": "canvas_unavailable"})
		return
	}
	logger.Error("canvas request failed", zap.Error(err))
	c.JSON(http.StatusBadGateway, gin.H{"error": "canvas_unavailable"})
}

type canvasCoursePayload struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	CourseCode string `json:"course_code"`
}

func (h *httpHandler) handleCanvasCourses(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}
	client, ok := h.canvasClientForRequest(c, userID)
	if !ok {
		return
	}

	courses, err := client.ListCourses(c.Request.Context())
	if err != nil {
		respondCanvasError(c, h.logger, err)
		return
	}

	payload := make([]canvasCoursePayload, 0, len(courses))
	for _, course := range courses {
		payload = append(payload, canvasCoursePayload{
			ID:         course.ID,
			Name:       course.Name,
			CourseCode: course.CourseCode,
		})
	}
	c.JSON(http.StatusOK, gin.H{"courses": payload})
}

type canvasAssignmentPayload struct {
	ID                int64   `json:"id"`
	CourseID          int64   `json:"course_id"`
	Name              string  `json:"name"`
	Description       string  `json:"description"`
	DueAt             *string `json:"due_at"`
	PointsPossible    float64 `json:"points_possible"`
	AssignmentGroupID int64   `json:"assignment_group_id"`
	GroupName         string  `json:"group_name"`
	HTMLURL           string  `json:"html_url"`
}

// handleCanvasAssignments serves the selection screen: upcoming assignments
// for one course together with their group names. The two Canvas endpoints
// are independent, so they are fetched concurrently.
func (h *httpHandler) handleCanvasAssignments(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}
	courseID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || courseID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_course_id"})
		return
	}
	client, ok := h.canvasClientForRequest(c, userID)
	if !ok {
		return
	}

	assignments, groups, err := fetchAssignmentsAndGroups(c.Request.Context(), client, courseID)
	if err != nil {
		respondCanvasError(c, h.logger, err)
		return
	}

	groupNames := make(map[int64]string, len(groups))
	for _, group := range groups {
		groupNames[group.ID] = group.Name
	}

	payload := make([]canvasAssignmentPayload, 0, len(assignments))
	for _, assignment := range assignments {
		var dueAt *string
		if assignment.DueAt != nil {
			formatted := assignment.DueAt.UTC().Format(time.RFC3339)
			dueAt = &formatted
		}
		payload = append(payload, canvasAssignmentPayload{
			ID:                assignment.ID,
			CourseID:          assignment.CourseID,
			Name:              assignment.Name,
			Description:       canvas.CleanDescription(assignment.DescriptionHTML),
			DueAt:             dueAt,
			PointsPossible:    assignment.PointsPossible,
			AssignmentGroupID: assignment.AssignmentGroupID,
			GroupName:         groupNames[assignment.AssignmentGroupID],
			HTMLURL:           assignment.HTMLURL,
		})
	}
	c.JSON(http.StatusOK, gin.H{"assignments": payload})
}

func fetchAssignmentsAndGroups(ctx context.Context, client CanvasClient, courseID int64) ([]canvas.Assignment, []canvas.AssignmentGroup, error) {
	var (
		waitGroup      sync.WaitGroup
		assignments    []canvas.Assignment
		groups         []canvas.AssignmentGroup
		assignmentsErr error
		groupsErr      error
	)
	waitGroup.Add(2)
	go func() {
		defer waitGroup.Done()
		assignments, assignmentsErr = client.ListAssignments(ctx, courseID)
	}()
	go func() {
		defer waitGroup.Done()
		groups, groupsErr = client.ListAssignmentGroups(ctx, courseID)
	}()
	waitGroup.Wait()

	if assignmentsErr != nil {
		return nil, nil, assignmentsErr
	}
	if groupsErr != nil {
		return nil, nil, groupsErr
	}
	return assignments, groups, nil
}

type canvasImportPayload struct {
	CourseIDs     []int64 `json:"course_ids"`
	AssignmentIDs []int64 `json:"assignment_ids"`
}

// handleCanvasImport fetches a fresh snapshot of the requested courses,
// filters it down to the selected assignments and runs the reconciler. The
// stored rows always reflect what Canvas served during this request, not a
// stale client-side copy.
func (h *httpHandler) handleCanvasImport(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}
	var request canvasImportPayload
	if err := c.ShouldBindJSON(&request); err != nil || len(request.CourseIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	client, ok := h.canvasClientForRequest(c, userID)
	if !ok {
		return
	}

	remoteCourses, err := client.ListCourses(c.Request.Context())
	if err != nil {
		respondCanvasError(c, h.logger, err)
		return
	}
	requestedCourses := make(map[int64]struct{}, len(request.CourseIDs))
	for _, id := range request.CourseIDs {
		requestedCourses[id] = struct{}{}
	}
	fetchedCourses := make([]canvas.Course, 0, len(request.CourseIDs))
	for _, course := range remoteCourses {
		if _, ok := requestedCourses[course.ID]; ok {
			fetchedCourses = append(fetchedCourses, course)
		}
	}

	selectedIDs := make(map[int64]struct{}, len(request.AssignmentIDs))
	for _, id := range request.AssignmentIDs {
		selectedIDs[id] = struct{}{}
	}

	selected := make([]canvas.Assignment, 0, len(request.AssignmentIDs))
	groupsByID := make(map[int64]canvas.AssignmentGroup)
	for _, course := range fetchedCourses {
		assignments, groups, err := fetchAssignmentsAndGroups(c.Request.Context(), client, course.ID)
		if err != nil {
			respondCanvasError(c, h.logger, err)
			return
		}
		for _, group := range groups {
			groupsByID[group.ID] = group
		}
		for _, assignment := range assignments {
			if len(selectedIDs) == 0 {
				selected = append(selected, assignment)
				continue
			}
			if _, ok := selectedIDs[assignment.ID]; ok {
				selected = append(selected, assignment)
			}
		}
	}

	report, err := h.importer.Import(c.Request.Context(), importer.Request{
		UserID:   userID,
		Selected: selected,
		Courses:  fetchedCourses,
		Groups:   groupsByID,
	})
	if errors.Is(err, importer.ErrNoCoursesResolved) {
		c.JSON(http.StatusPreconditionFailed, gin.H{"error": "no_courses_resolved"})
		return
	}
	if err != nil {
		h.logger.Error("canvas import failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "import_failed"})
		return
	}
	c.JSON(http.StatusOK, report)
}

type canvasSettingsPayload struct {
	Domain string `json:"domain"`
	Token  string `json:"token"`
}

func (h *httpHandler) handleUpdateCanvasSettings(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}
	var request canvasSettingsPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if strings.TrimSpace(request.Domain) == "" || strings.TrimSpace(request.Token) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	err := h.accounts.UpdateCanvasCredentials(c.Request.Context(), userID.String(), request.Domain, request.Token)
	if err != nil {
		h.logger.Error("failed to update canvas credentials", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		return
	}
	c.Status(http.StatusNoContent)
}
