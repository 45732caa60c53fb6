package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/StudyDeskLabs/studydesk/backend/internal/studyplan"
	"github.com/StudyDeskLabs/studydesk/backend/internal/tasks"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const dateOnlyLayout = "2006-01-02"

type taskPayload struct {
	TaskID       string  `json:"task_id"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	DueDate      string  `json:"due_date"`
	WorkDate     *string `json:"work_date"`
	Category     string  `json:"category"`
	Priority     int     `json:"priority"`
	Status       string  `json:"status"`
	Source       string  `json:"source"`
	CanvasTaskID *string `json:"canvas_task_id"`
	CourseID     string  `json:"course_id"`
	CourseName   string  `json:"course_name"`
}

func toTaskPayload(task tasks.Task) taskPayload {
	var workDate *string
	if task.WorkDate != nil {
		formatted := task.WorkDate.UTC().Format(time.RFC3339)
		workDate = &formatted
	}
	return taskPayload{
		TaskID:       task.TaskID,
		Title:        task.Title,
		Description:  task.Description,
		DueDate:      task.DueDate.UTC().Format(time.RFC3339),
		WorkDate:     workDate,
		Category:     task.Category,
		Priority:     task.Priority,
		Status:       string(task.Status),
		Source:       string(task.Source),
		CanvasTaskID: task.CanvasTaskID,
		CourseID:     task.CourseID,
		CourseName:   task.CourseName,
	}
}

type coursePayload struct {
	CourseID       string   `json:"course_id"`
	Name           string   `json:"name"`
	Source         string   `json:"source"`
	CanvasCourseID *string  `json:"canvas_course_id"`
	Categories     []string `json:"categories"`
}

func toCoursePayload(course tasks.Course) coursePayload {
	categories := course.CategoryList()
	if categories == nil {
		categories = []string{}
	}
	return coursePayload{
		CourseID:       course.CourseID,
		Name:           course.Name,
		Source:         string(course.Source),
		CanvasCourseID: course.CanvasCourseID,
		Categories:     categories,
	}
}

type createTaskPayload struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	DueDate     string  `json:"due_date"`
	WorkDate    *string `json:"work_date"`
	Category    string  `json:"category"`
	Priority    int     `json:"priority"`
	CourseID    string  `json:"course_id"`
}

type updateTaskPayload struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	DueDate     *string `json:"due_date"`
	WorkDate    *string `json:"work_date"`
	Category    *string `json:"category"`
	Priority    *int    `json:"priority"`
	Status      *string `json:"status"`
}

func parseClientTime(value string) (time.Time, error) {
	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		return parsed, nil
	}
	return time.Parse(dateOnlyLayout, value)
}

func (h *httpHandler) handleListTasks(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}
	rows, err := h.tasks.ListTasks(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list tasks", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	payload := make([]taskPayload, 0, len(rows))
	for _, task := range rows {
		payload = append(payload, toTaskPayload(task))
	}
	c.JSON(http.StatusOK, gin.H{"tasks": payload})
}

func (h *httpHandler) handleCreateTask(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}
	var request createTaskPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	input := tasks.CreateTaskInput{
		Title:       request.Title,
		Description: request.Description,
		Category:    request.Category,
		Priority:    request.Priority,
		CourseID:    request.CourseID,
	}
	if request.DueDate != "" {
		dueDate, err := parseClientTime(request.DueDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_due_date"})
			return
		}
		input.DueDate = dueDate
	}
	if request.WorkDate != nil {
		workDate, err := parseClientTime(*request.WorkDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_work_date"})
			return
		}
		input.WorkDate = &workDate
	}

	task, err := h.tasks.CreateTask(c.Request.Context(), userID, input)
	if errors.Is(err, tasks.ErrMissingTitle) || errors.Is(err, tasks.ErrInvalidPriority) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if errors.Is(err, tasks.ErrCourseNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "course_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to create task", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}
	h.realtime.Publish(RealtimeMessage{
		UserID:    userID.String(),
		EventType: RealtimeEventTaskChanged,
		TaskIDs:   []string{task.TaskID},
		Timestamp: time.Now().UTC(),
	})
	c.JSON(http.StatusCreated, toTaskPayload(task))
}

func (h *httpHandler) handleGetTask(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}
	taskID, ok := h.requestTaskID(c)
	if !ok {
		return
	}
	task, err := h.tasks.GetTask(c.Request.Context(), userID, taskID)
	if errors.Is(err, tasks.ErrTaskNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load task", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get_failed"})
		return
	}
	c.JSON(http.StatusOK, toTaskPayload(task))
}

func (h *httpHandler) handleUpdateTask(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}
	taskID, ok := h.requestTaskID(c)
	if !ok {
		return
	}
	var request updateTaskPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	input := tasks.UpdateTaskInput{
		Title:       request.Title,
		Description: request.Description,
		Category:    request.Category,
		Priority:    request.Priority,
	}
	if request.DueDate != nil {
		dueDate, err := parseClientTime(*request.DueDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_due_date"})
			return
		}
		input.DueDate = &dueDate
	}
	if request.WorkDate != nil {
		workDate, err := parseClientTime(*request.WorkDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_work_date"})
			return
		}
		input.WorkDate = &workDate
	}
	if request.Status != nil {
		status, err := tasks.ParseStatus(*request.Status)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_status"})
			return
		}
		input.Status = &status
	}

	task, err := h.tasks.UpdateTask(c.Request.Context(), userID, taskID, input)
	if errors.Is(err, tasks.ErrTaskNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task_not_found"})
		return
	}
	if errors.Is(err, tasks.ErrMissingTitle) || errors.Is(err, tasks.ErrInvalidPriority) || errors.Is(err, tasks.ErrInvalidStatus) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err != nil {
		h.logger.Error("failed to update task", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		return
	}
	h.realtime.Publish(RealtimeMessage{
		UserID:    userID.String(),
		EventType: RealtimeEventTaskChanged,
		TaskIDs:   []string{task.TaskID},
		Timestamp: time.Now().UTC(),
	})
	c.JSON(http.StatusOK, toTaskPayload(task))
}

func (h *httpHandler) handleDeleteTask(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}
	taskID, ok := h.requestTaskID(c)
	if !ok {
		return
	}
	err := h.tasks.DeleteTask(c.Request.Context(), userID, taskID)
	if errors.Is(err, tasks.ErrTaskNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to delete task", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	h.realtime.Publish(RealtimeMessage{
		UserID:    userID.String(),
		EventType: RealtimeEventTaskChanged,
		TaskIDs:   []string{taskID.String()},
		Timestamp: time.Now().UTC(),
	})
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListCourses(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}
	rows, err := h.tasks.ListCourses(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("failed to list courses", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list_failed"})
		return
	}
	payload := make([]coursePayload, 0, len(rows))
	for _, course := range rows {
		payload = append(payload, toCoursePayload(course))
	}
	c.JSON(http.StatusOK, gin.H{"courses": payload})
}

type createCoursePayload struct {
	Name string `json:"name"`
}

func (h *httpHandler) handleCreateCourse(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}
	var request createCoursePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	course, err := h.tasks.CreateCourse(c.Request.Context(), userID, request.Name)
	if errors.Is(err, tasks.ErrMissingTitle) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err != nil {
		h.logger.Error("failed to create course", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}
	c.JSON(http.StatusCreated, toCoursePayload(course))
}

type planPayload struct {
	TaskID        string   `json:"task_id"`
	Subtasks      []string `json:"subtasks"`
	TimeEstimates []string `json:"time_estimates"`
	Techniques    []string `json:"techniques"`
	KeyPoints     []string `json:"key_points"`
	Resources     []string `json:"resources"`
}

func toPlanPayload(plan studyplan.Plan) planPayload {
	return planPayload{
		TaskID:        plan.TaskID,
		Subtasks:      plan.Subtasks,
		TimeEstimates: plan.TimeEstimates,
		Techniques:    plan.Techniques,
		KeyPoints:     plan.KeyPoints,
		Resources:     plan.Resources,
	}
}

func (h *httpHandler) planServiceOrUnavailable(c *gin.Context) (PlanService, bool) {
	if h.plans == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "study_plans_unavailable"})
		return nil, false
	}
	return h.plans, true
}

func (h *httpHandler) handleGeneratePlan(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}
	taskID, ok := h.requestTaskID(c)
	if !ok {
		return
	}
	plans, ok := h.planServiceOrUnavailable(c)
	if !ok {
		return
	}

	plan, err := plans.GenerateForTask(c.Request.Context(), userID, taskID)
	if errors.Is(err, studyplan.ErrTaskNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task_not_found"})
		return
	}
	if errors.Is(err, studyplan.ErrMalformedCompletion) {
		c.JSON(http.StatusBadGateway, gin.H{"error": "generation_unusable"})
		return
	}
	if err != nil {
		h.logger.Error("failed to generate study plan", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "generation_failed"})
		return
	}
	c.JSON(http.StatusCreated, toPlanPayload(plan))
}

func (h *httpHandler) handleGetPlan(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}
	taskID, ok := h.requestTaskID(c)
	if !ok {
		return
	}
	plans, ok := h.planServiceOrUnavailable(c)
	if !ok {
		return
	}

	plan, err := plans.GetForTask(c.Request.Context(), userID, taskID)
	if errors.Is(err, studyplan.ErrTaskNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task_not_found"})
		return
	}
	if errors.Is(err, studyplan.ErrPlanNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "plan_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load study plan", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get_failed"})
		return
	}
	c.JSON(http.StatusOK, toPlanPayload(plan))
}

func (h *httpHandler) handleSuggestPriority(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}
	taskID, ok := h.requestTaskID(c)
	if !ok {
		return
	}
	plans, ok := h.planServiceOrUnavailable(c)
	if !ok {
		return
	}

	priority, err := plans.SuggestPriority(c.Request.Context(), userID, taskID)
	if errors.Is(err, studyplan.ErrTaskNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to suggest priority", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "suggestion_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"priority": priority})
}

func (h *httpHandler) handleSuggestWorkDate(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}
	taskID, ok := h.requestTaskID(c)
	if !ok {
		return
	}
	plans, ok := h.planServiceOrUnavailable(c)
	if !ok {
		return
	}

	workDate, err := plans.SuggestWorkDate(c.Request.Context(), userID, taskID)
	if errors.Is(err, studyplan.ErrTaskNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to suggest work date", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "suggestion_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"work_date": workDate.Format(dateOnlyLayout)})
}
