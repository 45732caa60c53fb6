package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/StudyDeskLabs/studydesk/backend/internal/accounts"
	"github.com/StudyDeskLabs/studydesk/backend/internal/auth"
	"github.com/StudyDeskLabs/studydesk/backend/internal/importer"
	"github.com/StudyDeskLabs/studydesk/backend/internal/studyplan"
	"github.com/StudyDeskLabs/studydesk/backend/internal/tasks"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const userIDContextKey = "studydesk_user_id"

var (
	errMissingAccountsService = errors.New("accounts service dependency required")
	errMissingTasksService    = errors.New("tasks service dependency required")
	errMissingImporterService = errors.New("importer service dependency required")
	errMissingTokenManager    = errors.New("token manager dependency required")
	errMissingCanvasFactory   = errors.New("canvas factory dependency required")
	errInvalidAuthorization   = errors.New("authorization header missing or invalid")
)

// SessionTokenManager issues and validates the API's bearer tokens.
type SessionTokenManager interface {
	IssueSessionToken(ctx context.Context, accountID string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// PlanService serves study plan generation and the suggestion calls. A nil
// dependency means no generator is configured and the endpoints answer 503.
type PlanService interface {
	GenerateForTask(ctx context.Context, userID tasks.UserID, taskID tasks.TaskID) (studyplan.Plan, error)
	GetForTask(ctx context.Context, userID tasks.UserID, taskID tasks.TaskID) (studyplan.Plan, error)
	SuggestPriority(ctx context.Context, userID tasks.UserID, taskID tasks.TaskID) (int, error)
	SuggestWorkDate(ctx context.Context, userID tasks.UserID, taskID tasks.TaskID) (time.Time, error)
}

// Dependencies bundles the collaborators of the HTTP layer.
type Dependencies struct {
	Accounts     *accounts.Service
	Tasks        *tasks.Service
	Importer     *importer.Service
	Plans        PlanService
	TokenManager SessionTokenManager
	Canvas       CanvasFactory
	Realtime     *RealtimeDispatcher
	Logger       *zap.Logger
}

// NewHTTPHandler builds the gin router with all API routes registered.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Accounts == nil {
		return nil, errMissingAccountsService
	}
	if deps.Tasks == nil {
		return nil, errMissingTasksService
	}
	if deps.Importer == nil {
		return nil, errMissingImporterService
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Canvas == nil {
		return nil, errMissingCanvasFactory
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		accounts: deps.Accounts,
		tasks:    deps.Tasks,
		importer: deps.Importer,
		plans:    deps.Plans,
		tokens:   deps.TokenManager,
		canvas:   deps.Canvas,
		realtime: realtime,
		logger:   logger,
	}

	router.POST("/auth/signup", handler.handleSignup)
	router.POST("/auth/login", handler.handleLogin)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/tasks", handler.handleListTasks)
	protected.POST("/tasks", handler.handleCreateTask)
	protected.GET("/tasks/:id", handler.handleGetTask)
	protected.PUT("/tasks/:id", handler.handleUpdateTask)
	protected.DELETE("/tasks/:id", handler.handleDeleteTask)
	protected.GET("/courses", handler.handleListCourses)
	protected.POST("/courses", handler.handleCreateCourse)
	protected.GET("/canvas/courses", handler.handleCanvasCourses)
	protected.GET("/canvas/courses/:id/assignments", handler.handleCanvasAssignments)
	protected.POST("/canvas/import", handler.handleCanvasImport)
	protected.POST("/tasks/:id/study-plan", handler.handleGeneratePlan)
	protected.GET("/tasks/:id/study-plan", handler.handleGetPlan)
	protected.POST("/tasks/:id/suggest-priority", handler.handleSuggestPriority)
	protected.POST("/tasks/:id/suggest-work-date", handler.handleSuggestWorkDate)
	protected.PUT("/settings/canvas", handler.handleUpdateCanvasSettings)
	protected.PUT("/settings/categories", handler.handleReplaceCategories)
	protected.GET("/events", handler.handleEventStream)

	return router, nil
}

type httpHandler struct {
	accounts *accounts.Service
	tasks    *tasks.Service
	importer *importer.Service
	plans    PlanService
	tokens   SessionTokenManager
	canvas   CanvasFactory
	realtime *RealtimeDispatcher
	logger   *zap.Logger
}

type signupRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

type loginRequestPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponsePayload struct {
	AccessToken string         `json:"access_token"`
	ExpiresIn   int64          `json:"expires_in"`
	TokenType   string         `json:"token_type"`
	Account     accountPayload `json:"account"`
}

type accountPayload struct {
	AccountID    string   `json:"account_id"`
	Email        string   `json:"email"`
	FullName     string   `json:"full_name"`
	CanvasDomain string   `json:"canvas_domain"`
	Categories   []string `json:"categories"`
}

func toAccountPayload(account accounts.Account) accountPayload {
	categories := account.CategoryList()
	if categories == nil {
		categories = []string{}
	}
	return accountPayload{
		AccountID:    account.AccountID,
		Email:        account.Email,
		FullName:     account.FullName,
		CanvasDomain: account.CanvasDomain,
		Categories:   categories,
	}
}

func (h *httpHandler) handleSignup(c *gin.Context) {
	var request signupRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	account, err := h.accounts.Register(c.Request.Context(), accounts.RegisterInput{
		Email:    request.Email,
		Password: request.Password,
		FullName: request.FullName,
	})
	if errors.Is(err, accounts.ErrEmailTaken) {
		c.JSON(http.StatusConflict, gin.H{"error": "email_taken"})
		return
	}
	if errors.Is(err, accounts.ErrInvalidEmail) || errors.Is(err, auth.ErrPasswordTooShort) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err != nil {
		h.logger.Error("signup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signup_failed"})
		return
	}

	h.respondWithSession(c, http.StatusCreated, account)
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	account, err := h.accounts.Authenticate(c.Request.Context(), request.Email, request.Password)
	if errors.Is(err, accounts.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_credentials"})
		return
	}
	if err != nil {
		h.logger.Error("login failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_failed"})
		return
	}

	h.respondWithSession(c, http.StatusOK, account)
}

func (h *httpHandler) respondWithSession(c *gin.Context, status int, account accounts.Account) {
	token, expiresIn, err := h.tokens.IssueSessionToken(c.Request.Context(), account.AccountID)
	if err != nil {
		h.logger.Error("failed to issue session token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(status, authResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		Account:     toAccountPayload(account),
	})
}

// authorizeRequest validates the bearer token and stashes the subject on the
// request context. The SSE route also accepts an access_token query
// parameter because EventSource clients cannot set headers.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := ""
	header := c.GetHeader("Authorization")
	switch {
	case strings.HasPrefix(header, "Bearer "):
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	case header == "":
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}

	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("session token expired", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

type categoriesPayload struct {
	Categories []string `json:"categories"`
}

func (h *httpHandler) handleReplaceCategories(c *gin.Context) {
	userID, ok := h.requestUserID(c)
	if !ok {
		return
	}
	var request categoriesPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if err := h.accounts.ReplaceCategories(c.Request.Context(), userID.String(), request.Categories); err != nil {
		h.logger.Error("failed to replace categories", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		return
	}
	account, err := h.accounts.Get(c.Request.Context(), userID.String())
	if err != nil {
		h.logger.Error("failed to reload account", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update_failed"})
		return
	}
	c.JSON(http.StatusOK, toAccountPayload(account))
}

func (h *httpHandler) requestUserID(c *gin.Context) (tasks.UserID, bool) {
	userID, err := tasks.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return userID, true
}

func (h *httpHandler) requestTaskID(c *gin.Context) (tasks.TaskID, bool) {
	taskID, err := tasks.NewTaskID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_task_id"})
		return "", false
	}
	return taskID, true
}
