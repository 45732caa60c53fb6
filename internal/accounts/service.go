package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/StudyDeskLabs/studydesk/backend/internal/auth"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()

	// ErrEmailTaken indicates a registration attempt with an email already in use.
	ErrEmailTaken = errors.New("accounts: email already registered")
	// ErrInvalidCredentials indicates a login attempt with an unknown email or wrong password.
	ErrInvalidCredentials = errors.New("accounts: invalid credentials")
	// ErrAccountNotFound indicates the requested account id does not exist.
	ErrAccountNotFound = errors.New("accounts: account not found")
	// ErrInvalidEmail indicates the supplied email is empty or malformed.
	ErrInvalidEmail = errors.New("accounts: invalid email")
)

const (
	opServiceNew        = "accounts.service.new"
	opRegister          = "accounts.register"
	opAuthenticate      = "accounts.authenticate"
	opGet               = "accounts.get"
	opUpdateCanvas      = "accounts.update_canvas_credentials"
	opAppendCategories  = "accounts.append_categories"
	opReplaceCategories = "accounts.replace_categories"
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

// ServiceConfig describes the dependencies required for account management.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service manages account registration, authentication, Canvas credentials
// and the per-account category taxonomy.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// RegisterInput bundles the fields required to create an account.
type RegisterInput struct {
	Email    string
	Password string
	FullName string
}

// Register creates a new account with a hashed password.
func (s *Service) Register(ctx context.Context, input RegisterInput) (Account, error) {
	email := normalizeEmail(input.Email)
	if email == "" || !strings.Contains(email, "@") {
		return Account{}, newServiceError(opRegister, "invalid_email", ErrInvalidEmail)
	}

	hash, err := auth.HashPassword(input.Password)
	if err != nil {
		return Account{}, newServiceError(opRegister, "invalid_password", err)
	}

	var existing Account
	err = s.db.WithContext(ctx).Where("email = ?", email).Take(&existing).Error
	if err == nil {
		return Account{}, newServiceError(opRegister, "email_taken", ErrEmailTaken)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logError(opRegister, "lookup_failed", err, zap.String("email", email))
		return Account{}, newServiceError(opRegister, "lookup_failed", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Account{}, newServiceError(opRegister, "id_generation_failed", err)
	}

	account := Account{
		AccountID:    id.String(),
		Email:        email,
		PasswordHash: hash,
		FullName:     strings.TrimSpace(input.FullName),
		Categories:   "[]",
	}
	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		s.logError(opRegister, "insert_failed", err, zap.String("email", email))
		return Account{}, newServiceError(opRegister, "insert_failed", err)
	}
	return account, nil
}

// Authenticate verifies the credentials and returns the matching account.
func (s *Service) Authenticate(ctx context.Context, email, password string) (Account, error) {
	var account Account
	err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, newServiceError(opAuthenticate, "unknown_email", ErrInvalidCredentials)
	}
	if err != nil {
		s.logError(opAuthenticate, "lookup_failed", err)
		return Account{}, newServiceError(opAuthenticate, "lookup_failed", err)
	}
	if err := auth.VerifyPassword(account.PasswordHash, password); err != nil {
		return Account{}, newServiceError(opAuthenticate, "password_mismatch", ErrInvalidCredentials)
	}
	return account, nil
}

// Get returns the account with the provided id.
func (s *Service) Get(ctx context.Context, accountID string) (Account, error) {
	var account Account
	err := s.db.WithContext(ctx).Where("account_id = ?", accountID).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, newServiceError(opGet, "not_found", ErrAccountNotFound)
	}
	if err != nil {
		s.logError(opGet, "lookup_failed", err, zap.String("account_id", accountID))
		return Account{}, newServiceError(opGet, "lookup_failed", err)
	}
	return account, nil
}

// UpdateCanvasCredentials stores the Canvas domain and access token used by the importer.
func (s *Service) UpdateCanvasCredentials(ctx context.Context, accountID, domain, token string) error {
	result := s.db.WithContext(ctx).Model(&Account{}).
		Where("account_id = ?", accountID).
		Updates(map[string]interface{}{
			"canvas_domain": strings.TrimSpace(domain),
			"canvas_token":  strings.TrimSpace(token),
		})
	if result.Error != nil {
		s.logError(opUpdateCanvas, "update_failed", result.Error, zap.String("account_id", accountID))
		return newServiceError(opUpdateCanvas, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opUpdateCanvas, "not_found", ErrAccountNotFound)
	}
	return nil
}

// AppendCategories merges newly observed category names into the account
// taxonomy. The stored list keeps set semantics; already-present names are
// ignored. The read-modify-write is not atomic across concurrent imports,
// which the import flow serializes per account.
func (s *Service) AppendCategories(ctx context.Context, accountID string, names []string) error {
	account, err := s.Get(ctx, accountID)
	if err != nil {
		return newServiceError(opAppendCategories, "account_lookup_failed", err)
	}

	merged, changed := mergeCategories(account.CategoryList(), names)
	if !changed {
		return nil
	}

	err = s.db.WithContext(ctx).Model(&Account{}).
		Where("account_id = ?", accountID).
		Update("categories_json", encodeCategories(merged)).Error
	if err != nil {
		s.logError(opAppendCategories, "update_failed", err, zap.String("account_id", accountID))
		return newServiceError(opAppendCategories, "update_failed", err)
	}
	return nil
}

// ReplaceCategories overwrites the account taxonomy, deduplicating in order.
func (s *Service) ReplaceCategories(ctx context.Context, accountID string, names []string) error {
	deduped, _ := mergeCategories(nil, names)
	result := s.db.WithContext(ctx).Model(&Account{}).
		Where("account_id = ?", accountID).
		Update("categories_json", encodeCategories(deduped))
	if result.Error != nil {
		s.logError(opReplaceCategories, "update_failed", result.Error, zap.String("account_id", accountID))
		return newServiceError(opReplaceCategories, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opReplaceCategories, "not_found", ErrAccountNotFound)
	}
	return nil
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
	s.logger.Error("accounts service error", attrs...)
}
