package accounts

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func TestRegisterAndAuthenticate(t *testing.T) {
	service := newTestService(t)

	account, err := service.Register(context.Background(), RegisterInput{
		Email:    "  Student@Example.EDU ",
		Password: "hunter2hunter2",
		FullName: "Sam Student",
	})
	if err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}
	if account.Email != "student@example.edu" {
		t.Fatalf("expected normalized email, got %s", account.Email)
	}
	if account.AccountID == "" {
		t.Fatalf("expected generated account id")
	}
	if account.PasswordHash == "hunter2hunter2" {
		t.Fatalf("password must be stored hashed")
	}

	authed, err := service.Authenticate(context.Background(), "student@example.edu", "hunter2hunter2")
	if err != nil {
		t.Fatalf("unexpected authenticate error: %v", err)
	}
	if authed.AccountID != account.AccountID {
		t.Fatalf("expected same account id, got %s", authed.AccountID)
	}

	if _, err := service.Authenticate(context.Background(), "student@example.edu", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := service.Authenticate(context.Background(), "nobody@example.edu", "hunter2hunter2"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	service := newTestService(t)

	if _, err := service.Register(context.Background(), RegisterInput{Email: "a@b.edu", Password: "passwordpassword"}); err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}
	_, err := service.Register(context.Background(), RegisterInput{Email: "A@B.edu", Password: "passwordpassword"})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestRegisterRejectsInvalidEmail(t *testing.T) {
	service := newTestService(t)

	_, err := service.Register(context.Background(), RegisterInput{Email: "not-an-email", Password: "passwordpassword"})
	if !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}
}

func TestUpdateCanvasCredentials(t *testing.T) {
	service := newTestService(t)
	account := mustRegister(t, service, "c@d.edu")

	if err := service.UpdateCanvasCredentials(context.Background(), account.AccountID, " school.instructure.com ", " token-1 "); err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}

	stored, err := service.Get(context.Background(), account.AccountID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if stored.CanvasDomain != "school.instructure.com" {
		t.Fatalf("unexpected canvas domain %s", stored.CanvasDomain)
	}
	if stored.CanvasToken != "token-1" {
		t.Fatalf("unexpected canvas token %s", stored.CanvasToken)
	}

	if err := service.UpdateCanvasCredentials(context.Background(), "missing", "d", "t"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestAppendCategoriesKeepsSetSemantics(t *testing.T) {
	service := newTestService(t)
	account := mustRegister(t, service, "e@f.edu")

	if err := service.AppendCategories(context.Background(), account.AccountID, []string{"Essays", "Labs"}); err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}
	if err := service.AppendCategories(context.Background(), account.AccountID, []string{"Labs", "Quizzes", "", "Essays"}); err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}

	stored, err := service.Get(context.Background(), account.AccountID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	got := stored.CategoryList()
	expected := []string{"Essays", "Labs", "Quizzes"}
	if len(got) != len(expected) {
		t.Fatalf("expected %d categories, got %#v", len(expected), got)
	}
	for index, name := range expected {
		if got[index] != name {
			t.Fatalf("expected %s at index %d, got %s", name, index, got[index])
		}
	}
}

func TestReplaceCategoriesOverwritesTaxonomy(t *testing.T) {
	service := newTestService(t)
	account := mustRegister(t, service, "g@h.edu")

	if err := service.AppendCategories(context.Background(), account.AccountID, []string{"Essays", "Labs"}); err != nil {
		t.Fatalf("unexpected append error: %v", err)
	}
	if err := service.ReplaceCategories(context.Background(), account.AccountID, []string{"Projects", " Projects ", "", "Reading"}); err != nil {
		t.Fatalf("unexpected replace error: %v", err)
	}

	stored, err := service.Get(context.Background(), account.AccountID)
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	got := stored.CategoryList()
	expected := []string{"Projects", "Reading"}
	if len(got) != len(expected) {
		t.Fatalf("expected %#v, got %#v", expected, got)
	}
	for index, name := range expected {
		if got[index] != name {
			t.Fatalf("expected %s at index %d, got %s", name, index, got[index])
		}
	}

	if err := service.ReplaceCategories(context.Background(), "missing", []string{"X"}); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestMergeCategoriesReportsNoChange(t *testing.T) {
	merged, changed := mergeCategories([]string{"Essays"}, []string{"Essays"})
	if changed {
		t.Fatalf("expected no change, got %#v", merged)
	}
}

func mustRegister(t *testing.T, service *Service, email string) Account {
	t.Helper()
	account, err := service.Register(context.Background(), RegisterInput{
		Email:    email,
		Password: "passwordpassword",
	})
	if err != nil {
		t.Fatalf("unexpected register error: %v", err)
	}
	return account
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	dsn := fmt.Sprintf("file:accounts_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Account{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	service, err := NewService(ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct accounts service: %v", err)
	}
	return service
}
