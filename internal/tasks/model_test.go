package tasks

import (
	"errors"
	"strings"
	"testing"
)

func TestNewTaskIDValidation(t *testing.T) {
	if _, err := NewTaskID("  "); !errors.Is(err, ErrInvalidTaskID) {
		t.Fatalf("expected ErrInvalidTaskID for blank input, got %v", err)
	}
	if _, err := NewTaskID(strings.Repeat("x", maxIdentifierLength+1)); !errors.Is(err, ErrInvalidTaskID) {
		t.Fatalf("expected ErrInvalidTaskID for oversized input, got %v", err)
	}
	id, err := NewTaskID(" task-1 ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.String() != "task-1" {
		t.Fatalf("expected trimmed id, got %q", id.String())
	}
}

func TestNewUserIDValidation(t *testing.T) {
	if _, err := NewUserID(""); !errors.Is(err, ErrInvalidUserID) {
		t.Fatalf("expected ErrInvalidUserID, got %v", err)
	}
	id, err := NewUserID("user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.String() != "user-1" {
		t.Fatalf("unexpected id %q", id.String())
	}
}

func TestNewPriorityBounds(t *testing.T) {
	for _, value := range []int{0, -1, 6} {
		if _, err := NewPriority(value); !errors.Is(err, ErrInvalidPriority) {
			t.Fatalf("expected ErrInvalidPriority for %d, got %v", value, err)
		}
	}
	for value := PriorityMin; value <= PriorityMax; value++ {
		got, err := NewPriority(value)
		if err != nil {
			t.Fatalf("unexpected error for %d: %v", value, err)
		}
		if got != value {
			t.Fatalf("expected %d, got %d", value, got)
		}
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		raw      string
		expected TaskStatus
		wantErr  bool
	}{
		{raw: "pending", expected: StatusPending},
		{raw: " In_Progress ", expected: StatusInProgress},
		{raw: "COMPLETED", expected: StatusCompleted},
		{raw: "done", wantErr: true},
		{raw: "", wantErr: true},
	}
	for _, tt := range tests {
		status, err := ParseStatus(tt.raw)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidStatus) {
				t.Fatalf("expected ErrInvalidStatus for %q, got %v", tt.raw, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", tt.raw, err)
		}
		if status != tt.expected {
			t.Fatalf("expected %s for %q, got %s", tt.expected, tt.raw, status)
		}
	}
}

func TestParseSource(t *testing.T) {
	if _, err := ParseSource("supabase"); !errors.Is(err, ErrInvalidSource) {
		t.Fatalf("expected ErrInvalidSource, got %v", err)
	}
	source, err := ParseSource("Canvas")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if source != SourceCanvas {
		t.Fatalf("expected canvas source, got %s", source)
	}
}

func TestSentinelDueDateIsFarFuture(t *testing.T) {
	if SentinelDueDate.Year() != 9999 {
		t.Fatalf("unexpected sentinel year %d", SentinelDueDate.Year())
	}
}
