package canvas

import (
	"strings"
	"time"
)

// Course is an active-enrollment course as reported by the Canvas API.
// Courses are transient: re-fetched on every sync session, never persisted.
type Course struct {
	ID         int64
	Name       string
	CourseCode string
}

// Assignment is a single Canvas assignment. DueAt is nil when the assignment
// has no due date; DescriptionHTML carries the raw markup from the API.
type Assignment struct {
	ID                int64
	CourseID          int64
	Name              string
	DescriptionHTML   string
	DueAt             *time.Time
	PointsPossible    float64
	AssignmentGroupID int64
	HTMLURL           string
}

// AssignmentGroup is the remote taxonomy bucket an assignment belongs to.
// Groups without members are dropped at the client boundary.
type AssignmentGroup struct {
	ID            int64
	Name          string
	AssignmentIDs []int64
}

// wire payloads: Canvas returns loosely-typed JSON; these are decoded at the
// boundary and validated into the explicit records above.

type wireCourse struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	CourseCode string `json:"course_code"`
}

type wireAssignment struct {
	ID                int64   `json:"id"`
	CourseID          int64   `json:"course_id"`
	Name              string  `json:"name"`
	Description       string  `json:"description"`
	DueAt             string  `json:"due_at"`
	PointsPossible    float64 `json:"points_possible"`
	AssignmentGroupID int64   `json:"assignment_group_id"`
	HTMLURL           string  `json:"html_url"`
}

type wireAssignmentGroup struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Assignments []struct {
		ID int64 `json:"id"`
	} `json:"assignments"`
}

func (w wireCourse) toCourse() (Course, bool) {
	if w.ID == 0 || strings.TrimSpace(w.Name) == "" {
		return Course{}, false
	}
	return Course{
		ID:         w.ID,
		Name:       strings.TrimSpace(w.Name),
		CourseCode: strings.TrimSpace(w.CourseCode),
	}, true
}

func (w wireAssignment) toAssignment(courseID int64) (Assignment, bool) {
	if w.ID == 0 || strings.TrimSpace(w.Name) == "" {
		return Assignment{}, false
	}
	resolved := w.CourseID
	if resolved == 0 {
		resolved = courseID
	}
	assignment := Assignment{
		ID:                w.ID,
		CourseID:          resolved,
		Name:              strings.TrimSpace(w.Name),
		DescriptionHTML:   w.Description,
		PointsPossible:    w.PointsPossible,
		AssignmentGroupID: w.AssignmentGroupID,
		HTMLURL:           w.HTMLURL,
	}
	if w.DueAt != "" {
		if parsed, err := time.Parse(time.RFC3339, w.DueAt); err == nil {
			utc := parsed.UTC()
			assignment.DueAt = &utc
		}
	}
	return assignment, true
}

func (w wireAssignmentGroup) toGroup() (AssignmentGroup, bool) {
	if w.ID == 0 || len(w.Assignments) == 0 {
		return AssignmentGroup{}, false
	}
	group := AssignmentGroup{
		ID:            w.ID,
		Name:          strings.TrimSpace(w.Name),
		AssignmentIDs: make([]int64, 0, len(w.Assignments)),
	}
	for _, member := range w.Assignments {
		if member.ID != 0 {
			group.AssignmentIDs = append(group.AssignmentIDs, member.ID)
		}
	}
	if len(group.AssignmentIDs) == 0 {
		return AssignmentGroup{}, false
	}
	return group, true
}
