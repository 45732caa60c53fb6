package studyplan

import (
	"encoding/json"
	"time"
)

// StudyPlan models a persisted plan row. Each task carries at most one plan;
// regenerating replaces the previous one in place.
type StudyPlan struct {
	PlanID            string    `gorm:"column:plan_id;primaryKey;size:190;not null"`
	UserID            string    `gorm:"column:user_id;size:190;not null;index"`
	TaskID            string    `gorm:"column:task_id;size:190;not null;uniqueIndex:idx_study_plans_task"`
	SubtasksJSON      string    `gorm:"column:subtasks_json;type:text;not null;default:'[]'"`
	TimeEstimatesJSON string    `gorm:"column:time_estimates_json;type:text;not null;default:'[]'"`
	TechniquesJSON    string    `gorm:"column:techniques_json;type:text;not null;default:'[]'"`
	KeyPointsJSON     string    `gorm:"column:key_points_json;type:text;not null;default:'[]'"`
	ResourcesJSON     string    `gorm:"column:resources_json;type:text;not null;default:'[]'"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (StudyPlan) TableName() string {
	return "study_plans"
}

// Plan is the decoded study plan returned to callers.
type Plan struct {
	TaskID        string   `json:"task_id"`
	Subtasks      []string `json:"subtasks"`
	TimeEstimates []string `json:"time_estimates"`
	Techniques    []string `json:"techniques"`
	KeyPoints     []string `json:"key_points"`
	Resources     []string `json:"resources"`
}

func (record StudyPlan) toPlan() (Plan, error) {
	plan := Plan{TaskID: record.TaskID}
	columns := []struct {
		raw    string
		target *[]string
	}{
		{record.SubtasksJSON, &plan.Subtasks},
		{record.TimeEstimatesJSON, &plan.TimeEstimates},
		{record.TechniquesJSON, &plan.Techniques},
		{record.KeyPointsJSON, &plan.KeyPoints},
		{record.ResourcesJSON, &plan.Resources},
	}
	for _, column := range columns {
		if column.raw == "" {
			*column.target = []string{}
			continue
		}
		if err := json.Unmarshal([]byte(column.raw), column.target); err != nil {
			return Plan{}, err
		}
	}
	return plan, nil
}

func encodeList(items []string) (string, error) {
	if len(items) == 0 {
		return "[]", nil
	}
	encoded, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
