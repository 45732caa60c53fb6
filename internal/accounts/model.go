package accounts

import (
	"encoding/json"
	"strings"
	"time"
)

// Account captures a registered student profile, including the Canvas
// credentials used by the importer and the category taxonomy that drives
// manual task entry.
type Account struct {
	AccountID    string    `gorm:"column:account_id;primaryKey;size:190;not null"`
	Email        string    `gorm:"column:email;size:320;not null;uniqueIndex:idx_accounts_email"`
	PasswordHash string    `gorm:"column:password_hash;size:190;not null"`
	FullName     string    `gorm:"column:full_name;size:320;not null;default:''"`
	CanvasDomain string    `gorm:"column:canvas_domain;size:320;not null;default:''"`
	CanvasToken  string    `gorm:"column:canvas_token;size:512;not null;default:''"`
	Categories   string    `gorm:"column:categories_json;type:text;not null;default:'[]'"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Account) TableName() string {
	return "accounts"
}

// CategoryList decodes the stored taxonomy. A corrupt column yields an
// empty list rather than an error; the list is rebuilt on the next write.
func (a Account) CategoryList() []string {
	return decodeCategories(a.Categories)
}

func decodeCategories(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var names []string
	if err := json.Unmarshal([]byte(raw), &names); err != nil {
		return nil
	}
	return names
}

func encodeCategories(names []string) string {
	if len(names) == 0 {
		return "[]"
	}
	encoded, err := json.Marshal(names)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}

// mergeCategories appends names not already present, preserving the order of
// the stored list and the order of the additions. Blank names are dropped.
func mergeCategories(existing, additions []string) ([]string, bool) {
	seen := make(map[string]struct{}, len(existing))
	merged := make([]string, 0, len(existing)+len(additions))
	for _, name := range existing {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		merged = append(merged, name)
	}
	changed := len(merged) != len(existing)
	for _, name := range additions {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		merged = append(merged, trimmed)
		changed = true
	}
	return merged, changed
}

func normalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
