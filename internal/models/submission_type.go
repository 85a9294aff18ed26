package models

import (
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Input kinds accepted by a submission type.
const (
	InputKindText = "text"
	InputKindFile = "file"
)

// SubmissionTypeConfig is the administrator-maintained configuration of a submission type.
type SubmissionTypeConfig struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	Code              string         `gorm:"size:32;not null;uniqueIndex" json:"code"`
	Name              string         `gorm:"size:128;not null" json:"name"`
	InputKind         string         `gorm:"size:16;not null;default:text" json:"input_kind"`
	AllowedExtensions string         `gorm:"size:255" json:"allowed_extensions"`
	MaxSizeBytes      int64          `gorm:"default:0" json:"max_size_bytes"`
	MinWords          int            `gorm:"default:0" json:"min_words"`
	MaxWords          int            `gorm:"default:0" json:"max_words"`
	Active            bool           `gorm:"not null" json:"active"`
	Config            datatypes.JSON `json:"config"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// Extensions returns the normalised extension allow-list (lower case, leading dot).
func (c SubmissionTypeConfig) Extensions() []string {
	parts := strings.Split(c.AllowedExtensions, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		ext := strings.ToLower(strings.TrimSpace(part))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		result = append(result, ext)
	}
	return result
}

// AllowsExtension reports whether a file name matches the allow-list. An empty list allows everything.
func (c SubmissionTypeConfig) AllowsExtension(name string) bool {
	allowed := c.Extensions()
	if len(allowed) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, candidate := range allowed {
		if candidate == ext {
			return true
		}
	}
	return false
}
