package submission

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// EssayConfig holds essay specific settings.
type EssayConfig struct {
	MinParagraphs int                    `json:"min_paragraphs"`
	Genre         string                 `json:"genre"`
	Extra         map[string]interface{} `json:"extra"`
}

// CodeConfig holds code specific settings. Languages restricts the accepted languages to a subset
// of the sandbox table; empty accepts every known language.
type CodeConfig struct {
	Languages      []string               `json:"languages"`
	RunInSandbox   bool                   `json:"run_in_sandbox"`
	TimeoutSeconds int                    `json:"timeout_seconds"`
	Extra          map[string]interface{} `json:"extra"`
}

// Timeout returns the sandbox timeout, defaulting to five seconds.
func (c CodeConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MathConfig holds math specific settings.
type MathConfig struct {
	RequireSteps bool                   `json:"require_steps"`
	MinSteps     int                    `json:"min_steps"`
	Extra        map[string]interface{} `json:"extra"`
}

// VideoConfig holds video specific settings. TranscriptionProvider names the one transcription
// client used for this type.
type VideoConfig struct {
	TranscriptionProvider string                 `json:"transcription_provider"`
	Language              string                 `json:"language"`
	TimeoutSeconds        int                    `json:"timeout_seconds"`
	Extra                 map[string]interface{} `json:"extra"`
}

// Timeout returns the transcription timeout, defaulting to two minutes.
func (c VideoConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func decodeConfig(code string, raw datatypes.JSON, target interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("decode %s config: %w", code, err)
	}
	return nil
}
