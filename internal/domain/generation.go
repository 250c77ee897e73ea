package domain

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// GenerationStatus is the state of an image generation job.
type GenerationStatus string

const (
	GenerationPending   GenerationStatus = "pending"
	GenerationStarted   GenerationStatus = "started"
	GenerationCompleted GenerationStatus = "completed"
	GenerationFailed    GenerationStatus = "failed"
	GenerationCached    GenerationStatus = "cached"
)

// Terminal reports whether no further progress will happen for the job.
func (s GenerationStatus) Terminal() bool {
	switch s {
	case GenerationCompleted, GenerationFailed, GenerationCached:
		return true
	}
	return false
}

// Percent is a progress value in the 0-100 range. Backends send it either as
// a number or as a numeric string.
type Percent float64

// UnmarshalJSON accepts a JSON number or numeric string.
func (p *Percent) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*p = 0
		return nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(string(b)), 64)
	if err != nil {
		return fmt.Errorf("decode progress: %w", err)
	}
	*p = Percent(v)
	return nil
}

// GenerationStep is one stage recorded in a generation log.
type GenerationStep struct {
	Step           string    `json:"step"`
	Status         string    `json:"status"`
	Message        string    `json:"message,omitempty"`
	Provider       string    `json:"provider,omitempty"`
	GenerationTime string    `json:"generation_time,omitempty"`
	Error          string    `json:"error,omitempty"`
	Timestamp      Timestamp `json:"timestamp"`
}

// GenerationLog is the status snapshot of an image generation job.
type GenerationLog struct {
	Status         GenerationStatus `json:"status"`
	Progress       *Percent         `json:"progress,omitempty"`
	Provider       string           `json:"provider,omitempty"`
	Prompt         string           `json:"prompt,omitempty"`
	NegativePrompt string           `json:"negative_prompt,omitempty"`
	Steps          []GenerationStep `json:"steps"`
	ImageURL       string           `json:"image_url,omitempty"`
	ImageSeed      *int64           `json:"image_seed,omitempty"`
	Error          string           `json:"error,omitempty"`
	StartedAt      Timestamp        `json:"started_at"`
	CompletedAt    Timestamp        `json:"completed_at"`
	TotalTime      string           `json:"total_time,omitempty"`
}

// GenerationRequest starts an image generation job.
type GenerationRequest struct {
	ForceRegenerate bool `json:"force_regenerate"`
}
