package flows

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"navio/services/api/internal/apperr"
	"navio/services/api/internal/models"
)

const (
	maxNameLen        = 100
	maxExplanationLen = 200
	maxDescriptionLen = 500
	maxTags           = 10
)

// Point is a click position in page coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// StepMeta is the free-form metadata the extension records per step.
// ScreenshotThumb and ScreenshotFull carry inline data URLs at creation time
// and are never persisted.
type StepMeta struct {
	ElementText      string `json:"elementText,omitempty"`
	NodeType         string `json:"nodeType,omitempty"`
	Timestamp        string `json:"timestamp,omitempty"`
	ClickCoordinates *Point `json:"clickCoordinates,omitempty"`
	ScreenshotThumb  string `json:"screenshotThumb,omitempty"`
	ScreenshotFull   string `json:"screenshotFull,omitempty"`
}

func (m *StepMeta) hasScreenshots() bool {
	return m != nil && (m.ScreenshotThumb != "" || m.ScreenshotFull != "")
}

// persisted encodes m without the inline screenshot payloads.
func (m *StepMeta) persisted() (datatypes.JSON, error) {
	if m == nil {
		return nil, nil
	}
	stripped := *m
	stripped.ScreenshotThumb = ""
	stripped.ScreenshotFull = ""
	data, err := json.Marshal(stripped)
	if err != nil {
		return nil, fmt.Errorf("encode step meta: %w", err)
	}
	return datatypes.JSON(data), nil
}

// StepInput is one step of an incoming flow or a step added later.
type StepInput struct {
	Type        models.StepType `json:"type"`
	URL         string          `json:"url"`
	Explanation string          `json:"explanation"`
	Order       *int            `json:"order,omitempty"`
	Meta        *StepMeta       `json:"meta,omitempty"`
}

// CreateInput is a complete flow submitted for ingestion.
type CreateInput struct {
	TenantID  uuid.UUID `json:"-"`
	CreatorID uuid.UUID `json:"-"`

	Name  string           `json:"name"`
	Steps []StepInput      `json:"steps"`
	Meta  *models.FlowMeta `json:"meta,omitempty"`
}

// UpdateInput changes a flow's name and/or metadata.
type UpdateInput struct {
	Name *string          `json:"name,omitempty"`
	Meta *models.FlowMeta `json:"meta,omitempty"`
}

// UpdateStepInput changes a step's explanation, order and/or metadata.
type UpdateStepInput struct {
	Explanation *string   `json:"explanation,omitempty"`
	Order       *int      `json:"order,omitempty"`
	Meta        *StepMeta `json:"meta,omitempty"`
}

type validator struct {
	fields []apperr.FieldError
}

func (v *validator) add(field, format string, args ...any) {
	v.fields = append(v.fields, apperr.FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (v *validator) err() error {
	if len(v.fields) == 0 {
		return nil
	}
	return apperr.Validation(v.fields...)
}

func (v *validator) name(field, name string) {
	n := utf8.RuneCountInString(strings.TrimSpace(name))
	switch {
	case n == 0:
		v.add(field, "is required")
	case n > maxNameLen:
		v.add(field, "must be at most %d characters", maxNameLen)
	}
}

func (v *validator) flowMeta(field string, meta *models.FlowMeta) {
	if meta == nil {
		return
	}
	if utf8.RuneCountInString(meta.Description) > maxDescriptionLen {
		v.add(field+".description", "must be at most %d characters", maxDescriptionLen)
	}
	if len(meta.Tags) > maxTags {
		v.add(field+".tags", "must have at most %d tags", maxTags)
	}
}

func (v *validator) explanation(field, s string) {
	n := utf8.RuneCountInString(s)
	switch {
	case strings.TrimSpace(s) == "":
		v.add(field, "is required")
	case n > maxExplanationLen:
		v.add(field, "must be at most %d characters", maxExplanationLen)
	}
}

func (v *validator) order(field string, order *int) {
	if order != nil && *order < 0 {
		v.add(field, "must be a non-negative integer")
	}
}

func (v *validator) stepMeta(field string, meta *StepMeta) {
	if meta == nil || meta.Timestamp == "" {
		return
	}
	if _, err := time.Parse(time.RFC3339Nano, meta.Timestamp); err != nil {
		v.add(field+".timestamp", "must be an ISO 8601 datetime")
	}
}

func (v *validator) step(field string, s StepInput) {
	if !s.Type.Valid() {
		v.add(field+".type", "must be one of CLICK, NAVIGATION, INPUT, VISIBILITY, MANUAL")
	}
	if !validURL(s.URL) {
		v.add(field+".url", "must be a valid URL")
	}
	v.explanation(field+".explanation", s.Explanation)
	v.order(field+".order", s.Order)
	v.stepMeta(field+".meta", s.Meta)
}

func validURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// validateCreate checks in without touching the store and returns the
// effective order of every step.
func validateCreate(in CreateInput) ([]int, error) {
	var v validator
	v.name("name", in.Name)
	if len(in.Steps) == 0 {
		v.add("steps", "at least one step is required")
	}
	for i, s := range in.Steps {
		v.step(fmt.Sprintf("steps[%d]", i), s)
	}
	v.flowMeta("meta", in.Meta)
	if err := v.err(); err != nil {
		return nil, err
	}

	orders := make([]int, len(in.Steps))
	seen := make(map[int]bool, len(in.Steps))
	for i, s := range in.Steps {
		order := i
		if s.Order != nil {
			order = *s.Order
		}
		if seen[order] {
			return nil, apperr.ErrDuplicateStepOrder.WithMessage(
				"Step orders must be unique. Multiple steps cannot have the same order value.")
		}
		seen[order] = true
		orders[i] = order
	}
	return orders, nil
}

func validateUpdate(in UpdateInput) error {
	var v validator
	if in.Name != nil {
		v.name("name", *in.Name)
	}
	v.flowMeta("meta", in.Meta)
	return v.err()
}

func validateStepUpdate(in UpdateStepInput) error {
	var v validator
	if in.Explanation != nil {
		v.explanation("explanation", *in.Explanation)
	}
	v.order("order", in.Order)
	v.stepMeta("meta", in.Meta)
	return v.err()
}
