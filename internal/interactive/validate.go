// Package interactive validates interactive story elements and computes
// what viewers see after responding to them.
package interactive

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"github.com/d60-Lab/storyline/internal/apperr"
	"github.com/d60-Lab/storyline/internal/model"
)

// ElementInput is an element as submitted with a new story.
type ElementInput struct {
	Type model.ElementType `json:"type" binding:"required"`
	Data json.RawMessage   `json:"data" binding:"required"`
	PosX float64           `json:"pos_x" validate:"gte=0,lte=100"`
	PosY float64           `json:"pos_y" validate:"gte=0,lte=100"`
}

type PollData struct {
	Question string   `json:"question" validate:"required,max=200"`
	Options  []string `json:"options" validate:"min=2,max=4,dive,required,max=50"`
}

type QuestionData struct {
	Question    string `json:"question" validate:"required,max=200"`
	Placeholder string `json:"placeholder,omitempty" validate:"omitempty,max=100"`
}

type CountdownData struct {
	Title      string    `json:"title" validate:"required,max=100"`
	TargetDate time.Time `json:"target_date" validate:"required"`
}

type LinkData struct {
	URL   string `json:"url" validate:"required,url"`
	Title string `json:"title,omitempty" validate:"omitempty,max=100"`
}

type LocationData struct {
	Name string  `json:"name" validate:"required,max=100"`
	Lat  float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng  float64 `json:"lng" validate:"gte=-180,lte=180"`
}

// Validator checks element payloads against their type rules.
type Validator struct {
	v   *validator.Validate
	now func() time.Time
}

func NewValidator() *Validator {
	return &Validator{v: validator.New(validator.WithRequiredStructEnabled()), now: time.Now}
}

// WithClock replaces the time source used for countdown checks.
func (val *Validator) WithClock(now func() time.Time) *Validator {
	val.now = now
	return val
}

// Validate normalises and checks in, returning a row ready to attach to storyID.
func (val *Validator) Validate(storyID string, in ElementInput) (*model.InteractiveElement, error) {
	if err := val.v.Struct(in); err != nil {
		return nil, apperr.Validation("element position must be within 0..100")
	}
	var payload any
	switch in.Type {
	case model.ElementPoll:
		var d PollData
		if err := decode(in.Data, &d); err != nil {
			return nil, err
		}
		d.Question = clean(d.Question)
		for i := range d.Options {
			d.Options[i] = clean(d.Options[i])
		}
		payload = &d
	case model.ElementQuestion:
		var d QuestionData
		if err := decode(in.Data, &d); err != nil {
			return nil, err
		}
		d.Question, d.Placeholder = clean(d.Question), clean(d.Placeholder)
		payload = &d
	case model.ElementCountdown:
		var d CountdownData
		if err := decode(in.Data, &d); err != nil {
			return nil, err
		}
		d.Title = clean(d.Title)
		if !d.TargetDate.IsZero() && !d.TargetDate.After(val.now()) {
			return nil, apperr.Validation("countdown target must be in the future")
		}
		payload = &d
	case model.ElementLink:
		var d LinkData
		if err := decode(in.Data, &d); err != nil {
			return nil, err
		}
		d.URL, d.Title = strings.TrimSpace(d.URL), clean(d.Title)
		if u, err := url.Parse(d.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, apperr.Validation("link must be an http or https url")
		}
		payload = &d
	case model.ElementLocation:
		var d LocationData
		if err := decode(in.Data, &d); err != nil {
			return nil, err
		}
		d.Name = clean(d.Name)
		payload = &d
	default:
		return nil, apperr.Validation("unknown element type %q", in.Type)
	}

	if err := val.v.Struct(payload); err != nil {
		return nil, fieldError(in.Type, err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &model.InteractiveElement{
		ID:      uuid.New().String(),
		StoryID: storyID,
		Type:    in.Type,
		Data:    string(data),
		PosX:    in.PosX,
		PosY:    in.PosY,
	}, nil
}

// ValidateAll validates every input, failing on the first bad one.
func (val *Validator) ValidateAll(storyID string, in []ElementInput) ([]model.InteractiveElement, error) {
	out := make([]model.InteractiveElement, 0, len(in))
	for i, e := range in {
		el, err := val.Validate(storyID, e)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out = append(out, *el)
	}
	return out, nil
}

func decode(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return apperr.Validation("element data is required")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return apperr.Validation("malformed element data: %v", err)
	}
	return nil
}

// clean trims and NFC-normalises user text so length limits count what users see.
func clean(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func fieldError(t model.ElementType, err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		switch fe.Tag() {
		case "required":
			return apperr.Validation("%s: %s is required", t, strings.ToLower(fe.Field()))
		case "max":
			return apperr.Validation("%s: %s exceeds %s", t, strings.ToLower(fe.Field()), fe.Param())
		case "min":
			return apperr.Validation("%s: %s needs at least %s", t, strings.ToLower(fe.Field()), fe.Param())
		}
		return apperr.Validation("%s: invalid %s", t, strings.ToLower(fe.Field()))
	}
	return apperr.Validation("%s: %v", t, err)
}
