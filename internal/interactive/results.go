package interactive

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/d60-Lab/storyline/internal/apperr"
	"github.com/d60-Lab/storyline/internal/model"
)

// MaxAnswerLength bounds question answers.
const MaxAnswerLength = 500

// ResponseInput is a viewer's answer. Polls set OptionIndex, questions set Text.
type ResponseInput struct {
	OptionIndex *int    `json:"option_index,omitempty"`
	Text        *string `json:"text,omitempty"`
}

// CheckResponse validates in against the element it answers and returns a
// normalised copy.
func CheckResponse(el *model.InteractiveElement, in ResponseInput) (ResponseInput, error) {
	switch el.Type {
	case model.ElementPoll:
		var d PollData
		if err := json.Unmarshal([]byte(el.Data), &d); err != nil {
			return in, err
		}
		if in.OptionIndex == nil || *in.OptionIndex < 0 || *in.OptionIndex >= len(d.Options) {
			return in, apperr.Validation("option index out of range")
		}
		return ResponseInput{OptionIndex: in.OptionIndex}, nil
	case model.ElementQuestion:
		if in.Text == nil {
			return in, apperr.Validation("answer is required")
		}
		text := clean(*in.Text)
		if text == "" {
			return in, apperr.Validation("answer is required")
		}
		if len([]rune(text)) > MaxAnswerLength {
			return in, apperr.Validation("answer exceeds %d", MaxAnswerLength)
		}
		return ResponseInput{Text: &text}, nil
	}
	return in, apperr.Validation("%s elements do not take responses", el.Type)
}

type OptionResult struct {
	Text    string `json:"text"`
	Votes   int64  `json:"votes"`
	Percent int    `json:"percent"`
}

type PollResult struct {
	Total   int64          `json:"total"`
	Options []OptionResult `json:"options"`
}

// Tally turns per-option counts into rounded percentages; 0% when no votes.
func Tally(options []string, counts map[int]int64) PollResult {
	res := PollResult{Options: make([]OptionResult, len(options))}
	for i := range options {
		res.Total += counts[i]
	}
	for i, text := range options {
		v := counts[i]
		pct := 0
		if res.Total > 0 {
			pct = int(math.Round(float64(v) * 100 / float64(res.Total)))
		}
		res.Options[i] = OptionResult{Text: text, Votes: v, Percent: pct}
	}
	return res
}

// PollOptions extracts the option texts of a poll element.
func PollOptions(el *model.InteractiveElement) ([]string, error) {
	if el.Type != model.ElementPoll {
		return nil, apperr.Validation("element is not a poll")
	}
	var d PollData
	if err := json.Unmarshal([]byte(el.Data), &d); err != nil {
		return nil, err
	}
	return d.Options, nil
}

// Ended is shown once a countdown reaches its target.
const Ended = "Ended"

// Remaining renders target - now, or Ended when non-positive.
func Remaining(target, now time.Time) string {
	d := target.Sub(now)
	if d <= 0 {
		return Ended
	}
	d = d.Round(time.Second)
	days := d / (24 * time.Hour)
	d -= days * 24 * time.Hour
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	var b strings.Builder
	if days > 0 {
		fmt.Fprintf(&b, "%dd ", days)
	}
	fmt.Fprintf(&b, "%02d:%02d:%02d", h, m, s)
	return b.String()
}
