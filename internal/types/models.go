// internal/types/models.go
package types

import (
	"fmt"
	"strings"
	"time"
)

// LengthClass selects the output budget of a generated story.
type LengthClass string

const (
	LengthShort  LengthClass = "short"
	LengthMedium LengthClass = "medium"
	LengthLong   LengthClass = "long"
)

// ParseLengthClass accepts short, medium or long. An empty string means medium.
func ParseLengthClass(s string) (LengthClass, error) {
	switch LengthClass(strings.ToLower(strings.TrimSpace(s))) {
	case "", LengthMedium:
		return LengthMedium, nil
	case LengthShort:
		return LengthShort, nil
	case LengthLong:
		return LengthLong, nil
	default:
		return "", fmt.Errorf("%w: unknown length %q", ErrInvalidInput, s)
	}
}

// MaxTokens is the output token ceiling used for generation and revision.
func (l LengthClass) MaxTokens() int {
	switch l {
	case LengthShort:
		return 500
	case LengthLong:
		return 1500
	default:
		return 1000
	}
}

// GenerationRequest is the immutable input to story generation.
type GenerationRequest struct {
	Prompt string      `json:"prompt"`
	Age    int         `json:"age"`
	Theme  string      `json:"theme"`
	Length LengthClass `json:"length"`
}

// Validate reports ErrInvalidInput for an empty prompt or theme, or a
// non-positive age.
func (r GenerationRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return fmt.Errorf("%w: prompt is required", ErrInvalidInput)
	}
	if strings.TrimSpace(r.Theme) == "" {
		return fmt.Errorf("%w: theme is required", ErrInvalidInput)
	}
	if r.Age <= 0 {
		return fmt.Errorf("%w: age must be positive", ErrInvalidInput)
	}
	return nil
}

// GeneratedContent is produced by generation or revision. Fallback is set
// when no model produced usable text and canned content was returned.
type GeneratedContent struct {
	Text     string   `json:"text"`
	Tags     []string `json:"tags,omitempty"`
	Model    string   `json:"model,omitempty"`
	Fallback bool     `json:"fallback"`
}

type Metadata struct {
	Title              string      `json:"title" firestore:"title"`
	Prompt             string      `json:"prompt" firestore:"prompt"`
	Age                int         `json:"age" firestore:"age"`
	Theme              string      `json:"theme" firestore:"theme"`
	Length             LengthClass `json:"length" firestore:"length"`
	Tags               []string    `json:"tags" firestore:"tags"`
	Categories         []string    `json:"categories" firestore:"categories"`
	CreatedAt          time.Time   `json:"createdAt" firestore:"createdAt"`
	LastEdited         *time.Time  `json:"lastEdited,omitempty" firestore:"lastEdited,omitempty"`
	EditInstructions   string      `json:"editInstructions,omitempty" firestore:"editInstructions,omitempty"`
	LastTagUpdate      *time.Time  `json:"lastTagUpdate,omitempty" firestore:"lastTagUpdate,omitempty"`
	LastCategoryUpdate *time.Time  `json:"lastCategoryUpdate,omitempty" firestore:"lastCategoryUpdate,omitempty"`
	AudioURL           string      `json:"audioUrl,omitempty" firestore:"audioUrl,omitempty"`
	VoiceID            string      `json:"voiceId,omitempty" firestore:"voiceId,omitempty"`
	SpeakingRate       float64     `json:"speakingRate,omitempty" firestore:"speakingRate,omitempty"`
	OwnerID            string      `json:"userId,omitempty" firestore:"userId,omitempty"`
	Provider           string      `json:"provider,omitempty" firestore:"provider,omitempty"`
	Model              string      `json:"model,omitempty" firestore:"model,omitempty"`
}

// StoryRecord is the persisted story document.
type StoryRecord struct {
	ID       StoryID  `json:"id" firestore:"-"`
	Text     string   `json:"story" firestore:"story"`
	Metadata Metadata `json:"metadata" firestore:"metadata"`
}

// Clone returns a deep copy so stores never share slices with callers.
func (r *StoryRecord) Clone() *StoryRecord {
	out := *r
	out.Metadata.Tags = append([]string(nil), r.Metadata.Tags...)
	out.Metadata.Categories = append([]string(nil), r.Metadata.Categories...)
	out.Metadata.LastEdited = cloneTime(r.Metadata.LastEdited)
	out.Metadata.LastTagUpdate = cloneTime(r.Metadata.LastTagUpdate)
	out.Metadata.LastCategoryUpdate = cloneTime(r.Metadata.LastCategoryUpdate)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// StoryPatch is a partial update. Nil fields are left unchanged.
type StoryPatch struct {
	Text               *string
	Title              *string
	Prompt             *string
	Age                *int
	Theme              *string
	Length             *LengthClass
	Tags               *[]string
	Categories         *[]string
	LastEdited         *time.Time
	EditInstructions   *string
	LastTagUpdate      *time.Time
	LastCategoryUpdate *time.Time
	AudioURL           *string
	VoiceID            *string
	SpeakingRate       *float64
}

// IsEmpty reports whether the patch changes nothing.
func (p StoryPatch) IsEmpty() bool {
	return p == StoryPatch{}
}

// Apply writes every non-nil field of the patch into r.
func (p StoryPatch) Apply(r *StoryRecord) {
	m := &r.Metadata
	if p.Text != nil {
		r.Text = *p.Text
	}
	if p.Title != nil {
		m.Title = *p.Title
	}
	if p.Prompt != nil {
		m.Prompt = *p.Prompt
	}
	if p.Age != nil {
		m.Age = *p.Age
	}
	if p.Theme != nil {
		m.Theme = *p.Theme
	}
	if p.Length != nil {
		m.Length = *p.Length
	}
	if p.Tags != nil {
		m.Tags = append([]string(nil), (*p.Tags)...)
	}
	if p.Categories != nil {
		m.Categories = append([]string(nil), (*p.Categories)...)
	}
	if p.LastEdited != nil {
		m.LastEdited = cloneTime(p.LastEdited)
	}
	if p.EditInstructions != nil {
		m.EditInstructions = *p.EditInstructions
	}
	if p.LastTagUpdate != nil {
		m.LastTagUpdate = cloneTime(p.LastTagUpdate)
	}
	if p.LastCategoryUpdate != nil {
		m.LastCategoryUpdate = cloneTime(p.LastCategoryUpdate)
	}
	if p.AudioURL != nil {
		m.AudioURL = *p.AudioURL
	}
	if p.VoiceID != nil {
		m.VoiceID = *p.VoiceID
	}
	if p.SpeakingRate != nil {
		m.SpeakingRate = *p.SpeakingRate
	}
}
