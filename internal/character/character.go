// Package character models the character being crafted and the chain of
// text steps that derive each field from the previous one.
package character

import (
	"strings"
	"time"

	"crafter/internal/imagegen"
)

// DefaultIdea seeds a new character.
const DefaultIdea = "A grizzled old detective living in a futuristic city who has seen too much but still believes in justice."

// ContentField is a text value with its edit and generation times in unix milliseconds.
// LastGenerated is zero until the field has been produced by a model.
type ContentField struct {
	Value         string `json:"value"`
	LastModified  int64  `json:"lastModified"`
	LastGenerated int64  `json:"lastGenerated"`
}

// Edit records a manual change.
func (f *ContentField) Edit(value string, now time.Time) {
	f.Value = value
	f.LastModified = now.UnixMilli()
}

// SetGenerated records a model-produced value.
func (f *ContentField) SetGenerated(value string, now time.Time) {
	ms := now.UnixMilli()
	f.Value = value
	f.LastModified = ms
	f.LastGenerated = ms
}

// StaleAgainst reports whether upstream changed after f was last generated.
// A field that was never generated is not stale.
func (f ContentField) StaleAgainst(upstream ContentField) bool {
	return f.LastGenerated != 0 && upstream.LastModified > f.LastGenerated
}

// Data is the full character record as stored in project files.
type Data struct {
	Idea               ContentField `json:"idea"`
	Profile            ContentField `json:"profile"`
	Card               ContentField `json:"card"`
	ImagePrompt        ContentField `json:"imagePrompt"`
	GeneratedImageURL  *string      `json:"generatedImageUrl"`
	GeneratedImageData *string      `json:"generatedImageData"`
}

// New returns a record holding only the default idea.
func New(now time.Time) Data {
	ms := now.UnixMilli()
	return Data{
		Idea:        ContentField{Value: DefaultIdea, LastModified: ms},
		Profile:     ContentField{LastModified: ms},
		Card:        ContentField{LastModified: ms},
		ImagePrompt: ContentField{LastModified: ms},
	}
}

// ImageURL returns the current image reference, or "" when there is none.
func (d Data) ImageURL() string {
	if d.GeneratedImageURL == nil {
		return ""
	}
	return strings.TrimSpace(*d.GeneratedImageURL)
}

// ImageStale reports whether the image prompt was edited after the image was produced.
func (d Data) ImageStale() bool {
	return d.ImagePrompt.LastModified > d.ImagePrompt.LastGenerated && d.ImageURL() != ""
}

// SetImage stores a freshly generated artifact as an embedded data URL.
func (d *Data) SetImage(a imagegen.Artifact, now time.Time) {
	url := a.DataURL()
	d.GeneratedImageURL = &url
	d.GeneratedImageData = nil
	d.ImagePrompt.LastGenerated = now.UnixMilli()
}

// Field returns a pointer to the field named by key.
func (d *Data) Field(key FieldKey) *ContentField {
	switch key {
	case FieldIdea:
		return &d.Idea
	case FieldProfile:
		return &d.Profile
	case FieldCard:
		return &d.Card
	case FieldImagePrompt:
		return &d.ImagePrompt
	default:
		return nil
	}
}

// FieldKey names one of the text fields.
type FieldKey string

const (
	FieldIdea        FieldKey = "idea"
	FieldProfile     FieldKey = "profile"
	FieldCard        FieldKey = "card"
	FieldImagePrompt FieldKey = "imagePrompt"
)

// ParseFieldKey accepts the JSON field names.
func ParseFieldKey(raw string) (FieldKey, bool) {
	switch key := FieldKey(strings.TrimSpace(raw)); key {
	case FieldIdea, FieldProfile, FieldCard, FieldImagePrompt:
		return key, true
	default:
		return "", false
	}
}
