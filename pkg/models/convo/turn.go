package convo

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Role of a turn author
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether the role is one we know how to render.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// part types on the wire
const (
	PartTypeText  = "text"
	PartTypeAudio = "audio_url"
)

var ErrUnknownPart = errors.New("unknown content part")

// Part is one unit of turn content: TextPart or AudioPart.
type Part interface {
	PartType() string

	sealed()
}

// TextPart 文本
type TextPart struct {
	Text string
}

func (TextPart) PartType() string { return PartTypeText }
func (TextPart) sealed()          {}

func (p TextPart) MarshalJSON() ([]byte, error) {
	return json.Marshal(wirePart{Type: PartTypeText, Text: p.Text})
}

// AudioPart references an uploaded recording by URL
type AudioPart struct {
	URL string
}

func (AudioPart) PartType() string { return PartTypeAudio }
func (AudioPart) sealed()          {}

func (p AudioPart) MarshalJSON() ([]byte, error) {
	return json.Marshal(wirePart{Type: PartTypeAudio, AudioURL: &wireURL{URL: p.URL}})
}

type wireURL struct {
	URL string `json:"url"`
}

type wirePart struct {
	Type     string   `json:"type"`
	Text     string   `json:"text,omitempty"`
	AudioURL *wireURL `json:"audio_url,omitempty"`
}

func (w wirePart) part() (Part, error) {
	switch w.Type {
	case PartTypeText:
		return TextPart{Text: w.Text}, nil
	case PartTypeAudio:
		if w.AudioURL == nil {
			return nil, fmt.Errorf("%w: audio_url without url", ErrUnknownPart)
		}
		return AudioPart{URL: w.AudioURL.URL}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownPart, w.Type)
}

// Parts is the ordered content of a turn
type Parts []Part

// UnmarshalJSON decodes the wire form back into the closed set of parts.
func (z *Parts) UnmarshalJSON(data []byte) error {
	var raw []wirePart
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Parts, 0, len(raw))
	for _, w := range raw {
		p, err := w.part()
		if err != nil {
			return err
		}
		out = append(out, p)
	}
	*z = out
	return nil
}

// Turn one message in the conversation
type Turn struct {
	Role    Role  `json:"role"`
	Content Parts `json:"content"`
}

// NewText returns a turn holding a single text part.
func NewText(role Role, text string) Turn {
	return Turn{Role: role, Content: Parts{TextPart{Text: text}}}
}

// Valid reports whether the turn has a known role and at least one part.
func (t Turn) Valid() bool {
	return t.Role.Valid() && len(t.Content) > 0
}

// Clone copies the content slice so callers cannot alias stored turns.
func (t Turn) Clone() Turn {
	c := Turn{Role: t.Role}
	if t.Content != nil {
		c.Content = make(Parts, len(t.Content))
		copy(c.Content, t.Content)
	}
	return c
}

// MarshalBinary implements the encoding.BinaryMarshaler interface.
func (t *Turn) MarshalBinary() ([]byte, error) {
	return json.Marshal(t)
}

// UnmarshalBinary implements the encoding.BinaryUnmarshaler interface.
func (t *Turn) UnmarshalBinary(data []byte) error {
	var v Turn
	err := json.Unmarshal(data, &v)
	if err == nil {
		*t = v
	}
	return err
}

type Turns []Turn

// Valid reports whether every turn satisfies the history invariant.
func (z Turns) Valid() bool {
	for _, t := range z {
		if !t.Valid() {
			return false
		}
	}
	return true
}

// Display one transcript line for the chat view
type Display struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
