package chat

import (
	"encoding/json"
	"fmt"

	"github.com/liut/parley/pkg/models/convo"
)

// ToDisplay renders each turn as one transcript line.
func ToDisplay(turns convo.Turns) []convo.Display {
	out := make([]convo.Display, 0, len(turns))
	for _, t := range turns {
		out = append(out, convo.Display{Role: t.Role, Content: DisplayText(t.Content)})
	}
	return out
}

// DisplayText picks the text of the first part when it is text,
// otherwise a debug rendering of the content. It never fails.
func DisplayText(content convo.Parts) string {
	if len(content) == 0 {
		return debugString(content)
	}
	if p, ok := content[0].(convo.TextPart); ok {
		return p.Text
	}
	return debugString(content[0])
}

func debugString(v any) string {
	if b, err := json.Marshal(v); err == nil {
		return string(b)
	}
	return fmt.Sprintf("%v", v)
}
