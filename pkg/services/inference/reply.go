package inference

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cast"
)

var ErrInvalidReply = errors.New("invalid JSON response")

// Reply is what the endpoint said.
type Reply struct {
	Response    string
	HasResponse bool // response field present and a string

	Error    string
	HasError bool // error field present, whatever its value
}

// ParseReply decodes body, tolerating an object that was JSON-encoded twice
// (the body is a JSON string holding the object).
func ParseReply(body []byte) (*Reply, error) {
	body = bytes.TrimSpace(body)
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidReply, err)
	}
	if s, ok := v.(string); ok {
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil, fmt.Errorf("%w: inner: %s", ErrInvalidReply, err)
		}
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: want object, got %T", ErrInvalidReply, v)
	}

	r := new(Reply)
	if ev, ok := obj["error"]; ok {
		r.HasError = true
		if s, err := cast.ToStringE(ev); err == nil {
			r.Error = s
		} else if b, err := json.Marshal(ev); err == nil {
			r.Error = string(b)
		}
	}
	if s, ok := obj["response"].(string); ok {
		r.Response = s
		r.HasResponse = true
	}
	return r, nil
}
