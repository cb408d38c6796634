package chat

import "fmt"

// Kind classifies a failed submission
type Kind string

// kinds
const (
	KindInvalidAudioFile   Kind = "InvalidAudioFile"
	KindTooSmall           Kind = "TooSmall"
	KindTooShort           Kind = "TooShort"
	KindUndecodable        Kind = "Undecodable"
	KindAudioUnexpected    Kind = "AudioUnexpected"
	KindAudioUploadFailed  Kind = "AudioUploadFailed"
	KindEmptyMessage       Kind = "EmptyMessage"
	KindCorruptHistory     Kind = "CorruptHistory"
	KindAPIUnreachable     Kind = "ApiUnreachable"
	KindAPIHTTPError       Kind = "ApiHttpError"
	KindInvalidAPIResponse Kind = "InvalidApiResponse"
	KindAPIReportedError   Kind = "ApiReportedError"
	KindNoReply            Kind = "NoReply"
)

var messages = map[Kind]string{
	KindInvalidAudioFile:   "Invalid or missing audio file",
	KindTooSmall:           "Audio file too small",
	KindTooShort:           "Recording too short",
	KindUndecodable:        "Unable to process audio file",
	KindAudioUnexpected:    "Unexpected error while processing audio",
	KindAudioUploadFailed:  "Audio upload failed",
	KindEmptyMessage:       "Empty message",
	KindCorruptHistory:     "Invalid conversation structure",
	KindAPIUnreachable:     "API request failed",
	KindAPIHTTPError:       "API Error",
	KindInvalidAPIResponse: "API Error: Invalid JSON response",
	KindAPIReportedError:   "API Error: No response",
	KindNoReply:            "API Error: No response",
}

// Message returns the user-visible text of k
func (k Kind) Message() string {
	if m, ok := messages[k]; ok {
		return m
	}
	return string(k)
}

// Error is a failed submission, shown to the user as Message
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Status  int    `json:"status,omitempty"` // ApiHttpError only
	Body    string `json:"-"`

	Err error `json:"-"`
}

func newError(k Kind, err error) *Error {
	return &Error{Kind: k, Message: k.Message(), Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }
