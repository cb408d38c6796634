// Package chat turns one user submission into conversation turns and a transcript.
package chat

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/liut/parley/pkg/models/convo"
	"github.com/liut/parley/pkg/services/audio"
	"github.com/liut/parley/pkg/services/inference"
	"github.com/liut/parley/pkg/services/stores"
)

// Stage of a submission
type Stage string

// stages, in order
const (
	StageValidating Stage = "validating"
	StageUploading  Stage = "uploading"
	StageAppending  Stage = "appending"
	StageCalling    Stage = "calling"
	StageParsing    Stage = "parsing"
	StageDone       Stage = "done"
	StageFailed     Stage = "failed"
)

// Validator checks a recorded clip
type Validator interface {
	Validate(path string) error
}

// Uploader stores a clip and returns its URL
type Uploader interface {
	Upload(ctx context.Context, path string) (string, error)
}

// Relay posts the history to the inference endpoint and returns the raw reply body
type Relay interface {
	Post(ctx context.Context, ep inference.Endpoint, turns convo.Turns) ([]byte, error)
}

// Input of one submission
type Input struct {
	Text      string
	AudioPath string // local WAV file, empty for none
	Endpoint  inference.Endpoint

	OnStage func(Stage) // optional
}

// Result is what the chat view needs after a submission
type Result struct {
	Transcript []convo.Display `json:"transcript"`
	Err        *Error          `json:"error,omitempty"`

	ClearText  bool `json:"clearText"`
	ClearAudio bool `json:"clearAudio"`
}

// Orchestrator composes validation, upload, history and the API call
type Orchestrator struct {
	validator Validator
	uploader  Uploader
	relay     Relay
}

// New returns an orchestrator; it holds no history of its own.
func New(v Validator, u Uploader, r Relay) *Orchestrator {
	return &Orchestrator{validator: v, uploader: u, relay: r}
}

// Submit handles one submission against conv. Failures come back in Result.Err,
// with conv left as it was at the failing step.
func (o *Orchestrator) Submit(ctx context.Context, conv stores.Conversation, in Input) Result {
	stage := func(s Stage) {
		if in.OnStage != nil {
			in.OnStage(s)
		}
	}
	fail := func(e *Error) Result {
		logger().Infow("submit fail", "kind", e.Kind, "err", e, "turns", conv.Len())
		stage(StageFailed)
		return Result{Transcript: ToDisplay(conv.Snapshot()), Err: e, ClearAudio: true}
	}

	if len(strings.TrimSpace(in.Text)) == 0 && len(in.AudioPath) == 0 {
		return Result{Transcript: ToDisplay(conv.Snapshot()), ClearText: true, ClearAudio: true}
	}

	var content convo.Parts
	if len(strings.TrimSpace(in.Text)) > 0 {
		content = append(content, convo.TextPart{Text: in.Text})
	}

	if len(in.AudioPath) > 0 {
		stage(StageValidating)
		if e := o.checkAudio(in.AudioPath); e != nil {
			return fail(e)
		}
		stage(StageUploading)
		url, err := o.uploader.Upload(ctx, in.AudioPath)
		if err != nil || len(url) == 0 {
			return fail(newError(KindAudioUploadFailed, err))
		}
		content = append(content, convo.AudioPart{URL: url})
	}

	if len(content) == 0 {
		return fail(newError(KindEmptyMessage, nil))
	}

	stage(StageAppending)
	if err := conv.Append(convo.Turn{Role: convo.RoleUser, Content: content}); err != nil {
		return fail(newError(KindCorruptHistory, err))
	}
	// the user turn stays from here on, whatever happens below
	history := conv.Snapshot()
	if !history.Valid() {
		return fail(newError(KindCorruptHistory, nil))
	}

	stage(StageCalling)
	body, err := o.relay.Post(ctx, in.Endpoint, history)
	if err != nil {
		return fail(relayError(err))
	}

	stage(StageParsing)
	reply, err := inference.ParseReply(body)
	if err != nil {
		return fail(relayError(err))
	}
	if reply.HasError {
		e := newError(KindAPIReportedError, nil)
		if msg := strings.TrimSpace(reply.Error); len(msg) > 0 {
			e.Message = msg
		}
		return fail(e)
	}
	if !reply.HasResponse {
		return fail(newError(KindNoReply, nil))
	}
	if err = conv.Append(convo.NewText(convo.RoleAssistant, reply.Response)); err != nil {
		return fail(newError(KindCorruptHistory, err))
	}

	stage(StageDone)
	logger().Debugw("submit ok", "turns", conv.Len())
	return Result{Transcript: ToDisplay(conv.Snapshot()), ClearText: true, ClearAudio: true}
}

// Reset clears conv and returns an empty transcript.
func (o *Orchestrator) Reset(conv stores.Conversation) Result {
	conv.Clear()
	return Result{Transcript: []convo.Display{}, ClearText: true, ClearAudio: true}
}

// Transcript returns the display form of conv.
func (o *Orchestrator) Transcript(conv stores.Conversation) []convo.Display {
	return ToDisplay(conv.Snapshot())
}

func (o *Orchestrator) checkAudio(path string) *Error {
	if strings.ContainsRune(path, 0) {
		return newError(KindInvalidAudioFile, nil)
	}
	if fi, err := os.Stat(path); err != nil || fi.IsDir() {
		return newError(KindInvalidAudioFile, err)
	}

	err := o.validator.Validate(path)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, audio.ErrMissingFile):
		return newError(KindInvalidAudioFile, err)
	case errors.Is(err, audio.ErrTooSmall):
		return newError(KindTooSmall, err)
	case errors.Is(err, audio.ErrTooShort):
		return newError(KindTooShort, err)
	case errors.Is(err, audio.ErrUndecodable):
		return newError(KindUndecodable, err)
	}
	return newError(KindAudioUnexpected, err)
}

func relayError(err error) *Error {
	var se *inference.StatusError
	switch {
	case errors.As(err, &se):
		e := newError(KindAPIHTTPError, err)
		e.Message = KindAPIHTTPError.Message() + ": " + se.Error()
		e.Status = se.Status
		e.Body = se.Body
		return e
	case errors.Is(err, inference.ErrInvalidReply):
		return newError(KindInvalidAPIResponse, err)
	}
	return newError(KindAPIUnreachable, err)
}
