package web

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jpillora/eventsource"
	"github.com/marcsv/go-binder/binder"

	"github.com/liut/parley/pkg/models/convo"
	"github.com/liut/parley/pkg/services/chat"
	"github.com/liut/parley/pkg/services/inference"
	"github.com/liut/parley/pkg/services/stores"
)

const (
	esDone = "[DONE]"

	multipartMemory = 1 << 20
	fieldAudio      = "audio"
)

// ChatRequest is one submission from the chat view
type ChatRequest struct {
	Text     string `json:"text" form:"text"`
	APIURL   string `json:"api_url" form:"api_url"`
	APIToken string `json:"api_token" form:"api_token"`

	audioPath string
	audioSize int64
}

func (cr *ChatRequest) cleanup() {
	if len(cr.audioPath) > 0 {
		_ = os.Remove(cr.audioPath)
	}
}

// session returns the caller's session, issuing a cookie for a new one
func (s *server) session(w http.ResponseWriter, r *http.Request) *stores.Session {
	var sid string
	if c, err := r.Cookie(s.cfg.CookieName); err == nil {
		sid = c.Value
	}
	sess := s.sess.Ensure(sid)
	if sess.ID != sid {
		http.SetCookie(w, &http.Cookie{
			Name:     s.cfg.CookieName,
			Value:    sess.ID,
			Path:     s.cfg.CookiePath,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return sess
}

func (s *server) getWelcome(w http.ResponseWriter, r *http.Request) {
	_ = s.session(w, r)
	apiOk(w, r, s.cfg.Preset)
}

// lookup returns the caller's session, if any, without creating one
func (s *server) lookup(r *http.Request) (*stores.Session, bool) {
	c, err := r.Cookie(s.cfg.CookieName)
	if err != nil || len(c.Value) == 0 {
		return nil, false
	}
	return s.sess.Get(c.Value)
}

func (s *server) getHistory(w http.ResponseWriter, r *http.Request) {
	data := []convo.Display{}
	if sess, ok := s.lookup(r); ok {
		data = s.oc.Transcript(sess.Conversation())
	}
	apiOk(w, r, data, len(data))
}

func (s *server) postReset(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(r)
	if !ok {
		apiOk(w, r, s.oc.Reset(stores.NewConversation()))
		return
	}
	sess.Lock()
	res := s.oc.Reset(sess.Conversation())
	sess.Unlock()
	logger().Infow("reset", "sid", sess.ID)
	apiOk(w, r, res)
}

func (s *server) postChat(w http.ResponseWriter, r *http.Request) {
	suffix := chi.URLParam(r, "suffix")
	if len(suffix) > 0 && suffix != "sse" {
		apiFail(w, r, http.StatusNotFound, "unknown chat mode")
		return
	}

	param, err := s.bindChat(w, r)
	if err != nil {
		apiFail(w, r, http.StatusBadRequest, err)
		return
	}
	defer param.cleanup()

	sess := s.session(w, r)
	in := chat.Input{
		Text:      param.Text,
		AudioPath: param.audioPath,
		Endpoint:  inference.Endpoint{URL: strings.TrimSpace(param.APIURL), Token: param.APIToken},
	}
	logger().Infow("chat", "sid", sess.ID, "text", len(param.Text),
		"audio", FormatBytes(float64(param.audioSize), ""), "ip", r.RemoteAddr)

	if suffix == "sse" {
		s.chatStream(w, r, sess, in)
		return
	}

	sess.Lock()
	res := s.oc.Submit(r.Context(), sess.Conversation(), in)
	sess.Unlock()
	apiOk(w, r, res)
}

type stageEvent struct {
	Stage      chat.Stage   `json:"stage"`
	Transcript any          `json:"transcript,omitempty"`
	Result     *chat.Result `json:"result,omitempty"`
}

func (s *server) chatStream(w http.ResponseWriter, r *http.Request, sess *stores.Session, in chat.Input) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported!", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	var idx int
	send := func(m any) {
		idx++
		if writeEvent(w, strconv.Itoa(idx), m) {
			flusher.Flush()
		}
	}

	conv := sess.Conversation()
	in.OnStage = func(st chat.Stage) {
		if st == chat.StageDone || st == chat.StageFailed {
			return // sent once below, with the result
		}
		ev := stageEvent{Stage: st}
		if st == chat.StageCalling {
			// the user turn is in, show it while waiting for the reply
			ev.Transcript = s.oc.Transcript(conv)
		}
		send(&ev)
	}

	sess.Lock()
	res := s.oc.Submit(r.Context(), conv, in)
	sess.Unlock()

	final := stageEvent{Stage: chat.StageDone, Result: &res}
	if res.Err != nil {
		final.Stage = chat.StageFailed
	}
	send(&final)
	send(esDone)
}

// bindChat reads a multipart form (with an optional audio file), a url-encoded form or JSON
func (s *server) bindChat(w http.ResponseWriter, r *http.Request) (*ChatRequest, error) {
	if s.cfg.MaxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUpload)
	}
	param := new(ChatRequest)
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return nil, err
		}
		param.Text = r.FormValue("text")
		param.APIURL = r.FormValue("api_url")
		param.APIToken = r.FormValue("api_token")
		if err := param.saveAudio(r); err != nil {
			return nil, err
		}
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		param.Text = r.PostFormValue("text")
		param.APIURL = r.PostFormValue("api_url")
		param.APIToken = r.PostFormValue("api_token")
	default:
		if err := binder.BindBody(r, param); err != nil {
			return nil, err
		}
	}
	return param, nil
}

// saveAudio copies the uploaded clip to a temp file, the validator and uploader work on paths
func (cr *ChatRequest) saveAudio(r *http.Request) error {
	f, fh, err := r.FormFile(fieldAudio)
	if errors.Is(err, http.ErrMissingFile) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	tf, err := os.CreateTemp("", "parley-*.wav")
	if err != nil {
		return err
	}
	defer tf.Close()
	cr.audioPath = tf.Name()
	if cr.audioSize, err = io.Copy(tf, f); err != nil {
		cr.cleanup()
		cr.audioPath = ""
		return err
	}
	logger().Debugw("saved audio", "name", fh.Filename, "size", cr.audioSize)
	return nil
}

// writeEvent write and auto flush
func writeEvent(w io.Writer, id string, m any) bool {
	var b []byte
	var err error
	if s, ok := m.(string); ok {
		b = []byte(s)
	} else {
		b, err = json.Marshal(m)
		if err != nil {
			logger().Infow("json marshal fail", "m", m, "err", err)
			return false
		}
	}

	if err = eventsource.WriteEvent(w, eventsource.Event{
		ID:   id,
		Data: b,
	}); err != nil {
		logger().Infow("eventsource write fail", "err", err)
		return false
	}

	return true
}
