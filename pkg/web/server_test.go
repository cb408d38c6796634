package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liut/parley/pkg/services/audio"
	"github.com/liut/parley/pkg/services/chat"
	"github.com/liut/parley/pkg/services/inference"
	"github.com/liut/parley/pkg/services/stores"
)

const audioURL = "https://chatbot-storage-2025-01-17.s3.eu-north-1.amazonaws.com/audio_1.wav"

type stubUploader struct{ calls int }

func (u *stubUploader) Upload(context.Context, string) (string, error) {
	u.calls++
	return audioURL, nil
}

func newAPI(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T, cfg Config) (*server, *stubUploader) {
	t.Helper()
	up := &stubUploader{}
	if cfg.Chat == nil {
		cfg.Chat = chat.New(audio.NewValidator(), up, inference.NewClient(time.Second))
	}
	s, err := newServer(cfg)
	require.NoError(t, err)
	return s, up
}

type envelope struct {
	Status int `json:"status"`
	Data   struct {
		Transcript []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"transcript"`
		Error *struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		} `json:"error"`
		ClearAudio bool `json:"clearAudio"`
	} `json:"data"`
}

func do(t *testing.T, s *server, req *http.Request, cookie *http.Cookie) (*httptest.ResponseRecorder, *http.Cookie) {
	t.Helper()
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	s.ar.ServeHTTP(w, req)
	for _, c := range w.Result().Cookies() {
		if c.Name == s.cfg.CookieName {
			cookie = c
		}
	}
	return w, cookie
}

func formChat(text, apiURL string) *http.Request {
	form := url.Values{"text": {text}, "api_url": {apiURL}, "api_token": {"tok"}}
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&env))
	return env
}

func TestPing(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	w, _ := do(t, s, httptest.NewRequest(http.MethodGet, "/ping", nil), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Pong\n", w.Body.String())
}

func TestWelcomeIssuesCookie(t *testing.T) {
	s, _ := newTestServer(t, Config{Preset: stores.Preset{Title: "T", Welcome: "W"}})
	w, c := do(t, s, httptest.NewRequest(http.MethodGet, "/api/welcome", nil), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, c)
	assert.NotEmpty(t, c.Value)
	assert.Contains(t, w.Body.String(), `"welcome":"W"`)

	// known session keeps its cookie
	_, c2 := do(t, s, httptest.NewRequest(http.MethodGet, "/api/welcome", nil), c)
	assert.Equal(t, c.Value, c2.Value)
}

func TestChatFormRoundTrip(t *testing.T) {
	api := newAPI(t, `{"response": "hi"}`)
	s, _ := newTestServer(t, Config{})

	w, c := do(t, s, formChat("hello", api.URL), nil)
	require.Equal(t, http.StatusOK, w.Code)
	env := decode(t, w)
	assert.Nil(t, env.Data.Error)
	require.Len(t, env.Data.Transcript, 2)
	assert.Equal(t, "assistant", env.Data.Transcript[1].Role)
	assert.Equal(t, "hi", env.Data.Transcript[1].Content)

	w, _ = do(t, s, httptest.NewRequest(http.MethodGet, "/api/history", nil), c)
	assert.Contains(t, w.Body.String(), `"count":2`)
}

func TestChatJSON(t *testing.T) {
	api := newAPI(t, `{"error": "bad token"}`)
	s, _ := newTestServer(t, Config{})

	b, _ := json.Marshal(M{"text": "hello", "api_url": api.URL, "api_token": "x"})
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	w, _ := do(t, s, req, nil)
	require.Equal(t, http.StatusOK, w.Code)
	env := decode(t, w)
	require.NotNil(t, env.Data.Error)
	assert.Equal(t, "ApiReportedError", env.Data.Error.Kind)
	assert.Equal(t, "bad token", env.Data.Error.Message)
	assert.Len(t, env.Data.Transcript, 1)
}

func TestChatMultipartAudio(t *testing.T) {
	api := newAPI(t, `"{\"response\": \"got audio\"}"`)
	s, up := newTestServer(t, Config{MaxUpload: 1 << 20})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("api_url", api.URL)
	fw, err := mw.CreateFormFile("audio", "rec.wav")
	require.NoError(t, err)
	_, _ = fw.Write(audio.EncodePCM16(make([]int16, 8000), 8000))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/chat", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w, _ := do(t, s, req, nil)
	require.Equal(t, http.StatusOK, w.Code)
	env := decode(t, w)
	assert.Nil(t, env.Data.Error)
	require.Len(t, env.Data.Transcript, 2)
	assert.Contains(t, env.Data.Transcript[0].Content, audioURL)
	assert.Equal(t, "got audio", env.Data.Transcript[1].Content)
	assert.Equal(t, 1, up.calls)
}

func TestChatMultipartTooSmall(t *testing.T) {
	s, up := newTestServer(t, Config{})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("audio", "rec.wav")
	_, _ = fw.Write([]byte("RIFF"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/chat", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w, c := do(t, s, req, nil)
	env := decode(t, w)
	require.NotNil(t, env.Data.Error)
	assert.Equal(t, "Audio file too small", env.Data.Error.Message)
	assert.True(t, env.Data.ClearAudio)
	assert.Equal(t, 0, up.calls)

	w, _ = do(t, s, httptest.NewRequest(http.MethodGet, "/api/history", nil), c)
	assert.NotContains(t, w.Body.String(), `"count"`)
}

func TestChatUploadLimit(t *testing.T) {
	s, _ := newTestServer(t, Config{MaxUpload: 1024})

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("audio", "rec.wav")
	_, _ = fw.Write(make([]byte, 4096))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/chat", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w, _ := do(t, s, req, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionsDoNotShareHistory(t *testing.T) {
	api := newAPI(t, `{"response": "ok"}`)
	s, _ := newTestServer(t, Config{})

	_, a := do(t, s, formChat("from a", api.URL), nil)
	_, b := do(t, s, formChat("from b", api.URL), nil)
	require.NotEqual(t, a.Value, b.Value)

	w, _ := do(t, s, httptest.NewRequest(http.MethodGet, "/api/history", nil), a)
	assert.Contains(t, w.Body.String(), "from a")
	assert.NotContains(t, w.Body.String(), "from b")
}

func TestReset(t *testing.T) {
	api := newAPI(t, `{"response": "ok"}`)
	s, _ := newTestServer(t, Config{})

	_, c := do(t, s, formChat("hello", api.URL), nil)
	w, _ := do(t, s, httptest.NewRequest(http.MethodPost, "/api/reset", nil), c)
	env := decode(t, w)
	assert.Empty(t, env.Data.Transcript)
	assert.True(t, env.Data.ClearAudio)

	w, _ = do(t, s, httptest.NewRequest(http.MethodPost, "/api/reset", nil), c)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestChatSSE(t *testing.T) {
	api := newAPI(t, `{"response": "streamed"}`)
	s, _ := newTestServer(t, Config{})

	req := formChat("hello", api.URL)
	req.URL.Path = "/api/chat-sse"
	w, _ := do(t, s, req, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	stages, results, last := readStages(t, w)
	assert.Equal(t, []string{"appending", "calling", "parsing", "done"}, stages)
	assert.Equal(t, []bool{false, false, false, true}, results, "only the terminal event carries the result")
	assert.Equal(t, esDone, last)
}

func TestChatSSEFailedOnce(t *testing.T) {
	api := newAPI(t, `{"error": "quota"}`)
	s, _ := newTestServer(t, Config{})

	req := formChat("hello", api.URL)
	req.URL.Path = "/api/chat-sse"
	w, _ := do(t, s, req, nil)
	stages, results, _ := readStages(t, w)
	assert.Equal(t, []string{"appending", "calling", "parsing", "failed"}, stages)
	assert.True(t, results[len(results)-1])
}

func readStages(t *testing.T, w *httptest.ResponseRecorder) (stages []string, results []bool, last string) {
	t.Helper()
	sc := bufio.NewScanner(w.Body)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		last = data
		var ev struct {
			Stage  string          `json:"stage"`
			Result json.RawMessage `json:"result"`
		}
		if json.Unmarshal([]byte(data), &ev) == nil {
			stages = append(stages, ev.Stage)
			results = append(results, len(ev.Result) > 0)
		}
	}
	return
}

func TestChatUnknownSuffix(t *testing.T) {
	s, _ := newTestServer(t, Config{})
	req := formChat("hello", "http://127.0.0.1:1")
	req.URL.Path = "/api/chat-process"
	w, _ := do(t, s, req, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRateLimitMemory(t *testing.T) {
	api := newAPI(t, `{"response": "ok"}`)
	s, _ := newTestServer(t, Config{RateLimit: "2-M"})

	for i := 0; i < 2; i++ {
		w, _ := do(t, s, formChat("hi", api.URL), nil)
		assert.Equal(t, http.StatusOK, w.Code)
	}
	w, _ := do(t, s, formChat("hi", api.URL), nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// reading history is not limited
	w, _ = do(t, s, httptest.NewRequest(http.MethodGet, "/api/history", nil), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadOnlyRoutesCreateNoSession(t *testing.T) {
	reg := stores.NewSessions(time.Hour)
	s, _ := newTestServer(t, Config{RateLimit: "1-M", Sessions: reg})

	for i := 0; i < 500; i++ {
		w, c := do(t, s, httptest.NewRequest(http.MethodGet, "/api/history", nil), nil)
		require.Equal(t, http.StatusOK, w.Code)
		require.Nil(t, c, "history must not issue a cookie")
		assert.JSONEq(t, `{"status":0,"data":[]}`, w.Body.String())
	}
	for i := 0; i < 20; i++ {
		w, c := do(t, s, httptest.NewRequest(http.MethodPost, "/api/reset", nil), nil)
		require.Equal(t, http.StatusOK, w.Code)
		require.Nil(t, c)
	}
	assert.Equal(t, 0, reg.Len())

	// an unknown cookie is not adopted either
	w, _ := do(t, s, httptest.NewRequest(http.MethodGet, "/api/history", nil), &http.Cookie{Name: s.cfg.CookieName, Value: "forged"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, reg.Len())
}

func TestWelcomeIsLimited(t *testing.T) {
	reg := stores.NewSessions(time.Hour)
	s, _ := newTestServer(t, Config{RateLimit: "1-M", Sessions: reg})

	w, c := do(t, s, httptest.NewRequest(http.MethodGet, "/api/welcome", nil), nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, c)
	for i := 0; i < 10; i++ {
		w, _ = do(t, s, httptest.NewRequest(http.MethodGet, "/api/welcome", nil), nil)
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
	}
	assert.Equal(t, 1, reg.Len())
}

func TestRateLimitRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rc.Close()

	api := newAPI(t, `{"response": "ok"}`)
	s, _ := newTestServer(t, Config{RateLimit: "1-M", Redis: rc})

	w, _ := do(t, s, formChat("hi", api.URL), nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = do(t, s, formChat("hi", api.URL), nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestBadRateLimit(t *testing.T) {
	_, err := newServer(Config{RateLimit: "lots"})
	assert.Error(t, err)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512.00B", FormatBytes(512, ""))
	assert.Equal(t, "2.00KB", FormatBytes(2048, ""))
	assert.Equal(t, "infinity", FormatBytes(math.Inf(1), ""))
}
