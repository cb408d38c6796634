package stores

import (
	"errors"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/liut/parley/pkg/models/convo"
	"github.com/liut/parley/pkg/settings"
)

var ErrInvalidTurn = errors.New("invalid turn: role and content required")

// Conversation is the ordered turn log of one session
type Conversation interface {
	Append(turn convo.Turn) error
	Clear()
	Snapshot() convo.Turns
	Len() int
}

// NewConversation returns an empty in-memory conversation
func NewConversation() Conversation {
	return &conversation{}
}

type conversation struct {
	mu    sync.RWMutex
	turns convo.Turns
}

// Append rejects invalid turns before touching the log.
func (s *conversation) Append(turn convo.Turn) error {
	if !turn.Valid() {
		return ErrInvalidTurn
	}
	turn = turn.Clone()
	s.mu.Lock()
	s.turns = append(s.turns, turn)
	s.mu.Unlock()
	logger().Debugw("append turn ok", "role", turn.Role, "parts", len(turn.Content))
	return nil
}

func (s *conversation) Clear() {
	s.mu.Lock()
	s.turns = nil
	s.mu.Unlock()
}

func (s *conversation) Snapshot() convo.Turns {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(convo.Turns, len(s.turns))
	for i, t := range s.turns {
		out[i] = t.Clone()
	}
	return out
}

func (s *conversation) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

// Preset 界面预设
type Preset struct {
	Title   string `json:"title,omitempty" yaml:"title,omitempty"`
	Welcome string `json:"welcome,omitempty" yaml:"welcome,omitempty"`
	APIURL  string `json:"apiURL,omitempty" yaml:"apiURL,omitempty"`
}

const (
	dftTitle   = "Chatbot with Audio & Text"
	dftWelcome = "Type a message or record audio, then press Send."
)

func LoadPreset() (doc Preset, err error) {
	doc = Preset{Title: dftTitle, Welcome: dftWelcome, APIURL: settings.Current.DefaultAPIURL}
	if len(settings.Current.PresetFile) > 0 {
		var yf *os.File
		yf, err = os.Open(settings.Current.PresetFile)
		if err != nil {
			logger().Infow("load preset fail", "file", settings.Current.PresetFile, "err", err)
			return
		}
		defer yf.Close()
		err = yaml.NewDecoder(yf).Decode(&doc)
		if err != nil {
			logger().Infow("decode preset fail", "err", err)
			return
		}
	}

	return
}
