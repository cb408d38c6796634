package stores

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liut/parley/pkg/models/convo"
	"github.com/liut/parley/pkg/settings"
)

func TestConversationAppend(t *testing.T) {
	cs := NewConversation()
	require.NoError(t, cs.Append(convo.NewText(convo.RoleUser, "hello")))
	require.NoError(t, cs.Append(convo.NewText(convo.RoleAssistant, "hi")))
	assert.Equal(t, 2, cs.Len())

	assert.ErrorIs(t, cs.Append(convo.Turn{Role: convo.RoleUser}), ErrInvalidTurn)
	assert.ErrorIs(t, cs.Append(convo.Turn{Content: convo.Parts{convo.TextPart{Text: "x"}}}), ErrInvalidTurn)
	assert.Equal(t, 2, cs.Len(), "rejected turns must not be applied")

	snap := cs.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, convo.RoleUser, snap[0].Role)
	assert.Equal(t, convo.RoleAssistant, snap[1].Role)
}

func TestConversationSnapshotIsCopy(t *testing.T) {
	cs := NewConversation()
	turn := convo.NewText(convo.RoleUser, "a")
	require.NoError(t, cs.Append(turn))
	turn.Content[0] = convo.TextPart{Text: "mutated"}

	snap := cs.Snapshot()
	snap[0].Content[0] = convo.TextPart{Text: "mutated too"}
	assert.Equal(t, convo.TextPart{Text: "a"}, cs.Snapshot()[0].Content[0])
}

func TestConversationClear(t *testing.T) {
	cs := NewConversation()
	cs.Clear()
	assert.Equal(t, 0, cs.Len())

	require.NoError(t, cs.Append(convo.NewText(convo.RoleUser, "a")))
	cs.Clear()
	assert.Empty(t, cs.Snapshot())
}

func TestConversationConcurrent(t *testing.T) {
	cs := NewConversation()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cs.Append(convo.NewText(convo.RoleUser, "x"))
			_ = cs.Snapshot()
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, cs.Len())
}

func TestLoadPreset(t *testing.T) {
	old := settings.Current.PresetFile
	defer func() { settings.Current.PresetFile = old }()

	settings.Current.PresetFile = ""
	doc, err := LoadPreset()
	require.NoError(t, err)
	assert.Equal(t, dftTitle, doc.Title)

	p := filepath.Join(t.TempDir(), "preset.yaml")
	require.NoError(t, os.WriteFile(p, []byte("title: Voice Desk\nwelcome: hey\n"), 0o600))
	settings.Current.PresetFile = p
	doc, err = LoadPreset()
	require.NoError(t, err)
	assert.Equal(t, "Voice Desk", doc.Title)
	assert.Equal(t, "hey", doc.Welcome)

	settings.Current.PresetFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = LoadPreset()
	assert.Error(t, err)
}
