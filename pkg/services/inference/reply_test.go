package inference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReply(t *testing.T) {
	r, err := ParseReply([]byte(`{"response": "hi"}`))
	require.NoError(t, err)
	assert.True(t, r.HasResponse)
	assert.Equal(t, "hi", r.Response)
	assert.False(t, r.HasError)

	r, err = ParseReply([]byte(`{"error": "bad token"}`))
	require.NoError(t, err)
	assert.True(t, r.HasError)
	assert.Equal(t, "bad token", r.Error)
}

func TestParseReplyDoubleEncoded(t *testing.T) {
	r, err := ParseReply([]byte(`"{\"response\": \"hi again\"}"`))
	require.NoError(t, err)
	assert.Equal(t, "hi again", r.Response)

	_, err = ParseReply([]byte(`"plain words"`))
	assert.ErrorIs(t, err, ErrInvalidReply)
}

func TestParseReplyShapes(t *testing.T) {
	for _, body := range []string{``, `not json`, `[1,2]`, `42`, `null`} {
		_, err := ParseReply([]byte(body))
		assert.ErrorIs(t, err, ErrInvalidReply, "body %q", body)
	}

	r, err := ParseReply([]byte(`{"response": 12}`))
	require.NoError(t, err)
	assert.False(t, r.HasResponse)

	r, err = ParseReply([]byte(`{"error": null}`))
	require.NoError(t, err)
	assert.True(t, r.HasError)
	assert.Empty(t, r.Error)

	r, err = ParseReply([]byte(`{"error": 503}`))
	require.NoError(t, err)
	assert.Equal(t, "503", r.Error)

	r, err = ParseReply([]byte(`{"error": {"code": "quota"}}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":"quota"}`, r.Error)
}
