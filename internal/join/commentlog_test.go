package join

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommentLogAppendsChunks(t *testing.T) {
	t.Parallel()

	first, err := EncodeChunk([]json.RawMessage{
		json.RawMessage(`{"id":311934207,"text":"<p>first</p>","created_at":1714550400000,"user_id":8,"user":{"id":8,"screen_name":"bob"}}`),
		json.RawMessage(`{"id":311934208,"text":"second","reply_comment":{"id":311934207},"reward_amount":1.5}`),
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(first), "---\n"))
	assert.True(t, strings.HasSuffix(string(first), "...\n"))

	second, err := EncodeChunk([]json.RawMessage{json.RawMessage(`{"id":311934209,"text":"third"}`)})
	require.NoError(t, err)

	log := append(append(append([]byte(nil), first...), second...), second...)
	comments, err := DecodeLog(log)
	require.NoError(t, err)
	require.Len(t, comments, 3)

	assert.Equal(t, int64(311934207), comments[0].ID)
	require.NotNil(t, comments[0].CreatedAt)
	assert.Equal(t, int64(1714550400000), *comments[0].CreatedAt)
	assert.Equal(t, "bob", comments[0].User.ScreenName)
	require.NotNil(t, comments[1].ReplyComment)
	assert.Equal(t, int64(311934207), comments[1].ReplyComment.ID)
	assert.InDelta(t, 1.5, comments[1].RewardAmount, 1e-9)
	assert.Equal(t, "third", comments[2].Text)
}

func TestEncodeChunkRejectsInvalidJSON(t *testing.T) {
	t.Parallel()

	_, err := EncodeChunk([]json.RawMessage{json.RawMessage(`{`)})
	require.Error(t, err)
}

func TestDecodeLogEmpty(t *testing.T) {
	t.Parallel()

	comments, err := DecodeLog(nil)
	require.NoError(t, err)
	assert.Empty(t, comments)
}
