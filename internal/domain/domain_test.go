package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_DecodesHistoryAndLiveShapes(t *testing.T) {
	t.Parallel()

	var history Message
	require.NoError(t, json.Unmarshal([]byte(`{"id":12,"chat_id":3,"content":"hi","sender":"user","created_at":"2024-05-01T10:00:00.123456"}`), &history))
	assert.Equal(t, MessageID("12"), history.ID)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 123456000, time.UTC), history.Time())

	var live Message
	require.NoError(t, json.Unmarshal([]byte(`{"id":"system_prompt_3","content":"prompt","sender":"ai","image_url":null,"timestamp":"2024-05-01T10:00:01+00:00"}`), &live))
	assert.Equal(t, MessageID("system_prompt_3"), live.ID)
	assert.Empty(t, live.ImageURL)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 1, 0, time.UTC), live.Time().UTC())
}

func TestMessageID_MarshalJSON(t *testing.T) {
	t.Parallel()

	out, err := json.Marshal([]MessageID{"7", "error_7_1.5"})
	require.NoError(t, err)
	assert.JSONEq(t, `[7,"error_7_1.5"]`, string(out))
}

func TestTimestamp_RejectsGarbage(t *testing.T) {
	t.Parallel()

	var ts Timestamp
	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &ts))
	require.NoError(t, json.Unmarshal([]byte(`null`), &ts))
	assert.True(t, ts.IsZero())
}

func TestPercent_AcceptsStrings(t *testing.T) {
	t.Parallel()

	var log GenerationLog
	require.NoError(t, json.Unmarshal([]byte(`{"status":"pending","progress":"55.5","steps":[]}`), &log))
	require.NotNil(t, log.Progress)
	assert.InDelta(t, 55.5, float64(*log.Progress), 0.001)
	assert.False(t, log.Status.Terminal())

	for _, s := range []GenerationStatus{GenerationCompleted, GenerationFailed, GenerationCached} {
		assert.True(t, s.Terminal(), s)
	}
	assert.False(t, GenerationStarted.Terminal())
}

func TestAgent_Input(t *testing.T) {
	t.Parallel()

	seed := int64(42)
	agent := Agent{
		Name:          "Mika",
		ImageSeed:     &seed,
		Personalities: []Tag{{ID: 1, Name: "kind"}, {ID: 4, Name: "shy"}},
		Tones:         []Tag{{ID: 9, Name: "polite"}},
	}
	in := agent.Input()
	assert.Equal(t, []int64{1, 4}, in.PersonalityIDs)
	assert.Empty(t, in.RoleIDs)
	assert.Equal(t, []int64{9}, in.ToneIDs)

	out, err := json.Marshal(AgentInput{Name: "x"})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"image_seed":null`)
}
