package devserver

import (
	"testing"

	"github.com/ashureev/agentchat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobs_AdvanceToCompletion(t *testing.T) {
	st := newState()
	a := st.createAgent(1, domain.AgentInput{Name: "Mika", HairColor: "black", HairStyle: "bob", EyeColor: "green"})

	log, err := st.startJob(1, a.ID, false)
	require.NoError(t, err)
	assert.Equal(t, domain.GenerationStarted, log.Status)
	assert.Contains(t, log.Prompt, "black bob hair")
	assert.Contains(t, log.Prompt, "green eyes")

	var completed []int64
	ticks := 0
	for len(completed) == 0 && ticks < 10 {
		completed = st.advanceJobs()
		ticks++
	}
	assert.Equal(t, []int64{a.ID}, completed)
	assert.Equal(t, 4, ticks)

	log, err = st.generationLog(1, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.GenerationCompleted, log.Status)
	require.NotNil(t, log.Progress)
	assert.InDelta(t, 100, float64(*log.Progress), 0.001)
	assert.NotEmpty(t, log.TotalTime)
	require.NotNil(t, log.ImageSeed)

	got, err := st.agent(1, a.ID)
	require.NoError(t, err)
	assert.Equal(t, log.ImageURL, got.ImageURL)

	assert.Empty(t, st.advanceJobs(), "terminal jobs do not advance")
}

func TestJobs_CachedUnlessForced(t *testing.T) {
	st := newState()
	seed := int64(7)
	a := st.createAgent(1, domain.AgentInput{Name: "Mika", ImageURL: "/static/old.png", ImageSeed: &seed})

	log, err := st.startJob(1, a.ID, false)
	require.NoError(t, err)
	assert.Equal(t, domain.GenerationCached, log.Status)
	assert.Equal(t, "/static/old.png", log.ImageURL)
	assert.Equal(t, "cache_check", log.Steps[0].Step)

	log, err = st.startJob(1, a.ID, true)
	require.NoError(t, err)
	assert.Equal(t, domain.GenerationStarted, log.Status)
}

func TestJobs_Ownership(t *testing.T) {
	st := newState()
	a := st.createAgent(1, domain.AgentInput{Name: "Mika"})

	_, err := st.startJob(2, a.ID, false)
	assert.ErrorIs(t, err, errNotFound)
	_, err = st.generationLog(1, a.ID)
	assert.ErrorIs(t, err, errNotFound)
}

func TestJobs_LogCopiesDoNotAlias(t *testing.T) {
	st := newState()
	a := st.createAgent(1, domain.AgentInput{Name: "Mika"})
	log, err := st.startJob(1, a.ID, false)
	require.NoError(t, err)

	*log.Progress = 55
	log.Steps[0].Status = "tampered"

	again, err := st.generationLog(1, a.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0, float64(*again.Progress), 0.001)
	assert.Equal(t, "completed", again.Steps[0].Status)
}
