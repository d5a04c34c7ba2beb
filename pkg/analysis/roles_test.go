package analysis

import (
	"testing"

	"callqa-server/pkg/errors"
	"callqa-server/pkg/stt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoSpeakerSegments() []stt.Segment {
	return []stt.Segment{
		{Start: 0.0, End: 2.5, SpeakerID: "A", Text: "Hello, how can I help?"},
		{Start: 2.8, End: 5.0, SpeakerID: "B", Text: "This is terrible!"},
	}
}

func TestResolveRolesFirstSpeakerIsAgent(t *testing.T) {
	assignment, err := ResolveRoles(twoSpeakerSegments(), nil)
	require.NoError(t, err)

	assert.Equal(t, RoleAgent, assignment.RoleOf("A"))
	assert.Equal(t, RoleCustomer, assignment.RoleOf("B"))
	assert.Equal(t, 2, assignment.SpeakerCount)
}

func TestResolveRolesSingleSpeaker(t *testing.T) {
	segments := []stt.Segment{
		{Start: 0.0, End: 3.0, SpeakerID: "A", Text: "You have reached our voicemail."},
	}

	assignment, err := ResolveRoles(segments, nil)
	require.NoError(t, err)

	assert.Equal(t, RoleAgent, assignment.RoleOf("A"))
	assert.Equal(t, 1, assignment.SpeakerCount)
}

func TestResolveRolesThreeSpeakersMergeIntoCustomer(t *testing.T) {
	segments := []stt.Segment{
		{Start: 0.0, End: 1.0, SpeakerID: "A", Text: "Hello"},
		{Start: 1.2, End: 2.0, SpeakerID: "B", Text: "Hi"},
		{Start: 2.2, End: 3.0, SpeakerID: "C", Text: "Hi, also here"},
		{Start: 3.2, End: 4.0, SpeakerID: "B", Text: "We have an issue"},
	}

	assignment, err := ResolveRoles(segments, nil)
	require.NoError(t, err)

	assert.Equal(t, RoleAgent, assignment.RoleOf("A"))
	assert.Equal(t, RoleCustomer, assignment.RoleOf("B"))
	assert.Equal(t, RoleCustomer, assignment.RoleOf("C"))
	assert.Equal(t, 3, assignment.SpeakerCount)
}

func TestResolveRolesHintOverridesHeuristic(t *testing.T) {
	hints := []RoleHint{
		{SpeakerID: "A", Role: "Customer"},
		{SpeakerID: "B", Role: "Agent"},
	}

	assignment, err := ResolveRoles(twoSpeakerSegments(), hints)
	require.NoError(t, err)

	assert.Equal(t, RoleCustomer, assignment.RoleOf("A"))
	assert.Equal(t, RoleAgent, assignment.RoleOf("B"))
}

func TestResolveRolesPartialHintFillsAgent(t *testing.T) {
	// Only B is hinted; A is the earliest unhinted speaker and Agent is
	// still free, so A takes it.
	hints := []RoleHint{{SpeakerID: "B", Role: "Customer"}}

	assignment, err := ResolveRoles(twoSpeakerSegments(), hints)
	require.NoError(t, err)

	assert.Equal(t, RoleAgent, assignment.RoleOf("A"))
	assert.Equal(t, RoleCustomer, assignment.RoleOf("B"))
}

func TestResolveRolesNonCanonicalLabel(t *testing.T) {
	hints := []RoleHint{{SpeakerID: "A", Role: "Supervisor"}}

	_, err := ResolveRoles(twoSpeakerSegments(), hints)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestResolveRolesConflictingHints(t *testing.T) {
	hints := []RoleHint{
		{SpeakerID: "A", Role: "Agent"},
		{SpeakerID: "A", Role: "Customer"},
	}

	_, err := ResolveRoles(twoSpeakerSegments(), hints)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrAmbiguousSpeakers))
}

func TestResolveRolesUnknownSpeakerDefaultsToCustomer(t *testing.T) {
	assignment, err := ResolveRoles(twoSpeakerSegments(), nil)
	require.NoError(t, err)

	assert.Equal(t, RoleCustomer, assignment.RoleOf("Z"))
}
