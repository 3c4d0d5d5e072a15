package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUpsertBatch_NewRecordIsSeeded(t *testing.T) {
	got := UpsertBatch(false, "be helpful", Message{Role: RoleUser, Content: "hi"})
	require.Equal(t, []Message{
		{Role: RoleSystem, Content: "be helpful"},
		{Role: RoleUser, Content: "hi"},
	}, got)
}

func TestUpsertBatch_ExistingRecordAppendsOnlyMessage(t *testing.T) {
	got := UpsertBatch(true, "be helpful", Message{Role: RoleAssistant, Content: "hello"})
	require.Equal(t, []Message{{Role: RoleAssistant, Content: "hello"}}, got)
}

func TestRoleValid(t *testing.T) {
	require.True(t, RoleSystem.Valid())
	require.True(t, RoleUser.Valid())
	require.True(t, RoleAssistant.Valid())
	require.False(t, Role("tool").Valid())
	require.False(t, Role("").Valid())
}

func TestSynthesisJobReady(t *testing.T) {
	require.False(t, SynthesisJob{ID: "j", Status: JobPending}.Ready())
	require.True(t, SynthesisJob{ID: "j", Status: JobReady, OutputURL: "https://x/a.mp3"}.Ready())
}
