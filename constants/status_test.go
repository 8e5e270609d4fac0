package constants

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProjectStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to ProjectStatus
		legal    bool
	}{
		{ProjectStatusProcessing, ProjectStatusReady, true},
		{ProjectStatusProcessing, ProjectStatusFailed, true},
		{ProjectStatusProcessing, ProjectStatusProcessing, false},
		{ProjectStatusReady, ProjectStatusProcessing, true},
		{ProjectStatusReady, ProjectStatusReady, false},
		{ProjectStatusReady, ProjectStatusFailed, false},
		{ProjectStatusFailed, ProjectStatusProcessing, true},
		{ProjectStatusFailed, ProjectStatusFailed, false},
		{ProjectStatusFailed, ProjectStatusReady, false},
		{ProjectStatus("archived"), ProjectStatusProcessing, false},
		{ProjectStatusProcessing, ProjectStatus("archived"), false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.legal, tt.from.CanTransition(tt.to))
		})
	}
}

func TestPredecessors(t *testing.T) {
	assert.Equal(t, []ProjectStatus{ProjectStatusReady, ProjectStatusFailed}, Predecessors(ProjectStatusProcessing))
	assert.Equal(t, []ProjectStatus{ProjectStatusProcessing}, Predecessors(ProjectStatusReady))
	assert.Equal(t, []ProjectStatus{ProjectStatusProcessing}, Predecessors(ProjectStatusFailed))
	assert.Empty(t, Predecessors(ProjectStatus("archived")))
}

func TestTerminal(t *testing.T) {
	assert.False(t, ProjectStatusProcessing.Terminal())
	assert.True(t, ProjectStatusReady.Terminal())
	assert.True(t, ProjectStatusFailed.Terminal())
}
