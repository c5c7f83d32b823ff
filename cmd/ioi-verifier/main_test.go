package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ismaiel54/ioi-session-client/internal/msg"
)

func TestTally(t *testing.T) {
	tl := newTally()
	tl.add(msg.IOIOutcomeMsg{EventID: "evt-a", CommandID: "a", Status: msg.StatusAccepted})
	tl.add(msg.IOIOutcomeMsg{EventID: "evt-b", CommandID: "b", Status: msg.StatusRejected})
	tl.add(msg.IOIOutcomeMsg{EventID: "evt-a", CommandID: "a", Status: msg.StatusAccepted})
	assert.Empty(t, tl.conflicts())
	assert.Equal(t, 1, tl.redelivered)
	assert.Equal(t, 3, tl.total)
	assert.Equal(t, 1, tl.byStatus[msg.StatusAccepted])

	tl.add(msg.IOIOutcomeMsg{EventID: "evt-b", CommandID: "b", Status: msg.StatusFailed})
	tl.add(msg.IOIOutcomeMsg{EventID: "evt-b2", CommandID: "b", Status: msg.StatusRejected})
	conflicts := tl.conflicts()
	require.Len(t, conflicts, 1)
	assert.Equal(t, msg.StatusRejected, conflicts[0].first.Status)
	assert.Equal(t, msg.StatusFailed, conflicts[0].second.Status)
	assert.Len(t, tl.first, 2)
}
