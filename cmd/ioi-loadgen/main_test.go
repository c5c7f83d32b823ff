package main

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_Deterministic(t *testing.T) {
	first, unique, dups, cancels := generate(rand.New(rand.NewSource(7)), 7, 200, 30, 10)
	second, _, _, _ := generate(rand.New(rand.NewSource(7)), 7, 200, 30, 10)

	require.Len(t, first, 200)
	assert.Equal(t, 200, unique+dups)
	assert.Greater(t, dups, 0)
	assert.Greater(t, cancels, 0)

	ids := make(map[string]bool)
	for i, cmd := range first {
		ids[cmd.CommandID] = true
		assert.Equal(t, cmd.CommandID, second[i].CommandID)
		assert.Equal(t, cmd.Operation, second[i].Operation)
		if cmd.Operation == "create" {
			require.NotNil(t, cmd.IOI)
			assert.NoError(t, cmd.IOI.Validate())
		} else {
			assert.NotEmpty(t, cmd.Handle)
		}
	}
	assert.Len(t, ids, unique)
}

func TestGenerate_NoDuplicatesOrCancels(t *testing.T) {
	cmds, unique, dups, cancels := generate(rand.New(rand.NewSource(1)), 1, 20, 0, 0)
	assert.Len(t, cmds, 20)
	assert.Equal(t, 20, unique)
	assert.Zero(t, dups)
	assert.Zero(t, cancels)
	assert.Equal(t, "cmd-1-0", cmds[0].CommandID)
}
