package io

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSONAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs", "2025-06-30", "run.json")

	require.NoError(t, WriteJSONAtomic(path, map[string]int{"written": 500}))
	require.NoError(t, WriteJSONAtomic(path, map[string]int{"written": 499}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got map[string]int
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, 499, got["written"])

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestWriteJSONAtomic_Unmarshalable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	assert.Error(t, WriteJSONAtomic(path, make(chan int)))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
