package test_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tailstream/engine/internal/test"
)

// TestExample demonstrates basic test utilities usage
func TestExample(t *testing.T) {
	// Create a temporary directory
	dir := test.TempDir(t)
	assert.DirExists(t, dir)

	// Create a test data directory structure
	dataDir := test.CreateTestDataDir(t, dir)
	assert.DirExists(t, filepath.Join(dataDir, "streams"))

	// Create a temporary file
	file := test.TempFile(t, dir, "test-*.log")
	assert.FileExists(t, file)

	// Verify the file path is correct
	require.True(t, filepath.IsAbs(file))
}
