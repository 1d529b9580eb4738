package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// createTempTestFiles writes files under a fresh temporary directory and
// returns it.
func createTempTestFiles(t *testing.T, files map[string]string) string {
	t.Helper()

	tmpDir := t.TempDir()
	for filename, content := range files {
		filePath := filepath.Join(tmpDir, filename)
		require.NoError(t, os.MkdirAll(filepath.Dir(filePath), 0o755))
		require.NoError(t, os.WriteFile(filePath, []byte(content), 0o644))
	}
	return tmpDir
}

// executeRoot runs the CLI with args, feeding stdin, and captures both
// writers. Config discovery is switched off and colors are disabled.
func executeRoot(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()

	cmd := NewRootCommand("1.2.3", "abc123", "2024-01-01")
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append(args, "--no-config", "--no-color", "--theme=ascii"))

	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}
