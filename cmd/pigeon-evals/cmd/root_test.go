package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patteg21/pigeon-evals/pkg/version"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func writeRunConfig(t *testing.T, dir string) string {
	t.Helper()
	dataset := filepath.Join(dir, "corpus")
	require.NoError(t, os.MkdirAll(dataset, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dataset, "filing.txt"),
		[]byte("Net revenue increased twelve percent year over year."), 0o644))

	cfgPath := filepath.Join(dir, "run.yml")
	content := `run_id: cli-test
task: ingest
dataset:
  provider: local
  path: ` + dataset + `
parser:
  processes:
    - name: chunks
      steps:
        - strategy: character
          chunk_size: 40
          chunk_overlap: 10
embedding:
  provider: openai
  model: text-embedding-3-small
storage:
  vector:
    provider: memory
  text_store:
    client: memory
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o644))
	return cfgPath
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, version.Version)
}

func TestVersionCommand_Short(t *testing.T) {
	out, err := execute(t, "version", "--short")
	require.NoError(t, err)
	assert.Contains(t, out, version.Version)
	assert.NotContains(t, out, "commit")
}

func TestValidateCommand(t *testing.T) {
	cfgPath := writeRunConfig(t, t.TempDir())
	out, err := execute(t, "validate", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "config ok")
	assert.Contains(t, out, "cli-test")
}

func TestValidateCommand_MissingFile(t *testing.T) {
	_, err := execute(t, "validate", "--config", filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestRootCommand_DryRun(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeRunConfig(t, dir)

	oldDir, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer func() { _ = os.Chdir(oldDir) }()

	out, err := execute(t, "--config", cfgPath, "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "run cli-test completed")
	assert.FileExists(t, filepath.Join(dir, "output", "cli-test", "config.yaml"))
}

func TestRootCommand_DryRunEnvVar(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeRunConfig(t, dir)

	oldDir, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer func() { _ = os.Chdir(oldDir) }()

	t.Setenv("DRY_RUN", "true")
	out, err := execute(t, "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "completed")
}

func TestRootCommand_BadConfigFails(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "bad.yml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("task: [unbalanced"), 0o644))

	_, err := execute(t, "--config", cfgPath)
	assert.Error(t, err)
}
