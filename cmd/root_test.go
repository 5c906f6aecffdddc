package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/tozd/go/errors"

	"versfm/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	rootCmd, err := NewRootCmd()
	require.NoError(t, err)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err = rootCmd.Execute()
	return out.String(), err
}

func TestProvidersCommandListsConfig(t *testing.T) {
	path := writeConfig(t, `{
		"providers": {"home": {"backend": "memory"}},
		"left": {"provider": "home"},
		"right": {"provider": "home"}
	}`)

	out, err := execute(t, "providers", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "home\tmemory\n")
	assert.Contains(t, out, "backends: local, memory, minio, s3")
}

func TestLegacyBucketFlags(t *testing.T) {
	path := writeConfig(t, `{}`)

	out, err := execute(t, "providers", "--config", path, "--right-pane", "s3", "--s3-bucket-name", "backup", "--aws-region", "eu-west-1")
	require.NoError(t, err)
	assert.Contains(t, out, "backup\ts3\tbucket=backup\tregion=eu-west-1\n")
}

func TestLegacyS3PaneNeedsBucket(t *testing.T) {
	path := writeConfig(t, `{}`)

	_, err := execute(t, "providers", "--config", path, "--left-pane", "s3")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
}

func TestUnknownPaneProviderFailsValidation(t *testing.T) {
	path := writeConfig(t, `{}`)

	_, err := execute(t, "providers", "--config", path, "--left-provider", "nowhere")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrConfiguration))
}
