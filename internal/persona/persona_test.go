package persona

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefault_HasAllFields(t *testing.T) {
	p := Default()
	require.Equal(t, "AI-Kun Fudosan Running", p.Health)
	require.NotEmpty(t, p.FallbackReply)
	require.Contains(t, p.SystemPrompt, "不動産査定")
}

func TestLoad_EmptyPathUsesDefault(t *testing.T) {
	p, err := Load("  ")
	require.NoError(t, err)
	require.Equal(t, Default(), p)
}

func TestLoad_FileOverridesAndFillsGaps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persona.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: test\nsystem_prompt: |\n  Be brief.\n"), 0o644))

	p, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "test", p.Name)
	require.Equal(t, "Be brief.", p.SystemPrompt)
	require.Equal(t, Default().Health, p.Health)
	require.Equal(t, Default().FallbackReply, p.FallbackReply)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "persona: read")
}

func TestParse_RequiresSystemPrompt(t *testing.T) {
	_, err := Parse([]byte("health: ok\nfallback_reply: sorry\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "system_prompt")
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("system_prompt: [unterminated"))
	require.Error(t, err)
}
