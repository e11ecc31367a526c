package prompts

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medsum/platform/internal/shared/config"
)

func TestLoad_Defaults(t *testing.T) {
	set, err := Load(config.PromptsConfig{})
	require.NoError(t, err)

	assert.Contains(t, set.Insight, "Output ONLY HTML")
	assert.Contains(t, set.PatientSummary, "[END OF REPORTS]")
	assert.Contains(t, set.Extraction, "[[END_OF_PAGE]]")
}

func TestLoad_Override(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "insight.txt")
	require.NoError(t, os.WriteFile(path, []byte("\n  custom insight prompt \n"), 0o600))

	set, err := Load(config.PromptsConfig{InsightPath: path})
	require.NoError(t, err)
	assert.Equal(t, "custom insight prompt", set.Insight)
	assert.Contains(t, set.PatientSummary, "health overview")
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0o600))

	_, err := Load(config.PromptsConfig{ExtractionPath: filepath.Join(dir, "missing.txt")})
	assert.Error(t, err)

	_, err = Load(config.PromptsConfig{PatientSummaryPath: empty})
	assert.Error(t, err)
}
