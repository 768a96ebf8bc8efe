package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mathblocks/internal/parser"
	"mathblocks/internal/pdf"
	"mathblocks/internal/types"
)

func TestNewConfigManager(t *testing.T) {
	t.Run("with custom path", func(t *testing.T) {
		customPath := filepath.Join(t.TempDir(), "custom.json")
		cm, err := NewConfigManager(customPath)
		require.NoError(t, err)
		assert.Equal(t, customPath, cm.GetConfigPath())
	})

	t.Run("with empty path uses default", func(t *testing.T) {
		cm, err := NewConfigManager("")
		require.NoError(t, err)
		assert.Equal(t, DefaultConfigFileName, filepath.Base(cm.GetConfigPath()))
	})
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv(EnvOpenAIAPIKey, "")
	t.Setenv(EnvOpenAIBaseURL, "")

	cm, err := NewConfigManager(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	require.NoError(t, cm.Load())

	cfg := cm.GetConfig()
	assert.Equal(t, DefaultModel, cfg.OpenAIModel)
	assert.Equal(t, DefaultBaseURL, cfg.OpenAIBaseURL)
	assert.Equal(t, parser.DefaultMaxIterations, cfg.TeX.MaxIterations)
	assert.True(t, cfg.TeX.StructuralCommands)
	assert.True(t, cfg.OMML.SplitOnCommas)
	assert.Equal(t, 5.0, cfg.PDF.LineTolerance)
	assert.Equal(t, 600.0, cfg.PDF.TitleMinY)
	assert.Equal(t, 16.0, cfg.PDF.TitleMinFontSize)
	assert.Equal(t, 4, cfg.PDF.TitleMinLength)
	assert.Equal(t, 12.0, cfg.PDF.BaseFontSize)
	assert.Equal(t, 72.0, cfg.PDF.IndentUnit)
	assert.False(t, cm.HasCorrector())
}

func TestLoadPartialJSONKeepsDefaults(t *testing.T) {
	t.Setenv(EnvOpenAIAPIKey, "")
	path := filepath.Join(t.TempDir(), "partial.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"omml":{"split_on_commas":false},"pdf":{"indent_unit":36}}`), 0600))

	cm, err := NewConfigManager(path)
	require.NoError(t, err)
	require.NoError(t, cm.Load())

	cfg := cm.GetConfig()
	assert.False(t, cfg.OMML.SplitOnCommas)
	assert.Equal(t, 36.0, cfg.PDF.IndentUnit)
	assert.True(t, cfg.TeX.StructuralCommands, "absent bool keeps its default")
	assert.Equal(t, pdf.DefaultLineTolerance, cfg.PDF.LineTolerance)
}

func TestLoadYAML(t *testing.T) {
	t.Setenv(EnvOpenAIAPIKey, "")
	path := filepath.Join(t.TempDir(), "mathblocks.yaml")
	yamlDoc := "openai_model: local-model\n" +
		"log_level: debug\n" +
		"tex:\n  max_iterations: 500\n  structural_commands: false\n" +
		"pdf:\n  title_min_y: 700\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0600))

	cm, err := NewConfigManager(path)
	require.NoError(t, err)
	require.NoError(t, cm.Load())

	cfg := cm.GetConfig()
	assert.Equal(t, "local-model", cfg.OpenAIModel)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 500, cfg.TeX.MaxIterations)
	assert.False(t, cfg.TeX.StructuralCommands)
	assert.Equal(t, 700.0, cfg.PDF.TitleMinY)
	assert.Equal(t, pdf.DefaultIndentUnit, cfg.PDF.IndentUnit)
}

func TestLoadInvalidFileFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	cm, err := NewConfigManager(path)
	require.NoError(t, err)
	require.NoError(t, cm.Load())
	assert.Equal(t, DefaultModel, cm.GetConfig().OpenAIModel)
}

func TestLoadUnreadablePathIsConfigError(t *testing.T) {
	// A directory cannot be read as a file.
	cm, err := NewConfigManager(t.TempDir())
	require.NoError(t, err)

	err = cm.Load()
	require.Error(t, err)
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrConfig, appErr.Code)
}

func TestZeroNumericsRestored(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zero.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"tex":{"max_iterations":0},"pdf":{"line_tolerance":0}}`), 0600))

	cm, err := NewConfigManager(path)
	require.NoError(t, err)
	require.NoError(t, cm.Load())
	assert.Equal(t, parser.DefaultMaxIterations, cm.GetConfig().TeX.MaxIterations)
	assert.Equal(t, pdf.DefaultLineTolerance, cm.GetConfig().PDF.LineTolerance)
}

func TestEnvironmentFallback(t *testing.T) {
	t.Setenv(EnvOpenAIAPIKey, "env-key")
	t.Setenv(EnvOpenAIBaseURL, "http://localhost:11434/v1")

	cm, err := NewConfigManager(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	require.NoError(t, cm.Load())

	assert.Equal(t, "env-key", cm.GetAPIKey())
	assert.Equal(t, "http://localhost:11434/v1", cm.GetConfig().OpenAIBaseURL)
	assert.True(t, cm.HasCorrector())
}

func TestFileValuesWinOverEnvironment(t *testing.T) {
	t.Setenv(EnvOpenAIAPIKey, "env-key")
	t.Setenv(EnvOpenAIBaseURL, "http://env/v1")
	path := filepath.Join(t.TempDir(), "keyed.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"openai_api_key":"file-key","openai_base_url":"http://file/v1"}`), 0600))

	cm, err := NewConfigManager(path)
	require.NoError(t, err)
	require.NoError(t, cm.Load())

	assert.Equal(t, "file-key", cm.GetAPIKey())
	assert.Equal(t, "http://file/v1", cm.GetConfig().OpenAIBaseURL)
}

func TestSaveRoundTrip(t *testing.T) {
	t.Setenv(EnvOpenAIAPIKey, "")
	t.Setenv(EnvOpenAIBaseURL, "")

	for _, name := range []string{"nested/dir/mathblocks.json", "nested/dir/mathblocks.yml"} {
		t.Run(filepath.Ext(name), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			cm, err := NewConfigManager(path)
			require.NoError(t, err)

			cfg := Default()
			cfg.OpenAIModel = "saved-model"
			cfg.PDF.TitleMinLength = 9
			cfg.OMML.SplitOnCommas = false
			cm.SetConfig(cfg)
			require.NoError(t, cm.Save())

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

			reloaded, err := NewConfigManager(path)
			require.NoError(t, err)
			require.NoError(t, reloaded.Load())
			got := reloaded.GetConfig()
			assert.Equal(t, "saved-model", got.OpenAIModel)
			assert.Equal(t, 9, got.PDF.TitleMinLength)
			assert.False(t, got.OMML.SplitOnCommas)
		})
	}
}

func TestSavedJSONUsesSnakeCaseKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.json")
	cm, err := NewConfigManager(path)
	require.NoError(t, err)
	require.NoError(t, cm.Save())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "listen_addr")
	assert.Contains(t, raw, "tex")
	assert.Contains(t, raw["pdf"], "title_min_font_size")
}

func TestDefaultsMatchReaders(t *testing.T) {
	cfg := Default()
	assert.Equal(t, parser.DefaultOptions().MaxIterations, cfg.TeX.MaxIterations)
	assert.Equal(t, types.PDFConfig{
		LineTolerance:    pdf.DefaultLineTolerance,
		TitleMinY:        pdf.DefaultTitleMinY,
		TitleMinFontSize: pdf.DefaultTitleMinFontSize,
		TitleMinLength:   pdf.DefaultTitleMinLength,
		BaseFontSize:     pdf.DefaultBaseFontSize,
		IndentUnit:       pdf.DefaultIndentUnit,
	}, cfg.PDF)
}
