// Package config provides configuration management for the ingestion pipeline.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"mathblocks/internal/logger"
	"mathblocks/internal/parser"
	"mathblocks/internal/pdf"
	"mathblocks/internal/types"
)

const (
	// DefaultConfigFileName is the default configuration file name
	DefaultConfigFileName = "mathblocks.json"
	// EnvOpenAIAPIKey is the environment variable name for OpenAI API key
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	// EnvOpenAIBaseURL is the environment variable name for OpenAI base URL
	EnvOpenAIBaseURL = "OPENAI_BASE_URL"
	// DefaultBaseURL is the default OpenAI API base URL
	DefaultBaseURL = "https://api.openai.com/v1"
	// DefaultModel is the model used for formula correction
	DefaultModel = "gpt-4o-mini"
	// DefaultListenAddr is the HTTP listen address of mathblocksd
	DefaultListenAddr = ":8080"
)

// ConfigManager manages application configuration
type ConfigManager struct {
	configPath string
	config     *types.Config
}

// NewConfigManager creates a new ConfigManager with the specified config path.
// If configPath is empty, it uses the default path in user's home directory.
func NewConfigManager(configPath string) (*ConfigManager, error) {
	if configPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			logger.Error("failed to get user home directory", err)
			return nil, types.NewAppError(types.ErrConfig, "failed to get user home directory", err)
		}
		configPath = filepath.Join(homeDir, ".config", "mathblocks", DefaultConfigFileName)
	}

	logger.Debug("ConfigManager initialized", logger.String("configPath", configPath))
	return &ConfigManager{
		configPath: configPath,
		config:     Default(),
	}, nil
}

// Default returns a Config with default values
func Default() *types.Config {
	return &types.Config{
		OpenAIBaseURL: DefaultBaseURL,
		OpenAIModel:   DefaultModel,
		LogLevel:      "info",
		ListenAddr:    DefaultListenAddr,
		TeX: types.TeXConfig{
			MaxIterations:      parser.DefaultMaxIterations,
			StructuralCommands: true,
		},
		PDF: types.PDFConfig{
			LineTolerance:    pdf.DefaultLineTolerance,
			TitleMinY:        pdf.DefaultTitleMinY,
			TitleMinFontSize: pdf.DefaultTitleMinFontSize,
			TitleMinLength:   pdf.DefaultTitleMinLength,
			BaseFontSize:     pdf.DefaultBaseFontSize,
			IndentUnit:       pdf.DefaultIndentUnit,
		},
		OMML: types.OMMLConfig{
			SplitOnCommas: true,
		},
	}
}

// isYAML reports whether path should be read and written as YAML.
func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Load loads configuration from the config file.
// If the file doesn't exist or cannot be parsed, it uses default values.
// Fields absent from the file keep their defaults. Environment variables fill
// the API key and base URL when the file leaves them empty.
func (m *ConfigManager) Load() error {
	logger.Debug("loading configuration", logger.String("path", m.configPath))

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Error("failed to read config file", err, logger.String("path", m.configPath))
			return types.NewAppError(types.ErrConfig, "failed to read config file", err)
		}
		logger.Info("config file not found, using defaults", logger.String("path", m.configPath))
		m.config = Default()
	} else {
		cfg := Default()
		if isYAML(m.configPath) {
			err = yaml.Unmarshal(data, cfg)
		} else {
			err = json.Unmarshal(data, cfg)
		}
		if err != nil {
			logger.Warn("invalid config file format, using defaults", logger.String("path", m.configPath), logger.Err(err))
			m.config = Default()
		} else {
			logger.Info("configuration loaded",
				logger.String("path", m.configPath),
				logger.Int("apiKeyLength", len(cfg.OpenAIAPIKey)),
				logger.String("model", cfg.OpenAIModel))
			m.config = cfg
		}
	}

	m.applyEnv()
	m.fillZeroes()
	return nil
}

func (m *ConfigManager) applyEnv() {
	if m.config.OpenAIAPIKey == "" {
		m.config.OpenAIAPIKey = os.Getenv(EnvOpenAIAPIKey)
	}
	if env := os.Getenv(EnvOpenAIBaseURL); env != "" && (m.config.OpenAIBaseURL == "" || m.config.OpenAIBaseURL == DefaultBaseURL) {
		m.config.OpenAIBaseURL = env
	}
}

// fillZeroes restores defaults for numeric fields an explicit file set to zero.
func (m *ConfigManager) fillZeroes() {
	c := m.config
	if c.OpenAIModel == "" {
		c.OpenAIModel = DefaultModel
	}
	if c.OpenAIBaseURL == "" {
		c.OpenAIBaseURL = DefaultBaseURL
	}
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.TeX.MaxIterations <= 0 {
		c.TeX.MaxIterations = parser.DefaultMaxIterations
	}
	if c.PDF.LineTolerance <= 0 {
		c.PDF.LineTolerance = pdf.DefaultLineTolerance
	}
	if c.PDF.TitleMinFontSize <= 0 {
		c.PDF.TitleMinFontSize = pdf.DefaultTitleMinFontSize
	}
	if c.PDF.BaseFontSize <= 0 {
		c.PDF.BaseFontSize = pdf.DefaultBaseFontSize
	}
	if c.PDF.IndentUnit <= 0 {
		c.PDF.IndentUnit = pdf.DefaultIndentUnit
	}
}

// Save saves the current configuration to the config file.
func (m *ConfigManager) Save() error {
	logger.Debug("saving configuration", logger.String("path", m.configPath))

	dir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logger.Error("failed to create config directory", err, logger.String("dir", dir))
		return types.NewAppError(types.ErrConfig, "failed to create config directory", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(m.configPath) {
		data, err = yaml.Marshal(m.config)
	} else {
		data, err = json.MarshalIndent(m.config, "", "  ")
	}
	if err != nil {
		logger.Error("failed to marshal config", err)
		return types.NewAppError(types.ErrConfig, "failed to marshal config", err)
	}

	// 0600: the file may hold an API key
	if err := os.WriteFile(m.configPath, data, 0600); err != nil {
		logger.Error("failed to write config file", err, logger.String("path", m.configPath))
		return types.NewAppError(types.ErrConfig, "failed to write config file", err)
	}

	logger.Info("configuration saved", logger.String("path", m.configPath))
	return nil
}

// GetConfig returns the current configuration.
func (m *ConfigManager) GetConfig() *types.Config {
	if m.config == nil {
		return Default()
	}
	return m.config
}

// SetConfig sets the entire configuration.
func (m *ConfigManager) SetConfig(config *types.Config) {
	m.config = config
}

// GetConfigPath returns the path to the config file.
func (m *ConfigManager) GetConfigPath() string {
	return m.configPath
}

// GetAPIKey returns the OpenAI API key, falling back to the environment.
func (m *ConfigManager) GetAPIKey() string {
	if m.config != nil && m.config.OpenAIAPIKey != "" {
		return m.config.OpenAIAPIKey
	}
	return os.Getenv(EnvOpenAIAPIKey)
}

// HasCorrector reports whether enough is configured to build a formula corrector.
func (m *ConfigManager) HasCorrector() bool {
	return m.GetAPIKey() != ""
}
