package types

// Config 应用配置
type Config struct {
	OpenAIAPIKey  string `json:"openai_api_key" yaml:"openai_api_key"`
	OpenAIBaseURL string `json:"openai_base_url" yaml:"openai_base_url"` // OpenAI 兼容 API 的 Base URL
	OpenAIModel   string `json:"openai_model" yaml:"openai_model"`

	LogLevel string `json:"log_level" yaml:"log_level"`
	LogFile  string `json:"log_file" yaml:"log_file"` // 空表示只输出到控制台

	ListenAddr      string `json:"listen_addr" yaml:"listen_addr"`
	CorrectionCache string `json:"correction_cache" yaml:"correction_cache"` // 公式纠错缓存文件路径

	TeX  TeXConfig  `json:"tex" yaml:"tex"`
	PDF  PDFConfig  `json:"pdf" yaml:"pdf"`
	OMML OMMLConfig `json:"omml" yaml:"omml"`
}

// TeXConfig TeX 解析配置
type TeXConfig struct {
	MaxIterations      int  `json:"max_iterations" yaml:"max_iterations"`
	StructuralCommands bool `json:"structural_commands" yaml:"structural_commands"`
}

// PDFConfig PDF 版面重建配置
type PDFConfig struct {
	LineTolerance    float64 `json:"line_tolerance" yaml:"line_tolerance"`
	TitleMinY        float64 `json:"title_min_y" yaml:"title_min_y"`
	TitleMinFontSize float64 `json:"title_min_font_size" yaml:"title_min_font_size"`
	TitleMinLength   int     `json:"title_min_length" yaml:"title_min_length"`
	BaseFontSize     float64 `json:"base_font_size" yaml:"base_font_size"`
	IndentUnit       float64 `json:"indent_unit" yaml:"indent_unit"`
}

// OMMLConfig OMML 转换配置
type OMMLConfig struct {
	// SplitOnCommas keeps the historical behaviour of treating top-level
	// commas as formula separators.
	SplitOnCommas bool `json:"split_on_commas" yaml:"split_on_commas"`
}
