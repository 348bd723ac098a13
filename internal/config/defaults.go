package config

const (
	defaultConfigPath                = "~/.config/paperflow/config.toml"
	defaultOutputDir                 = "~/.local/share/paperflow/outputs"
	defaultLogDir                    = "~/.local/share/paperflow/logs"
	defaultAPIBind                   = "127.0.0.1:7860"
	defaultLogRetentionDays          = 30
	defaultLogFormat                 = "console"
	defaultLogLevel                  = "info"
	defaultExtractionBaseURL         = "https://mineru.net/api/v4"
	defaultExtractionModelVersion    = "vlm"
	defaultExtractionPollSeconds     = 3
	defaultExtractionTimeoutSeconds  = 600
	defaultExtractionRequestSeconds  = 30
	defaultExtractionUploadSeconds   = 300
	defaultLLMProvider               = "deepseek"
	defaultLLMBaseURL                = "https://api.deepseek.com"
	defaultLLMModel                  = "deepseek-chat"
	defaultLLMTimeoutSeconds         = 120
	defaultLLMMaxAttempts            = 1
	defaultLLMTemperature            = 0.2
	defaultVertexRegion              = "us-central1"
	defaultVertexModel               = "gemini-2.0-flash"
	defaultTargetLanguage            = "zh-CN"
	defaultMaxCharsPerChunk          = 3500
	defaultTranslationConcurrency    = 1
	defaultAnalysisMaxChars          = 25000
	defaultDrawBaseURL               = "cn"
	defaultDrawModel                 = "nano-banana-pro"
	defaultDrawAspectRatio           = "auto"
	defaultDrawImageSize             = "1K"
	defaultDrawTimeoutSeconds        = 180
	defaultDrawPollIntervalSeconds   = 2
	defaultDrawDeadlineMinutes       = 20
	defaultRelationshipMaxPapers     = 30
	defaultWorkflowMaxBackground     = 4
	defaultNotifyTimeoutSeconds      = 10
	minRelationshipPapers            = 2
	maxRelationshipPapers            = 120
	defaultMaxAttemptsUpperBound     = 10
	defaultTranslationConcurrencyCap = 16
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			OutputDir: defaultOutputDir,
			LogDir:    defaultLogDir,
			APIBind:   defaultAPIBind,
		},
		Extraction: Extraction{
			BaseURL:               defaultExtractionBaseURL,
			ModelVersion:          defaultExtractionModelVersion,
			IsOCR:                 true,
			PollIntervalSeconds:   defaultExtractionPollSeconds,
			TimeoutSeconds:        defaultExtractionTimeoutSeconds,
			RequestTimeoutSeconds: defaultExtractionRequestSeconds,
			UploadTimeoutSeconds:  defaultExtractionUploadSeconds,
		},
		LLM: LLM{
			Provider:       defaultLLMProvider,
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			TimeoutSeconds: defaultLLMTimeoutSeconds,
			MaxAttempts:    defaultLLMMaxAttempts,
			Temperature:    defaultLLMTemperature,
		},
		Vertex: Vertex{
			Region: defaultVertexRegion,
			Model:  defaultVertexModel,
		},
		Translation: Translation{
			TargetLanguage:   defaultTargetLanguage,
			MaxCharsPerChunk: defaultMaxCharsPerChunk,
			Concurrency:      defaultTranslationConcurrency,
		},
		Analysis: Analysis{
			MaxChars: defaultAnalysisMaxChars,
		},
		Draw: Draw{
			BaseURL:             defaultDrawBaseURL,
			Model:               defaultDrawModel,
			AspectRatio:         defaultDrawAspectRatio,
			ImageSize:           defaultDrawImageSize,
			UseAI:               true,
			TimeoutSeconds:      defaultDrawTimeoutSeconds,
			PollIntervalSeconds: defaultDrawPollIntervalSeconds,
			DeadlineMinutes:     defaultDrawDeadlineMinutes,
		},
		Relationship: Relationship{
			MaxPapers: defaultRelationshipMaxPapers,
		},
		Workflow: Workflow{
			MaxBackground: defaultWorkflowMaxBackground,
			Translate:     false,
			Analyze:       true,
		},
		Notifications: Notifications{
			RequestTimeoutSeconds: defaultNotifyTimeoutSeconds,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
