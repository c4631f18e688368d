package config

const (
	defaultRootDir                 = "~/.local/share/vellum/corpus"
	defaultLogDir                  = "~/.local/share/vellum/logs"
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
	defaultInferenceEndpoint       = "http://127.0.0.1:1234/v1/chat/completions"
	defaultAnalysisModel           = "mistralai/ministral-3-3b"
	defaultOCRModel                = "allenai/olmocr-2-7b"
	defaultInferenceTimeoutSeconds = 120
	defaultWorkers                 = 4
	defaultBatchSize               = 10
	defaultKeyPrefix               = "v1"
	defaultAvifencBinary           = "avifenc"
	defaultPdftoppmBinary          = "pdftoppm"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			RootDir: defaultRootDir,
		},
		Inference: Inference{
			Endpoint:       defaultInferenceEndpoint,
			AnalysisModel:  defaultAnalysisModel,
			OCRModel:       defaultOCRModel,
			TimeoutSeconds: defaultInferenceTimeoutSeconds,
		},
		Pipeline: Pipeline{
			Workers:    defaultWorkers,
			PhotosOnly: true,
		},
		Publish: Publish{
			KeyPrefix:    defaultKeyPrefix,
			BatchSize:    defaultBatchSize,
			VectorSearch: true,
		},
		Tools: Tools{
			Avifenc:  defaultAvifencBinary,
			Pdftoppm: defaultPdftoppmBinary,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
			Dir:    defaultLogDir,
		},
	}
}
