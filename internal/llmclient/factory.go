// internal/llmclient/factory.go
package llmclient

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/akhilmat/ordermate/api/schemas"
	"github.com/akhilmat/ordermate/internal/config"
)

// NewClient is a factory function that creates an LLMClient based on the configuration.
func NewClient(cfg config.OracleConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	switch cfg.Provider {
	case "gemini", "":
		return NewGeminiClient(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [gemini]", cfg.Provider)
	}
}
