package gateway

import (
	"fmt"

	"github.com/kiranshivaraju/tryon/internal/config"
	"github.com/kiranshivaraju/tryon/internal/gateway/gradio"
	"github.com/kiranshivaraju/tryon/pkg/models"
)

// NewProvider constructs the try-on provider named in config.
// Called once at server startup.
func NewProvider(cfg config.GatewayConfig) (models.TryOnProvider, error) {
	switch cfg.Provider {
	case "gradio":
		return gradio.NewClient(cfg.Gradio), nil
	default:
		return nil, fmt.Errorf("unknown gateway provider %q: must be gradio", cfg.Provider)
	}
}
