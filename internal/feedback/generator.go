package feedback

import (
	"context"
	"log/slog"

	"github.com/voxmetra/voxmetra/internal/config"
	"github.com/voxmetra/voxmetra/pkg/types"
)

// Phraser rewrites a tip list into natural coach language. Implementations
// may call out to an LLM; failures degrade to the raw tips, so a Phraser
// never has to be reliable.
type Phraser interface {
	Phrase(ctx context.Context, metrics types.SpeechMetrics, tips []Tip) ([]string, error)
}

// Generator produces the post-session feedback sentences.
type Generator struct {
	cfg     *config.Config
	phraser Phraser
}

// NewGenerator creates a Generator. phraser may be nil, in which case the
// rule tips are returned verbatim.
func NewGenerator(cfg *config.Config, phraser Phraser) *Generator {
	return &Generator{cfg: cfg, phraser: phraser}
}

// Generate returns the coaching sentences for one session, highest priority
// first. It never fails: when the phrasing stage errors the rule tips are
// returned as-is.
func (g *Generator) Generate(ctx context.Context, metrics types.SpeechMetrics, quality QualitySummary) []string {
	tips := RuleTips(g.cfg, metrics, quality)
	if len(tips) == 0 {
		return nil
	}

	if g.phraser != nil {
		phrased, err := g.phraser.Phrase(ctx, metrics, tips)
		if err == nil && len(phrased) > 0 {
			return phrased
		}
		if err != nil {
			slog.Warn("feedback: phrasing failed, falling back to rule tips", "error", err)
		}
	}

	messages := make([]string, len(tips))
	for i, tip := range tips {
		messages[i] = tip.Message
	}
	return messages
}
