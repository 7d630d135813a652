package conversation

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ashureev/callagent/internal/domain"
	"github.com/ashureev/callagent/internal/generator"
)

// Composer turns the machine's core reply into the text sent to the caller.
type Composer struct {
	rnd       RandomSource
	generator generator.Generator
	logger    *slog.Logger
}

// NewComposer creates a composer. gen may be nil, in which case replies are
// returned without a generation pass.
func NewComposer(rnd RandomSource, gen generator.Generator, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{rnd: rnd, generator: gen, logger: logger}
}

// Compose prefixes a filler for the greeting and default branches. Collecting,
// confirming and booking replies already carry their own phrasing.
func (c *Composer) Compose(ctx context.Context, branch domain.Step, core string, def *domain.AgentDefinition, history []domain.HistoryEntry) string {
	text := core
	switch branch {
	case domain.StepCollecting, domain.StepConfirming, domain.StepBooking:
	default:
		text = pick(c.rnd, fillerPhrases) + " " + core
	}

	if c.generator == nil {
		return text
	}

	polished, err := c.generator.Generate(ctx, generator.Request{
		AgentName: def.Name,
		Step:      string(branch),
		Draft:     text,
		History:   history,
	})
	if err != nil {
		c.logger.Warn("response generation failed, using drafted reply", "step", branch, "error", err)
		return text
	}
	if strings.TrimSpace(polished) == "" {
		return text
	}
	return polished
}
