// Package generator provides clients for the remote response generator that
// rewrites drafted agent replies into natural dialogue.
package generator

import (
	"context"
	"errors"

	"github.com/ashureev/callagent/internal/domain"
)

// ErrEmptyResponse is returned when the backend produced no text.
var ErrEmptyResponse = errors.New("generator returned an empty response")

// Request is the context handed to a generator.
type Request struct {
	AgentName string
	Step      string
	Draft     string
	History   []domain.HistoryEntry
}

// Generator produces the final wording of an agent reply.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}
