package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/ashureev/callagent/internal/agentdef"
	"github.com/ashureev/callagent/internal/conversation"
	"github.com/ashureev/callagent/internal/domain"
	"github.com/ashureev/callagent/internal/store"
	"github.com/spf13/cobra"
)

func runSimulate(cmd *cobra.Command, _ []string) error {
	agents, err := agentdef.Load(agentsFile)
	if err != nil {
		return fmt.Errorf("load agents: %w", err)
	}
	return simulate(cmd.Context(), agents, agentID, seed, cmd.InOrStdin(), cmd.OutOrStdout())
}

func simulate(ctx context.Context, agents conversation.AgentSource, agentID string, seed uint64, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	svc := conversation.NewService(store.NewMemory(), agents,
		conversation.WithRandomSource(conversation.NewRandomSource(seed)),
		conversation.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	session, err := svc.StartSession(ctx, agentID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "session %s (agent %s)\n", session.SessionID, agentID)

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := scanner.Text()
		req := conversation.Request{SessionID: session.SessionID, Message: line}
		if rest, ok := strings.CutPrefix(line, "!"); ok {
			req.Message = strings.TrimSpace(rest)
			req.IsInterruption = true
		}
		if strings.TrimSpace(req.Message) == "" {
			// Blank lines re-prompt; the request validator rejects empty text.
			req.Message = " "
		}

		res, err := svc.ProcessMessage(ctx, req)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "[%s] %s\n", res.NextStep, res.Response)
		if res.NextStep == domain.StepComplete && !req.IsInterruption {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	snap, err := svc.GetSession(ctx, session.SessionID)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "collected:")
	for _, id := range slices.Sorted(maps.Keys(snap.Session.CollectedData)) {
		fmt.Fprintf(out, "  %s = %s\n", id, snap.Session.CollectedData[id])
	}
	fmt.Fprintf(out, "interruptions: %d\n", snap.Session.InterruptionCount)
	return nil
}
