package main

import (
	"fmt"
	"log/slog"
	"net"
	"os/signal"
	"syscall"

	"github.com/ashureev/callagent/internal/generator"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
)

func runGeneratorStub(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", stubAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", stubAddr, err)
	}

	srv := grpc.NewServer()
	generator.RegisterResponseGeneratorServer(srv, generator.EchoServer{Prefix: stubPrefix})

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "generator stub listening on %s\n", lis.Addr())
	if err := srv.Serve(lis); err != nil {
		slog.Error("generator stub stopped", "error", err)
		return err
	}
	return nil
}

