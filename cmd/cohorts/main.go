package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/samvad-hq/amplitude-cohorts/internal/commands"
)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := commands.NewRootCommand(getVersion(), nil).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "cohorts: %v\n", err)
		stop()
		os.Exit(1)
	}
}
