package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dvloznov/finance-seeder/internal/config"
	"github.com/dvloznov/finance-seeder/internal/simulation"
)

// Exit codes.
const (
	exitOK        = 0
	exitBootstrap = 1
	exitConfig    = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	code := exitCode(err)

	switch {
	case err == nil:
	case code == exitConfig:
		fmt.Fprintf(os.Stderr, "CONFIG ERROR: %v\n", err)
	case errors.Is(err, simulation.ErrNoAccount), errors.Is(err, simulation.ErrNoMerchants):
		fmt.Fprintf(os.Stdout, "BOOTSTRAP FAILURE: %v\n", err)
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}

	stop()
	os.Exit(code)
}

// exitCode maps a command error onto the process exit status.
// Failed writes never reach here: a run that completes exits 0.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, config.ErrInvalid), errors.Is(err, simulation.ErrInvalidConfig), errors.Is(err, errUsage):
		return exitConfig
	default:
		return exitBootstrap
	}
}
