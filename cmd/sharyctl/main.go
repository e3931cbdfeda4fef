package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/shary-app/sharycore/cmd/sharyctl/sharyctlapp"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := sharyctlapp.Run(ctx, sharyctlapp.WithOSArgs()); err != nil {
		// go-flags already prints errors/help; avoid duplicate output.
		os.Exit(2)
	}
}
