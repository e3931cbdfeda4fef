package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/shary-app/sharycore/cmd/authd/authdapp"
)

func main() {
	cfg, err := authdapp.Parse(authdapp.WithOSArgs())
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	if cfg == nil { // help printed
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := authdapp.Run(ctx, *cfg); err != nil {
		log.Fatalf("authd: %v", err)
	}
	log.Println("authd stopped")
}
