package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"cavas/internal/app"
	"cavas/internal/pipeline"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApp()
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	if err := application.Run(ctx); err != nil {
		if errors.Is(err, pipeline.ErrFrameSource) {
			log.Printf("Video source ended: %v", err)
			os.Exit(1)
		}
		log.Fatalf("Pipeline failed: %v", err)
	}
}
