package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/n0remac/video-compositor/internal/api"
	"github.com/n0remac/video-compositor/internal/config"
	"github.com/n0remac/video-compositor/internal/logging"
	"github.com/n0remac/video-compositor/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	baseLog := logging.New(cfg)
	mainLog := baseLog.Tagged("main")

	mainLog.Infof("output framerate=%s fallback_timeout_ms=%d", cfg.OutputFramerate, cfg.StreamFallbackTimeoutMS)

	ctx := context.Background()
	p, eventLoop, err := pipeline.New(ctx, pipeline.Options{
		Framerate:             cfg.OutputFramerate,
		StreamFallbackTimeout: time.Duration(cfg.StreamFallbackTimeoutMS) * time.Millisecond,
	}, baseLog)
	if err != nil {
		// Renderer init failure is fatal at startup, per spec.md §7.
		mainLog.Errorf("renderer init failed: %v", err)
		log.Fatalf("renderer init failed: %v", err)
	}

	dispatcher := api.NewDispatcher(p, baseLog)
	server := api.NewServer(dispatcher, baseLog)

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.APIPort)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		mainLog.Infof("starting http server on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Address-in-use on the API port is fatal to the process,
			// per spec.md §7.
			mainLog.Errorf("http server failed: %v", err)
			log.Fatalf("http server failed: %v", err)
		}
	}()

	defer p.Stop()

	// The renderer's event loop may require the process's main thread
	// for GPU/windowing platforms (spec.md Design Notes); the facade
	// hands the caller the loop handle rather than driving it itself.
	eventLoop.Run(func() {
		mainLog.Infof("renderer event loop stopped")
	})
}
