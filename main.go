package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/hbomb79/anyvid/internal"
	"github.com/hbomb79/anyvid/pkg/logger"
)

var log = logger.Get("Bootstrap")

// main() is the entry point to the program, from here will
// we load the users AnyVid configuration, apply the requested
// log level and then run AnyVid until we're interrupted
func main() {
	configPath := flag.String("config", "", "path to the AnyVid YAML configuration file")
	flag.Parse()

	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		log.Emit(logger.FATAL, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	level, ok := logger.ParseLevel(config.LogLevel)
	if !ok {
		log.Warnf("Unknown log level %q, falling back to %s\n", config.LogLevel, level)
	}
	logger.SetMinLoggingLevel(level.Level())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	anyvid, err := internal.New(*config)
	if err != nil {
		log.Emit(logger.FATAL, "Failed to initialise AnyVid: %v\n", err)
		os.Exit(1)
	}

	if err := anyvid.Run(ctx); err != nil {
		log.Emit(logger.FATAL, "AnyVid crashed: %v\n", err)
		os.Exit(1)
	}

	log.Emit(logger.STOP, "AnyVid shutdown complete\n")
}
