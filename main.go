package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/hbomb79/Tempo/internal"
	"github.com/hbomb79/Tempo/pkg/logger"
)

var log = logger.Get("Bootstrap")

// main is the entry point to Tempo. The configuration is loaded from
// the optional config file and the environment (a .env file is loaded
// first if present), before all services are started. Tempo runs until
// it receives an interrupt or one of its services crashes.
func main() {
	configPath := flag.String("config", "", "Path to a YAML configuration file. The environment is used if omitted")
	envPath := flag.String("env", ".env", "Path to a dotenv file loaded in to the environment if present")
	verbose := flag.Bool("verbose", false, "Emit verbose and debug logging")
	flag.Parse()

	if *verbose {
		logger.SetMinLoggingLevel(logger.VERBOSE.Level())
	}

	if err := internal.LoadEnvFile(*envPath); err != nil {
		log.Emit(logger.FATAL, "%v\n", err)
		os.Exit(1)
	}

	config := internal.TempoConfig{}
	var err error
	if *configPath != "" {
		err = config.LoadFromFile(*configPath)
	} else {
		err = config.LoadFromEnv()
	}
	if err != nil {
		log.Emit(logger.FATAL, "%v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tempo, err := internal.New(ctx, config)
	if err != nil {
		log.Emit(logger.FATAL, "Failed to initialise Tempo: %v\n", err)
		os.Exit(1)
	}

	if err := tempo.Run(ctx); err != nil {
		log.Emit(logger.FATAL, "Tempo stopped: %v\n", err)
		os.Exit(1)
	}

	log.Emit(logger.STOP, "Tempo stopped\n")
}
