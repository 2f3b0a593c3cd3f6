package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mrwolf/journeygen/internal/config"
	"github.com/mrwolf/journeygen/internal/logger"
)

var version = "dev"

const usage = `Usage: journeygen [-config file] <command> [flags]

Commands:
  generate   generate the timeline and decision records (default)
  serve      serve persisted artifacts over HTTP and run scheduled jobs
  validate   check persisted artifacts (-fix-roles rewrites sender roles)
`

func main() {
	os.Exit(run())
}

// run executes the chosen command and returns the process exit code.
// Deferred cleanup runs before main exits.
func run() int {
	// A missing .env is normal; the variables may come from the environment.
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("JOURNEY_CONFIG"), "path to a YAML config file")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	cmd, args := "generate", flag.Args()
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}
	if !knownCommand(cmd) {
		flag.Usage()
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "journeygen: %v\n", err)
		return exitCode(err)
	}

	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "journeygen: %v\n", err)
		return exitCode(fmt.Errorf("%w: %v", config.ErrConfigInvalid, err))
	}
	log = log.With().Str("cmd", cmd).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "generate":
		err = runGenerate(ctx, cfg, log)
	case "serve":
		err = runServe(ctx, cfg, log)
	case "validate":
		err = runValidate(cfg, log, args)
	}

	if err != nil {
		log.Error().Err(err).Msg("command failed")
	}
	return exitCode(err)
}

func knownCommand(cmd string) bool {
	switch cmd {
	case "generate", "serve", "validate":
		return true
	}
	return false
}

// exitCode maps a command error to the process exit status: 2 for invalid
// configuration, 1 for any other failure.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, config.ErrConfigInvalid):
		return 2
	default:
		return 1
	}
}
