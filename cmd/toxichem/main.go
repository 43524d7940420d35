package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/toxichempy/toxichem/pkg/config"
	"github.com/toxichempy/toxichem/pkg/logger"
)

var version = "0.3.0"

const usage = `Usage: toxichem [-config FILE] [-env FILE] <command> [flags]

Commands:
  fetch      download a CTD batch query report in chunks
  convert    convert a table between csv, txt, json, xlsx, pkl, h5 and db
  aggregate  group a table and join the unique values of a column
  analyze    run the chemical-disease-gene-ontology analysis
  version    print the version

Run 'toxichem <command> -h' for command flags.
`

type command func(ctx context.Context, app *app, args []string) error

var commands = map[string]command{
	"fetch":     runFetch,
	"convert":   runConvert,
	"aggregate": runAggregate,
	"analyze":   runAnalyze,
}

// app carries what every command needs
type app struct {
	cfg    *config.Config
	logger *logger.Logger
}

func main() {
	global := flag.NewFlagSet("toxichem", flag.ExitOnError)
	configPath := global.String("config", "config.yaml", "Path to configuration file")
	envPath := global.String("env", ".env", "Path to a .env file loaded before the configuration")
	global.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	global.Parse(os.Args[1:])

	args := global.Args()
	if len(args) == 0 {
		global.Usage()
		os.Exit(2)
	}
	if args[0] == "version" {
		fmt.Println(version)
		return
	}
	run, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", args[0])
		global.Usage()
		os.Exit(2)
	}

	// Environment from .env must be in place before overrides are applied
	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", *envPath, err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(
		cfg.Logging.Level,
		cfg.Logging.Format,
		cfg.Logging.Output,
		cfg.Logging.EnableTracing,
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	log.Debug(fmt.Sprintf("toxichem v%s", version), logger.Fields{
		"command":    args[0],
		"config":     *configPath,
		"output_dir": cfg.Fetch.OutputDir,
		"publisher":  cfg.Storage.Publisher,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, &app{cfg: cfg, logger: log}, args[1:]); err != nil {
		log.Error("Command failed", logger.Fields{"command": args[0], "error": err.Error()})
		stop()
		os.Exit(1)
	}
}
