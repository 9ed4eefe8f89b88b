package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mtzanidakis/nimbus/internal/config"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// A .env file in the working directory fills in unset variables.
	_ = godotenv.Load()

	var err error
	switch os.Args[1] {
	case "version":
		fmt.Printf("nimbus %s\n", version)
		return
	case "gateway":
		err = runGateway()
	case "run":
		err = runDirective(os.Args[2:])
	case "agents":
		err = runAgents()
	case "vault":
		err = runVault(os.Args[2:])
	case "backup":
		err = runBackup(os.Args[2:])
	case "restore":
		err = runRestore(os.Args[2:])
	default:
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		slog.Error(os.Args[1]+" failed", "error", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: nimbus <command>

Commands:
  gateway                    Start the Nimbus gateway service
  run [@agent ...] <text>    Dispatch one directive and print the outcomes
  agents                     List the agent catalogue
  vault                      Manage encrypted secrets
  backup -f <file>           Archive the database and config
  restore -f <file>          Restore a backup (gateway must be stopped)
  version                    Print version
`)
}

// setupLogging installs the default slog logger and returns the level
// handle so a reload can change it.
func setupLogging(cfg config.LogConfig) *slog.LevelVar {
	level := new(slog.LevelVar)
	level.Set(parseLevel(cfg.Level))

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
	return level
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// flagValue returns the argument following name, or "".
func flagValue(args []string, name string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == name {
			return args[i+1]
		}
	}
	return ""
}

func hasFlag(args []string, name string) bool {
	for _, a := range args {
		if a == name {
			return true
		}
	}
	return false
}
