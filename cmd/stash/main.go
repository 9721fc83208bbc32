package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/hpungsan/stash/internal/app"
	"github.com/hpungsan/stash/internal/config"
	"github.com/hpungsan/stash/internal/logging"
	"github.com/hpungsan/stash/internal/mcp"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"vault": true, "query": true, "cache": true, "log": true,
	"serve": true, "help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v"
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

func printBanner() {
	fmt.Println(`
   ___ _____ _   ___ _  _
  / __|_   _/_\ / __| || |
  \__ \ | |/ _ \\__ \ __ |
  |___/ |_/_/ \_\___/_||_|

  Local artifact vault and query tracker

  Usage: stash <command> [options]
         stash --help

  MCP server mode requires piped input.`)
}

// baseDir returns $STASH_HOME when set, else the XDG data directory.
func baseDir() string {
	if dir := os.Getenv("STASH_HOME"); dir != "" {
		return dir
	}
	return config.DefaultBaseDir()
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before the store is opened
	if isHelpOrVersion() {
		cliApp := newCLIApp(nil)
		if err := cliApp.Run(os.Args); err != nil {
			fatal("%v", err)
		}
		return
	}

	dir := baseDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		fatal("could not create data directory: %v", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		cwd = ""
	}
	cfg, err := config.LoadWithRepo(dir, cwd)
	if err != nil {
		fatal("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fatal("failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	for _, name := range mcp.ValidateDisabledTools(cfg.DisabledTools) {
		logger.Warn("unknown tool in disabled_tools", zap.String("tool", name))
	}
	for _, name := range mcp.ValidateDisabledTypes(cfg.DisabledTypes) {
		logger.Warn("unknown type in disabled_types", zap.String("type", name))
	}

	a, err := app.Open(cfg, dir, logger)
	if err != nil {
		fatal("failed to open store: %v", err)
	}
	defer a.Close()

	if isCLIMode() {
		cliApp := newCLIApp(a)
		if err := cliApp.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			_ = a.Close()
			os.Exit(1)
		}
		return
	}

	// Unknown argument + terminal → show error (don't start MCP server)
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'stash --help' for usage.\n")
		_ = a.Close()
		os.Exit(1)
	}

	if err := mcp.Run(a, Version); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		_ = a.Close()
		os.Exit(1)
	}
}
