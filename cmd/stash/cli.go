package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/stash/internal/app"
	"github.com/hpungsan/stash/internal/artifact"
	"github.com/hpungsan/stash/internal/cache"
	"github.com/hpungsan/stash/internal/errors"
	"github.com/hpungsan/stash/internal/popularity"
	"github.com/hpungsan/stash/internal/vault"
	"github.com/hpungsan/stash/internal/web"
)

// newCLIApp creates the CLI application with all commands.
// a may be nil when only help or version output is needed.
func newCLIApp(a *app.App) *cli.App {
	cliApp := &cli.App{
		Name:    "stash",
		Usage:   "Local artifact vault, query tracker and cache",
		Version: Version,
		Commands: []*cli.Command{
			vaultCmd(a),
			queryCmd(a),
			cacheCmd(a),
			logCmd(a),
			serveCmd(a),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	cliApp.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return cliApp
}

func idArg(c *cli.Context) (string, error) {
	if c.NArg() < 1 || strings.TrimSpace(c.Args().First()) == "" {
		return "", errors.NewInvalidRequest("artifact id is required")
	}
	return c.Args().First(), nil
}

// vaultCmd creates the vault command group.
func vaultCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "vault",
		Usage: "Manage saved artifacts",
		Subcommands: []*cli.Command{
			{
				Name:  "save",
				Usage: "Save or replace an artifact (payload JSON via --payload or stdin)",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "id", Required: true, Usage: "Artifact id"},
					&cli.StringFlag{Name: "kind", Aliases: []string{"k"}, Required: true, Usage: "Artifact kind"},
					&cli.StringFlag{Name: "title", Aliases: []string{"t"}, Usage: "Display title"},
					&cli.StringFlag{Name: "thumbnail", Usage: "Thumbnail reference"},
					&cli.StringFlag{Name: "metric-primary", Usage: "Headline metric"},
					&cli.StringFlag{Name: "metric-secondary", Usage: "Secondary metric"},
					&cli.StringFlag{Name: "url", Usage: "External link"},
					&cli.StringFlag{Name: "payload", Usage: "Snapshot body as JSON"},
				},
				Action: func(c *cli.Context) error {
					in := artifact.Artifact{
						ID:              c.String("id"),
						Kind:            artifact.Kind(c.String("kind")),
						Title:           c.String("title"),
						MetricPrimary:   c.String("metric-primary"),
						MetricSecondary: c.String("metric-secondary"),
					}
					if v := c.String("thumbnail"); v != "" {
						in.ThumbnailRef = &v
					}
					if v := c.String("url"); v != "" {
						in.ExternalURL = &v
					}

					payload := c.String("payload")
					if payload == "" && stdinHasData() {
						text, err := readStdin()
						if err != nil {
							return outputError(errors.NewInternal(err))
						}
						payload = text
					}
					if payload != "" {
						in.Payload = json.RawMessage(payload)
					}

					out, err := a.Vault.Upsert(in)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, out)
				},
			},
			{
				Name:      "get",
				Usage:     "Show one artifact",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					id, err := idArg(c)
					if err != nil {
						return outputError(err)
					}
					out, err := a.Vault.Get(id)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, out)
				},
			},
			{
				Name:  "list",
				Usage: "List artifacts, most recently saved first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "scope", Aliases: []string{"s"}, Value: "active", Usage: "active|trashed"},
					&cli.StringFlag{Name: "text", Aliases: []string{"q"}, Usage: "Title substring"},
					&cli.StringFlag{Name: "kind", Aliases: []string{"k"}, Value: vault.KindAll, Usage: "Kind filter"},
				},
				Action: func(c *cli.Context) error {
					maintain(a)
					items, err := a.Vault.List(artifact.State(c.String("scope")), vault.Filter{
						Text: c.String("text"),
						Kind: c.String("kind"),
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, map[string]any{"items": items, "count": len(items)})
				},
			},
			{
				Name:      "delete",
				Usage:     "Move an artifact to the trash",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					id, err := idArg(c)
					if err != nil {
						return outputError(err)
					}
					out, err := a.Vault.SoftDelete(id)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, out)
				},
			},
			{
				Name:      "restore",
				Usage:     "Move a trashed artifact back",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					id, err := idArg(c)
					if err != nil {
						return outputError(err)
					}
					out, err := a.Vault.Restore(id)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, out)
				},
			},
			{
				Name:      "destroy",
				Usage:     "Permanently delete a trashed artifact",
				ArgsUsage: "<id>",
				Action: func(c *cli.Context) error {
					id, err := idArg(c)
					if err != nil {
						return outputError(err)
					}
					if err := a.Vault.PermanentlyDelete(id); err != nil {
						return outputError(err)
					}
					return outputJSON(c, map[string]any{"id": id, "destroyed": true})
				},
			},
			{
				Name:  "clear",
				Usage: "Move every active artifact to the trash",
				Action: func(c *cli.Context) error {
					n, err := a.Vault.ClearVault()
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, map[string]int{"trashed": n})
				},
			},
			{
				Name:  "empty-trash",
				Usage: "Permanently delete every trashed artifact",
				Action: func(c *cli.Context) error {
					n, err := a.Vault.EmptyTrash()
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, map[string]int{"destroyed": n})
				},
			},
			{
				Name:  "purge",
				Usage: "Remove artifacts past the retention and data-minimization windows",
				Action: func(c *cli.Context) error {
					out, err := a.Vault.PurgeExpired(a.Now())
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, out)
				},
			},
			{
				Name:  "usage",
				Usage: "Show counts against the capacity cap",
				Action: func(c *cli.Context) error {
					maintain(a)
					out, err := a.Vault.Usage()
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, out)
				},
			},
			{
				Name:  "export",
				Usage: "Export every artifact to JSONL",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Output file, or - for stdout (default: <data dir>/exports/vault-<timestamp>.jsonl)"},
				},
				Action: func(c *cli.Context) error {
					path := c.String("path")
					if path == "-" {
						if _, err := a.Vault.Export(c.App.Writer); err != nil {
							return outputError(err)
						}
						return nil
					}
					if path == "" {
						path = defaultExportPath(a.BaseDir, a.Now())
					}
					out, err := a.Vault.ExportFile(path)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, out)
				},
			},
			{
				Name:  "import",
				Usage: "Import artifacts from a JSONL export",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Required: true, Usage: "Export file"},
					&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Value: "error", Usage: "Collision mode: error|replace|skip"},
				},
				Action: func(c *cli.Context) error {
					out, err := a.Vault.ImportFile(c.String("path"), vault.ImportMode(c.String("mode")))
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, out)
				},
			},
			{
				Name:  "report",
				Usage: "Print a markdown summary of the vault",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "html", Usage: "Render the report as HTML"},
				},
				Action: func(c *cli.Context) error {
					maintain(a)
					if err := a.Vault.Report(c.App.Writer, c.Bool("html")); err != nil {
						return outputError(err)
					}
					return nil
				},
			},
		},
	}
}

// queryCmd creates the query command group.
func queryCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "query",
		Usage: "Track search query popularity",
		Subcommands: []*cli.Command{
			{
				Name:      "record",
				Usage:     "Record a search query",
				ArgsUsage: "<query>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Value: string(popularity.ModeKeyword), Usage: "keyword|channel"},
				},
				Action: func(c *cli.Context) error {
					query := strings.Join(c.Args().Slice(), " ")
					rec, err := a.Tracker.Record(query, popularity.Mode(c.String("mode")))
					if err != nil {
						return outputError(err)
					}
					if rec == nil {
						return outputJSON(c, map[string]bool{"recorded": false})
					}
					return outputJSON(c, rec)
				},
			},
			{
				Name:  "top",
				Usage: "Show the most popular queries",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "n", Value: 10, Usage: "Maximum results"},
				},
				Action: func(c *cli.Context) error {
					if c.Int("n") < 0 {
						return outputError(errors.NewInvalidRequest("n must be >= 0"))
					}
					maintain(a)
					records, err := a.Tracker.Top(c.Int("n"))
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, map[string]any{"queries": records, "count": len(records)})
				},
			},
			{
				Name:  "prune",
				Usage: "Drop stale and overflow queries",
				Action: func(c *cli.Context) error {
					out, err := a.Tracker.Prune()
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, out)
				},
			},
		},
	}
}

// cacheCmd creates the cache command group.
func cacheCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Inspect the api and velocity caches",
		Subcommands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "Read a cached value",
				ArgsUsage: "<namespace> <key>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "max-age", Usage: "Freshness window (e.g. 10m, 7d); empty ignores age"},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() < 2 {
						return outputError(errors.NewInvalidRequest("namespace and key are required"))
					}
					ec, err := a.Cache(c.Args().Get(0))
					if err != nil {
						return outputError(err)
					}
					key := c.Args().Get(1)

					if c.String("max-age") == "" {
						entry, ok := ec.GetRaw(key)
						if !ok {
							return outputJSON(c, map[string]any{"hit": false})
						}
						return outputJSON(c, map[string]any{"hit": true, "value": entry.Value, "stored_at": entry.StoredAt})
					}

					maxAge, err := parseMaxAge(c.String("max-age"))
					if err != nil {
						return outputError(errors.NewInvalidRequest(err.Error()))
					}
					value, ok := ec.Get(key, maxAge)
					if !ok {
						return outputJSON(c, map[string]any{"hit": false})
					}
					return outputJSON(c, map[string]any{"hit": true, "value": value})
				},
			},
			{
				Name:      "put",
				Usage:     "Store a JSON value (via --value or stdin)",
				ArgsUsage: "<namespace> <key>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "value", Usage: "JSON value"},
				},
				Action: func(c *cli.Context) error {
					if c.NArg() < 2 {
						return outputError(errors.NewInvalidRequest("namespace and key are required"))
					}
					ec, err := a.Cache(c.Args().Get(0))
					if err != nil {
						return outputError(err)
					}

					value := c.String("value")
					if value == "" && stdinHasData() {
						if value, err = readStdin(); err != nil {
							return outputError(errors.NewInternal(err))
						}
					}
					if !json.Valid([]byte(value)) {
						return outputError(errors.NewInvalidRequest("value must be valid JSON"))
					}

					if err := ec.Put(c.Args().Get(1), json.RawMessage(value)); err != nil {
						return outputError(err)
					}
					return outputJSON(c, map[string]any{"namespace": ec.Namespace(), "key": c.Args().Get(1), "stored": true})
				},
			},
			{
				Name:      "clear",
				Usage:     "Delete every entry in a namespace (api, velocity or syslog)",
				ArgsUsage: "<namespace>",
				Action: func(c *cli.Context) error {
					ns := c.Args().First()
					var n int
					var err error
					if ns == cache.NamespaceSyslog {
						n, err = a.Journal.Clear()
					} else {
						ec, cerr := a.Cache(ns)
						if cerr != nil {
							return outputError(cerr)
						}
						n, err = ec.Clear()
					}
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, map[string]any{"namespace": ns, "removed": n})
				},
			},
		},
	}
}

// logCmd creates the log command group.
func logCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "log",
		Usage: "Read the system log",
		Subcommands: []*cli.Command{
			{
				Name:  "tail",
				Usage: "Show the most recent entries, newest first",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "n", Value: 20, Usage: "Maximum entries (0 for all)"},
				},
				Action: func(c *cli.Context) error {
					if c.Int("n") < 0 {
						return outputError(errors.NewInvalidRequest("n must be >= 0"))
					}
					records, err := a.Journal.Recent(c.Int("n"))
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, map[string]any{"entries": records, "count": len(records)})
				},
			},
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(a *app.App) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the vault dashboard over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Bind address"},
			&cli.IntFlag{Name: "port", Value: 8420, Usage: "Port"},
		},
		Action: func(c *cli.Context) error {
			srv := web.NewServer(a, Version, c.String("bind"), c.Int("port"))
			if err := web.Run(srv, a.Logger); err != nil {
				return outputError(errors.NewInternal(err))
			}
			return nil
		},
	}
}

// Helper functions

// maintain runs the prune and purge pass ahead of a read. Failures are
// journaled by the app and do not block the read.
func maintain(a *app.App) {
	_, _ = a.Maintain(a.Now())
}

// outputJSON writes result to the app's writer as indented JSON.
func outputJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var sErr *errors.StashError
	if stderrors.As(err, &sErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", sErr.Code, sErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads all content from stdin.
func readStdin() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// parseMaxAge parses "7d" as days and anything else as a Go duration.
func parseMaxAge(s string) (time.Duration, error) {
	if numStr, ok := strings.CutSuffix(s, "d"); ok {
		days, err := strconv.Atoi(numStr)
		if err != nil {
			return 0, fmt.Errorf("invalid duration: %s", s)
		}
		if days < 0 {
			return 0, fmt.Errorf("duration must be non-negative")
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %s", s)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must be non-negative")
	}
	return d, nil
}

// defaultExportPath returns <baseDir>/exports/vault-<timestamp>.jsonl.
func defaultExportPath(baseDir string, now time.Time) string {
	name := fmt.Sprintf("vault-%s.jsonl", now.UTC().Format("2006-01-02T150405"))
	return filepath.Join(baseDir, "exports", name)
}
