// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/poiesic/docweave"
	"github.com/poiesic/docweave/config"
	"github.com/poiesic/docweave/core"
	"github.com/poiesic/docweave/search"
)

func main() {
	app := &cli.App{
		Name:  "docweave",
		Usage: "Document ingestion pipeline with AI enrichment and semantic search storage",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to TOML configuration file",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "Ingest a document from a file, or stdin when no file is given",
				ArgsUsage: "[file]",
				Action:    ingestCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "name",
						Usage: "Display name for the document (defaults to the file name)",
					},
				},
			},
			{
				Name:      "retry",
				Usage:     "Retry a failed or partial session from cached content",
				ArgsUsage: "<session-id>",
				Action:    retryCommand,
			},
			{
				Name:      "status",
				Usage:     "Show one session",
				ArgsUsage: "<session-id>",
				Action:    statusCommand,
			},
			{
				Name:   "sessions",
				Usage:  "List sessions by status",
				Action: sessionsCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "status",
						Usage: "Session status to list (processing, completed, failed, partial)",
						Value: "processing",
					},
				},
			},
			{
				Name:      "search",
				Usage:     "Search ingested content by semantic similarity",
				ArgsUsage: "<query>",
				Action:    searchCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of results",
						Value: 5,
					},
					&cli.BoolFlag{
						Name:  "context",
						Usage: "Print results as a context block for prompting",
					},
				},
			},
			{
				Name:   "stats",
				Usage:  "Show aggregate session statistics and recent failures",
				Action: statsCommand,
			},
			{
				Name:   "sweep",
				Usage:  "Run one reclamation sweep and exit",
				Action: sweepCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		defaultPath, err := config.DefaultConfigPath()
		if err != nil {
			return nil, err
		}
		path = defaultPath
	}
	return config.Load(path)
}

func openService(c *cli.Context, opts ...docweave.ServiceOption) (*docweave.Service, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	return docweave.Open(c.Context, cfg, opts...)
}

func ingestCommand(c *cli.Context) error {
	var (
		content []byte
		locator string
		err     error
	)
	if c.Args().Len() > 0 {
		locator, err = filepath.Abs(c.Args().First())
		if err != nil {
			return err
		}
		content, err = os.ReadFile(locator)
		if err != nil {
			return fmt.Errorf("read document: %w", err)
		}
	} else {
		locator = "stdin"
		content, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
	}

	filename := c.String("name")
	if filename == "" {
		filename = filepath.Base(locator)
	}

	service, err := openService(c, docweave.WithBackgroundSweeping())
	if err != nil {
		return err
	}
	defer service.Close()

	session, err := service.Pipeline().Ingest(c.Context, locator, filename, string(content))
	if err != nil {
		return err
	}
	printSession(session)
	if session.Status != core.SessionCompleted {
		return cli.Exit("", 1)
	}
	return nil
}

func retryCommand(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("usage: docweave retry <session-id>")
	}

	service, err := openService(c)
	if err != nil {
		return err
	}
	defer service.Close()

	session, err := service.Pipeline().Retry(c.Context, c.Args().First())
	if err != nil {
		return err
	}
	printSession(session)
	if session.Status != core.SessionCompleted {
		return cli.Exit("", 1)
	}
	return nil
}

func statusCommand(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return fmt.Errorf("usage: docweave status <session-id>")
	}

	service, err := openService(c)
	if err != nil {
		return err
	}
	defer service.Close()

	session, err := service.Tracker().Get(c.Context, c.Args().First())
	if err != nil {
		return err
	}
	printSession(session)
	return nil
}

func sessionsCommand(c *cli.Context) error {
	status, ok := core.ParseSessionStatus(c.String("status"))
	if !ok {
		return fmt.Errorf("unknown status %q", c.String("status"))
	}

	service, err := openService(c)
	if err != nil {
		return err
	}
	defer service.Close()

	sessions, err := service.Sessions(c.Context, status)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Printf("No %s sessions.\n", status)
		return nil
	}
	for _, session := range sessions {
		fmt.Printf("%s  %-9s  %4d/%-4d  %s\n",
			session.ID, session.Status, session.CompletedChunks, session.TotalChunks,
			session.SourceLocator)
	}
	return nil
}

func searchCommand(c *cli.Context) error {
	if c.Args().Len() == 0 {
		return fmt.Errorf("usage: docweave search <query>")
	}
	query := strings.Join(c.Args().Slice(), " ")

	service, err := openService(c)
	if err != nil {
		return err
	}
	defer service.Close()

	results, err := service.Searcher().FindSimilar(c.Context, query, c.Int("limit"))
	if err != nil {
		return err
	}

	if c.Bool("context") {
		fmt.Println(search.FormatContext(results, query))
		return nil
	}

	if len(results) == 0 {
		fmt.Println("No results.")
		return nil
	}
	for i, result := range results {
		title := result.Title
		if title == "" {
			title = result.SourceFile
		}
		fmt.Printf("%2d. [%.2f] %s (%s chunk %d)\n", i+1, result.Score, title, result.DocumentID, result.ChunkIndex)
		fmt.Printf("    %s\n", snippet(result.Text, 160))
	}
	return nil
}

// snippet trims text to at most max runes for single-line display.
func snippet(text string, max int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max]) + "..."
}

func statsCommand(c *cli.Context) error {
	service, err := openService(c)
	if err != nil {
		return err
	}
	defer service.Close()

	stats, err := service.SessionStats(c.Context)
	if err != nil {
		return err
	}
	fmt.Printf("Sessions: %d total\n", stats.Total)
	fmt.Printf("  processing: %d\n", stats.Processing)
	fmt.Printf("  completed:  %d\n", stats.Completed)
	fmt.Printf("  failed:     %d\n", stats.Failed)
	fmt.Printf("  partial:    %d\n", stats.Partial)

	failures, err := service.RecentFailures(c.Context, 5)
	if err != nil {
		return err
	}
	if len(failures) > 0 {
		fmt.Println("\nRecent failures:")
		for _, failure := range failures {
			message := failure.ErrorMessage
			if idx := strings.IndexByte(message, '\n'); idx >= 0 {
				message = message[:idx]
			}
			fmt.Printf("  %s  %s  %s\n", failure.SessionID, failure.SourceLocator, message)
		}
	}
	return nil
}

func sweepCommand(c *cli.Context) error {
	service, err := openService(c)
	if err != nil {
		return err
	}
	defer service.Close()

	service.Sweeper().SweepRegular(c.Context)
	fmt.Println("Sweep complete.")
	return nil
}

func printSession(session *core.Session) {
	fmt.Printf("Session:   %s\n", session.ID)
	fmt.Printf("Source:    %s\n", session.SourceLocator)
	fmt.Printf("Status:    %s\n", session.Status)
	fmt.Printf("Progress:  %d/%d chunks\n", session.CompletedChunks, session.TotalChunks)
	if session.ErrorMessage != "" {
		message := session.ErrorMessage
		if idx := strings.IndexByte(message, '\n'); idx >= 0 {
			message = message[:idx]
		}
		fmt.Printf("Error:     %s\n", message)
		kind := strings.TrimPrefix(strings.SplitN(message, "]", 2)[0], "[")
		for _, suggestion := range core.RecoverySuggestions(core.ErrorKind(kind)) {
			fmt.Printf("  hint: %s\n", suggestion)
		}
	}
}
