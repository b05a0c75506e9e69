package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/johndauphine/joinkit/internal/logging"
	"github.com/johndauphine/joinkit/internal/version"

	// Register file formats
	_ "github.com/johndauphine/joinkit/internal/format/dbf"
	_ "github.com/johndauphine/joinkit/internal/format/xlsx"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nInterrupted. Rolling back the current table...")
		cancel()
	}()

	err := newApp().RunContext(ctx, os.Args)
	logging.Sync()
	if err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    version.Name,
		Usage:   version.Description,
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file (defaults apply when unset)",
			},
			&cli.StringFlag{
				Name:  "db",
				Usage: "Backing sqlite database file, overrides store.path",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log format: text or json",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "load",
				Usage:     "Materialize files into the backing store",
				ArgsUsage: "FILE...",
				Action:    loadFiles,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "index",
						Usage: "Comma-separated fields to index after loading",
					},
				},
			},
			{
				Name:      "fields",
				Usage:     "List the fields of a file",
				ArgsUsage: "FILE",
				Action:    showFields,
			},
			{
				Name:      "index",
				Usage:     "Ensure indexes on a materialized file",
				ArgsUsage: "FILE",
				Action:    indexFile,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "field",
						Usage:    "Comma-separated fields to index",
						Required: true,
					},
				},
			},
			{
				Name:      "export",
				Usage:     "Write a materialized file to another format",
				ArgsUsage: "FILE",
				Action:    exportFile,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "out",
						Aliases:  []string{"o"},
						Usage:    "Output file; the format follows its extension",
						Required: true,
					},
				},
			},
		},
	}
}
