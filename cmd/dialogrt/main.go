// Command dialogrt runs the interactive CLI surface: a `run` subcommand
// that drives a session from stdin/stdout, and an `optimize` subcommand
// stubbed out to point at the external understanding-layer optimizer.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	dialogrt "github.com/kslamph/dialogrt/core"
	"github.com/kslamph/dialogrt/core/checkpoint"
)

func main() {
	app := &cli.App{
		Name:  "dialogrt",
		Usage: "stateful, resumable dialogue runtime",
		Commands: []*cli.Command{
			runCommand(),
			optimizeCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "launch an interactive session against stdin/stdout",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to a YAML/JSON/TOML config file"},
			&cli.StringFlag{Name: "session", Value: "cli-session", Usage: "session id to resume or start"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := dialogrt.LoadConfig(c.String("config"))
			if err != nil {
				return cli.Exit(err, 2)
			}

			cp, err := openCheckpointer()
			if err != nil {
				return cli.Exit(err, 2)
			}
			if closer, ok := cp.(interface{ Close() error }); ok {
				defer closer.Close()
			}

			rt := newDemoRuntime(cfg)
			loop := dialogrt.NewRuntimeLoop(rt, cp)

			sessionID := c.String("session")
			ctx := context.Background()
			scanner := bufio.NewScanner(os.Stdin)

			fmt.Println("dialogrt interactive session. Ctrl-D to exit.")
			for {
				fmt.Print("> ")
				if !scanner.Scan() {
					break
				}
				resp, err := loop.ProcessMessage(ctx, sessionID, scanner.Text())
				if err != nil {
					fmt.Fprintln(os.Stderr, "error:", err)
					continue
				}
				fmt.Println(resp)
			}
			return nil
		},
	}
}

func optimizeCommand() *cli.Command {
	return &cli.Command{
		Name:  "optimize",
		Usage: "delegated to the external understanding-layer optimizer",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to a YAML/JSON/TOML config file"},
			&cli.IntFlag{Name: "trials", Usage: "number of optimization trials"},
		},
		Action: func(c *cli.Context) error {
			return cli.Exit("optimize is out of scope for this runtime; run the external NLU/prompt optimizer against its own config", 2)
		},
	}
}

// openCheckpointer selects a backend from SESSION_STORE_URL (§6): "memory://"
// or empty for the in-process backend, "bolt://<path>" for the embedded
// single-writer backend, "postgres://..." for the relational backend, or
// "redis://..." for the KV cache backend.
func openCheckpointer() (checkpoint.Checkpointer, error) {
	url := os.Getenv("SESSION_STORE_URL")
	return checkpoint.Open(url)
}

func exitCodeFor(err error) int {
	if ec, ok := err.(cli.ExitCoder); ok {
		return ec.ExitCode()
	}
	return 1
}
