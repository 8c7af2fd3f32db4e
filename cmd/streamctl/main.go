// Command streamctl replays stream and future scenarios against a store.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"
	"golang.org/x/term"
)

func main() {
	var (
		scenarioFile = flag.String("scenario", "", "Path to scenario TOML file")
		schema       = flag.Bool("schema", false, "Print the scenario JSON schema and exit")
		verbose      = flag.Bool("v", false, "Log every state transition")
		interactive  = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	if *schema {
		out, err := scenarioSchema()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(string(out))
		return
	}

	if *scenarioFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: streamctl -scenario <file.toml> [-v]")
		fmt.Fprintln(os.Stderr, "       streamctl -scenario <file.toml> -i  (interactive mode)")
		fmt.Fprintln(os.Stderr, "       streamctl -schema")
		os.Exit(1)
	}

	if err := run(*scenarioFile, *verbose, *interactive); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(path string, verbose, interactive bool) error {
	ctx := context.Background()

	sc, err := loadScenario(path)
	if err != nil {
		return err
	}

	log := zap.NewNop()
	if verbose && !interactive {
		if log, err = zap.NewDevelopment(); err != nil {
			return fmt.Errorf("create logger: %w", err)
		}
		defer log.Sync()
	}

	r, err := newRunner(ctx, sc, log)
	if err != nil {
		return err
	}
	defer r.Close(ctx)

	if interactive {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			return fmt.Errorf("interactive mode needs a terminal")
		}
		return runInteractive(sc.Name, r)
	}

	fmt.Printf("Scenario: %s\n", sc.Name)
	fmt.Printf("Instances: %d\n", len(sc.Instances))
	fmt.Printf("Steps: %d\n\n", len(sc.Steps))

	err = r.Run(func(res stepResult) {
		fmt.Println(res.String())
	})
	if err != nil {
		return err
	}

	fmt.Printf("\nLive transmits: %d\n", len(r.Transmits()))
	for _, snap := range r.Transmits() {
		fmt.Printf("  %s\n", formatSnapshot(snap))
	}
	return nil
}
