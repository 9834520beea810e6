package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rendis/graphflow/internal/logging"
	"github.com/rendis/graphflow/pkg/schema"
)

var errRunNotCompleted = errors.New("run did not complete")

// runOnce executes one graph and writes its RunResult as JSON to out.
//
//	graphflow run [flags] <graph-id> [state.json|-]
func runOnce(args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	toolList := fs.String("tools", "", "comma-separated tool bindings (default: all tools)")
	maxSteps := fs.Int("max-steps", 0, "step cap for this run (default: config max_steps)")
	catalogPath := fs.String("catalog", "", "YAML catalog file or directory (overrides config)")
	persist := fs.Bool("persist", false, "store the run in the configured store instead of memory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 || fs.NArg() > 2 {
		return fmt.Errorf("usage: graphflow run [flags] <graph-id> [state.json|-]")
	}
	graphID := fs.Arg(0)

	initial, err := readState(fs.Arg(1), in)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !*persist {
		cfg.Store = "memory"
	}
	if *maxSteps != 0 {
		cfg.MaxSteps = *maxSteps
	}
	if *catalogPath != "" {
		cfg.CatalogPath = *catalogPath
	}

	ctx := context.Background()
	a, err := buildApp(ctx, cfg, logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat), false)
	if err != nil {
		return err
	}
	defer a.close(shutdownTimeout)

	var bindings []string
	if *toolList != "" {
		for _, t := range strings.Split(*toolList, ",") {
			if t = strings.TrimSpace(t); t != "" {
				bindings = append(bindings, t)
			}
		}
	}

	res, err := a.service.Run(ctx, graphID, initial, bindings)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	if res.Status != schema.RunStatusCompleted {
		return fmt.Errorf("%w: %s", errRunNotCompleted, res.Status)
	}
	return nil
}

// readState decodes the initial state from path, from in when path is "-",
// or returns an empty state when path is empty.
func readState(path string, in io.Reader) (schema.State, error) {
	var r io.Reader
	switch path {
	case "":
		return schema.State{}, nil
	case "-":
		r = in
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open state: %w", err)
		}
		defer f.Close()
		r = f
	}

	var state schema.State
	if err := json.NewDecoder(r).Decode(&state); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if state == nil {
		state = schema.State{}
	}
	return state, nil
}
