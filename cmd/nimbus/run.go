package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/mtzanidakis/nimbus/internal/config"
	"github.com/mtzanidakis/nimbus/internal/dispatch"
	"github.com/mtzanidakis/nimbus/internal/llm"
	"github.com/mtzanidakis/nimbus/internal/registry"
	"github.com/mtzanidakis/nimbus/internal/router"
	"github.com/mtzanidakis/nimbus/internal/store"
	"github.com/mtzanidakis/nimbus/internal/vault"
)

// runDirective dispatches one directive in-process and prints every
// outcome. The run is archived in the local store like a gateway run.
func runDirective(args []string) error {
	message := strings.TrimSpace(strings.Join(args, " "))
	if message == "" {
		return errors.New("usage: nimbus run [@agent ...] <directive>")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setupLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()

	if err := vault.ResolveConfig(cfg, db); err != nil {
		return fmt.Errorf("resolve secrets: %w", err)
	}

	reg, err := registry.Default(cfg.Agents)
	if err != nil {
		return fmt.Errorf("build agent registry: %w", err)
	}
	gem, err := llm.NewGemini(ctx, cfg.Gemini.APIKey, cfg.Gemini.DefaultModel, cfg.Gemini.Timeout)
	if err != nil {
		return fmt.Errorf("init gemini: %w", err)
	}

	agg := dispatch.NewAggregator()
	agg.Subscribe(store.NewRecorder(db))
	disp := dispatch.New(reg, gem, agg, cfg.Dispatch)

	rtr := router.New(reg, cfg.Router)
	rtr.SetGenerator(gem)

	ids, directive, err := rtr.Parse(ctx, message)
	if err != nil {
		return err
	}

	run, err := disp.Execute(dispatch.WithSource(ctx, "cli"), directive, ids)
	if err != nil {
		return err
	}
	printRun(os.Stdout, reg, run)

	if _, failed, _ := run.Counts(); failed > 0 {
		return fmt.Errorf("%d of %d agents failed", failed, len(run.Agents))
	}
	return nil
}

func printRun(w io.Writer, reg *registry.Registry, run dispatch.RunState) {
	for _, o := range run.Ordered() {
		name := o.AgentID
		if p, err := reg.Get(o.AgentID); err == nil {
			name = p.Name
		}

		switch o.Status {
		case dispatch.StatusSuccess:
			fmt.Fprintf(w, "== %s (%dms)\n%s\n", name, o.DurationMs, o.Text)
			for _, c := range o.Citations {
				fmt.Fprintf(w, "  - %s %s\n", c.Title, c.URI)
			}
		case dispatch.StatusFailure:
			fmt.Fprintf(w, "== %s FAILED [%s]\n%s\n", name, o.ErrorKind, o.Error)
		default:
			fmt.Fprintf(w, "== %s pending\n", name)
		}
		fmt.Fprintln(w)
	}
}

func runAgents() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	reg, err := registry.Default(cfg.Agents)
	if err != nil {
		return fmt.Errorf("build agent registry: %w", err)
	}
	return printAgents(os.Stdout, reg.List())
}

func printAgents(out io.Writer, profiles []registry.AgentProfile) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tKIND\tMODEL")
	for _, p := range profiles {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Kind, p.Model)
	}
	return w.Flush()
}
