package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/yourorg/dspace-bridge/dspace"
	"github.com/yourorg/dspace-bridge/internal/app"
	"github.com/yourorg/dspace-bridge/internal/bridge"
	"github.com/yourorg/dspace-bridge/internal/config"
	"github.com/yourorg/dspace-bridge/internal/transform"
)

// CLI is the harvest command line.
type CLI struct {
	Config string `short:"c" help:"Path to a YAML config file (defaults to ./bridge.yaml when present)" env:"BRIDGE_CONFIG"`

	Run       RunCmd       `cmd:"" default:"withargs" help:"Harvest one day of items into the search index"`
	Transform TransformCmd `cmd:"" help:"Flatten a DSpace item JSON file and print the document"`
	Version   VersionCmd   `cmd:"" help:"Print the build version"`
}

// RunCmd harvests a single day, yesterday unless --date is given.
type RunCmd struct {
	Date    string `help:"Day to harvest as YYYY-MM-DD (default: yesterday)"`
	DryRun  bool   `help:"Transform but do not upload"`
	Strict  bool   `help:"Abort on the first item that fails to transform"`
	Workers int    `help:"Parallel transforms per page (overrides job.workers)"`
}

// TransformCmd reads one item payload and prints its flattened document.
type TransformCmd struct {
	File string `short:"f" help:"Item JSON file, - for stdin" default:"-"`
}

type VersionCmd struct{}

type globals struct {
	configPath string
	out        io.Writer
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("harvest"),
		kong.Description("Harvest DSpace items into Elasticsearch."),
		kong.UsageOnError(),
	)
	g := &globals{configPath: cli.Config, out: os.Stdout}
	if err := kctx.Run(g); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and applies overrides before validation.
func loadConfig(path string, override func(*config.Config)) (*config.Config, error) {
	cfg, err := config.LoadWith(path, override)
	if err != nil {
		return nil, err
	}
	config.SetupLogger(cfg.Log)
	return cfg, nil
}

func (r *RunCmd) Run(g *globals) error {
	cfg, err := loadConfig(g.configPath, func(c *config.Config) {
		if r.DryRun {
			c.Job.DryRun = true
		}
		if r.Strict {
			c.Job.Strict = true
		}
		if r.Workers > 0 {
			c.Job.Workers = r.Workers
		}
	})
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()

	job := a.Job()
	var sum *bridge.Summary
	if r.Date == "" {
		sum, err = job.RunOnce(ctx)
	} else {
		day, perr := time.ParseInLocation("2006-01-02", r.Date, time.Local)
		if perr != nil {
			return fmt.Errorf("--date must be YYYY-MM-DD: %w", perr)
		}
		sum, err = job.RunFor(ctx, day)
	}
	if sum != nil {
		enc := json.NewEncoder(g.out)
		enc.SetIndent("", "  ")
		_ = enc.Encode(sum)
	}
	return err
}

func (t *TransformCmd) Run(g *globals) error {
	var in io.Reader = os.Stdin
	if t.File != "-" {
		f, err := os.Open(t.File)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	raw, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	item, err := dspace.MapItemPayload(raw)
	if err != nil {
		return fmt.Errorf("decode item: %w", err)
	}

	ctx := context.Background()
	var doc *transform.Document
	if hasAllPolicies(item) {
		doc, err = transform.New(nil).Transform(ctx, item)
	} else {
		cfg, cerr := loadConfig(g.configPath, func(c *config.Config) { c.Job.DryRun = true })
		if cerr != nil {
			return cerr
		}
		a, aerr := app.New(ctx, cfg, slog.Default())
		if aerr != nil {
			return aerr
		}
		defer a.Close()
		doc, err = a.Transform(ctx, item)
	}
	if err != nil {
		return err
	}
	b, err := doc.MarshalJSON()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(g.out, string(b))
	return err
}

func (VersionCmd) Run(g *globals) error {
	_, err := fmt.Fprintln(g.out, config.Version)
	return err
}

func hasAllPolicies(item dspace.Item) bool {
	for _, b := range item.Bitstreams {
		if b.Policies == nil {
			return false
		}
	}
	return true
}
