package cmd

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/vmrag/vmrag/internal/chroma"
	"github.com/vmrag/vmrag/internal/chunk"
	"github.com/vmrag/vmrag/internal/config"
	"github.com/vmrag/vmrag/internal/conflict"
	"github.com/vmrag/vmrag/internal/delta"
	"github.com/vmrag/vmrag/internal/dolt"
	"github.com/vmrag/vmrag/internal/embed"
	"github.com/vmrag/vmrag/internal/engine"
	"github.com/vmrag/vmrag/internal/ui"
)

// app wires the full dependency graph for one command invocation.
type app struct {
	cfg       *config.Config
	adapter   *dolt.Adapter
	store     *dolt.Store
	vector    *chroma.Adapter
	converter *chunk.Converter
	engine    *engine.Engine
	printer   *ui.Printer
}

// newApp builds the dependency graph from the project configuration.
func newApp(ctx context.Context, out io.Writer) (*app, error) {
	cfg, err := config.Load(flagDir)
	if err != nil {
		return nil, err
	}

	runner := dolt.NewExecRunner(
		cfg.Dolt.Binary, cfg.Dolt.WorkDir,
		cfg.Dolt.CommandTimeout, cfg.Dolt.KillDeadline)
	adapter := dolt.NewAdapter(runner)
	store := dolt.NewStore(adapter)
	corpus := dolt.NewCorpusView(store)

	embedder, err := embed.NewFromConfig(ctx, cfg.Embeddings)
	if err != nil {
		return nil, err
	}
	client := chroma.NewClient(chroma.Config{
		Host:     cfg.Chroma.Host,
		Port:     cfg.Chroma.Port,
		Tenant:   cfg.Chroma.Tenant,
		Database: cfg.Chroma.Database,
		Timeout:  cfg.Chroma.Timeout,
	})
	vector := chroma.NewAdapter(client, embedder)

	chunker, err := chunk.NewChunker(cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		return nil, err
	}
	converter := chunk.NewConverter(chunker)

	detector := delta.NewDetector(corpus, vector, corpus, converter)
	eng := engine.New(cfg, store, adapter, vector, detector, converter, cfg.Dolt.WorkDir)

	return &app{
		cfg:       cfg,
		adapter:   adapter,
		store:     store,
		vector:    vector,
		converter: converter,
		engine:    eng,
		printer:   ui.NewPrinter(out),
	}, nil
}

func (a *app) close() {
	_ = a.vector.Close()
}

func (a *app) analyzer() *conflict.Analyzer {
	return conflict.NewAnalyzer(a.adapter)
}

// runApp builds the app, runs fn, and renders any failure. The printed error
// carries the stable code; cobra only sees that the command failed.
func runApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, cmd.OutOrStdout())
	if err != nil {
		ui.NewPrinter(cmd.ErrOrStderr()).Error(err)
		return err
	}
	defer a.close()

	if err := fn(ctx, a); err != nil {
		ui.NewPrinter(cmd.ErrOrStderr()).Error(err)
		return err
	}
	return nil
}
