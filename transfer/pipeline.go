// Package transfer copies the documents of a search index through batch files
// in a blob store: export writes them, import uploads them into a recreated
// target index, and Pipeline runs the whole sequence.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"go.uber.org/zap"

	"github.com/ll2l/indexcopy/blobstore"
	"github.com/ll2l/indexcopy/client"
)

type Mode string

const (
	// ModeCopy backs up the source and restores it into the target.
	ModeCopy Mode = "copy"
	// ModeBackup only writes the batch files and the schema file.
	ModeBackup Mode = "backup"
	// ModeRestore recreates the target from an earlier backup.
	ModeRestore Mode = "restore"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeCopy, ModeBackup, ModeRestore:
		return m, nil
	case "":
		return ModeCopy, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

const (
	DefaultPollInterval  = 2 * time.Second
	DefaultSettleTimeout = 2 * time.Minute
)

type Config struct {
	Mode          Mode
	SourceIndex   string
	TargetIndex   string
	PageSize      int
	Parallelism   int
	SettleTimeout time.Duration
	PollInterval  time.Duration
	Retry         client.RetryConfig
	// TargetKind, when set, must match the kind of the copied schema.
	TargetKind string
}

// Pipeline runs a copy, backup or restore. Source is not used by restore and
// Target is not used by backup.
type Pipeline struct {
	Source   client.Backend
	Target   client.Backend
	Store    blobstore.Store
	Logger   *zap.Logger
	Progress *Progress
	Config   Config
}

// Run executes the configured mode. Fatal failures (schema changes, index
// deletion and creation, counting) abort the run and are returned; batch
// failures are recorded in the report only.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	if p.Progress == nil {
		p.Progress = NewProgress()
	}
	cfg := p.Config
	if cfg.Mode == "" {
		cfg.Mode = ModeCopy
	}
	if cfg.TargetIndex == "" {
		cfg.TargetIndex = cfg.SourceIndex
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = DefaultSettleTimeout
	}
	p.Config = cfg

	p.Progress.Update(func(r *Report) {
		*r = Report{
			RunID:       uuid.NewString(),
			Mode:        cfg.Mode,
			SourceIndex: cfg.SourceIndex,
			TargetIndex: cfg.TargetIndex,
			SourceCount: -1,
			Started:     time.Now().UTC(),
		}
	})
	p.Logger.Info("starting run",
		zap.String("mode", string(cfg.Mode)),
		zap.String("source_index", cfg.SourceIndex),
		zap.String("target_index", cfg.TargetIndex),
	)

	err := p.run(ctx)

	p.Progress.Update(func(r *Report) {
		r.Finished = time.Now().UTC()
		if err != nil {
			r.Error = err.Error()
		}
	})
	report := p.Progress.Snapshot()
	p.saveReport(ctx, &report)
	report.Log(p.Logger)
	return &report, err
}

func (p *Pipeline) run(ctx context.Context) error {
	var schema *client.Schema

	if p.Config.Mode != ModeRestore {
		s, err := p.backup(ctx)
		if err != nil {
			return err
		}
		schema = s
	}

	if p.Config.Mode == ModeBackup {
		return nil
	}

	if schema == nil {
		s, err := p.loadBackup(ctx)
		if err != nil {
			return err
		}
		schema = s
	}
	return p.restore(ctx, schema)
}

// backup exports the source index and returns its original schema.
func (p *Pipeline) backup(ctx context.Context) (schema *client.Schema, err error) {
	index := p.Config.SourceIndex

	schema, err = p.Source.GetSchema(ctx, index)
	if err != nil {
		return nil, goerr.Wrap(err, "cannot read source schema", goerr.V("index", index))
	}
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	keyField, _ := schema.KeyField()
	p.Progress.Update(func(r *Report) { r.KeyField = keyField })
	original := schema

	// Every field must be retrievable or it would be missing from the export.
	temp := schema.Copy()
	if temp.ForceRetrievable() {
		p.Logger.Info("making all source fields retrievable", zap.String("index", index))
		if err := p.Source.PutSchema(ctx, temp); err != nil {
			return nil, goerr.Wrap(err, "cannot make source fields retrievable", goerr.V("index", index))
		}
		defer func() {
			// restore even when the run was cancelled
			rctx := context.WithoutCancel(ctx)
			if rerr := p.Source.PutSchema(rctx, original); rerr != nil {
				err = errors.Join(err, goerr.Wrap(rerr, "cannot restore source schema", goerr.V("index", index)))
				return
			}
			p.Logger.Info("source schema restored", zap.String("index", index))
		}()
	}

	count, err := p.Source.Count(ctx, index)
	if err != nil {
		return nil, goerr.Wrap(err, "cannot count source documents", goerr.V("index", index))
	}
	p.Progress.Update(func(r *Report) { r.SourceCount = count })

	data, err := codec.Marshal(schema)
	if err != nil {
		return nil, goerr.Wrap(err, "cannot encode schema")
	}
	if err := p.Store.Write(ctx, SchemaName(index), data); err != nil {
		return nil, goerr.Wrap(err, "cannot save source schema", goerr.V("index", index))
	}

	exporter := &Exporter{
		Source:      p.Source,
		Store:       p.Store,
		Logger:      p.Logger.With(zap.String("stage", string(StageExport))),
		PageSize:    p.Config.PageSize,
		Parallelism: p.Config.Parallelism,
		Retry:       p.Config.Retry,
		OnBatch: func(b BatchResult) {
			p.Progress.Update(func(r *Report) { r.Export = append(r.Export, b) })
		},
	}

	deleted, err := exporter.Cleanup(ctx, index)
	if err != nil {
		p.Logger.Warn("cannot clean up old batch files", zap.Error(err))
	} else if deleted > 0 {
		p.Logger.Info("deleted old batch files", zap.Int("count", deleted))
	}

	p.Logger.Info("exporting documents",
		zap.String("index", index),
		zap.Int64("documents", count),
		zap.String("key_field", keyField),
	)
	results, err := exporter.Export(ctx, index, count)
	batches := make([]string, 0, len(results))
	for _, b := range results {
		if b.OK() {
			batches = append(batches, b.Name)
		}
	}
	// keep the report in sequence order
	p.Progress.Update(func(r *Report) {
		r.Export = results
		r.Batches = batches
	})
	if err != nil {
		return nil, err
	}
	return schema, nil
}

// loadBackup reads the schema file and, when present, the source count and
// batch list of the run that wrote the backup.
func (p *Pipeline) loadBackup(ctx context.Context) (*client.Schema, error) {
	index := p.Config.SourceIndex

	data, err := p.Store.Read(ctx, SchemaName(index))
	if err != nil {
		return nil, goerr.Wrap(err, "cannot read saved schema", goerr.V("index", index))
	}
	var schema client.Schema
	if err := codec.Unmarshal(data, &schema); err != nil {
		return nil, goerr.Wrap(err, "cannot decode saved schema", goerr.V("index", index))
	}
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	keyField, _ := schema.KeyField()

	var previous Report
	if data, err := p.Store.Read(ctx, ReportName(index)); err == nil {
		if err := codec.Unmarshal(data, &previous); err == nil {
			p.Progress.Update(func(r *Report) {
				r.SourceCount = previous.SourceCount
				r.Batches = previous.Batches
			})
		}
	}
	p.Progress.Update(func(r *Report) { r.KeyField = keyField })
	return &schema, nil
}

// restore recreates the target index from schema and uploads the batch files.
func (p *Pipeline) restore(ctx context.Context, schema *client.Schema) error {
	target := p.Config.TargetIndex

	if k := p.Config.TargetKind; k != "" && schema.Kind != "" && k != schema.Kind {
		return goerr.New("schema cannot be created on a different kind of service",
			goerr.V("schema_kind", schema.Kind),
			goerr.V("target_kind", k),
		)
	}

	p.Logger.Info("deleting target index", zap.String("index", target))
	if err := p.Target.DeleteIndex(ctx, target); err != nil {
		return goerr.Wrap(err, "cannot delete target index", goerr.V("index", target))
	}
	if err := waitDeleted(ctx, p.Target, target, p.Config.PollInterval, p.Config.SettleTimeout); err != nil {
		return err
	}

	if err := p.Target.PutSchema(ctx, schema.Renamed(target)); err != nil {
		return goerr.Wrap(err, "cannot create target index", goerr.V("index", target))
	}
	p.Logger.Info("target index created", zap.String("index", target))

	importer := &Importer{
		Target: p.Target,
		Store:  p.Store,
		Logger: p.Logger.With(zap.String("stage", string(StageImport))),
		Retry:  p.Config.Retry,
		OnBatch: func(b BatchResult) {
			p.Progress.Update(func(r *Report) { r.Import = append(r.Import, b) })
		},
	}
	var results []BatchResult
	var err error
	if batches := p.Progress.Snapshot().Batches; batches != nil {
		results, err = importer.ImportBatches(ctx, p.Config.SourceIndex, target, batches)
	} else {
		p.Logger.Warn("no batch list in the backup report, importing every batch file", zap.String("index", p.Config.SourceIndex))
		results, err = importer.Import(ctx, p.Config.SourceIndex, target)
	}
	if err != nil {
		return err
	}

	expected := p.Progress.Snapshot().SourceCount
	if expected < 0 {
		expected = int64(summarize(StageImport, results).Documents)
	}

	p.Logger.Info("waiting for target to index content", zap.Int64("expected", expected))
	count, err := waitIndexed(ctx, p.Target, p.Logger, target, expected, p.Config.PollInterval, p.Config.SettleTimeout)
	p.Progress.Update(func(r *Report) { r.TargetCount = count })
	if err != nil {
		return goerr.Wrap(err, "cannot count target documents", goerr.V("index", target))
	}
	return nil
}

// saveReport writes the report next to the batch files. A failure only
// loses the copy in the store, so it is logged and ignored. A restore that
// has no batch list keeps the report of the backup in place.
func (p *Pipeline) saveReport(ctx context.Context, r *Report) {
	if r.Mode == ModeRestore && r.Batches == nil {
		return
	}
	data, err := codec.Marshal(r)
	if err == nil {
		err = p.Store.Write(context.WithoutCancel(ctx), ReportName(p.Config.SourceIndex), data)
	}
	if err != nil {
		p.Logger.Warn("cannot save run report", zap.Error(err))
	}
}
