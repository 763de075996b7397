package transfer

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ll2l/indexcopy/blobstore"
	"github.com/ll2l/indexcopy/client"
)

const (
	DefaultPageSize    = 500
	DefaultParallelism = 10
)

// Exporter writes the documents of a source index to batch files.
type Exporter struct {
	Source      client.Backend
	Store       blobstore.Store
	Logger      *zap.Logger
	PageSize    int
	Parallelism int
	Retry       client.RetryConfig
	// OnBatch is called from the worker goroutines after each batch.
	OnBatch func(BatchResult)
}

// Cleanup deletes the batch files a previous export of index left behind.
// Deletion is best effort: failures are logged and counted.
func (e *Exporter) Cleanup(ctx context.Context, index string) (deleted int, err error) {
	blobs, err := e.Store.List(ctx, index)
	if err != nil {
		return 0, goerr.Wrap(err, "failed to list old batch files", goerr.V("index", index))
	}

	failed := 0
	for _, b := range batchBlobs(index, blobs) {
		ok, err := e.Store.Delete(ctx, b.Name)
		if err != nil {
			failed++
			e.Logger.Warn("cannot delete old batch file", zap.String("blob", b.Name), zap.Error(err))
			continue
		}
		if ok {
			deleted++
		}
	}
	if failed > 0 {
		e.Logger.Warn("some old batch files were not deleted", zap.Int("failed", failed))
	}
	return deleted, nil
}

// Windows returns the number of batch files needed for count documents.
func Windows(count int64, pageSize int) int {
	if count <= 0 {
		return 0
	}
	return int((count + int64(pageSize) - 1) / int64(pageSize))
}

// Export pages through count documents of index and writes one batch file per
// page. Pages are drained by a pool of Parallelism workers. The returned
// results are ordered by sequence and include failed batches; the error is
// only set when ctx was cancelled.
func (e *Exporter) Export(ctx context.Context, index string, count int64) ([]BatchResult, error) {
	pageSize := e.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	parallelism := e.Parallelism
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}

	n := Windows(count, pageSize)
	results := make([]BatchResult, n)

	var g errgroup.Group
	g.SetLimit(parallelism)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			results[i] = e.exportBatch(ctx, index, i+1, i*pageSize, pageSize)
			if e.OnBatch != nil {
				e.OnBatch(results[i])
			}
			return nil
		})
	}
	// workers record failures in results and never return an error
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return results, goerr.Wrap(err, "export interrupted", goerr.V("index", index))
	}
	return results, nil
}

func (e *Exporter) exportBatch(ctx context.Context, index string, seq, skip, top int) BatchResult {
	start := time.Now()
	result := BatchResult{
		Name:     BatchName(index, seq),
		Stage:    StageExport,
		Sequence: seq,
		Offset:   skip,
	}
	logger := e.Logger.With(zap.String("blob", result.Name), zap.Int("skip", skip))

	attempts, err := client.Retry(ctx, e.Retry, logger, "export batch", func() error {
		docs, err := e.Source.Page(ctx, index, skip, top)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			return goerr.New("page returned no documents", goerr.V("skip", skip))
		}

		points := 0
		for _, doc := range docs {
			points += TransformGeo(doc)
		}

		data, err := encodeBatch(docs)
		if err != nil {
			return goerr.Wrap(err, "cannot encode batch")
		}
		if err := e.Store.Write(ctx, result.Name, data); err != nil {
			return err
		}

		result.Documents = len(docs)
		logger.Debug("batch written",
			zap.Int("documents", len(docs)),
			zap.Int("geo_points", points),
			zap.Int("bytes", len(data)),
		)
		return nil
	})

	result.Attempts = attempts
	result.Duration = time.Since(start)
	if err != nil {
		result.Error = err.Error()
		logger.Error("batch export failed", zap.Int("attempts", attempts), zap.Error(err))
		return result
	}

	logger.Info("total documents written", zap.Int("documents", result.Documents))
	return result
}
