package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"go.uber.org/zap"

	"github.com/ll2l/indexcopy/blobstore"
	"github.com/ll2l/indexcopy/client"
)

// Importer uploads the batch files of an index into a target index.
type Importer struct {
	Target  client.Backend
	Store   blobstore.Store
	Logger  *zap.Logger
	Retry   client.RetryConfig
	OnBatch func(BatchResult)
}

// Batches lists the batch files of index in sequence order.
func (im *Importer) Batches(ctx context.Context, index string) ([]blobstore.Blob, error) {
	blobs, err := im.Store.List(ctx, index)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list batch files", goerr.V("index", index))
	}
	return batchBlobs(index, blobs), nil
}

// Import uploads every batch file of sourceIndex found in the store into
// targetIndex, one batch at a time. A failed batch is recorded and the next
// one is still attempted. The error is set when the listing fails or ctx was
// cancelled.
func (im *Importer) Import(ctx context.Context, sourceIndex, targetIndex string) ([]BatchResult, error) {
	blobs, err := im.Batches(ctx, sourceIndex)
	if err != nil {
		return nil, err
	}
	return im.upload(ctx, sourceIndex, targetIndex, blobs)
}

// ImportBatches uploads the named batch files only, in sequence order. Other
// batch files of sourceIndex in the store are ignored.
func (im *Importer) ImportBatches(ctx context.Context, sourceIndex, targetIndex string, names []string) ([]BatchResult, error) {
	blobs := make([]blobstore.Blob, 0, len(names))
	for _, name := range names {
		blobs = append(blobs, blobstore.Blob{Name: name})
	}
	return im.upload(ctx, sourceIndex, targetIndex, batchBlobs(sourceIndex, blobs))
}

func (im *Importer) upload(ctx context.Context, sourceIndex, targetIndex string, blobs []blobstore.Blob) ([]BatchResult, error) {
	results := make([]BatchResult, 0, len(blobs))
	for _, b := range blobs {
		if err := ctx.Err(); err != nil {
			return results, goerr.Wrap(err, "import interrupted", goerr.V("index", targetIndex))
		}

		r := im.importBatch(ctx, sourceIndex, targetIndex, b)
		results = append(results, r)
		if im.OnBatch != nil {
			im.OnBatch(r)
		}
	}
	return results, nil
}

func (im *Importer) importBatch(ctx context.Context, sourceIndex, targetIndex string, b blobstore.Blob) BatchResult {
	start := time.Now()
	seq, _ := BatchSequence(sourceIndex, b.Name)
	result := BatchResult{Name: b.Name, Stage: StageImport, Sequence: seq}
	logger := im.Logger.With(zap.String("blob", b.Name))

	logger.Info("uploading documents from file", zap.Int64("bytes", b.Length))

	var data []byte
	readAttempts, err := client.Retry(ctx, im.Retry, logger, "read batch", func() (err error) {
		data, err = im.Store.Read(ctx, b.Name)
		return err
	})
	if err != nil {
		result.Attempts = readAttempts
		result.Duration = time.Since(start)
		result.Error = err.Error()
		logger.Error("cannot read batch file", zap.Error(err))
		return result
	}

	docs, err := decodeBatch(data)
	if err != nil {
		result.Attempts = readAttempts
		result.Duration = time.Since(start)
		result.Error = goerr.Wrap(err, "corrupt batch file").Error()
		logger.Error("cannot decode batch file", zap.Error(err))
		return result
	}
	logger = logger.With(zap.Int("documents", len(docs)))

	var upload client.UploadResult
	attempts, err := client.Retry(ctx, im.Retry, logger, "upload batch", func() (err error) {
		upload, err = im.Target.Upload(ctx, targetIndex, data)
		return err
	})

	result.Attempts = attempts
	result.Duration = time.Since(start)
	result.Documents = upload.Succeeded
	result.Rejected = upload.Failed

	switch {
	case err != nil:
		result.Error = err.Error()
		logger.Error("batch upload failed", zap.Int("attempts", attempts), zap.Error(err))
	case upload.Failed > 0:
		result.Error = fmt.Sprintf("%d documents rejected", upload.Failed)
		logger.Error("documents rejected",
			zap.Int("rejected", upload.Failed),
			zap.Int("indexed", upload.Succeeded),
			zap.Strings("errors", upload.Errors),
		)
	default:
		logger.Debug("batch uploaded", zap.Int("documents", upload.Succeeded))
	}
	return result
}
