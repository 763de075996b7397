package transfer

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

type Stage string

const (
	StageExport Stage = "export"
	StageImport Stage = "import"
)

// BatchResult is the outcome of moving one batch file through one stage.
type BatchResult struct {
	Name      string        `json:"name"`
	Stage     Stage         `json:"stage"`
	Sequence  int           `json:"sequence"`
	Offset    int           `json:"offset,omitempty"`
	Documents int           `json:"documents"`
	Rejected  int           `json:"rejected,omitempty"`
	Attempts  int           `json:"attempts"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

func (b BatchResult) OK() bool {
	return b.Error == ""
}

// StageSummary aggregates the batch results of a stage.
type StageSummary struct {
	Stage     Stage    `json:"stage"`
	Total     int      `json:"total"`
	Succeeded int      `json:"succeeded"`
	Documents int      `json:"documents"`
	Failed    []string `json:"failed,omitempty"`
}

func (s StageSummary) String() string {
	return fmt.Sprintf("%d of %d batches succeeded", s.Succeeded, s.Total)
}

// Report is the structured result of one run.
type Report struct {
	RunID       string        `json:"run_id"`
	Mode        Mode          `json:"mode"`
	SourceIndex string        `json:"source_index"`
	TargetIndex string        `json:"target_index"`
	KeyField    string        `json:"key_field"`
	SourceCount int64         `json:"source_count"`
	TargetCount int64         `json:"target_count"`
	Export      []BatchResult `json:"export"`
	// Batches names the batch files written by the export of this backup.
	// Restore uploads these only.
	Batches     []string      `json:"batches"`
	Import      []BatchResult `json:"import"`
	Started     time.Time     `json:"started"`
	Finished    time.Time     `json:"finished"`
	Error       string        `json:"error,omitempty"`
}

func summarize(stage Stage, results []BatchResult) StageSummary {
	s := StageSummary{Stage: stage, Total: len(results)}
	for _, r := range results {
		if r.OK() {
			s.Succeeded++
			s.Documents += r.Documents
		} else {
			s.Failed = append(s.Failed, r.Name)
		}
	}
	return s
}

func (r *Report) ExportSummary() StageSummary {
	return summarize(StageExport, r.Export)
}

func (r *Report) ImportSummary() StageSummary {
	return summarize(StageImport, r.Import)
}

// Success reports whether the run completed without losing anything: no
// fatal error, every batch of every stage run succeeded and, when documents
// were uploaded, the target holds as many documents as the source.
func (r *Report) Success() bool {
	if r.Error != "" {
		return false
	}
	if len(r.ExportSummary().Failed) > 0 || len(r.ImportSummary().Failed) > 0 {
		return false
	}
	if r.Mode != ModeBackup && r.SourceCount >= 0 && r.TargetCount != r.SourceCount {
		return false
	}
	return true
}

// Log writes the summary of the report.
func (r *Report) Log(logger *zap.Logger) {
	fields := []zap.Field{
		zap.String("run_id", r.RunID),
		zap.String("mode", string(r.Mode)),
		zap.String("duration", r.Finished.Sub(r.Started).Truncate(time.Millisecond).String()),
	}

	if r.Mode != ModeRestore {
		ex := r.ExportSummary()
		fields = append(fields,
			zap.String("source", fmt.Sprintf("%s (%s docs)", r.SourceIndex, humanize.Comma(r.SourceCount))),
			zap.String("export", ex.String()),
		)
		if len(ex.Failed) > 0 {
			fields = append(fields, zap.String("export_failed", strings.Join(ex.Failed, ", ")))
		}
	}
	if r.Mode != ModeBackup {
		im := r.ImportSummary()
		fields = append(fields,
			zap.String("target", fmt.Sprintf("%s (%s docs)", r.TargetIndex, humanize.Comma(r.TargetCount))),
			zap.String("import", im.String()),
		)
		if len(im.Failed) > 0 {
			fields = append(fields, zap.String("import_failed", strings.Join(im.Failed, ", ")))
		}
	}

	switch {
	case r.Error != "":
		logger.Error("run failed", append(fields, zap.String("error", r.Error))...)
	case !r.Success():
		logger.Warn("run incomplete", fields...)
	default:
		logger.Info("run complete", fields...)
	}
}

// Progress holds the report of a running pipeline for concurrent readers.
type Progress struct {
	mu     sync.RWMutex
	report Report
}

func NewProgress() *Progress {
	return &Progress{}
}

func (p *Progress) Update(fn func(r *Report)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.report)
}

func (p *Progress) Snapshot() Report {
	p.mu.RLock()
	defer p.mu.RUnlock()

	r := p.report
	r.Export = append([]BatchResult(nil), p.report.Export...)
	r.Import = append([]BatchResult(nil), p.report.Import...)
	if p.report.Batches != nil {
		r.Batches = append([]string{}, p.report.Batches...)
	}
	return r
}
