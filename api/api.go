package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ll2l/indexcopy/bookmarks"
	"github.com/ll2l/indexcopy/transfer"
)

type status string

const (
	statusRunning  status = "running"
	statusSuccess  status = "success"
	statusFailed   status = "failed"
	statusError    status = "error"
	statusNotReady status = "not_started"
)

// Progress is the run being reported on.
var Progress *transfer.Progress

// Send successful response back to client
func respondSuccess(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// Send an error response back to client
func respondError(c *gin.Context, code int, err interface{}) {
	var message interface{}

	switch v := err.(type) {
	case error:
		message = v.Error()
	case string:
		message = v
	default:
		message = v
	}
	c.AbortWithStatusJSON(code, gin.H{"status": statusError, "error": message})
}

func snapshot(c *gin.Context) (transfer.Report, bool) {
	if Progress == nil {
		respondError(c, http.StatusServiceUnavailable, "no run in progress")
		return transfer.Report{}, false
	}
	r := Progress.Snapshot()
	if r.RunID == "" {
		respondError(c, http.StatusServiceUnavailable, "run has not started")
		return r, false
	}
	return r, true
}

func runStatus(r transfer.Report) status {
	switch {
	case r.RunID == "":
		return statusNotReady
	case r.Finished.IsZero():
		return statusRunning
	case r.Success():
		return statusSuccess
	}
	return statusFailed
}

func GetHealth(c *gin.Context) {
	s := statusNotReady
	if Progress != nil {
		s = runStatus(Progress.Snapshot())
	}
	respondSuccess(c, gin.H{"status": s})
}

// GetReport returns the run report with the per-stage summaries.
func GetReport(c *gin.Context) {
	r, ok := snapshot(c)
	if !ok {
		return
	}

	end := r.Finished
	if end.IsZero() {
		end = time.Now().UTC()
	}
	respondSuccess(c, gin.H{
		"status":   runStatus(r),
		"report":   r,
		"export":   r.ExportSummary(),
		"import":   r.ImportSummary(),
		"elapsed":  end.Sub(r.Started).Truncate(time.Millisecond).String(),
		"complete": !r.Finished.IsZero(),
	})
}

// GetBatches lists batch results. Query parameters: stage (export or import)
// and failed=true to only return failed batches.
func GetBatches(c *gin.Context) {
	r, ok := snapshot(c)
	if !ok {
		return
	}

	var batches []transfer.BatchResult
	switch transfer.Stage(c.Query("stage")) {
	case "":
		batches = append(r.Export, r.Import...)
	case transfer.StageExport:
		batches = r.Export
	case transfer.StageImport:
		batches = r.Import
	default:
		respondError(c, http.StatusBadRequest, "stage must be export or import")
		return
	}

	onlyFailed := c.Query("failed") == "true"
	out := make([]transfer.BatchResult, 0, len(batches))
	for _, b := range batches {
		if onlyFailed && b.OK() {
			continue
		}
		out = append(out, b)
	}
	respondSuccess(c, out)
}

func GetBookmarks(c *gin.Context) {
	respondSuccess(c, bookmarks.GetBookmarks())
}
