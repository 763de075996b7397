package transfer

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/bytedance/sonic"

	"github.com/ll2l/indexcopy/blobstore"
	"github.com/ll2l/indexcopy/client"
)

// numbers stay json.Number so that values are written back exactly as read
var codec = sonic.Config{UseNumber: true, SortMapKeys: true}.Froze()

type batchFile struct {
	Value []client.Document `json:"value"`
}

// BatchName is the blob name of the seq-th (1-based) page of index.
func BatchName(index string, seq int) string {
	return fmt.Sprintf("%s%d.json", index, seq)
}

// SchemaName is the blob name of the saved schema of index.
func SchemaName(index string) string {
	return index + ".schema"
}

// ReportName is the blob name of the last run report of index.
func ReportName(index string) string {
	return index + ".report.json"
}

func batchPattern(index string) *regexp.Regexp {
	return regexp.MustCompile(`^` + regexp.QuoteMeta(index) + `(\d+)\.json$`)
}

// BatchSequence returns the sequence number of a batch blob of index. Blobs
// of other indices sharing the name prefix do not match.
func BatchSequence(index, name string) (int, bool) {
	m := batchPattern(index).FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	seq, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return seq, true
}

// batchBlobs filters the batch files of index out of a listing and orders
// them by sequence number.
func batchBlobs(index string, blobs []blobstore.Blob) []blobstore.Blob {
	type seqBlob struct {
		seq  int
		blob blobstore.Blob
	}
	var matched []seqBlob
	for _, b := range blobs {
		if seq, ok := BatchSequence(index, b.Name); ok {
			matched = append(matched, seqBlob{seq: seq, blob: b})
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })

	out := make([]blobstore.Blob, len(matched))
	for i, m := range matched {
		out[i] = m.blob
	}
	return out
}

func encodeBatch(docs []client.Document) ([]byte, error) {
	return codec.Marshal(batchFile{Value: docs})
}

func decodeBatch(data []byte) ([]client.Document, error) {
	var b batchFile
	if err := codec.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return b.Value, nil
}
