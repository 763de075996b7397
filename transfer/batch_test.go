package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ll2l/indexcopy/blobstore"
	"github.com/ll2l/indexcopy/client"
)

func TestBatchNames(t *testing.T) {
	assert.Equal(t, "hotels1.json", BatchName("hotels", 1))
	assert.Equal(t, "hotels12.json", BatchName("hotels", 12))
	assert.Equal(t, "hotels.schema", SchemaName("hotels"))
	assert.Equal(t, "hotels.report.json", ReportName("hotels"))
}

func TestBatchSequence(t *testing.T) {
	tests := []struct {
		index string
		name  string
		seq   int
		ok    bool
	}{
		{"hotels", "hotels1.json", 1, true},
		{"hotels", "hotels120.json", 120, true},
		{"hotels", "hotels.schema", 0, false},
		{"hotels", "hotels.report.json", 0, false},
		{"hotels", "hotels-eu1.json", 0, false},
		{"hotels", "hotels1.json.bak", 0, false},
		{"hotels", "myhotels1.json", 0, false},
		{"a.b", "axb1.json", 0, false},
		{"a.b", "a.b3.json", 3, true},
	}
	for _, tt := range tests {
		seq, ok := BatchSequence(tt.index, tt.name)
		assert.Equal(t, tt.ok, ok, tt.name)
		assert.Equal(t, tt.seq, seq, tt.name)
	}
}

func TestBatchBlobsOrder(t *testing.T) {
	blobs := []blobstore.Blob{
		{Name: "hotels10.json"},
		{Name: "hotels-eu1.json"},
		{Name: "hotels2.json"},
		{Name: "hotels.schema"},
		{Name: "hotels1.json"},
	}
	var names []string
	for _, b := range batchBlobs("hotels", blobs) {
		names = append(names, b.Name)
	}
	assert.Equal(t, []string{"hotels1.json", "hotels2.json", "hotels10.json"}, names)
}

func TestBatchEncoding(t *testing.T) {
	docs := []client.Document{
		parseDoc(t, `{"hotelId": "1", "rating": 4.50, "big": 12345678901234567890}`),
		parseDoc(t, `{"hotelId": "2", "tags": []}`),
	}
	data, err := encodeBatch(docs)
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":[{"hotelId":"1","rating":4.50,"big":12345678901234567890},{"hotelId":"2","tags":[]}]}`, string(data))
	assert.Contains(t, string(data), "12345678901234567890")

	decoded, err := decodeBatch(data)
	require.NoError(t, err)
	assert.Equal(t, docs, decoded)

	_, err = decodeBatch([]byte("not json"))
	assert.Error(t, err)
}
