package transfer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/ll2l/indexcopy/client"
)

type memIndex struct {
	schema *client.Schema
	keys   []string
	docs   map[string]client.Document
}

// memBackend is an in-memory search service. Page returns documents in
// insertion order.
type memBackend struct {
	mu      sync.Mutex
	indexes map[string]*memIndex

	// failPage[skip] is the number of Page calls at that offset that fail
	failPage   map[int]int
	failUpload int
	failDelete bool
	putLog     []*client.Schema
	pageCalls  int
}

func newMemBackend() *memBackend {
	return &memBackend{indexes: map[string]*memIndex{}, failPage: map[int]int{}}
}

func hotelSchema(name string) *client.Schema {
	return &client.Schema{
		Name: name,
		Kind: "azure",
		Fields: []client.Field{
			{Name: "hotelId", Type: "Edm.String", Key: true, Retrievable: true},
			{Name: "name", Type: "Edm.String", Retrievable: true},
			{Name: "secret", Type: "Edm.String", Retrievable: false},
			{Name: "location", Type: "Edm.GeographyPoint", Retrievable: true},
		},
		Definition: map[string]interface{}{"name": name, "scoringProfiles": []interface{}{}},
	}
}

// seed creates index with n hotels; every third one has a location.
func (m *memBackend) seed(index string, n int) {
	idx := &memIndex{schema: hotelSchema(index), docs: map[string]client.Document{}}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("h%05d", i)
		doc := client.Document{"hotelId": id, "name": fmt.Sprintf("Hotel %d", i), "secret": "s"}
		if i%3 == 0 {
			doc["location"] = map[string]interface{}{
				"Latitude":         json.Number("47.5"),
				"Longitude":        json.Number(fmt.Sprintf("-122.%d", i%10)),
				"IsEmpty":          false,
				"Z":                nil,
				"M":                nil,
				"CoordinateSystem": map[string]interface{}{"EpsgId": json.Number("4326"), "Id": "4326", "Name": "WGS84"},
			}
		}
		idx.keys = append(idx.keys, id)
		idx.docs[id] = doc
	}
	m.indexes[index] = idx
}

func (m *memBackend) Ping(ctx context.Context) error { return nil }

func (m *memBackend) GetSchema(ctx context.Context, index string) (*client.Schema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.indexes[index]
	if !ok {
		return nil, client.ErrIndexNotFound
	}
	return idx.schema.Copy(), nil
}

func (m *memBackend) PutSchema(ctx context.Context, schema *client.Schema) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLog = append(m.putLog, schema.Copy())
	if idx, ok := m.indexes[schema.Name]; ok {
		idx.schema = schema.Copy()
		return nil
	}
	m.indexes[schema.Name] = &memIndex{schema: schema.Copy(), docs: map[string]client.Document{}}
	return nil
}

func (m *memBackend) DeleteIndex(ctx context.Context, index string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDelete {
		return &client.StatusError{Code: 400, Reason: "denied"}
	}
	delete(m.indexes, index)
	return nil
}

func (m *memBackend) Count(ctx context.Context, index string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.indexes[index]
	if !ok {
		return 0, client.ErrIndexNotFound
	}
	return int64(len(idx.keys)), nil
}

func (m *memBackend) Page(ctx context.Context, index string, skip, top int) ([]client.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageCalls++
	if m.failPage[skip] > 0 {
		m.failPage[skip]--
		return nil, &client.StatusError{Code: 503, Reason: "service unavailable"}
	}
	idx, ok := m.indexes[index]
	if !ok {
		return nil, client.ErrIndexNotFound
	}

	var docs []client.Document
	for i := skip; i < len(idx.keys) && i < skip+top; i++ {
		doc := idx.docs[idx.keys[i]]
		// hidden fields are not returned
		out := client.Document{}
		for _, f := range idx.schema.Fields {
			if v, ok := doc[f.Name]; ok && f.Retrievable {
				out[f.Name] = deepCopy(v)
			}
		}
		docs = append(docs, out)
	}
	return docs, nil
}

func deepCopy(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, c := range t {
			out[k] = deepCopy(c)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, c := range t {
			out[i] = deepCopy(c)
		}
		return out
	}
	return v
}

func (m *memBackend) Upload(ctx context.Context, index string, batch []byte) (client.UploadResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpload > 0 {
		m.failUpload--
		return client.UploadResult{}, &client.StatusError{Code: 400, Reason: "bad request"}
	}
	idx, ok := m.indexes[index]
	if !ok {
		return client.UploadResult{}, &client.StatusError{Code: 404, Reason: "no index"}
	}
	key, _ := idx.schema.KeyField()

	docs, err := decodeBatch(batch)
	if err != nil {
		return client.UploadResult{}, err
	}

	var res client.UploadResult
	for _, d := range docs {
		id, _ := d[key].(string)
		if id == "" {
			res.Failed++
			res.Errors = append(res.Errors, "missing key")
			continue
		}
		if _, exists := idx.docs[id]; !exists {
			idx.keys = append(idx.keys, id)
		}
		idx.docs[id] = d
		res.Succeeded++
	}
	return res, nil
}

func (m *memBackend) doc(index, id string) client.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.indexes[index].docs[id]
}
