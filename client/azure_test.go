package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ll2l/indexcopy/bookmarks"
)

// fakeSearch serves the Azure Cognitive Search REST endpoints the backend
// calls.
type fakeSearch struct {
	mu      sync.Mutex
	apiKey  string
	indexes map[string]map[string]interface{}
	docs    map[string]map[string]Document
	puts    []map[string]interface{}
}

func newFakeSearch() *fakeSearch {
	return &fakeSearch{
		apiKey:  "key",
		indexes: map[string]map[string]interface{}{},
		docs:    map[string]map[string]Document{},
	}
}

func (f *fakeSearch) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.Header.Get("api-key") != f.apiKey {
		writeJSON(w, 403, map[string]interface{}{"error": map[string]interface{}{"code": "Forbidden", "message": "bad key"}})
		return
	}
	if r.URL.Query().Get("api-version") != azureAPIVersion {
		writeJSON(w, 400, map[string]interface{}{"error": map[string]interface{}{"message": "api-version"}})
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if parts[0] == "servicestats" {
		writeJSON(w, 200, map[string]interface{}{"counters": map[string]interface{}{}})
		return
	}
	if parts[0] != "indexes" || len(parts) < 2 {
		w.WriteHeader(404)
		return
	}
	name := parts[1]
	def, exists := f.indexes[name]

	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			if !exists {
				writeJSON(w, 404, map[string]interface{}{"error": map[string]interface{}{"message": "No index with the name '" + name + "'"}})
				return
			}
			out := map[string]interface{}{"@odata.context": "x", "@odata.etag": "\"1\""}
			for k, v := range def {
				out[k] = v
			}
			writeJSON(w, 200, out)
		case http.MethodPut:
			var body map[string]interface{}
			json.NewDecoder(r.Body).Decode(&body)
			if body["name"] != name {
				writeJSON(w, 400, map[string]interface{}{"error": map[string]interface{}{"message": "name mismatch"}})
				return
			}
			f.puts = append(f.puts, body)
			f.indexes[name] = body
			if _, ok := f.docs[name]; !ok {
				f.docs[name] = map[string]Document{}
			}
			if exists {
				w.WriteHeader(204)
				return
			}
			writeJSON(w, 201, body)
		case http.MethodDelete:
			if !exists {
				w.WriteHeader(404)
				return
			}
			delete(f.indexes, name)
			delete(f.docs, name)
			w.WriteHeader(204)
		}
		return
	}

	if !exists {
		writeJSON(w, 404, map[string]interface{}{"error": map[string]interface{}{"message": "missing"}})
		return
	}

	switch parts[len(parts)-1] {
	case "search":
		var q struct {
			Count bool `json:"count"`
			Top   int  `json:"top"`
			Skip  int  `json:"skip"`
		}
		json.NewDecoder(r.Body).Decode(&q)
		keys := make([]string, 0)
		for k := range f.docs[name] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var value []interface{}
		for i := q.Skip; i < len(keys) && i < q.Skip+q.Top; i++ {
			d := Document{"@search.score": 1.0}
			for k, v := range f.docs[name][keys[i]] {
				d[k] = v
			}
			value = append(value, d)
		}
		out := map[string]interface{}{"value": value}
		if q.Count {
			out["@odata.count"] = len(keys)
		}
		writeJSON(w, 200, out)
	case "index":
		var b struct {
			Value []Document `json:"value"`
		}
		json.NewDecoder(r.Body).Decode(&b)
		var results []interface{}
		failed := false
		for _, d := range b.Value {
			id, _ := d["hotelId"].(string)
			if id == "" {
				failed = true
				results = append(results, map[string]interface{}{"key": "", "status": false, "errorMessage": "missing key", "statusCode": 400})
				continue
			}
			f.docs[name][id] = d
			results = append(results, map[string]interface{}{"key": id, "status": true, "statusCode": 201})
		}
		code := 200
		if failed {
			code = 207
		}
		writeJSON(w, code, map[string]interface{}{"value": results})
	}
}

func hotelsDefinition() map[string]interface{} {
	return map[string]interface{}{
		"name": "hotels",
		"fields": []interface{}{
			map[string]interface{}{"name": "hotelId", "type": "Edm.String", "key": true, "retrievable": true},
			map[string]interface{}{"name": "secret", "type": "Edm.String", "retrievable": false},
			map[string]interface{}{"name": "location", "type": "Edm.GeographyPoint", "retrievable": true},
			map[string]interface{}{"name": "address", "type": "Edm.ComplexType", "fields": []interface{}{
				map[string]interface{}{"name": "city", "type": "Edm.String", "retrievable": false},
			}},
		},
		"suggesters": []interface{}{},
	}
}

func newTestAzure(t *testing.T) (*Azure, *fakeSearch) {
	fake := newFakeSearch()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	c, err := NewAzure(bookmarks.Bookmark{Service: srv.URL, APIKey: "key"}, srv.Client())
	require.NoError(t, err)
	return c, fake
}

func TestNewAzureEndpoint(t *testing.T) {
	c, err := NewAzure(bookmarks.Bookmark{Service: "contoso", APIKey: "k"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://contoso.search.windows.net/indexes/hotels/docs/index?api-version="+azureAPIVersion,
		c.url("indexes", "hotels", "docs", "index"))
}

func TestAzureSchema(t *testing.T) {
	c, fake := newTestAzure(t)
	fake.indexes["hotels"] = hotelsDefinition()
	ctx := context.Background()

	require.NoError(t, c.Ping(ctx))

	s, err := c.GetSchema(ctx, "hotels")
	require.NoError(t, err)
	require.NoError(t, s.Validate())
	assert.NotContains(t, s.Definition, "@odata.etag")

	key, _ := s.KeyField()
	assert.Equal(t, "hotelId", key)
	require.Len(t, s.Fields, 5)
	assert.Equal(t, "address/city", s.Fields[4].Name)
	assert.False(t, s.Fields[1].Retrievable)
	assert.True(t, s.Fields[3].Retrievable)

	temp := s.Copy()
	assert.True(t, temp.ForceRetrievable())
	require.NoError(t, c.PutSchema(ctx, temp))

	put := fake.puts[len(fake.puts)-1]
	fields := put["fields"].([]interface{})
	assert.Equal(t, true, fields[1].(map[string]interface{})["retrievable"])
	address := fields[3].(map[string]interface{})
	assert.NotContains(t, address, "retrievable")
	assert.Equal(t, true, address["fields"].([]interface{})[0].(map[string]interface{})["retrievable"])

	// the original is untouched by the copy
	assert.False(t, s.Fields[1].Retrievable)
	require.NoError(t, c.PutSchema(ctx, s))
	put = fake.puts[len(fake.puts)-1]
	assert.Equal(t, false, put["fields"].([]interface{})[1].(map[string]interface{})["retrievable"])

	require.NoError(t, c.PutSchema(ctx, s.Renamed("hotels2")))
	assert.Contains(t, fake.indexes, "hotels2")

	require.NoError(t, c.DeleteIndex(ctx, "hotels2"))
	require.NoError(t, c.DeleteIndex(ctx, "hotels2"))

	_, err = c.GetSchema(ctx, "hotels2")
	assert.True(t, errors.Is(err, ErrIndexNotFound))
}

func TestAzureDocuments(t *testing.T) {
	c, fake := newTestAzure(t)
	fake.indexes["hotels"] = hotelsDefinition()
	fake.docs["hotels"] = map[string]Document{}
	ctx := context.Background()

	res, err := c.Upload(ctx, "hotels", []byte(`{"value": [{"hotelId": "1"}, {"hotelId": "2"}, {"hotelId": "3"}]}`))
	require.NoError(t, err)
	assert.Equal(t, UploadResult{Succeeded: 3}, res)

	n, err := c.Count(ctx, "hotels")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	docs, err := c.Page(ctx, "hotels", 1, 5)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "2", docs[0]["hotelId"])
	assert.NotContains(t, docs[0], "@search.score")

	res, err = c.Upload(ctx, "hotels", []byte(`{"value": [{"hotelId": "4"}, {"name": "x"}]}`))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "missing key")

	_, err = c.Count(ctx, "missing")
	assert.True(t, errors.Is(err, ErrIndexNotFound))
}

func TestAzureStatusErrors(t *testing.T) {
	fake := newFakeSearch()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c, err := NewAzure(bookmarks.Bookmark{Service: srv.URL, APIKey: "wrong"}, srv.Client())
	require.NoError(t, err)

	_, err = c.GetSchema(context.Background(), "hotels")
	require.Error(t, err)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 403, se.Code)
	assert.Equal(t, "bad key", se.Reason)
	assert.False(t, IsTransient(err))
}
