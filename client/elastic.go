package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/elastic/go-elasticsearch/v6"
	"github.com/m-mizutani/goerr/v2"

	"github.com/ll2l/indexcopy/bookmarks"
)

const (
	elasticIDField     = "_id"
	defaultElasticType = "_doc"
)

// settings that belong to one concrete index and cannot be copied
var invalidSettings = []string{
	"provided_name",
	"creation_date",
	"uuid",
	"version",
}

// Elastic is a Backend for an Elasticsearch 6.x cluster. The document key is
// the _id metadata field and every field is returned through _source.
type Elastic struct {
	es    *elasticsearch.Client
	Alias string

	mu       sync.Mutex
	docTypes map[string]string
}

var _ Backend = &Elastic{}

func NewElastic(conf bookmarks.Bookmark) (*Elastic, error) {
	cfg := elasticsearch.Config{
		Addresses: conf.Addresses,
	}

	if conf.User != "" && conf.Password != "" {
		cfg.Username = conf.User
		cfg.Password = conf.Password
	}

	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create elasticsearch client")
	}

	return &Elastic{
		es:       client,
		Alias:    conf.Alias,
		docTypes: map[string]string{},
	}, nil
}

func (c *Elastic) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err := checkElasticResp(res, err); err != nil {
		return goerr.Wrap(err, "cluster is not alive", goerr.V("alias", c.Alias))
	}
	res.Body.Close()
	return nil
}

func (c *Elastic) mapping(ctx context.Context, index string) (map[string]interface{}, error) {
	res, err := c.es.Indices.GetMapping(
		c.es.Indices.GetMapping.WithContext(ctx),
		c.es.Indices.GetMapping.WithIndex(index),
	)
	if err == nil && res.StatusCode == http.StatusNotFound {
		res.Body.Close()
		return nil, goerr.Wrap(ErrIndexNotFound, "failed to get mapping", goerr.V("index", index))
	}
	if err := checkElasticResp(res, err); err != nil {
		return nil, goerr.Wrap(err, "failed to get mapping", goerr.V("index", index))
	}
	defer res.Body.Close()

	var m map[string]interface{}
	if err := decodeJSON(res.Body, &m); err != nil {
		return nil, goerr.Wrap(err, "failed to parse mapping", goerr.V("index", index))
	}
	return indexEntry(m, index, "mappings"), nil
}

func (c *Elastic) settings(ctx context.Context, index string) (map[string]interface{}, error) {
	res, err := c.es.Indices.GetSettings(
		c.es.Indices.GetSettings.WithContext(ctx),
		c.es.Indices.GetSettings.WithIndex(index),
	)
	if err == nil && res.StatusCode == http.StatusNotFound {
		res.Body.Close()
		return nil, goerr.Wrap(ErrIndexNotFound, "failed to get settings", goerr.V("index", index))
	}
	if err := checkElasticResp(res, err); err != nil {
		return nil, goerr.Wrap(err, "failed to get settings", goerr.V("index", index))
	}
	defer res.Body.Close()

	var s map[string]interface{}
	if err := decodeJSON(res.Body, &s); err != nil {
		return nil, goerr.Wrap(err, "failed to parse settings", goerr.V("index", index))
	}
	return indexEntry(s, index, "settings"), nil
}

// indexEntry picks the section of a per-index response. The response is keyed
// by the concrete index name, which differs from the request when index is
// an alias.
func indexEntry(resp map[string]interface{}, index, section string) map[string]interface{} {
	entry, ok := resp[index].(map[string]interface{})
	if !ok && len(resp) == 1 {
		for _, v := range resp {
			entry, _ = v.(map[string]interface{})
		}
	}
	out, _ := entry[section].(map[string]interface{})
	if out == nil {
		out = map[string]interface{}{}
	}
	return out
}

// typeProperties returns the document type name and its properties. Indices
// created by 6.x have exactly one mapping type.
func typeProperties(mappings map[string]interface{}) (string, map[string]interface{}) {
	if props, ok := mappings["properties"].(map[string]interface{}); ok {
		return defaultElasticType, props
	}
	for name, t := range mappings {
		if tm, ok := t.(map[string]interface{}); ok {
			props, _ := tm["properties"].(map[string]interface{})
			return name, props
		}
	}
	return defaultElasticType, nil
}

func propertyFields(prefix string, props map[string]interface{}) []Field {
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	var fields []Field
	for _, name := range names {
		p, _ := props[name].(map[string]interface{})
		typ, _ := p["type"].(string)
		if typ == "" {
			typ = "object"
		}
		fields = append(fields, Field{Name: prefix + name, Type: typ, Retrievable: true})
		if sub, ok := p["properties"].(map[string]interface{}); ok {
			fields = append(fields, propertyFields(prefix+name+"/", sub)...)
		}
	}
	return fields
}

func (c *Elastic) GetSchema(ctx context.Context, index string) (*Schema, error) {
	m, err := c.mapping(ctx, index)
	if err != nil {
		return nil, err
	}
	s, err := c.settings(ctx, index)
	if err != nil {
		return nil, err
	}

	if idx, ok := s["index"].(map[string]interface{}); ok {
		for _, f := range invalidSettings {
			delete(idx, f)
		}
	}

	docType, props := typeProperties(m)
	c.setDocType(index, docType)

	fields := []Field{{Name: elasticIDField, Type: "keyword", Key: true, Retrievable: true}}
	fields = append(fields, propertyFields("", props)...)

	return &Schema{
		Name:   index,
		Kind:   bookmarks.KindElasticsearch,
		Fields: fields,
		Definition: map[string]interface{}{
			"mappings": m,
			"settings": s,
		},
	}, nil
}

func (c *Elastic) exists(ctx context.Context, index string) (bool, error) {
	res, err := c.es.Indices.Exists([]string{index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return false, goerr.Wrap(err, "error check exists", goerr.V("index", index))
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, goerr.Wrap(&StatusError{Code: res.StatusCode, Reason: res.Status()}, "error check exists", goerr.V("index", index))
}

// PutSchema creates the index from the schema definition. Mappings of an
// existing index are left untouched: _source already returns every field, so
// there is nothing a retrievability change could update.
func (c *Elastic) PutSchema(ctx context.Context, schema *Schema) error {
	ok, err := c.exists(ctx, schema.Name)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	body, err := json.Marshal(schema.Definition)
	if err != nil {
		return goerr.Wrap(err, "cannot marshal body", goerr.V("index", schema.Name))
	}

	res, err := c.es.Indices.Create(
		schema.Name,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(bytes.NewReader(body)),
	)
	if err := checkElasticResp(res, err); err != nil {
		return goerr.Wrap(err, "cannot create index", goerr.V("index", schema.Name))
	}
	res.Body.Close()

	if m, ok := schema.Definition["mappings"].(map[string]interface{}); ok {
		docType, _ := typeProperties(m)
		c.setDocType(schema.Name, docType)
	}
	return nil
}

func (c *Elastic) DeleteIndex(ctx context.Context, index string) error {
	res, err := c.es.Indices.Delete([]string{index}, c.es.Indices.Delete.WithContext(ctx))
	if err == nil && res.StatusCode == http.StatusNotFound {
		res.Body.Close()
		return nil
	}
	if err := checkElasticResp(res, err); err != nil {
		return goerr.Wrap(err, "cannot delete index", goerr.V("index", index))
	}
	res.Body.Close()

	c.mu.Lock()
	delete(c.docTypes, index)
	c.mu.Unlock()
	return nil
}

func (c *Elastic) Count(ctx context.Context, index string) (int64, error) {
	res, err := c.es.Count(
		c.es.Count.WithContext(ctx),
		c.es.Count.WithIndex(index),
	)
	if err == nil && res.StatusCode == http.StatusNotFound {
		res.Body.Close()
		return 0, goerr.Wrap(ErrIndexNotFound, "failed to count documents", goerr.V("index", index))
	}
	if err := checkElasticResp(res, err); err != nil {
		return 0, goerr.Wrap(err, "failed to count documents", goerr.V("index", index))
	}
	defer res.Body.Close()

	var r countResponse
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return 0, goerr.Wrap(err, "error parsing the response body", goerr.V("index", index))
	}
	return r.Count, nil
}

func (c *Elastic) Page(ctx context.Context, index string, skip, top int) ([]Document, error) {
	var r searchResponse

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(index),
		c.es.Search.WithBody(matchAll()),
		c.es.Search.WithSort("_doc"),
		c.es.Search.WithFrom(skip),
		c.es.Search.WithSize(top),
	)
	if err := checkElasticResp(res, err); err != nil {
		return nil, goerr.Wrap(err, "search failed", goerr.V("index", index), goerr.V("skip", skip))
	}
	defer res.Body.Close()

	if err := decodeJSON(res.Body, &r); err != nil {
		return nil, goerr.Wrap(err, "error parsing the response body", goerr.V("index", index))
	}
	return r.Documents(), nil
}

func (c *Elastic) setDocType(index, docType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docTypes[index] = docType
}

func (c *Elastic) docType(ctx context.Context, index string) (string, error) {
	c.mu.Lock()
	t, ok := c.docTypes[index]
	c.mu.Unlock()
	if ok {
		return t, nil
	}

	m, err := c.mapping(ctx, index)
	if err != nil {
		return "", err
	}
	t, _ = typeProperties(m)
	c.setDocType(index, t)
	return t, nil
}

// Upload converts the batch into a bulk request. The _id of each document
// becomes the action metadata.
func (c *Elastic) Upload(ctx context.Context, index string, batch []byte) (UploadResult, error) {
	docs, err := batchDocuments(batch)
	if err != nil {
		return UploadResult{}, goerr.Wrap(err, "invalid batch", goerr.V("index", index))
	}
	if len(docs) == 0 {
		return UploadResult{}, nil
	}

	docType, err := c.docType(ctx, index)
	if err != nil {
		return UploadResult{}, err
	}

	var buf bytes.Buffer
	for _, doc := range docs {
		// Prepare the metadata payload
		action := map[string]interface{}{}
		if id, ok := doc[elasticIDField]; ok {
			action["_id"] = fmt.Sprint(id)
		}
		meta, err := json.Marshal(map[string]interface{}{"index": action})
		if err != nil {
			return UploadResult{}, goerr.Wrap(err, "cannot encode action")
		}

		source := make(map[string]interface{}, len(doc))
		for k, v := range doc {
			if k == elasticIDField || k == "@search.action" {
				continue
			}
			source[k] = v
		}
		data, err := json.Marshal(source)
		if err != nil {
			return UploadResult{}, goerr.Wrap(err, "cannot encode document", goerr.V("id", action["_id"]))
		}

		buf.Grow(len(meta) + len(data) + 2)
		buf.Write(meta)
		buf.WriteByte('\n')
		buf.Write(data)
		buf.WriteByte('\n')
	}

	return c.bulk(ctx, &buf, index, docType)
}

func (c *Elastic) bulk(ctx context.Context, buf *bytes.Buffer, index, docType string) (UploadResult, error) {
	var (
		result UploadResult
		blk    BulkResp
	)

	res, err := c.es.Bulk(
		bytes.NewReader(buf.Bytes()),
		c.es.Bulk.WithContext(ctx),
		c.es.Bulk.WithIndex(index),
		c.es.Bulk.WithDocumentType(docType),
	)
	// If the whole request failed, the batch failed
	if err := checkElasticResp(res, err); err != nil {
		return result, goerr.Wrap(err, "failure indexing batch", goerr.V("index", index))
	}
	defer res.Body.Close()

	if err := json.NewDecoder(res.Body).Decode(&blk); err != nil {
		return result, goerr.Wrap(err, "failure to parse response body", goerr.V("index", index))
	}

	// A successful response might still contain errors for particular documents
	for _, d := range blk.Items {
		if d.Index.Status > 201 {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("[%d] %s: %s: %s: %s: %s",
				d.Index.Status,
				d.Index.ID,
				d.Index.Error.Type,
				d.Index.Error.Reason,
				d.Index.Error.Cause.Type,
				d.Index.Error.Cause.Reason,
			))
		} else {
			result.Succeeded++
		}
	}
	result.Errors = firstErrors(result.Errors, 10)
	return result, nil
}
