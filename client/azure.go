package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/ll2l/indexcopy/bookmarks"
)

const azureAPIVersion = "2020-06-30"

// Azure is a Backend for an Azure Cognitive Search service using its REST API.
type Azure struct {
	endpoint *url.URL
	apiKey   string
	http     *http.Client
	Alias    string
}

var _ Backend = &Azure{}

// NewAzure creates a REST client for conf.Service, which is either a bare
// service name or a full endpoint URL. A nil client means http.DefaultClient.
func NewAzure(conf bookmarks.Bookmark, client *http.Client) (*Azure, error) {
	endpoint := conf.Service
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint + ".search.windows.net"
	}
	u, err := url.Parse(strings.TrimSuffix(endpoint, "/"))
	if err != nil {
		return nil, goerr.Wrap(err, "invalid search service endpoint", goerr.V("service", conf.Service))
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Azure{endpoint: u, apiKey: conf.APIKey, http: client, Alias: conf.Alias}, nil
}

func (c *Azure) url(segments ...string) string {
	u := *c.endpoint
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	u.Path = c.endpoint.Path + "/" + strings.Join(segments, "/")
	u.RawPath = c.endpoint.EscapedPath() + "/" + strings.Join(escaped, "/")
	u.RawQuery = url.Values{"api-version": {azureAPIVersion}}.Encode()
	return u.String()
}

// send performs a request and returns the response when its status is one of
// ok. Any other status is returned as a *StatusError.
func (c *Azure) send(ctx context.Context, method, target string, body []byte, ok ...int) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build request")
	}
	req.Header.Set("api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	for _, code := range ok {
		if res.StatusCode == code {
			return res, nil
		}
	}
	defer res.Body.Close()

	var e struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	reason := res.Status
	if b, err := io.ReadAll(io.LimitReader(res.Body, 1<<16)); err == nil {
		if json.Unmarshal(b, &e) == nil && e.Error.Message != "" {
			reason = e.Error.Message
		} else if len(b) > 0 {
			reason = string(b)
		}
	}
	return nil, &StatusError{Code: res.StatusCode, Reason: reason}
}

func (c *Azure) Ping(ctx context.Context) error {
	res, err := c.send(ctx, http.MethodGet, c.url("servicestats"), nil, http.StatusOK)
	if err != nil {
		return goerr.Wrap(err, "search service is not reachable", goerr.V("service", c.endpoint.Host))
	}
	res.Body.Close()
	return nil
}

func (c *Azure) GetSchema(ctx context.Context, index string) (*Schema, error) {
	res, err := c.send(ctx, http.MethodGet, c.url("indexes", index), nil, http.StatusOK)
	if err != nil {
		if se, ok := err.(*StatusError); ok && se.Code == http.StatusNotFound {
			return nil, goerr.Wrap(ErrIndexNotFound, "failed to get index", goerr.V("index", index))
		}
		return nil, goerr.Wrap(err, "failed to get index", goerr.V("index", index))
	}
	defer res.Body.Close()

	var def map[string]interface{}
	if err := decodeJSON(res.Body, &def); err != nil {
		return nil, goerr.Wrap(err, "failed to parse index definition", goerr.V("index", index))
	}
	for k := range def {
		if strings.HasPrefix(k, "@odata.") {
			delete(def, k)
		}
	}

	raw, _ := def["fields"].([]interface{})
	return &Schema{
		Name:       index,
		Kind:       bookmarks.KindAzure,
		Fields:     azureFields("", raw),
		Definition: def,
	}, nil
}

func azureFields(prefix string, raw []interface{}) []Field {
	var fields []Field
	for _, r := range raw {
		f, ok := r.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := f["name"].(string)
		typ, _ := f["type"].(string)
		key, _ := f["key"].(bool)
		retrievable := true
		if v, ok := f["retrievable"].(bool); ok {
			retrievable = v
		}
		fields = append(fields, Field{Name: prefix + name, Type: typ, Key: key, Retrievable: retrievable})
		if sub, ok := f["fields"].([]interface{}); ok {
			fields = append(fields, azureFields(prefix+name+"/", sub)...)
		}
	}
	return fields
}

// applyFields writes the retrievable flags of fields into a raw field list.
func applyFields(prefix string, raw []interface{}, fields map[string]Field) {
	for _, r := range raw {
		f, ok := r.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := f["name"].(string)
		if field, ok := fields[prefix+name]; ok {
			if _, complex := f["fields"]; !complex {
				f["retrievable"] = field.Retrievable
			}
		}
		if sub, ok := f["fields"].([]interface{}); ok {
			applyFields(prefix+name+"/", sub, fields)
		}
	}
}

func (c *Azure) PutSchema(ctx context.Context, schema *Schema) error {
	def := schema.Copy().Definition
	if def == nil {
		def = map[string]interface{}{}
	}
	def["name"] = schema.Name

	byName := make(map[string]Field, len(schema.Fields))
	for _, f := range schema.Fields {
		byName[f.Name] = f
	}
	raw, _ := def["fields"].([]interface{})
	applyFields("", raw, byName)

	body, err := json.Marshal(def)
	if err != nil {
		return goerr.Wrap(err, "cannot marshal index definition", goerr.V("index", schema.Name))
	}

	res, err := c.send(ctx, http.MethodPut, c.url("indexes", schema.Name), body,
		http.StatusOK, http.StatusCreated, http.StatusNoContent)
	if err != nil {
		return goerr.Wrap(err, "failed to create or update index", goerr.V("index", schema.Name))
	}
	res.Body.Close()
	return nil
}

func (c *Azure) DeleteIndex(ctx context.Context, index string) error {
	res, err := c.send(ctx, http.MethodDelete, c.url("indexes", index), nil,
		http.StatusNoContent, http.StatusOK, http.StatusNotFound)
	if err != nil {
		return goerr.Wrap(err, "failed to delete index", goerr.V("index", index))
	}
	res.Body.Close()
	return nil
}

type azureSearchRequest struct {
	Search     string `json:"search"`
	SearchMode string `json:"searchMode"`
	Count      bool   `json:"count,omitempty"`
	Top        int    `json:"top"`
	Skip       int    `json:"skip,omitempty"`
}

type azureSearchResponse struct {
	Count *int64     `json:"@odata.count"`
	Value []Document `json:"value"`
}

func (c *Azure) search(ctx context.Context, index string, q azureSearchRequest) (*azureSearchResponse, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, goerr.Wrap(err, "cannot marshal search request")
	}

	res, err := c.send(ctx, http.MethodPost, c.url("indexes", index, "docs", "search"), body, http.StatusOK)
	if err != nil {
		if se, ok := err.(*StatusError); ok && se.Code == http.StatusNotFound {
			return nil, goerr.Wrap(ErrIndexNotFound, "search failed", goerr.V("index", index))
		}
		return nil, goerr.Wrap(err, "search failed", goerr.V("index", index), goerr.V("skip", q.Skip))
	}
	defer res.Body.Close()

	var r azureSearchResponse
	if err := decodeJSON(res.Body, &r); err != nil {
		return nil, goerr.Wrap(err, "error parsing the response body", goerr.V("index", index))
	}
	return &r, nil
}

func (c *Azure) Count(ctx context.Context, index string) (int64, error) {
	r, err := c.search(ctx, index, azureSearchRequest{Search: "*", SearchMode: "all", Count: true, Top: 0})
	if err != nil {
		return 0, err
	}
	if r.Count == nil {
		return 0, goerr.New("search response has no count", goerr.V("index", index))
	}
	return *r.Count, nil
}

// Page strips the @search annotations the service adds to every result.
func (c *Azure) Page(ctx context.Context, index string, skip, top int) ([]Document, error) {
	r, err := c.search(ctx, index, azureSearchRequest{Search: "*", SearchMode: "all", Top: top, Skip: skip})
	if err != nil {
		return nil, err
	}
	for _, doc := range r.Value {
		for k := range doc {
			if strings.HasPrefix(k, "@search.") {
				delete(doc, k)
			}
		}
	}
	return r.Value, nil
}

type azureIndexResponse struct {
	Value []struct {
		Key          string `json:"key"`
		Status       bool   `json:"status"`
		ErrorMessage string `json:"errorMessage"`
		StatusCode   int    `json:"statusCode"`
	} `json:"value"`
}

// Upload posts the batch as is. A 207 response means some documents failed.
func (c *Azure) Upload(ctx context.Context, index string, batch []byte) (UploadResult, error) {
	var result UploadResult

	res, err := c.send(ctx, http.MethodPost, c.url("indexes", index, "docs", "index"), batch,
		http.StatusOK, http.StatusMultiStatus)
	if err != nil {
		return result, goerr.Wrap(err, "failed to upload documents", goerr.V("index", index))
	}
	defer res.Body.Close()

	var r azureIndexResponse
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return result, goerr.Wrap(err, "error parsing the response body", goerr.V("index", index))
	}

	for _, item := range r.Value {
		if item.Status {
			result.Succeeded++
			continue
		}
		result.Failed++
		result.Errors = append(result.Errors, fmt.Sprintf("[%d] %s: %s", item.StatusCode, item.Key, item.ErrorMessage))
	}
	result.Errors = firstErrors(result.Errors, 10)
	return result, nil
}
