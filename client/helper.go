package client

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
)

const matchAllQuery = `{ "query" : { "match_all" : {} } }`

func matchAll() io.Reader {
	return strings.NewReader(matchAllQuery)
}

// decodeJSON decodes r into v keeping numbers as json.Number so that large
// integers and decimals survive a copy unchanged.
func decodeJSON(r io.Reader, v interface{}) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return dec.Decode(v)
}

// batchDocuments parses the value array of a {"value": [...]} batch.
func batchDocuments(batch []byte) ([]Document, error) {
	var b struct {
		Value []Document `json:"value"`
	}
	if err := decodeJSON(bytes.NewReader(batch), &b); err != nil {
		return nil, err
	}
	return b.Value, nil
}

func firstErrors(errs []string, max int) []string {
	if len(errs) > max {
		return errs[:max]
	}
	return errs
}
