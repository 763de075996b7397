package client

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/elastic/go-elasticsearch/v6/esapi"
)

type searchResponse struct {
	ScrollID string `json:"_scroll_id"`
	Took     int    `json:"took"`
	TimedOut bool   `json:"timed_out"`
	Hits     struct {
		MaxScore float64 `json:"max_score"`
		Total    int64   `json:"total"`
		Hits     []struct {
			ID     string                 `json:"_id"`
			Index  string                 `json:"_index"`
			Type   string                 `json:"_type"`
			Score  float64                `json:"_score"`
			Source map[string]interface{} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

type countResponse struct {
	Count int64 `json:"count"`
}

type BulkResp struct {
	Errors bool `json:"errors"`
	Items  []struct {
		Index struct {
			ID     string `json:"_id"`
			Result string `json:"result"`
			Status int    `json:"status"`
			Error  struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
				Cause  struct {
					Type   string `json:"type"`
					Reason string `json:"reason"`
				} `json:"caused_by"`
			} `json:"error"`
		} `json:"index"`
	} `json:"items"`
}

// Documents returns the hit sources with the document id stored under _id.
func (r *searchResponse) Documents() []Document {
	docs := make([]Document, 0, len(r.Hits.Hits))
	for _, hit := range r.Hits.Hits {
		doc := make(Document, len(hit.Source)+1)
		for k, v := range hit.Source {
			doc[k] = v
		}
		doc[elasticIDField] = hit.ID
		docs = append(docs, doc)
	}
	return docs
}

type elasticErrResp struct {
	Error struct {
		RootCause []struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"root_cause"`
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
	Status int `json:"status"`
}

func checkElasticResp(res *esapi.Response, eserr error) error {
	if eserr != nil {
		return eserr
	}

	if res.IsError() {
		defer res.Body.Close()
		var e elasticErrResp
		if err := json.NewDecoder(res.Body).Decode(&e); err != nil {
			return &StatusError{Code: res.StatusCode, Reason: res.Status()}
		}
		var rootCause []string
		for _, r := range e.Error.RootCause {
			rootCause = append(rootCause, fmt.Sprintf("%s: %s", r.Type, r.Reason))
		}
		if len(rootCause) == 0 {
			rootCause = append(rootCause, fmt.Sprintf("%s: %s", e.Error.Type, e.Error.Reason))
		}
		return &StatusError{Code: res.StatusCode, Reason: strings.Join(rootCause, "\n")}
	}
	return nil
}
