package blobstore

import (
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

const azureStorageVersion = "2020-10-02"

// Azure talks to an Azure Blob Storage container through its REST API. The
// container URL carries a SAS token granting list, read, write and delete.
type Azure struct {
	container *url.URL
	http      *http.Client
}

var _ Store = &Azure{}

type azureListResult struct {
	Blobs []struct {
		Name       string `xml:"Name"`
		Properties struct {
			LastModified  string `xml:"Last-Modified"`
			ContentLength int64  `xml:"Content-Length"`
		} `xml:"Properties"`
	} `xml:"Blobs>Blob"`
	NextMarker string `xml:"NextMarker"`
}

// NewAzure creates a store for the container addressed by sasURL. A nil
// client means http.DefaultClient.
func NewAzure(sasURL string, client *http.Client) (*Azure, error) {
	u, err := url.Parse(sasURL)
	if err != nil {
		return nil, goerr.Wrap(err, "invalid container url")
	}
	if u.Host == "" || strings.Trim(u.Path, "/") == "" {
		return nil, goerr.New("container url must name a container", goerr.V("url", u.Redacted()))
	}
	if client == nil {
		client = http.DefaultClient
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	return &Azure{container: u, http: client}, nil
}

func (a *Azure) blobURL(name string) string {
	u := *a.container
	u.Path = a.container.Path + "/" + name
	u.RawPath = a.container.EscapedPath() + "/" + url.PathEscape(name)
	return u.String()
}

func (a *Azure) do(ctx context.Context, method, target string, body []byte, hdr map[string]string) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build request")
	}
	req.Header.Set("x-ms-version", azureStorageVersion)
	req.Header.Set("x-ms-date", time.Now().UTC().Format(http.TimeFormat))
	for k, v := range hdr {
		req.Header.Set(k, v)
	}

	res, err := a.http.Do(req)
	if err != nil {
		return nil, unavailable(err, "blob request failed", goerr.V("method", method))
	}
	return res, nil
}

func statusError(res *http.Response, msg, name string) error {
	b, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	cause := goerr.New(res.Status, goerr.V("body", string(b)))
	return unavailable(cause, msg, goerr.V("blob", name), goerr.V("status", res.StatusCode))
}

func (a *Azure) Exists(ctx context.Context, name string) (bool, error) {
	res, err := a.do(ctx, http.MethodHead, a.blobURL(name), nil, nil)
	if err != nil {
		return false, err
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, statusError(res, "failed to get blob properties", name)
}

func (a *Azure) Read(ctx context.Context, name string) ([]byte, error) {
	res, err := a.do(ctx, http.MethodGet, a.blobURL(name), nil, nil)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, notFound(name)
	}
	if res.StatusCode != http.StatusOK {
		return nil, statusError(res, "failed to download blob", name)
	}

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, unavailable(err, "failed to download blob", goerr.V("blob", name))
	}
	return data, nil
}

func (a *Azure) Write(ctx context.Context, name string, data []byte) error {
	res, err := a.do(ctx, http.MethodPut, a.blobURL(name), data, map[string]string{
		"x-ms-blob-type": "BlockBlob",
		"Content-Type":   "application/json",
	})
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusCreated && res.StatusCode != http.StatusOK {
		return statusError(res, "failed to upload blob", name)
	}
	return nil
}

func (a *Azure) Delete(ctx context.Context, name string) (bool, error) {
	res, err := a.do(ctx, http.MethodDelete, a.blobURL(name), nil, nil)
	if err != nil {
		return false, err
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusAccepted, http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, statusError(res, "failed to delete blob", name)
}

func (a *Azure) List(ctx context.Context, prefix string) ([]Blob, error) {
	var (
		blobs  []Blob
		marker string
	)

	for {
		u := *a.container
		q := u.Query()
		q.Set("restype", "container")
		q.Set("comp", "list")
		if prefix != "" {
			q.Set("prefix", prefix)
		}
		if marker != "" {
			q.Set("marker", marker)
		}
		u.RawQuery = q.Encode()

		page, err := a.listPage(ctx, u.String())
		if err != nil {
			return nil, err
		}

		for _, b := range page.Blobs {
			modified, err := time.Parse(time.RFC1123, b.Properties.LastModified)
			if err != nil {
				modified = time.Time{}
			}
			blobs = append(blobs, Blob{Name: b.Name, Length: b.Properties.ContentLength, LastModified: modified})
		}

		if page.NextMarker == "" {
			break
		}
		marker = page.NextMarker
	}

	sort.Slice(blobs, func(i, j int) bool { return blobs[i].Name < blobs[j].Name })
	return blobs, nil
}

func (a *Azure) listPage(ctx context.Context, target string) (*azureListResult, error) {
	res, err := a.do(ctx, http.MethodGet, target, nil, nil)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, statusError(res, "failed to list blobs", "")
	}

	var page azureListResult
	if err := xml.NewDecoder(res.Body).Decode(&page); err != nil {
		return nil, unavailable(err, "failed to parse blob listing")
	}
	return &page, nil
}

func (a *Azure) Close() error {
	return nil
}
