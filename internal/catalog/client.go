// Package catalog talks to the catalog's action API: resource lookup and
// patching, package lookup, and callback delivery.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Resource is the catalog's handle for one ingestible file.
type Resource struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Format    string `json:"format"`
	URLType   string `json:"url_type"`
	Hash      string `json:"hash"`
	PackageID string `json:"package_id"`
}

// DatastoreBacked reports whether the resource's own URL points back into
// the tabular store. Loading such a resource would be circular.
func (r *Resource) DatastoreBacked() bool {
	return r.URLType == "datastore"
}

// Package is the dataset a resource belongs to.
type Package struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Title string `json:"title"`
}

// Client calls the catalog action API with a service credential.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *slog.Logger
}

func NewClient(baseURL, apiKey string, log *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     log,
	}
}

// Credential returns the service credential used for catalog calls. The
// trigger layer forwards it to workers so their callbacks authenticate.
func (c *Client) Credential() string {
	return c.apiKey
}

type actionEnvelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Error   json.RawMessage `json:"error"`
}

// action posts params to one action endpoint and decodes the result
// envelope into out.
func (c *Client) action(ctx context.Context, name string, params, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", name, err)
	}

	url := fmt.Sprintf("%s/api/3/action/%s", c.baseURL, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building %s request: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("reading %s response: %w", name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned status %d: %s", name, resp.StatusCode, raw)
	}

	var envelope actionEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decoding %s response: %w", name, err)
	}
	if !envelope.Success {
		return fmt.Errorf("%s failed: %s", name, envelope.Error)
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("decoding %s result: %w", name, err)
		}
	}
	return nil
}

// ResourceShow looks up a resource by id.
func (c *Client) ResourceShow(ctx context.Context, id string) (*Resource, error) {
	var res Resource
	if err := c.action(ctx, "resource_show", map[string]string{"id": id}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ResourcePatch applies a partial update to a resource. Used to store the
// new content hash and flip the availability flag after a load.
func (c *Client) ResourcePatch(ctx context.Context, id string, patch map[string]any) error {
	params := map[string]any{"id": id}
	for k, v := range patch {
		params[k] = v
	}
	return c.action(ctx, "resource_patch", params, nil)
}

// PackageShow looks up the dataset a resource belongs to.
func (c *Client) PackageShow(ctx context.Context, id string) (*Package, error) {
	var pkg Package
	if err := c.action(ctx, "package_show", map[string]string{"id": id}, &pkg); err != nil {
		return nil, err
	}
	return &pkg, nil
}
