// Package imagehost uploads product images to the external image host and removes them.
package imagehost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/joao-fontenele/threadline/internal/domain"
)

const deleteConcurrency = 4

type Client struct {
	baseURL    string
	apiKey     string
	folder     string
	httpClient *http.Client
}

func NewClient(baseURL, apiKey, folder string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		folder:     folder,
		httpClient: httpClient,
	}
}

type Uploaded struct {
	URL      string `json:"url"`
	PublicID string `json:"public_id"`
}

func upstream(op string, cause error) error {
	return errors.Wrap(fmt.Errorf("%w: %v", domain.ErrUpstream, cause), op)
}

func (c *Client) Upload(ctx context.Context, filename string, file io.Reader) (Uploaded, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if c.folder != "" {
		if err := mw.WriteField("folder", c.folder); err != nil {
			return Uploaded{}, err
		}
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return Uploaded{}, err
	}
	if _, err := io.Copy(part, file); err != nil {
		return Uploaded{}, errors.Wrap(err, "read upload")
	}
	if err := mw.Close(); err != nil {
		return Uploaded{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload", &buf)
	if err != nil {
		return Uploaded{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out Uploaded
	if err := c.do(req, &out); err != nil {
		return Uploaded{}, upstream("upload image", err)
	}
	if out.URL == "" || out.PublicID == "" {
		return Uploaded{}, upstream("upload image", fmt.Errorf("response missing url or public id"))
	}
	return out, nil
}

func (c *Client) Delete(ctx context.Context, publicID string) error {
	data, err := json.Marshal(map[string]string{"public_id": publicID})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/destroy", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	if err := c.do(req, nil); err != nil {
		return upstream("delete image "+publicID, err)
	}
	return nil
}

// DeleteAll removes every image, a few at a time. It attempts all of them and returns
// the first failure.
func (c *Client) DeleteAll(ctx context.Context, publicIDs []string) error {
	var g errgroup.Group
	g.SetLimit(deleteConcurrency)

	for _, id := range publicIDs {
		if id == "" {
			continue
		}
		g.Go(func() error {
			return c.Delete(ctx, id)
		})
	}

	return g.Wait()
}

func (c *Client) do(req *http.Request, out any) error {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("image host returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
