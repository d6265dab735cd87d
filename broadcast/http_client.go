package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pickme-go/errors"
)

// HTTPClient is a Registry backed by a remote MakeEndpoints server.
type HTTPClient struct {
	base   string
	client *http.Client
}

func NewHTTPClient(baseURL string, client *http.Client) *HTTPClient {
	if client == nil {
		client = http.DefaultClient
	}

	return &HTTPClient{base: strings.TrimRight(baseURL, `/`), client: client}
}

func (c *HTTPClient) Register(ctx context.Context, name string, blob []byte) (Handle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		fmt.Sprintf(`%s/broadcasts/%s`, c.base, url.PathEscape(name)), bytes.NewReader(blob))
	if err != nil {
		return Handle{}, errors.WithPrevious(err, `cannot create register request`)
	}
	req.Header.Set(`Content-Type`, `application/octet-stream`)

	res, err := c.client.Do(req)
	if err != nil {
		return Handle{}, errors.WithPrevious(err, fmt.Sprintf(`cannot register broadcast [%s]`, name))
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusCreated {
		return Handle{}, remoteError(res)
	}

	h := Handle{}
	if err := json.NewDecoder(res.Body).Decode(&h); err != nil {
		return Handle{}, errors.WithPrevious(err, `invalid register response`)
	}

	return h, nil
}

func (c *HTTPClient) Fetch(ctx context.Context, h Handle) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf(`%s/broadcasts/%s/%s`, c.base, url.PathEscape(h.Name), url.PathEscape(h.ID)), nil)
	if err != nil {
		return nil, errors.WithPrevious(err, `cannot create fetch request`)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`cannot fetch broadcast %s`, h))
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, remoteError(res)
	}

	blob, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.WithPrevious(err, fmt.Sprintf(`cannot read broadcast %s`, h))
	}

	return blob, nil
}

func remoteError(res *http.Response) error {
	e := Err{}
	if err := json.NewDecoder(res.Body).Decode(&e); err != nil || e.Err == `` {
		return errors.New(fmt.Sprintf(`broadcast server responded %s`, res.Status))
	}

	return errors.New(fmt.Sprintf(`broadcast server responded %s: %s`, res.Status, e.Err))
}
