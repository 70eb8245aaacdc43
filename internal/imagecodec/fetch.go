package imagecodec

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

const maxRemoteImageBytes = 25 << 20

// FetchError reports that a remote image could not be loaded. Nothing is
// retried; the user is pointed at a local upload instead.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("could not load image %s due to a network or cross-origin restriction; upload the image locally instead: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

type Fetcher struct {
	httpClient *http.Client
}

func NewFetcher(httpClient *http.Client) *Fetcher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Fetcher{httpClient: httpClient}
}

func (f *Fetcher) EncodeFromRemote(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", &FetchError{URL: url, Err: err}
	}
	req.Header.Set("accept", "image/*")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", &FetchError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &FetchError{URL: url, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteImageBytes))
	if err != nil {
		return "", &FetchError{URL: url, Err: err}
	}
	if len(data) == 0 {
		return "", &FetchError{URL: url, Err: fmt.Errorf("empty body")}
	}

	return Encode(DetectMimeType(data, resp.Header.Get("content-type")), data), nil
}
