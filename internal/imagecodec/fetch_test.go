package imagecodec

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestEncodeFromRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.png":
			w.Header().Set("content-type", "application/octet-stream")
			_, _ = w.Write(pngHeader)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client())

	got, err := f.EncodeFromRemote(context.Background(), srv.URL+"/ok.png")
	if err != nil {
		t.Fatalf("EncodeFromRemote: %v", err)
	}
	if !strings.HasPrefix(got, "data:image/png;base64,") {
		t.Fatalf("prefix: got=%q", got)
	}

	_, err = f.EncodeFromRemote(context.Background(), srv.URL+"/missing.png")
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("404: want *FetchError got=%v", err)
	}
	if !strings.Contains(fetchErr.Error(), "upload the image locally") {
		t.Fatalf("message should suggest local upload: %q", fetchErr.Error())
	}
}

func TestEncodeFromRemoteNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL + "/gone.png"
	srv.Close()

	_, err := NewFetcher(nil).EncodeFromRemote(context.Background(), url)
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("want *FetchError got=%v", err)
	}
	if fetchErr.URL != url {
		t.Fatalf("URL: want=%q got=%q", url, fetchErr.URL)
	}
}
