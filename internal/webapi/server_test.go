package webapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"banana-tryon/internal/gemini"
	"banana-tryon/internal/library"
	"banana-tryon/internal/storage"
	"banana-tryon/internal/wizard"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

type stubGenerator struct {
	result string
	err    error
}

func (g *stubGenerator) GenerateClothingImage(ctx context.Context, prompt string) (string, error) {
	return g.result, g.err
}

func (g *stubGenerator) GenerateTryOnImage(ctx context.Context, person, cloth string) (string, error) {
	return g.result, g.err
}

func newTestServer(t *testing.T, gen *stubGenerator) (*httptest.Server, *library.Store) {
	t.Helper()
	lib := library.New(library.Options{Backend: storage.NewMemory()})
	wiz := wizard.New(wizard.Options{Generator: gen, Library: lib})
	srv := New(Options{
		Wizard:  wiz,
		History: lib,
		Static:  fstest.MapFS{"index.html": {Data: []byte("<html>try-on</html>")}},
		Now:     func() time.Time { return time.UnixMilli(1700000000000) },
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, lib
}

func upload(t *testing.T, ts *httptest.Server, kind string, data []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("kind", kind); err != nil {
		t.Fatal(err)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="image"; filename="photo.png"`)
	h.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write(data)
	_ = mw.Close()

	resp, err := http.Post(ts.URL+"/api/upload", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return resp
}

func post(t *testing.T, ts *httptest.Server, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func decodeState(t *testing.T, resp *http.Response) stateResponse {
	t.Helper()
	defer resp.Body.Close()
	var out stateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func decodeError(t *testing.T, resp *http.Response) apiError {
	t.Helper()
	defer resp.Body.Close()
	var out apiError
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return out
}

func TestWizardFlowOverHTTP(t *testing.T) {
	result := "data:image/png;base64,T0s="
	ts, lib := newTestServer(t, &stubGenerator{result: result})

	resp := post(t, ts, "/api/next", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("next without person: want=%d got=%d", http.StatusBadRequest, resp.StatusCode)
	}
	if e := decodeError(t, resp); e.Error != wizard.MsgNeedPerson || e.State == nil || e.State.Step != wizard.StepSelectPerson {
		t.Fatalf("error body: got=%+v", e)
	}

	resp = upload(t, ts, "person", pngHeader)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload person: status=%d", resp.StatusCode)
	}
	up := decodeState(t, resp)
	if up.Asset == nil || !strings.HasPrefix(up.Asset.URL, "data:image/png;base64,") {
		t.Fatalf("upload asset: got=%+v", up.Asset)
	}

	if st := decodeState(t, post(t, ts, "/api/next", "")); st.State.Step != wizard.StepSelectCloth {
		t.Fatalf("step after next: got=%v", st.State.Step)
	}

	resp = upload(t, ts, "cloth", pngHeader)
	cloth := decodeState(t, resp)

	resp = post(t, ts, "/api/next", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("try-on: status=%d", resp.StatusCode)
	}
	st := decodeState(t, resp)
	if st.State.Step != wizard.StepResult || st.State.ResultImage != result {
		t.Fatalf("result state: got=%+v", st.State)
	}

	history := lib.History()
	if len(history) != 1 || history[0].PersonImage != up.Asset.URL || history[0].ClothImage != cloth.Asset.URL {
		t.Fatalf("history: got=%+v", history)
	}

	hresp, err := http.Get(ts.URL + "/api/history")
	if err != nil {
		t.Fatal(err)
	}
	defer hresp.Body.Close()
	var items []map[string]any
	if err := json.NewDecoder(hresp.Body).Decode(&items); err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0]["resultImage"] != result {
		t.Fatalf("history body: got=%v", items)
	}
}

func TestTryOnGenerationFailure(t *testing.T) {
	ts, lib := newTestServer(t, &stubGenerator{err: gemini.ErrRefused})

	_ = upload(t, ts, "person", pngHeader).Body.Close()
	_ = upload(t, ts, "cloth", pngHeader).Body.Close()

	resp := post(t, ts, "/api/tryon", "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("try-on at person step: want=%d got=%d", http.StatusConflict, resp.StatusCode)
	}
	resp.Body.Close()

	_ = post(t, ts, "/api/next", "").Body.Close()
	resp = post(t, ts, "/api/tryon", "")
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status: want=%d got=%d", http.StatusBadGateway, resp.StatusCode)
	}
	e := decodeError(t, resp)
	if e.Error != wizard.MsgTryOnFailed {
		t.Fatalf("error: got=%q", e.Error)
	}
	if len(lib.History()) != 0 {
		t.Fatal("history must stay empty")
	}

	st := decodeState(t, post(t, ts, "/api/dismiss", ""))
	if st.State.Message != "" {
		t.Fatal("dismiss did not clear the message")
	}
}

func TestSelectAndLibraries(t *testing.T) {
	ts, _ := newTestServer(t, &stubGenerator{})

	up := decodeState(t, upload(t, ts, "cloth", pngHeader))

	resp, err := http.Get(ts.URL + "/api/libraries")
	if err != nil {
		t.Fatal(err)
	}
	var libs librariesResponse
	if err := json.NewDecoder(resp.Body).Decode(&libs); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if len(libs.Persons) != 0 || len(libs.Cloths) != 1 || libs.Cloths[0].ID != up.Asset.ID {
		t.Fatalf("libraries: got=%+v", libs)
	}

	st := decodeState(t, post(t, ts, "/api/select", `{"kind":"cloth","id":"`+up.Asset.ID+`"}`))
	if st.State.SelectedClothID != up.Asset.ID {
		t.Fatalf("select: got=%+v", st.State)
	}

	resp = post(t, ts, "/api/select", `{"kind":"person","id":"nope"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown id: status=%d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = post(t, ts, "/api/select", `{"kind":"shoe","id":"x"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad kind: status=%d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestGenerateClothEndpoint(t *testing.T) {
	ts, lib := newTestServer(t, &stubGenerator{result: "data:image/png;base64,Q0xPVEg="})

	st := decodeState(t, post(t, ts, "/api/cloth/generate", `{"prompt":"blue denim jacket"}`))
	if st.Asset == nil || !st.Asset.IsGenerated || st.State.SelectedClothID != st.Asset.ID {
		t.Fatalf("generate: got=%+v", st)
	}
	if len(lib.Cloths()) != 1 {
		t.Fatal("generated cloth not stored")
	}

	st = decodeState(t, post(t, ts, "/api/cloth/generate", `{"prompt":"  "}`))
	if st.Asset != nil || len(lib.Cloths()) != 1 {
		t.Fatal("blank prompt must be ignored")
	}
}

func TestDownload(t *testing.T) {
	ts, lib := newTestServer(t, &stubGenerator{result: "data:image/png;base64,T0s="})

	resp, err := http.Get(ts.URL + "/api/download")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("download without result: status=%d", resp.StatusCode)
	}

	_ = upload(t, ts, "person", pngHeader).Body.Close()
	_ = post(t, ts, "/api/next", "").Body.Close()
	_ = upload(t, ts, "cloth", pngHeader).Body.Close()
	_ = post(t, ts, "/api/tryon", "").Body.Close()

	for _, path := range []string{"/api/download", "/api/download?history=" + lib.History()[0].ID} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		var body bytes.Buffer
		_, _ = body.ReadFrom(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: status=%d", path, resp.StatusCode)
		}
		if got := resp.Header.Get("Content-Disposition"); got != `attachment; filename="ai-try-on-1700000000000.png"` {
			t.Fatalf("%s: content-disposition=%q", path, got)
		}
		if resp.Header.Get("Content-Type") != "image/png" || body.String() != "OK" {
			t.Fatalf("%s: type=%q body=%q", path, resp.Header.Get("Content-Type"), body.String())
		}
	}

	resp, err = http.Get(ts.URL + "/api/download?history=missing")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown history: status=%d", resp.StatusCode)
	}
}

func TestMethodAndStatic(t *testing.T) {
	ts, _ := newTestServer(t, &stubGenerator{})

	resp, err := http.Get(ts.URL + "/api/next")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET /api/next: status=%d", resp.StatusCode)
	}

	resp = post(t, ts, "/api/state", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("POST /api/state: status=%d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	var body bytes.Buffer
	_, _ = body.ReadFrom(resp.Body)
	resp.Body.Close()
	if !strings.Contains(body.String(), "try-on") {
		t.Fatalf("static index: got=%q", body.String())
	}
}

func TestUploadRejections(t *testing.T) {
	ts, _ := newTestServer(t, &stubGenerator{})

	resp := upload(t, ts, "hat", pngHeader)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad kind: status=%d", resp.StatusCode)
	}

	resp = upload(t, ts, "person", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty upload: status=%d", resp.StatusCode)
	}
	if e := decodeError(t, resp); e.Error != wizard.MsgReadFailed {
		t.Fatalf("empty upload: error=%q", e.Error)
	}
}

func TestRequestIDHeader(t *testing.T) {
	ts, _ := newTestServer(t, &stubGenerator{})

	resp, err := http.Get(ts.URL + "/api/state")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if len(resp.Header.Get("X-Request-Id")) != 36 {
		t.Fatalf("generated request id: got=%q", resp.Header.Get("X-Request-Id"))
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/state", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.Header.Get("X-Request-Id") != "abc-123" {
		t.Fatalf("propagated request id: got=%q", resp.Header.Get("X-Request-Id"))
	}
}

func TestRequestContextTimeout(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/tryon", nil)

	ctx, cancel := New(Options{}).requestContext(req)
	defer cancel()
	if _, ok := ctx.Deadline(); ok {
		t.Fatal("zero timeout must leave the request unbounded")
	}

	ctx, cancel = New(Options{RequestTimeout: time.Minute}).requestContext(req)
	defer cancel()
	if _, ok := ctx.Deadline(); !ok {
		t.Fatal("configured timeout must set a deadline")
	}
}
