package fullpage

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/pagesnap/connectivity"
)

func TestHandlerCaptureAndView(t *testing.T) {
	h := newHarness(t, nil)
	router := connectivity.New()
	h.svc.RegisterConnectivity(router)
	srv := h.svc.Handler(router)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/capture", strings.NewReader(`{"url":"https://example.test/long"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("capture = %d: %s", rec.Code, rec.Body)
	}
	var resp struct {
		ID     string `json:"id"`
		Height int    `json:"height"`
		Viewer string `json:"viewer"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Height != 3000 {
		t.Fatalf("height = %d", resp.Height)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, resp.Viewer, nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `src="/screenshot/latest"`) {
		t.Fatalf("viewer = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/screenshot/latest?download=1", nil))
	if got := rec.Header().Get("Content-Disposition"); got != `attachment; filename="full_page_screenshot_2024-05-01T10-20-30.png"` {
		t.Fatalf("disposition = %q", got)
	}
	decodePNG(t, rec.Body.Bytes())

	// The action bridge reaches the same store.
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/actions/getBlobUrl", nil))
	var shotResp Screenshot
	if err := json.NewDecoder(rec.Body).Decode(&shotResp); err != nil {
		t.Fatal(err)
	}
	if shotResp.ID != resp.ID || !strings.HasPrefix(shotResp.DataURL, "data:image/png;base64,") {
		t.Fatalf("getBlobUrl = %+v", shotResp)
	}
}

func TestHandlerErrors(t *testing.T) {
	h := newHarness(t, nil)
	srv := h.svc.Handler(nil)
	id, _ := h.open(t)
	if _, err := h.svc.acquire(id); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		method, target, body string
		want                 int
	}{
		{http.MethodPost, "/api/capture", `{"tab_id":"` + id + `"}`, http.StatusConflict},
		{http.MethodPost, "/api/capture", `{"tab_id":"missing"}`, http.StatusNotFound},
		{http.MethodPost, "/api/capture", `{"url":"http://127.0.0.1:9000/admin"}`, http.StatusBadRequest},
		{http.MethodPost, "/api/capture", `{"url":"file:///etc/passwd"}`, http.StatusBadRequest},
		{http.MethodPost, "/api/keepalive/missing", "", http.StatusNotFound},
		{http.MethodPost, "/api/keepalive/" + id, "", http.StatusOK},
		{http.MethodGet, "/screenshot/latest", "", http.StatusNotFound},
		{http.MethodGet, "/api/stats", "", http.StatusOK},
	}
	for _, c := range cases {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest(c.method, c.target, strings.NewReader(c.body)))
		if rec.Code != c.want {
			t.Errorf("%s %s = %d, want %d: %s", c.method, c.target, rec.Code, c.want, rec.Body)
		}
	}
}
