package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"index.html": {Data: []byte("<html>GyaanGuru</html>")},
		"app.js":     {Data: []byte("console.log('hi')")},
	}
}

func TestSPAHandlerServesFilesAndFallsBack(t *testing.T) {
	h := spaHandler(testFS())

	cases := []struct {
		path string
		want string
	}{
		{"/app.js", "console.log"},
		{"/", "GyaanGuru"},
		{"/session/0193abcd", "GyaanGuru"},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), tc.want) {
			t.Errorf("GET %s: got %d %q", tc.path, rr.Code, rr.Body.String())
		}
	}
}

func TestSPAHandlerLeavesServerRoutesAlone(t *testing.T) {
	h := spaHandler(testFS())

	for _, path := range []string{"/api/unknown", "/ws/sessions/x", "/files/missing.pdf"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusNotFound {
			t.Errorf("GET %s: expected 404, got %d", path, rr.Code)
		}
	}
}

func TestEmbeddedIndexExists(t *testing.T) {
	rr := httptest.NewRecorder()
	SPAHandler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "GyaanGuru") {
		t.Fatalf("expected embedded index, got %d", rr.Code)
	}
}
