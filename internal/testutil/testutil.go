// Package testutil provides shared helpers for exercising debug HTTP routes
// in tests.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

// LoopbackAddr is the RemoteAddr given to requests built here. tsweb only
// serves /debug/ routes to loopback and tailnet clients.
const LoopbackAddr = "127.0.0.1:12345"

// LocalRequest creates an httptest request that appears to come from localhost.
func LocalRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = LoopbackAddr
	return req
}

// ServeLocal sends a loopback request through h.
func ServeLocal(h http.Handler, method, path string, body io.Reader) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, LocalRequest(method, path, body))
	return w
}

// PostForm sends a loopback form-encoded POST through h.
func PostForm(h http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	req := LocalRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// AssertStatusCode checks that the response status code matches expected,
// printing the body on mismatch.
func AssertStatusCode(t testing.TB, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Errorf("status code = %d, want %d. Body: %s", w.Code, want, w.Body.String())
	}
}
