package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSignatureMiddleware_WithValidSignature(t *testing.T) {
	m := NewSignatureMiddleware("test-secret")
	body := `{"user_id":1}`

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		got, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		if string(got) != body {
			t.Fatalf("body = %q, want %q", got, body)
		}
	})

	r := httptest.NewRequest(http.MethodPost, "/protected", strings.NewReader(body))
	r.Header.Set(SignatureHeader, m.Sign([]byte(body)))

	handler := m.Middleware(next)
	handler.ServeHTTP(httptest.NewRecorder(), r)

	if !nextCalled {
		t.Fatalf("next handler was not called")
	}
}

func TestSignatureMiddleware_Rejects(t *testing.T) {
	m := NewSignatureMiddleware("test-secret")
	other := NewSignatureMiddleware("other-secret")

	tests := []struct {
		name      string
		signature string
	}{
		{name: "missing", signature: ""},
		{name: "garbage", signature: "abc"},
		{name: "other secret", signature: other.Sign([]byte("payload"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatalf("next handler should not be called")
			})

			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/protected", strings.NewReader("payload"))
			if tt.signature != "" {
				r.Header.Set(SignatureHeader, tt.signature)
			}

			m.Middleware(next).ServeHTTP(w, r)

			if w.Result().StatusCode != http.StatusUnauthorized {
				t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
			}
		})
	}
}

func TestSignatureMiddleware_EmptySecret(t *testing.T) {
	a := NewSignatureMiddleware("")
	b := NewSignatureMiddleware("")
	if a.Sign([]byte("x")) == b.Sign([]byte("x")) {
		t.Fatalf("empty secrets must be replaced by random keys")
	}
}
