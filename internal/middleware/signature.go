// Package middleware содержит HTTP middleware сервиса.
package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
)

// SignatureHeader задаёт заголовок с HMAC-SHA256 подписью тела запроса.
const SignatureHeader = "X-Signature"

const maxSignedBodySize = 1 << 20

// SignatureMiddleware проверяет, что тело запроса подписано общим с хост-системой секретом.
type SignatureMiddleware struct {
	secretKey []byte
}

// NewSignatureMiddleware создаёт новый экземпляр SignatureMiddleware с указанным секретным ключом.
// Пустой секрет заменяется случайным, и подписанные запросы становятся невозможны до настройки.
func NewSignatureMiddleware(secret string) *SignatureMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &SignatureMiddleware{
		secretKey: key,
	}
}

// Middleware проверяет подпись и передаёт запрос дальше с восстановленным телом.
func (s *SignatureMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature := strings.TrimSpace(r.Header.Get(SignatureHeader))
		if signature == "" {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		var body []byte
		if r.Body != nil {
			var err error
			body, err = io.ReadAll(io.LimitReader(r.Body, maxSignedBodySize))
			r.Body.Close()
			if err != nil {
				http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
				return
			}
		}

		if !s.Verify(body, signature) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

// Sign возвращает подпись тела в шестнадцатеричном виде.
func (s *SignatureMiddleware) Sign(body []byte) string {
	mac := hmac.New(sha256.New, s.secretKey)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify сравнивает подпись с ожидаемой за постоянное время.
func (s *SignatureMiddleware) Verify(body []byte, signature string) bool {
	expected := s.Sign(body)
	return hmac.Equal([]byte(strings.ToLower(signature)), []byte(expected))
}
