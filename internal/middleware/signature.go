// Package middleware содержит HTTP middleware сервиса мем-кредитов.
package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
)

// SignatureHeader содержит подпись тела вебхука платёжного провайдера.
const SignatureHeader = "X-Payment-Signature"

// SignatureMiddleware проверяет HMAC-SHA256 подпись тела запроса.
// Неподписанные и неверно подписанные события отклоняются до того,
// как обработчик успеет изменить состояние.
type SignatureMiddleware struct {
	secretKey []byte
}

// NewSignatureMiddleware создаёт новый экземпляр SignatureMiddleware с указанным секретом.
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

// Middleware сверяет подпись из заголовка с подписью тела запроса
// и передаёт запрос дальше с восстановленным телом.
func (m *SignatureMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature := r.Header.Get(SignatureHeader)
		if signature == "" {
			http.Error(w, "missing signature", http.StatusBadRequest)
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		r.Body.Close()

		if !m.verify(body, signature) {
			http.Error(w, "invalid signature", http.StatusBadRequest)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

// Sign возвращает hex-подпись тела. Используется отправителем событий и тестами.
func (m *SignatureMiddleware) Sign(body []byte) string {
	mac := hmac.New(sha256.New, m.secretKey)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (m *SignatureMiddleware) verify(body []byte, signature string) bool {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, m.secretKey)
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}
