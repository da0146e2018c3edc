package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/middleware"

	"github.com/frahmantamala/skillpay-gateway/pkg/logger"
)

const (
	maxLoggedBody = 64 << 10
	filtered      = "[FILTERED]"
)

// secretKeys never reach the logs: gateway credentials, ciphertexts, payer
// payment links and operator credentials. Keys are compared lower-cased.
var secretKeys = map[string]struct{}{
	"authkey":        {},
	"auth_key":       {},
	"encdata":        {},
	"respdata":       {},
	"qrstring":       {},
	"authorization":  {},
	"cookie":         {},
	"set-cookie":     {},
	"password":       {},
	"password_hash":  {},
	"access_token":   {},
	"jwt_secret":     {},
	"x-api-key":      {},
	"operator_token": {},
}

var secretFragments = []string{"password", "secret", "token"}

// payerKeys are kept but partially masked.
var payerKeys = map[string]func(string) string{
	"contactno": maskContactNo,
	"emailid":   maskEmail,
}

// LoggingMiddleware logs one line per request at a level matching the status.
// Request and response bodies, redacted, are added at debug level.
func LoggingMiddleware(base *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lg := logger.FromOr(r.Context(), base)
			withBodies := lg.Enabled(r.Context(), slog.LevelDebug)

			var reqBody []byte
			if withBodies && r.Body != nil {
				reqBody = peekBody(r)
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			respBody := &cappedBuffer{limit: maxLoggedBody}
			if withBodies {
				ww.Tee(respBody)
			}

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"query", redactValues(r.URL.Query()),
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", r.RemoteAddr,
			}
			if withBodies {
				attrs = append(attrs,
					"headers", redactValues(url.Values(r.Header)),
					"request_body", redactBody(r.Header.Get("Content-Type"), reqBody),
					"response_body", redactBody(ww.Header().Get("Content-Type"), respBody.Bytes()))
			}

			lg.Log(r.Context(), levelFor(status), "http request", attrs...)
		})
	}
}

func levelFor(status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

// peekBody reads up to maxLoggedBody bytes and puts them back in front of
// whatever the handler has not read yet.
func peekBody(r *http.Request) []byte {
	prefix, _ := io.ReadAll(io.LimitReader(r.Body, maxLoggedBody))
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(prefix), r.Body), r.Body}
	return prefix
}

// cappedBuffer keeps the first limit bytes written to it and drops the rest.
type cappedBuffer struct {
	bytes.Buffer
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.Len(); room > 0 {
		if len(p) > room {
			b.Buffer.Write(p[:room])
		} else {
			b.Buffer.Write(p)
		}
	}
	return len(p), nil
}

func redactField(key, value string) string {
	lower := strings.ToLower(key)
	if isSecret(lower) {
		return filtered
	}
	if mask, ok := payerKeys[lower]; ok {
		return mask(value)
	}
	return value
}

func isSecret(lowerKey string) bool {
	if _, ok := secretKeys[lowerKey]; ok {
		return true
	}
	for _, fragment := range secretFragments {
		if strings.Contains(lowerKey, fragment) {
			return true
		}
	}
	return false
}

func redactValues(values url.Values) map[string]string {
	out := make(map[string]string, len(values))
	for key, vals := range values {
		out[key] = redactField(key, strings.Join(vals, ", "))
	}
	return out
}

// redactBody renders a JSON or form body with secrets removed. Other bodies
// are reported by size only.
func redactBody(contentType string, body []byte) any {
	if len(body) == 0 {
		return ""
	}

	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "application/x-www-form-urlencoded" {
		values, err := url.ParseQuery(string(body))
		if err == nil {
			return redactValues(values)
		}
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return "[" + strconv.Itoa(len(body)) + " bytes]"
	}
	return redactJSON(doc)
}

func redactJSON(v any) any {
	switch node := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(node))
		for key, value := range node {
			lower := strings.ToLower(key)
			switch {
			case isSecret(lower):
				out[key] = filtered
			case payerKeys[lower] != nil:
				s, _ := value.(string)
				out[key] = payerKeys[lower](s)
			default:
				out[key] = redactJSON(value)
			}
		}
		return out
	case []any:
		out := make([]any, len(node))
		for i, item := range node {
			out[i] = redactJSON(item)
		}
		return out
	}
	return v
}

// maskContactNo keeps the last four digits.
func maskContactNo(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}

// maskEmail keeps the first character of the local part and the domain.
func maskEmail(s string) string {
	at := strings.LastIndex(s, "@")
	if at <= 0 {
		return strings.Repeat("*", len(s))
	}
	return s[:1] + "***" + s[at:]
}
