package auth

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// maxTokenBody bounds how much of a request body is inspected for a token.
const maxTokenBody = 4 << 10

// Middleware authenticates HTTP requests. The token is read from the
// Authorization header, then the "token" query parameter, then a "token"
// field in a JSON or form body. Beacon requests cannot set headers, which is
// why the body is consulted at all.
func (t *Tokens) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := t.Verify(TokenFromRequest(r))
		if err != nil {
			http.Error(w, `{"error":"unauthenticated"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID)))
	})
}

// TokenFromRequest extracts a session token without consuming the body.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return bearer(h)
	}
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	if r.Body == nil || r.Method == http.MethodGet {
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxTokenBody))
	if err != nil {
		return ""
	}
	r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(body), r.Body))

	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		r2 := r.Clone(r.Context())
		r2.Body = io.NopCloser(bytes.NewReader(body))
		if err := r2.ParseForm(); err == nil {
			return r2.PostForm.Get("token")
		}
		return ""
	}

	// beacons usually arrive as text/plain carrying JSON
	var payload struct {
		Token string `json:"token"`
	}
	if json.Unmarshal(body, &payload) == nil {
		return payload.Token
	}
	return ""
}
