package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/zhouzirui/timetravel/backend/pkg/utils"
)

// BotTokenHeader carries the shared bot credential.
const BotTokenHeader = "X-Bot-Token"

// BotToken rejects requests whose X-Bot-Token header does not match token.
// An empty token disables the check.
func BotToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		expected := []byte(token)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get(BotTokenHeader))
			if subtle.ConstantTimeCompare(got, expected) != 1 {
				utils.RespondError(w, http.StatusUnauthorized, "invalid bot token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
