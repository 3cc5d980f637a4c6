package auth

import (
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// NewAdminMiddleware закрывает служебные ручки операторским токеном.
// В конфиге хранится только bcrypt хэш, сам токен живет у оператора.
func NewAdminMiddleware(tokenHash string, logger *zap.Logger) func(http.Handler) http.Handler {
	hash := []byte(tokenHash)
	logger = logger.Named("admin-auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := BearerToken(r.Header.Get("Authorization"))
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if err := bcrypt.CompareHashAndPassword(hash, []byte(token)); err != nil {
				logger.Warn("admin auth failure", zap.String("remote", r.RemoteAddr))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
