package auth

import (
	"strings"

	"github.com/xela07ax/purposegate/internal/domain"
)

// BearerToken достает токен из значения заголовка Authorization.
// Схема сравнивается без учета регистра (RFC 6750), пустой токен - то же самое, что его отсутствие.
func BearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", domain.ErrMissingCredential
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", domain.ErrMissingCredential
	}
	return token, nil
}
