package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/purposegate/internal/domain"
)

// ClaimNames откуда брать идентичность приложения.
// Azure AD: v1 токены несут appid, v2 - azp.
type ClaimNames struct {
	Primary string
	Alias   string
}

func DefaultClaimNames() ClaimNames {
	return ClaimNames{Primary: "appid", Alias: "azp"}
}

// appIDFromClaims сначала основной claim, потом алиас. Отсутствующий, пустой или не-строковый
// claim считается отсутствующим. Значение дальше используется только для сравнения на равенство.
func appIDFromClaims(claims jwt.MapClaims, names ClaimNames) (string, error) {
	for _, name := range []string{names.Primary, names.Alias} {
		if name == "" {
			continue
		}
		if v, ok := claims[name].(string); ok && v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: neither %q nor %q claim present", domain.ErrUnresolvableIdentity, names.Primary, names.Alias)
}
