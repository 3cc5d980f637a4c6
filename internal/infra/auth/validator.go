package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/purposegate/internal/domain"
)

// AppIDExtractor - Identity Extractor: заголовок Authorization -> id вызывающего приложения.
type AppIDExtractor interface {
	ExtractAppID(ctx context.Context, authorization string) (string, error)
}

// KeyProvider отдает публичный ключ для проверки подписи по kid из заголовка токена.
type KeyProvider interface {
	PublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// StaticKey один PEM ключ из конфига, kid игнорируется.
type StaticKey struct {
	Key *rsa.PublicKey
}

func (s StaticKey) PublicKey(context.Context, string) (*rsa.PublicKey, error) {
	if s.Key == nil {
		return nil, errors.New("static public key is not configured")
	}
	return s.Key, nil
}

type ValidatorOptions struct {
	Audience string        // пусто - aud не проверяем
	Issuer   string        // пусто - iss не проверяем
	Leeway   time.Duration // допуск на рассинхрон часов
	Claims   ClaimNames
}

// Validator проверяет подпись (RS256/384/512), exp, aud, iss - и только потом смотрит claims.
// Любая ошибка проверки превращается в ErrUnresolvableIdentity.
type Validator struct {
	keys   KeyProvider
	parser *jwt.Parser
	claims ClaimNames
}

func NewValidator(keys KeyProvider, opts ValidatorOptions) *Validator {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(opts.Leeway),
	}
	if opts.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(opts.Audience))
	}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}
	if opts.Claims.Primary == "" {
		opts.Claims = DefaultClaimNames()
	}

	return &Validator{
		keys:   keys,
		parser: jwt.NewParser(parserOpts...),
		claims: opts.Claims,
	}
}

func (v *Validator) ExtractAppID(ctx context.Context, authorization string) (string, error) {
	raw, err := BearerToken(authorization)
	if err != nil {
		return "", err
	}

	claims := jwt.MapClaims{}
	_, err = v.parser.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		kid, _ := token.Header["kid"].(string)
		return v.keys.PublicKey(ctx, kid)
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrUnresolvableIdentity, err)
	}

	return appIDFromClaims(claims, v.claims)
}

// Decoder читает claims БЕЗ проверки подписи.
// Любой может подделать appid. Включается только явно (auth.mode=decode) для стендов.
type Decoder struct {
	parser *jwt.Parser
	claims ClaimNames
}

func NewDecoder(claims ClaimNames) *Decoder {
	if claims.Primary == "" {
		claims = DefaultClaimNames()
	}
	return &Decoder{parser: jwt.NewParser(), claims: claims}
}

func (d *Decoder) ExtractAppID(_ context.Context, authorization string) (string, error) {
	raw, err := BearerToken(authorization)
	if err != nil {
		return "", err
	}

	claims := jwt.MapClaims{}
	if _, _, err := d.parser.ParseUnverified(raw, claims); err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrUnresolvableIdentity, err)
	}
	return appIDFromClaims(claims, d.claims)
}

// ParseRSAPublicKey превращает PEM в объект для проверки подписи
func ParseRSAPublicKey(data []byte) (*rsa.PublicKey, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("public key data is empty")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return key, nil
}

// IsVerificationFailure true, если токен был, но не прошел проверку (формат, подпись, ключ, exp/aud/iss).
// Отличает поддельный или протухший токен от валидного токена без нужного claim.
func IsVerificationFailure(err error) bool {
	return errors.Is(err, jwt.ErrTokenMalformed) ||
		errors.Is(err, jwt.ErrTokenUnverifiable) ||
		errors.Is(err, jwt.ErrTokenSignatureInvalid) ||
		errors.Is(err, jwt.ErrTokenInvalidClaims)
}
