package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// JWKSOptions настройки клиента ключей IdP.
type JWKSOptions struct {
	TTL time.Duration
	// MinRefreshInterval ограничивает внеплановые refresh по неизвестному kid,
	// иначе мусорные токены превращаются в DoS на IdP.
	MinRefreshInterval time.Duration
	HTTPClient         *http.Client
	Logger             *zap.Logger
	OnBreakerState     func(open bool) // хук для метрик
}

// JWKSClient скачивает и кэширует RSA ключи с JWKS эндпоинта (Azure AD / Entra: .../discovery/v2.0/keys).
// Поход в IdP обернут так же, как вызовы коннекторов: limiter -> circuit breaker -> retry.
type JWKSClient struct {
	url    string
	ttl    time.Duration
	client *http.Client
	logger *zap.Logger

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time

	group   singleflight.Group
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker
}

func NewJWKSClient(url string, opts JWKSOptions) *JWKSClient {
	if opts.TTL <= 0 {
		opts.TTL = 15 * time.Minute
	}
	if opts.MinRefreshInterval <= 0 {
		opts.MinRefreshInterval = 10 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	logger := opts.Logger.Named("jwks")

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "jwks",
		MaxRequests: 1,
		Timeout:     30 * time.Second, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("jwks circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			if opts.OnBreakerState != nil {
				opts.OnBreakerState(to == gobreaker.StateOpen)
			}
		},
	})

	return &JWKSClient{
		url:     url,
		ttl:     opts.TTL,
		client:  opts.HTTPClient,
		logger:  logger,
		keys:    make(map[string]*rsa.PublicKey),
		limiter: rate.NewLimiter(rate.Every(opts.MinRefreshInterval), 1),
		cb:      cb,
	}
}

// PublicKey реализует KeyProvider.
// Свежий кэш + известный kid - из памяти. Протухший кэш - refresh.
// Неизвестный kid при свежем кэше - refresh не чаще MinRefreshInterval (ротация ключей).
// Если IdP недоступен, а ключ в кэше есть (пусть и протухший) - отдаем его.
func (c *JWKSClient) PublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	key, known := c.keys[kid]
	fresh := !c.fetchedAt.IsZero() && time.Since(c.fetchedAt) < c.ttl
	c.mu.RUnlock()

	if known && fresh {
		return key, nil
	}
	if fresh && !c.limiter.Allow() {
		return nil, fmt.Errorf("key %q not found in JWKS (refresh throttled)", kid)
	}

	if err := c.refresh(ctx); err != nil {
		if known {
			c.logger.Warn("jwks refresh failed, serving stale key", zap.String("kid", kid), zap.Error(err))
			return key, nil
		}
		return nil, fmt.Errorf("fetching JWKS: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok := c.keys[kid]
	if !ok {
		return nil, fmt.Errorf("key %q not found in JWKS", kid)
	}
	return key, nil
}

// refresh схлопывает параллельные обновления в один HTTP поход.
func (c *JWKSClient) refresh(ctx context.Context) error {
	// Отмена одного клиента не должна валить общий refresh для всех ждущих
	ctx = context.WithoutCancel(ctx)

	_, err, _ := c.group.Do("jwks", func() (interface{}, error) {
		return c.cb.Execute(func() (interface{}, error) {
			r := retry.New(
				retry.Context(ctx),
				retry.Attempts(3),
				// Умный расчет задержки
				retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
					// Если IdP вернул ThrottleError (считали Retry-After заголовок)
					var tErr *ThrottleError
					if errors.As(err, &tErr) {
						return tErr.RetryAfter
					}
					// В остальных случаях (сетевой лаг, 500-ка) - стандартный экспоненциальный бэкофф
					return retry.BackOffDelay(n, err, config)
				}),
			)
			return nil, r.Do(func() error {
				return c.fetch(ctx)
			})
		})
	})
	if errors.Is(err, gobreaker.ErrOpenState) {
		return fmt.Errorf("jwks endpoint unavailable: %w", err)
	}
	return err
}

func (c *JWKSClient) fetch(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("creating request for %s: %w", c.url, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", c.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("GET %s: status %d", c.url, resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
			if d, ok := retryAfter(resp.Header.Get("Retry-After"), time.Now()); ok {
				return &ThrottleError{RetryAfter: d, Cause: statusErr}
			}
		}
		return statusErr
	}

	var jwks struct {
		Keys []struct {
			Kid string `json:"kid"`
			Kty string `json:"kty"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return fmt.Errorf("decoding JWKS: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(jwks.Keys))
	for _, k := range jwks.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := parseJWKRSA(k.N, k.E)
		if err != nil {
			c.logger.Warn("skipping malformed JWK", zap.String("kid", k.Kid), zap.Error(err))
			continue
		}
		keys[k.Kid] = pub
	}

	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = time.Now()
	c.mu.Unlock()

	c.logger.Debug("jwks refreshed", zap.Int("keys", len(keys)))
	return nil
}

func parseJWKRSA(nStr, eStr string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nStr)
	if err != nil {
		return nil, fmt.Errorf("decoding n: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eStr)
	if err != nil {
		return nil, fmt.Errorf("decoding e: %w", err)
	}
	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)
	if n.Sign() == 0 || !e.IsInt64() || e.Int64() < 2 {
		return nil, errors.New("invalid RSA modulus or exponent")
	}
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}
