package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	AuthModeVerify = "verify" // проверка подписи, exp, aud, iss
	AuthModeDecode = "decode" // только декодирование claims, подпись не проверяется. Небезопасно!
)

// Config - корневая структура конфигурации шлюза.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Admin    AdminConfig    `mapstructure:"admin"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Policies []PolicyConfig `mapstructure:"policies"`
}

// ServerConfig описывает настройки HTTP и gRPC серверов.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	GRPCAddr        string        `mapstructure:"grpc_addr"` // пусто - gRPC не поднимаем
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// AuthConfig настройки извлечения идентичности из Bearer-токена.
type AuthConfig struct {
	Mode          string        `mapstructure:"mode"`
	PublicKeyPath string        `mapstructure:"public_key_path"`
	JWKSURL       string        `mapstructure:"jwks_url"`
	JWKSTTL       time.Duration `mapstructure:"jwks_ttl"`
	Audience      string        `mapstructure:"audience"`
	Issuer        string        `mapstructure:"issuer"`
	Leeway        time.Duration `mapstructure:"leeway"`

	// Azure AD кладет id приложения в appid (v1) или azp (v2)
	AppIDClaim      string `mapstructure:"app_id_claim"`
	AppIDAliasClaim string `mapstructure:"app_id_alias_claim"`

	PublicKey []byte
}

// AdminConfig доступ к служебным ручкам. TokenHash - bcrypt хэш операторского токена.
type AdminConfig struct {
	TokenHash string `mapstructure:"token_hash"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub сигнал перезагрузки политик).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DatabaseConfig описывает подключение к PostgreSQL для аудита решений.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

type AuditConfig struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// PolicyConfig одна запись статической таблицы политик.
// В allowed_apps можно писать ${SCHEDULER_APPID} - подставится из окружения.
type PolicyConfig struct {
	Tool        string   `mapstructure:"tool"`
	AllowedApps []string `mapstructure:"allowed_apps"`
	Purpose     string   `mapstructure:"purpose"`
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
// path может быть пустым - тогда ищем config.yaml в . и ./configs
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	// AUTH_MODE=decode перекроет auth.mode
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет - работаем на ENV и дефолтах
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// Сначала проверяем, не лежит ли сам PEM-ключ в ENV (для Docker/K8s)
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.grpc_addr", "")
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("auth.mode", AuthModeVerify)
	v.SetDefault("auth.public_key_path", "")
	v.SetDefault("auth.jwks_url", "")
	v.SetDefault("auth.jwks_ttl", 15*time.Minute)
	v.SetDefault("auth.audience", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.leeway", 30*time.Second)
	v.SetDefault("auth.app_id_claim", "appid")
	v.SetDefault("auth.app_id_alias_claim", "azp")
	v.SetDefault("admin.token_hash", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("audit.buffer_size", 10000)
	v.SetDefault("audit.batch_size", 100)
	v.SetDefault("audit.flush_interval", 500*time.Millisecond)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

// Validate ловит конфигурации, с которыми шлюз не должен стартовать.
func (c *Config) Validate() error {
	switch c.Auth.Mode {
	case AuthModeVerify:
		if len(c.Auth.PublicKey) == 0 && c.Auth.JWKSURL == "" {
			return errors.New("config: auth.mode=verify requires auth.public_key_path, AUTH_PUBLIC_KEY_DATA or auth.jwks_url")
		}
	case AuthModeDecode:
	default:
		return fmt.Errorf("config: unknown auth.mode %q", c.Auth.Mode)
	}

	if c.Auth.AppIDClaim == "" {
		return errors.New("config: auth.app_id_claim must not be empty")
	}

	seen := make(map[string]struct{}, len(c.Policies))
	for i, p := range c.Policies {
		if p.Tool == "" {
			return fmt.Errorf("config: policies[%d]: tool is required", i)
		}
		if _, dup := seen[p.Tool]; dup {
			return fmt.Errorf("config: policies[%d]: duplicate tool %q", i, p.Tool)
		}
		seen[p.Tool] = struct{}{}
	}
	return nil
}

// loadKeyResource - PEM из ENV имеет приоритет над файлом
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
