// Package config carrega a configuração do gateway em camadas:
//
//  1. valores padrão (Default)
//  2. arquivo YAML opcional (ROMAP_CONFIG ou -config)
//  3. arquivo .env opcional (não sobrescreve o ambiente real)
//  4. variáveis de ambiente
//
// Os nomes históricos continuam valendo (PORT, LOCATIONIQ_API_KEY,
// ADMIN_USERNAME, ADMIN_PASSWORD). Qualquer outra chave pode vir como
// ROMAP_<SEÇÃO>__<CHAVE>, ex.: ROMAP_CACHE__MAX_ENTRIES=500.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	ConfigPathEnvVar = "ROMAP_CONFIG"
	envPrefix        = "ROMAP_"
)

type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Log         LogConfig         `koanf:"log"`
	Keys        KeysConfig        `koanf:"keys"`
	Quota       QuotaConfig       `koanf:"quota"`
	Gate        GateConfig        `koanf:"gate"`
	Burst       BurstConfig       `koanf:"burst"`
	Concurrency ConcurrencyConfig `koanf:"concurrency"`
	Cache       CacheConfig       `koanf:"cache"`
	Upstream    UpstreamConfig    `koanf:"upstream"`
	Watermark   WatermarkConfig   `koanf:"watermark"`
	Admin       AdminConfig       `koanf:"admin"`
	RequestLog  RequestLogConfig  `koanf:"request_log"`
	Redis       RedisConfig       `koanf:"redis"`
}

type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              int           `koanf:"port" validate:"min=1,max=65535"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
	// TrustProxy aplica X-Forwarded-For / X-Real-IP ao endereço do cliente.
	TrustProxy  bool     `koanf:"trust_proxy"`
	CORSOrigins []string `koanf:"cors_origins"`
}

func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

type LogConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"omitempty,oneof=json console"`
}

type KeysConfig struct {
	Backend   string `koanf:"backend" validate:"oneof=file badger"`
	Path      string `koanf:"path" validate:"required_if=Backend file"`
	BadgerDir string `koanf:"badger_dir" validate:"required_if=Backend badger"`
	// RefreshEvery relê a tabela para pegar mudanças do keyctl; 0 desliga.
	RefreshEvery time.Duration `koanf:"refresh_every" validate:"min=0"`
}

type QuotaConfig struct {
	DailyLimit int64  `koanf:"daily_limit" validate:"min=1"`
	Backend    string `koanf:"backend" validate:"oneof=memory redis"`
}

type GateConfig struct {
	// AllowBypass habilita ?direct=true sem credencial. Só para testes.
	AllowBypass    bool   `koanf:"allow_bypass"`
	SupportContact string `koanf:"support_contact"`
}

type BurstConfig struct {
	Enabled      bool          `koanf:"enabled"`
	RPS          float64       `koanf:"rps" validate:"gt=0"`
	Burst        int           `koanf:"burst" validate:"min=1"`
	IdleTTL      time.Duration `koanf:"idle_ttl"`
	CleanupEvery time.Duration `koanf:"cleanup_every"`
	RetryAfter   time.Duration `koanf:"retry_after"`
}

type ConcurrencyConfig struct {
	Max            int           `koanf:"max" validate:"min=0"`
	AcquireTimeout time.Duration `koanf:"acquire_timeout"`
}

type CacheConfig struct {
	Backend    string        `koanf:"backend" validate:"oneof=memory redis none"`
	TTL        time.Duration `koanf:"ttl" validate:"gt=0"`
	MaxEntries int           `koanf:"max_entries" validate:"min=0"`
}

type UpstreamConfig struct {
	BaseURL         string        `koanf:"base_url" validate:"url"`
	APIKey          string        `koanf:"api_key"`
	Timeout         time.Duration `koanf:"timeout" validate:"gt=0"`
	BreakerFailures uint32        `koanf:"breaker_failures"`
	BreakerCooldown time.Duration `koanf:"breaker_cooldown"`
}

type WatermarkConfig struct {
	Path string `koanf:"path"`
	Text string `koanf:"text"`
}

type AdminConfig struct {
	Username string `koanf:"username"`
	// Password em texto puro ou PasswordHash (bcrypt). Sem nenhum dos dois o
	// login de admin fica desligado.
	Password       string        `koanf:"password"`
	PasswordHash   string        `koanf:"password_hash"`
	SessionTTL     time.Duration `koanf:"session_ttl"`
	LoginPerMinute int           `koanf:"login_per_minute" validate:"min=1"`
	SecureCookie   bool          `koanf:"secure_cookie"`
}

func (a AdminConfig) Enabled() bool {
	return a.Username != "" && (a.Password != "" || a.PasswordHash != "")
}

type RequestLogConfig struct {
	Path          string        `koanf:"path"`
	Capacity      int           `koanf:"capacity" validate:"min=1"`
	FlushInterval time.Duration `koanf:"flush_interval"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	// Stats grava também as estatísticas de admissão no Redis.
	Stats bool `koanf:"stats"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              6218,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			CORSOrigins:       []string{"*"},
		},
		Log:  LogConfig{Level: "info", Format: "json"},
		Keys: KeysConfig{Backend: "file", Path: "keys/api_keys.json", BadgerDir: "data/keys", RefreshEvery: 15 * time.Second},
		Quota: QuotaConfig{
			DailyLimit: 1000,
			Backend:    "memory",
		},
		Gate: GateConfig{SupportContact: "contact@robloxbot.dpdns.org"},
		Burst: BurstConfig{
			Enabled:      true,
			RPS:          10,
			Burst:        20,
			IdleTTL:      15 * time.Minute,
			CleanupEvery: 2 * time.Minute,
			RetryAfter:   time.Second,
		},
		Concurrency: ConcurrencyConfig{Max: 32, AcquireTimeout: 2 * time.Second},
		Cache:       CacheConfig{Backend: "memory", TTL: time.Hour, MaxEntries: 5000},
		Upstream: UpstreamConfig{
			BaseURL:         "https://maps.locationiq.com/v3/staticmap",
			Timeout:         10 * time.Second,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
		Watermark: WatermarkConfig{Path: "robloxbot_map_api_final.png", Text: "RoMap API | Map data (c) LocationIQ, OpenStreetMap"},
		Admin: AdminConfig{
			Username:       "admin",
			SessionTTL:     time.Hour,
			LoginPerMinute: 10,
		},
		RequestLog: RequestLogConfig{Path: "logs/request_log.json", Capacity: 100, FlushInterval: 5 * time.Second},
		Redis:      RedisConfig{Addr: "localhost:6379"},
	}
}

// legacyEnv são os nomes de variável herdados da versão anterior do serviço.
var legacyEnv = map[string]string{
	"PORT":               "server.port",
	"HOST":               "server.host",
	"LOCATIONIQ_API_KEY": "upstream.api_key",
	"ADMIN_USERNAME":     "admin.username",
	"ADMIN_PASSWORD":     "admin.password",
	"REDIS_ADDR":         "redis.addr",
	"REDIS_PASSWORD":     "redis.password",
	"LOG_LEVEL":          "log.level",
	"LOG_FORMAT":         "log.format",
}

// envKey traduz o nome da variável para o caminho koanf; "" ignora a variável.
func envKey(name string) string {
	if k, ok := legacyEnv[name]; ok {
		return k
	}
	if !strings.HasPrefix(name, envPrefix) || name == ConfigPathEnvVar {
		return ""
	}
	rest := strings.ToLower(strings.TrimPrefix(name, envPrefix))
	return strings.ReplaceAll(rest, "__", ".")
}

// sliceKeys aceitam lista separada por vírgula vinda do ambiente.
var sliceKeys = []string{"server.cors_origins"}

// Load monta a configuração. path vazio usa ROMAP_CONFIG (se houver);
// dotenv vazio usa ".env".
func Load(path, dotenv string) (*Config, error) {
	if dotenv == "" {
		dotenv = ".env"
	}
	if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", dotenv, err)
	}

	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = os.Getenv(ConfigPathEnvVar)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	for _, key := range sliceKeys {
		if s, ok := k.Get(key).(string); ok {
			parts := strings.Split(s, ",")
			out := make([]string, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			if err := k.Set(key, out); err != nil {
				return nil, fmt.Errorf("set %s: %w", key, err)
			}
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.NeedsRedis() && c.Redis.Addr == "" {
		return errors.New("invalid config: redis.addr is required by a redis backend")
	}
	return nil
}

// NeedsRedis diz se algum componente foi configurado para usar Redis.
func (c *Config) NeedsRedis() bool {
	return c.Quota.Backend == "redis" || c.Cache.Backend == "redis" || c.Redis.Stats
}
