package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config es la configuración completa de tourneyd.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Closure  ClosureConfig  `yaml:"closure"`
	Deposit  DepositConfig  `yaml:"deposit"`
	Chain    ChainConfig    `yaml:"chain"`
	Cooldown CooldownConfig `yaml:"cooldown"`
	Events   EventsConfig   `yaml:"events"`
	Storage  StorageConfig  `yaml:"storage"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig controla la API HTTP.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	JWTSecret string `yaml:"jwt_secret"` // compartido con el servicio que emite los tokens
}

// ClosureConfig controla el escaneo de torneos expirados.
type ClosureConfig struct {
	ScanIntervalSeconds int `yaml:"scan_interval_seconds"`
	Workers             int `yaml:"workers"` // 0 = NumCPU*2
}

// DepositConfig controla la reconciliación de depósitos.
type DepositConfig struct {
	CooldownSeconds   int   `yaml:"cooldown_seconds"`
	RPCTimeoutSeconds int   `yaml:"rpc_timeout_seconds"`
	TokenDecimals     int32 `yaml:"token_decimals"` // si el contrato no responde a decimals()
}

// ChainConfig lista las redes EVM de las que se leen saldos.
type ChainConfig struct {
	Networks []NetworkConfig `yaml:"networks"`
}

// NetworkConfig es un endpoint RPC por red.
type NetworkConfig struct {
	Name       string  `yaml:"name"`
	RPCURL     string  `yaml:"rpc_url"`
	RatePerSec float64 `yaml:"rate_per_sec"`
}

// CooldownConfig elige dónde viven las ventanas de cooldown.
type CooldownConfig struct {
	Backend  string `yaml:"backend"` // memory | redis
	RedisURL string `yaml:"redis_url"`
	Prefix   string `yaml:"prefix"`
}

// EventsConfig controla la publicación de eventos de cierre y depósito.
type EventsConfig struct {
	NATSURL       string `yaml:"nats_url"` // vacío = sin NATS
	SubjectPrefix string `yaml:"subject_prefix"`
	Console       bool   `yaml:"console"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Las variables de entorno sobreescriben los valores del YAML.
// Un path vacío arranca solo con entorno y defaults.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// ScanInterval devuelve el intervalo de escaneo como time.Duration.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Closure.ScanIntervalSeconds) * time.Second
}

// DepositCooldown devuelve la ventana de cooldown de reconciliación.
func (c *Config) DepositCooldown() time.Duration {
	return time.Duration(c.Deposit.CooldownSeconds) * time.Second
}

// RPCTimeout devuelve el tope de una lectura de saldos.
func (c *Config) RPCTimeout() time.Duration {
	return time.Duration(c.Deposit.RPCTimeoutSeconds) * time.Second
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	overrides := []struct {
		env string
		dst *string
	}{
		{"LOG_LEVEL", &cfg.Log.Level},
		{"LOG_FORMAT", &cfg.Log.Format},
		{"TOURNEYD_DSN", &cfg.Storage.DSN},
		{"TOURNEYD_JWT_SECRET", &cfg.Server.JWTSecret},
		{"TOURNEYD_HTTP_ADDR", &cfg.Server.Addr},
		{"TOURNEYD_NATS_URL", &cfg.Events.NATSURL},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = v
		}
	}
	// Con URL de Redis el backend pasa a ser redis salvo que el YAML diga otra cosa.
	if v := os.Getenv("TOURNEYD_REDIS_URL"); v != "" {
		cfg.Cooldown.RedisURL = v
		if cfg.Cooldown.Backend == "" {
			cfg.Cooldown.Backend = "redis"
		}
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Closure.ScanIntervalSeconds <= 0 {
		cfg.Closure.ScanIntervalSeconds = 60
	}
	if cfg.Deposit.CooldownSeconds <= 0 {
		cfg.Deposit.CooldownSeconds = 5
	}
	if cfg.Deposit.RPCTimeoutSeconds <= 0 {
		cfg.Deposit.RPCTimeoutSeconds = 10
	}
	if cfg.Deposit.TokenDecimals <= 0 {
		cfg.Deposit.TokenDecimals = 18
	}
	for i := range cfg.Chain.Networks {
		if cfg.Chain.Networks[i].RatePerSec <= 0 {
			cfg.Chain.Networks[i].RatePerSec = 5
		}
	}
	if cfg.Cooldown.Backend == "" {
		cfg.Cooldown.Backend = "memory"
	}
	if cfg.Cooldown.Prefix == "" {
		cfg.Cooldown.Prefix = "tourneyd:cooldown:"
	}
	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "tourneyd"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "tourneyd.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func (c *Config) validate() error {
	var problems []string
	switch c.Cooldown.Backend {
	case "memory":
	case "redis":
		if c.Cooldown.RedisURL == "" {
			problems = append(problems, "cooldown.redis_url is required for the redis backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("cooldown.backend %q must be memory or redis", c.Cooldown.Backend))
	}
	seen := make(map[string]bool)
	for i, n := range c.Chain.Networks {
		name := strings.ToUpper(n.Name)
		if name == "" || n.RPCURL == "" {
			problems = append(problems, fmt.Sprintf("chain.networks[%d]: name and rpc_url are required", i))
		}
		if seen[name] {
			problems = append(problems, fmt.Sprintf("chain.networks[%d]: duplicate network %q", i, n.Name))
		}
		seen[name] = true
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
