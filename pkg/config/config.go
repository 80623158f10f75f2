package config

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/vault-client-go"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var config = viper.New()

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBName         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConn     int           `mapstructure:"MAX_OPEN_CONN"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Provider ProviderConfig `mapstructure:"PROVIDER"`
	Billing  struct {
		Currency                  string   `mapstructure:"CURRENCY"`
		DepositPercent            int64    `mapstructure:"DEPOSIT_PERCENT"`
		PlatformFeePercent        int64    `mapstructure:"PLATFORM_FEE_PERCENT"`
		SingleVisitThresholdCents int64    `mapstructure:"SINGLE_VISIT_THRESHOLD_CENTS"`
		SingleVisitCategories     []string `mapstructure:"SINGLE_VISIT_CATEGORIES"`
	} `mapstructure:"BILLING"`
	Vault struct {
		MountPath  string `mapstructure:"MOUNT_PATH"`
		SecretPath string `mapstructure:"SECRET_PATH"`
	} `mapstructure:"VAULT"`
}

// ProviderConfig holds the payment provider client settings; it is named so
// tests can construct one against a local double.
type ProviderConfig struct {
	BaseURL       string        `mapstructure:"BASE_URL"`
	APIKey        string        `mapstructure:"API_KEY"`
	WebhookSecret string        `mapstructure:"WEBHOOK_SECRET"`
	Timeout       time.Duration `mapstructure:"TIMEOUT"`
	MaxAttempts   int           `mapstructure:"MAX_ATTEMPTS"`
	RetryDelay    time.Duration `mapstructure:"RETRY_DELAY"`
	TrialDays     int           `mapstructure:"TRIAL_DAYS"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

type Params struct {
	fx.In
	Vault *vault.Client `optional:"true"`
}

func LoadConfig(p Params) *Config {
	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	setDefaults()

	if err := config.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			zap.L().Error("failed to read config file", zap.Error(err))
			os.Exit(1)
		}
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		zap.L().Error("failed to unmarshal config", zap.Error(err))
		os.Exit(1)
	}

	if p.Vault != nil {
		client := p.Vault
		ctx := context.Background()

		mount := cfg.Vault.MountPath
		if mount == "" {
			mount = "secret"
		}
		path := cfg.Vault.SecretPath
		if path == "" {
			path = cfg.AppEnv
		}

		secret, err := client.Secrets.KvV2Read(ctx, path, vault.WithMountPath(mount))
		if err != nil {
			zap.L().Error("failed get secret from vault", zap.Error(err))
			os.Exit(1)
		}

		get := func(key string) string {
			if val, ok := secret.Data.Data[key].(string); ok {
				return val
			}
			return ""
		}

		if v := get("postgres_user"); v != "" {
			cfg.Database.User = v
		}
		if v := get("postgres_password"); v != "" {
			cfg.Database.Password = v
		}
		if v := get("redis_password"); v != "" {
			cfg.Redis.Password = v
		}
		if v := get("provider_api_key"); v != "" {
			cfg.Provider.APIKey = v
		}
		if v := get("provider_webhook_secret"); v != "" {
			cfg.Provider.WebhookSecret = v
		}
	}

	return &cfg
}

func setDefaults() {
	config.SetDefault("APP_ENV", "development")
	config.SetDefault("APP_NAME", "painterhub-platform")
	config.SetDefault("HTTP_SERVER.ADDR", ":8080")
	config.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	config.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 15*time.Second)
	config.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)
	config.SetDefault("PROVIDER.TIMEOUT", 10*time.Second)
	config.SetDefault("PROVIDER.MAX_ATTEMPTS", 3)
	config.SetDefault("PROVIDER.RETRY_DELAY", 500*time.Millisecond)
	config.SetDefault("PROVIDER.TRIAL_DAYS", 14)
	config.SetDefault("BILLING.CURRENCY", "usd")
	config.SetDefault("BILLING.DEPOSIT_PERCENT", 15)
	config.SetDefault("BILLING.PLATFORM_FEE_PERCENT", 10)
	config.SetDefault("BILLING.SINGLE_VISIT_THRESHOLD_CENTS", 30000)
	config.SetDefault("BILLING.SINGLE_VISIT_CATEGORIES", []string{"touch_up", "consultation", "single_room"})
}
