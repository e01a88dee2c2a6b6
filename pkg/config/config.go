package config

import (
	"strings"
	"time"

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
		NodeID       int64         `mapstructure:"NODE_ID"`
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
	Momo struct {
		BaseURL       string        `mapstructure:"BASE_URL"`
		APIKey        string        `mapstructure:"API_KEY"`
		WebhookSecret string        `mapstructure:"WEBHOOK_SECRET"`
		Timeout       time.Duration `mapstructure:"TIMEOUT"`
	} `mapstructure:"MOMO"`
	TokenWallet struct {
		BaseURL     string        `mapstructure:"BASE_URL"`
		BearerToken string        `mapstructure:"BEARER_TOKEN"`
		Timeout     time.Duration `mapstructure:"TIMEOUT"`
	} `mapstructure:"TOKEN_WALLET"`
	Settlement struct {
		PlatformFeePercent  int64 `mapstructure:"PLATFORM_FEE_PERCENT"`
		MinWithdrawalAmount int64 `mapstructure:"MIN_WITHDRAWAL_AMOUNT"`
		WeeklyPassPrice     int64 `mapstructure:"WEEKLY_PASS_PRICE"`
	} `mapstructure:"SETTLEMENT"`
	Subscription struct {
		PassWindow  time.Duration `mapstructure:"PASS_WINDOW"`
		TrialWindow time.Duration `mapstructure:"TRIAL_WINDOW"`
		GraceWindow time.Duration `mapstructure:"GRACE_WINDOW"`
	} `mapstructure:"SUBSCRIPTION"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

func LoadConfig() (*Config, error) {
	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	setDefaults(config)

	if err := config.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		zap.L().Warn("config.yaml not found, using environment and defaults")
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "wekapay-settlement")

	v.SetDefault("HTTP_SERVER.ADDR", ":8080")
	v.SetDefault("HTTP_SERVER.NODE_ID", 1)
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)

	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.SSLMODE", "disable")

	v.SetDefault("REDIS.ADDR", "127.0.0.1:6379")
	v.SetDefault("REDIS.POOL_SIZE", 10)
	v.SetDefault("REDIS.POOL_TIMEOUT", 30*time.Second)

	v.SetDefault("MOMO.TIMEOUT", 10*time.Second)
	v.SetDefault("TOKEN_WALLET.TIMEOUT", 10*time.Second)

	v.SetDefault("SETTLEMENT.PLATFORM_FEE_PERCENT", 15)
	v.SetDefault("SETTLEMENT.MIN_WITHDRAWAL_AMOUNT", 1000)
	v.SetDefault("SETTLEMENT.WEEKLY_PASS_PRICE", 2500)

	v.SetDefault("SUBSCRIPTION.PASS_WINDOW", 7*24*time.Hour)
	v.SetDefault("SUBSCRIPTION.TRIAL_WINDOW", 7*24*time.Hour)
	v.SetDefault("SUBSCRIPTION.GRACE_WINDOW", 3*24*time.Hour)
}
