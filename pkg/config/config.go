package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	DB       DBConfig       `mapstructure:"db"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Bankfeed BankfeedConfig `mapstructure:"bankfeed"`
	Payment  PaymentConfig  `mapstructure:"payment"`
	Billing  BillingConfig  `mapstructure:"billing"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	HttpPort string `mapstructure:"http_port"`
}

type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	MQType   string `mapstructure:"mq_type"` // "redis" or "kafka"
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
}

// BankfeedConfig 银行数据聚合器配置
type BankfeedConfig struct {
	BaseURL       string `mapstructure:"base_url"` // 留空则进入模拟模式
	APIKey        string `mapstructure:"api_key"`
	WebhookSecret string `mapstructure:"webhook_secret"` // 回调签名共享密钥 (通常通过环境变量 BANKFEED_WEBHOOK_SECRET 传入)
	PageSize      int    `mapstructure:"page_size"`
	CredentialKey string `mapstructure:"credential_key"` // 凭证落库加密密钥 (32 字节)
}

// PaymentConfig 支付处理器配置
type PaymentConfig struct {
	BaseURL       string `mapstructure:"base_url"` // 留空则进入模拟模式
	APIKey        string `mapstructure:"api_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	Currency      string `mapstructure:"currency"` // 系统单币种
}

// BillingConfig 平台费与佣金配置
type BillingConfig struct {
	PlatformFeePercent string `mapstructure:"platform_fee_percent"` // 如 "2.5" 表示 2.5%
	CommissionPercent  string `mapstructure:"commission_percent"`   // 推荐佣金比例，按 Payout 净额计
	PayoutPeriodDays   int    `mapstructure:"payout_period_days"`
}

var Global Config

func Init() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// 环境变量设置
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 设置默认值
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Printf("Warning: Config file not found, using defaults and environment variables")
		} else {
			log.Fatalf("Fatal error config file: %s \n", err)
		}
	}

	if err := viper.Unmarshal(&Global); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}

	log.Printf("Configuration loaded successfully. Env: %s", Global.App.Env)
}

func setDefaults() {
	viper.SetDefault("app.env", "development")
	viper.SetDefault("app.http_port", "8080")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.user", "roundup_user")
	viper.SetDefault("db.password", "roundup_password")
	viper.SetDefault("db.name", "roundup_db")

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.mq_type", "redis")

	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})

	viper.SetDefault("bankfeed.page_size", 100)
	viper.SetDefault("payment.currency", "USD")

	viper.SetDefault("billing.platform_fee_percent", "2.5")
	viper.SetDefault("billing.commission_percent", "1.0")
	viper.SetDefault("billing.payout_period_days", 30)
}
