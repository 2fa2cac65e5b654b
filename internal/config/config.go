package config

import (
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env        string `yaml:"env" env-default:"local"`
	App        `yaml:"app"`
	Tokens     `yaml:"tokens"`
	RabbitMQ   `yaml:"rabbitmq"`
	Postgres   `yaml:"postgres"`
	Email      `yaml:"email"`
	HTTPServer `yaml:"http_server"`
}

type App struct {
	// BaseURL is the public address embedded into verification and
	// password reset links.
	BaseURL                 string `yaml:"base_url" env-required:"true"`
	RejectUnchangedPassword bool   `yaml:"reject_unchanged_password" env-default:"false"`
}

type HTTPServer struct {
	Address     string        `yaml:"address" env-default:"localhost:8080"`
	Timeout     time.Duration `yaml:"timeout" env-default:"4s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
}

type Postgres struct {
	Host     string `yaml:"host" env-default:"postgres"`
	Port     int    `yaml:"port" env-default:"5432"`
	User     string `yaml:"user" env-required:"true"`
	Password string `yaml:"password" env-required:"true"`
	DBName   string `yaml:"dbname" env-required:"true"`
	SSLMode  string `yaml:"sslmode" env-default:"disable"`
}

type Tokens struct {
	AccessTokenTTL    time.Duration `yaml:"access_token_ttl" env-default:"24h"`
	AccessTokenSecret string        `yaml:"access_token_secret" env-required:"true"`
	ResetTokenTTL     time.Duration `yaml:"reset_token_ttl" env-default:"15m"`
}

type RabbitMQ struct {
	URL       string `yaml:"url" env-required:"true"`
	QueueName string `yaml:"queue_name" env-required:"true"`
}

type Email struct {
	Host     string `yaml:"host" env-default:"localhost"`
	Port     int    `yaml:"port" env-default:"587"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

func MustLoad(configPath string) *Config {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		panic("Config file does not exist: " + configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		panic("Failed to read config: " + err.Error())
	}

	return &cfg
}
