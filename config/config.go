package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// DefaultJWTSecret is the development signing key. Release mode refuses it.
const DefaultJWTSecret = "default-secret-key-change-me"

type Config struct {
	Server   ServerConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Location *time.Location
	Seed     SeedConfig
}

type ServerConfig struct {
	Port    string
	GinMode string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type JWTConfig struct {
	Secret string
}

// SeedConfig names a teacher whose empty namespace gets demo data on start.
type SeedConfig struct {
	DemoTeacher string
}

// Load reads configuration from defaults, an optional .env file and
// ROLLBOOK_* environment variables (ROLLBOOK_REDIS_ADDR, ROLLBOOK_JWT_SECRET...).
func Load() (*Config, error) {
	envFile := os.Getenv("ROLLBOOK_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	} else {
		log.Printf("Warning: %s not found, using environment variables", envFile)
	}

	v := viper.New()
	v.SetDefault("port", "8080")
	v.SetDefault("ginMode", "debug")
	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 8)
	v.SetDefault("redis.prefix", "rollbook")
	v.SetDefault("jwt.secret", DefaultJWTSecret)
	v.SetDefault("timezone", "America/Argentina/Cordoba")
	v.SetDefault("seed.demoTeacher", "")

	v.SetEnvPrefix("rollbook")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	loc, err := time.LoadLocation(v.GetString("timezone"))
	if err != nil {
		return nil, err
	}

	secret := v.GetString("jwt.secret")
	if v.GetString("ginMode") == "release" && (secret == "" || secret == DefaultJWTSecret) {
		return nil, errors.New("ROLLBOOK_JWT_SECRET must be set in release mode")
	}

	return &Config{
		Server: ServerConfig{
			Port:    v.GetString("port"),
			GinMode: v.GetString("ginMode"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			Prefix:   v.GetString("redis.prefix"),
		},
		JWT: JWTConfig{
			Secret: secret,
		},
		Location: loc,
		Seed: SeedConfig{
			DemoTeacher: v.GetString("seed.demoTeacher"),
		},
	}, nil
}
