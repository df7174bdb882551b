package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StorageInmem    = "inmem"
	StoragePostgres = "postgres"

	CacheInmem = "inmem"
	CacheRedis = "redis"
)

type (
	Config struct {
		Env             string // DEV (local; default), TEST, QA, PROD
		Build           string
		Debug           bool
		TestMode        bool
		AppName         string
		SecretKey       string
		FromEmail       string
		FromName        string
		FrontendBaseURL string
		WorkDir         string
		Storage         string
		SendgridApiKey  string
		RollbarToken    string

		Server       ServerConfig
		Database     DatabaseConfig
		Cache        CacheConfig
		Matching     MatchingConfig
		Notification NotificationConfig
	}

	ServerConfig struct {
		Host                      string
		DebugHost                 string
		ReadTimeout               time.Duration
		WriteTimeout              time.Duration
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	CacheConfig struct {
		Backend   string
		TTL       time.Duration
		RedisAddr string
		RedisPwd  string
		RedisDB   int
	}

	MatchingConfig struct {
		MinGroupSize int
		MaxGroupSize int
	}

	NotificationConfig struct {
		RetryInterval time.Duration
		MaxAttempts   int
		SendRate      float64 // emails per second
		SendBurst     int
	}
)

func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *Config) DefaultFromEmail() mail.Address {
	return mail.Address{Name: c.FromName, Address: c.FromEmail}
}

// NewConfig loads the configuration from defaults, the optional `config/.env.<env>` file and the environment.
// Environment variables are prefixed with the upper-cased env name, e.g. DEV_SECRETKEY.
func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("build", "develop")
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("appName", "GruppenSchlau")
	v.SetDefault("secretKey", "n4c2-hilfe)gr$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	v.SetDefault("fromEmail", "noreply@localhost")
	v.SetDefault("fromName", "GruppenSchlau")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("storage", StorageInmem)
	v.SetDefault("sendgridApiKey", "")
	v.SetDefault("rollbarToken", "")

	v.SetDefault("serverHost", ":8000")
	v.SetDefault("serverDebugHost", ":4000")
	v.SetDefault("serverReadTimeout", 5*time.Second)
	v.SetDefault("serverWriteTimeout", 10*time.Second)
	v.SetDefault("serverShutdownTimeout", 5*time.Second)
	v.SetDefault("jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("jwtRefreshExpirationDelta", 4*time.Hour)

	v.SetDefault("dbEngine", "postgres")
	v.SetDefault("dbHost", "localhost")
	v.SetDefault("dbPort", 5432)
	v.SetDefault("dbName", "gruppenschlau")
	v.SetDefault("dbUser", "gruppenschlau")
	v.SetDefault("dbPassword", "")
	v.SetDefault("dbAdminUser", "postgres")
	v.SetDefault("dbAdminPassword", "")
	v.SetDefault("dbDisableTLS", true)

	v.SetDefault("cacheBackend", CacheInmem)
	v.SetDefault("cacheTTL", 5*time.Minute)
	v.SetDefault("redisAddr", "localhost:6379")
	v.SetDefault("redisPassword", "")
	v.SetDefault("redisDB", 0)

	v.SetDefault("matchingMinGroupSize", 2)
	v.SetDefault("matchingMaxGroupSize", 5)

	v.SetDefault("notificationRetryInterval", time.Minute)
	v.SetDefault("notificationMaxAttempts", 5)
	v.SetDefault("notificationSendRate", 10.0)
	v.SetDefault("notificationSendBurst", 5)

	env := strings.ToUpper(os.Getenv("ENV"))
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	case "QA", "PROD":
		v.SetDefault("debug", false)
	}
	v.SetEnvPrefix(env)

	workDir := Getwd()

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(workDir, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	return &Config{
		Env:             env,
		Build:           v.GetString("build"),
		Debug:           v.GetBool("debug"),
		TestMode:        v.GetBool("testMode"),
		AppName:         v.GetString("appName"),
		SecretKey:       v.GetString("secretKey"),
		FromEmail:       v.GetString("fromEmail"),
		FromName:        v.GetString("fromName"),
		FrontendBaseURL: v.GetString("frontendBaseURL"),
		WorkDir:         workDir,
		Storage:         v.GetString("storage"),
		SendgridApiKey:  v.GetString("sendgridApiKey"),
		RollbarToken:    v.GetString("rollbarToken"),
		Server: ServerConfig{
			Host:                      v.GetString("serverHost"),
			DebugHost:                 v.GetString("serverDebugHost"),
			ReadTimeout:               v.GetDuration("serverReadTimeout"),
			WriteTimeout:              v.GetDuration("serverWriteTimeout"),
			ShutdownTimeout:           v.GetDuration("serverShutdownTimeout"),
			JWTExpirationDelta:        v.GetDuration("jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("jwtRefreshExpirationDelta"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("dbEngine"),
			Host:          v.GetString("dbHost"),
			Port:          v.GetInt("dbPort"),
			Name:          v.GetString("dbName"),
			User:          v.GetString("dbUser"),
			Password:      v.GetString("dbPassword"),
			AdminUser:     v.GetString("dbAdminUser"),
			AdminPassword: v.GetString("dbAdminPassword"),
			DisableTLS:    v.GetBool("dbDisableTLS"),
		},
		Cache: CacheConfig{
			Backend:   v.GetString("cacheBackend"),
			TTL:       v.GetDuration("cacheTTL"),
			RedisAddr: v.GetString("redisAddr"),
			RedisPwd:  v.GetString("redisPassword"),
			RedisDB:   v.GetInt("redisDB"),
		},
		Matching: MatchingConfig{
			MinGroupSize: v.GetInt("matchingMinGroupSize"),
			MaxGroupSize: v.GetInt("matchingMaxGroupSize"),
		},
		Notification: NotificationConfig{
			RetryInterval: v.GetDuration("notificationRetryInterval"),
			MaxAttempts:   v.GetInt("notificationMaxAttempts"),
			SendRate:      v.GetFloat64("notificationSendRate"),
			SendBurst:     v.GetInt("notificationSendBurst"),
		},
	}
}

// NewTestConfig returns a Config suitable for tests: no .env lookup, test mode on.
func NewTestConfig() *Config {
	return &Config{
		Env:             "TEST",
		Build:           "test",
		Debug:           false,
		TestMode:        true,
		AppName:         "GruppenSchlau",
		SecretKey:       "secret",
		FromEmail:       "noreply@test.de",
		FromName:        "GruppenSchlau",
		FrontendBaseURL: "http://localhost:3000",
		WorkDir:         Getwd(),
		Storage:         StorageInmem,
		Server: ServerConfig{
			ShutdownTimeout:           time.Second,
			JWTExpirationDelta:        time.Hour,
			JWTRefreshExpirationDelta: 4 * time.Hour,
		},
		Cache:        CacheConfig{Backend: CacheInmem, TTL: time.Minute},
		Matching:     MatchingConfig{MinGroupSize: 2, MaxGroupSize: 5},
		Notification: NotificationConfig{RetryInterval: time.Second, MaxAttempts: 3, SendRate: 1000, SendBurst: 100},
	}
}
