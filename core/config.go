package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Host                      string
		DebugHost                 string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
		StreamHeartbeat           time.Duration
	}

	DatabaseConfig struct {
		Engine        string
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	VerificationConfig struct {
		TokenTTL time.Duration
		// ExposeResetToken echoes password reset tokens in API responses. Never enable it in production.
		ExposeResetToken bool
	}

	SupervisionConfig struct {
		MaxResearchers int
	}

	RedisConfig struct {
		Addr     string
		Password string
		Channel  string
	}

	MongoConfig struct {
		URI      string
		Database string
	}

	CalendarConfig struct {
		DisplayTimezone string
		ProductID       string
	}

	Config struct {
		Env                       string
		Debug                     bool
		TestMode                  bool
		AppName                   string
		Build                     string
		SecretKey                 string
		DefaultFromEmail          mail.Address
		FrontendBaseURL           string
		PasswordResetTimeoutDelta time.Duration
		RollbarToken              string
		SendgridApiKey            string

		Server       ServerConfig
		Database     DatabaseConfig
		Verification VerificationConfig
		Supervision  SupervisionConfig
		Redis        RedisConfig
		Mongo        MongoConfig
		Calendar     CalendarConfig
	}
)

func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// DisplayLocation is the timezone used to interpret date-only calendar bounds.
func (c CalendarConfig) DisplayLocation() *time.Location {
	loc, err := time.LoadLocation(c.DisplayTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// NewConfig reads the configuration from `config/.env.<env>` (when present) and the environment.
// Environment variables are prefixed with the value of ENV, eg. DEV_DATABASE_HOST.
func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("appName", "HiLCoE RMS")
	v.SetDefault("build", "develop")
	v.SetDefault("secretKey", "k3v!d9q#s0m3-d3v-0nly-s3cr3t&x1l7bz@w4r+5oe)p2")
	v.SetDefault("defaultFromEmail", "HiLCoE RMS <noreply@localhost>")
	v.SetDefault("frontendBaseURL", "http://localhost:5173")
	v.SetDefault("passwordResetTimeoutDelta", 24*time.Hour)
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridApiKey", "")

	v.SetDefault("server.host", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.shutdownTimeout", 10*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 8*time.Hour)
	v.SetDefault("server.jwtRefreshExpirationDelta", 7*24*time.Hour)
	v.SetDefault("server.streamHeartbeat", 25*time.Second)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "hilcoe_rms")
	v.SetDefault("database.user", "rms")
	v.SetDefault("database.password", "rms")
	v.SetDefault("database.adminUser", "postgres")
	v.SetDefault("database.adminPassword", "postgres")
	v.SetDefault("database.disableTLS", true)

	v.SetDefault("verification.tokenTTL", 30*time.Minute)
	v.SetDefault("verification.exposeResetToken", false)

	v.SetDefault("supervision.maxResearchers", 10)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.channel", "rms:notifications")

	v.SetDefault("mongo.uri", "")
	v.SetDefault("mongo.database", "hilcoe_rms")

	v.SetDefault("calendar.displayTimezone", "Africa/Addis_Ababa")
	v.SetDefault("calendar.productID", "-//HiLCoE RMS//Schedule//EN")

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.Set("testMode", true)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	wd, err := os.Getwd()
	if err != nil {
		log.Fatalf("config.os.Getwd(): %v", err)
	}
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	from, err := mail.ParseAddress(v.GetString("defaultFromEmail"))
	if err != nil {
		log.Fatalf("config.defaultFromEmail: %v", err)
	}

	return &Config{
		Env:                       env,
		Debug:                     v.GetBool("debug"),
		TestMode:                  v.GetBool("testMode"),
		AppName:                   v.GetString("appName"),
		Build:                     v.GetString("build"),
		SecretKey:                 v.GetString("secretKey"),
		DefaultFromEmail:          *from,
		FrontendBaseURL:           v.GetString("frontendBaseURL"),
		PasswordResetTimeoutDelta: v.GetDuration("passwordResetTimeoutDelta"),
		RollbarToken:              v.GetString("rollbarToken"),
		SendgridApiKey:            v.GetString("sendgridApiKey"),
		Server: ServerConfig{
			Host:                      v.GetString("server.host"),
			DebugHost:                 v.GetString("server.debugHost"),
			ShutdownTimeout:           v.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta:        v.GetDuration("server.jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("server.jwtRefreshExpirationDelta"),
			StreamHeartbeat:           v.GetDuration("server.streamHeartbeat"),
		},
		Database: DatabaseConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetString("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
		},
		Verification: VerificationConfig{
			TokenTTL:         v.GetDuration("verification.tokenTTL"),
			ExposeResetToken: v.GetBool("verification.exposeResetToken"),
		},
		Supervision: SupervisionConfig{
			MaxResearchers: v.GetInt("supervision.maxResearchers"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			Channel:  v.GetString("redis.channel"),
		},
		Mongo: MongoConfig{
			URI:      v.GetString("mongo.uri"),
			Database: v.GetString("mongo.database"),
		},
		Calendar: CalendarConfig{
			DisplayTimezone: v.GetString("calendar.displayTimezone"),
			ProductID:       v.GetString("calendar.productID"),
		},
	}
}
