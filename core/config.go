package core

import (
	"fmt"
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

// Database engines
const (
	EnginePostgres = "postgres"
	EngineMongoDB  = "mongodb"
	EngineMemory   = "memory"
)

// Email backends
const (
	EmailConsole  = "console"
	EmailSendgrid = "sendgrid"
	EmailSMTP     = "smtp"
)

type (
	Config struct {
		AppName          string
		Env              string // DEV (local; default), TEST, QA, PROD
		Build            string
		Debug            bool
		TestMode         bool
		WorkDir          string
		SecretKey        string
		FrontendBaseURL  string
		defaultFromEmail string
		RollbarToken     string

		PasswordResetTimeout time.Duration

		Server     ServerConfig
		Database   DatabaseConfig
		Email      EmailConfig
		Attendance AttendanceConfig
	}

	ServerConfig struct {
		Host                      string
		Port                      int
		DebugHost                 string
		AllowedOrigins            []string
		ShutdownTimeout           time.Duration
		RequestTimeout            time.Duration
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
		MongoURI      string
		Timeout       time.Duration
	}

	EmailConfig struct {
		Backend        string
		SendgridApiKey string
		SMTPHost       string
		SMTPPort       int
		SMTPUser       string
		SMTPPassword   string
	}

	AttendanceConfig struct {
		// Granularity is the period every mark is deduplicated over: "day" | "week"
		Granularity string
	}
)

func (sc ServerConfig) Address() string {
	return net.JoinHostPort(sc.Host, strconv.Itoa(sc.Port))
}

func (dc DatabaseConfig) Address() string {
	return net.JoinHostPort(dc.Host, strconv.Itoa(dc.Port))
}

func (conf *Config) DefaultFromEmail() mail.Address {
	addr, err := mail.ParseAddress(conf.defaultFromEmail)
	if err != nil {
		return mail.Address{Name: conf.AppName, Address: conf.defaultFromEmail}
	}
	if addr.Name == "" {
		addr.Name = conf.AppName
	}
	return *addr
}

// NewConfig loads the app configuration from defaults, an optional `config/.env.<env>` file and the environment.
// env vars are prefixed with the upper-cased env name, eg: DEV_DATABASE_ENGINE=mongodb
func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("appName", "Masomo")
	v.SetDefault("build", "develop")
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	v.SetDefault("frontendBaseURL", "http://localhost:8080")
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("passwordResetTimeout", 3*24*time.Hour)

	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.debugHost", "localhost:4000")
	v.SetDefault("server.allowedOrigins", []string{"*"})
	v.SetDefault("server.shutdownTimeout", 5*time.Second)
	v.SetDefault("server.requestTimeout", 10*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("server.jwtRefreshExpirationDelta", 4*time.Hour)

	v.SetDefault("database.engine", EnginePostgres)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "masomo")
	v.SetDefault("database.user", "masomo")
	v.SetDefault("database.password", "masomo")
	v.SetDefault("database.adminUser", "")
	v.SetDefault("database.adminPassword", "")
	v.SetDefault("database.disableTLS", true)
	v.SetDefault("database.mongoURI", "mongodb://localhost:27017")
	v.SetDefault("database.timeout", 5*time.Second)

	v.SetDefault("email.backend", EmailConsole)
	v.SetDefault("email.sendgridApiKey", "")
	v.SetDefault("email.smtpHost", "localhost")
	v.SetDefault("email.smtpPort", 587)
	v.SetDefault("email.smtpUser", "")
	v.SetDefault("email.smtpPassword", "")

	v.SetDefault("attendance.granularity", "week")

	env := strings.ToUpper(os.Getenv("ENV"))
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
		v.SetDefault("database.engine", EngineMemory)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	wd := Getwd()
	dotEnvPath := filepath.Join(wd, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	return &Config{
		AppName:          v.GetString("appName"),
		Env:              env,
		Build:            v.GetString("build"),
		Debug:            v.GetBool("debug"),
		TestMode:         v.GetBool("testMode"),
		WorkDir:          wd,
		SecretKey:        v.GetString("secretKey"),
		FrontendBaseURL:  v.GetString("frontendBaseURL"),
		defaultFromEmail: v.GetString("defaultFromEmail"),
		RollbarToken:     v.GetString("rollbarToken"),

		PasswordResetTimeout: v.GetDuration("passwordResetTimeout"),

		Server: ServerConfig{
			Host:                      v.GetString("server.host"),
			Port:                      v.GetInt("server.port"),
			DebugHost:                 v.GetString("server.debugHost"),
			AllowedOrigins:            v.GetStringSlice("server.allowedOrigins"),
			ShutdownTimeout:           v.GetDuration("server.shutdownTimeout"),
			RequestTimeout:            v.GetDuration("server.requestTimeout"),
			JWTExpirationDelta:        v.GetDuration("server.jwtExpirationDelta"),
			JWTRefreshExpirationDelta: v.GetDuration("server.jwtRefreshExpirationDelta"),
		},
		Database: DatabaseConfig{
			Engine:        strings.ToLower(v.GetString("database.engine")),
			Host:          v.GetString("database.host"),
			Port:          v.GetInt("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
			MongoURI:      v.GetString("database.mongoURI"),
			Timeout:       v.GetDuration("database.timeout"),
		},
		Email: EmailConfig{
			Backend:        strings.ToLower(v.GetString("email.backend")),
			SendgridApiKey: v.GetString("email.sendgridApiKey"),
			SMTPHost:       v.GetString("email.smtpHost"),
			SMTPPort:       v.GetInt("email.smtpPort"),
			SMTPUser:       v.GetString("email.smtpUser"),
			SMTPPassword:   v.GetString("email.smtpPassword"),
		},
		Attendance: AttendanceConfig{
			Granularity: strings.ToLower(v.GetString("attendance.granularity")),
		},
	}
}

// NewTestConfig returns a Config suitable for tests: in-memory storage, console emails, fixed secret.
func NewTestConfig() *Config {
	return &Config{
		AppName:          "Masomo",
		Env:              "TEST",
		Build:            "test",
		Debug:            false,
		TestMode:         true,
		SecretKey:        "secret",
		FrontendBaseURL:  "http://localhost:8080",
		defaultFromEmail: "noreply@localhost",

		PasswordResetTimeout: 3 * 24 * time.Hour,

		Server: ServerConfig{
			Port:                      8000,
			ShutdownTimeout:           time.Second,
			RequestTimeout:            5 * time.Second,
			JWTExpirationDelta:        10 * time.Minute,
			JWTRefreshExpirationDelta: 4 * time.Hour,
		},
		Database: DatabaseConfig{
			Engine:  EngineMemory,
			Timeout: time.Second,
		},
		Email:      EmailConfig{Backend: EmailConsole},
		Attendance: AttendanceConfig{Granularity: "week"},
	}
}

func (conf *Config) String() string {
	return fmt.Sprintf("%s [env=%s build=%s db=%s email=%s]", conf.AppName, conf.Env, conf.Build, conf.Database.Engine, conf.Email.Backend)
}
