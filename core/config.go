package core

import (
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	DatabaseConfig struct {
		Engine        string // postgres | sqlite
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string // postgres only; creates the app user and database
		AdminPassword string
		DisableTLS    bool
		Path          string // sqlite only
		PingAttempts  uint64
	}

	IDPConfig struct {
		Kind          string // keycloak | memory
		BaseURL       string
		Realm         string
		ClientID      string
		ClientSecret  string
		AdminUser     string
		AdminPassword string
		AdminRealm    string
		Timeout       time.Duration
	}

	ServerConfig struct {
		Host            string
		ShutdownTimeout time.Duration
	}

	Config struct {
		Env          string
		Build        string
		Debug        bool
		TestMode     bool
		AppName      string
		RollbarToken string

		Database DatabaseConfig
		IDP      IDPConfig
		Server   ServerConfig
	}
)

func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// HasAdmin reports whether privileged provider credentials are configured.
func (c IDPConfig) HasAdmin() bool {
	return c.AdminUser != "" && c.AdminPassword != ""
}

// NewConfig loads the configuration for the current ENV (DEV by default).
func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("build", "dev")
	v.SetDefault("appName", "Masomo")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("dbEngine", "postgres")
	v.SetDefault("dbHost", "localhost")
	v.SetDefault("dbPort", "5432")
	v.SetDefault("dbName", "masomo")
	v.SetDefault("dbUser", "masomo")
	v.SetDefault("dbPassword", "")
	v.SetDefault("dbAdminUser", "")
	v.SetDefault("dbAdminPassword", "")
	v.SetDefault("dbDisableTLS", true)
	v.SetDefault("dbPath", "masomo.db")
	v.SetDefault("dbPingAttempts", 10)
	v.SetDefault("idpKind", "keycloak")
	v.SetDefault("idpBaseURL", "http://localhost:8081")
	v.SetDefault("idpRealm", "masomo")
	v.SetDefault("idpClientID", "masomo-app")
	v.SetDefault("idpClientSecret", "")
	v.SetDefault("idpAdminUser", "")
	v.SetDefault("idpAdminPassword", "")
	v.SetDefault("idpAdminRealm", "master")
	v.SetDefault("idpTimeout", 10*time.Second)
	v.SetDefault("serverHost", ":8000")
	v.SetDefault("serverShutdownTimeout", 5*time.Second)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	if env == "" {
		env = "DEV"
	}
	if env == "TEST" {
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join("config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	return &Config{
		Env:          env,
		Build:        v.GetString("build"),
		Debug:        v.GetBool("debug"),
		TestMode:     v.GetBool("testMode"),
		AppName:      v.GetString("appName"),
		RollbarToken: v.GetString("rollbarToken"),
		Database: DatabaseConfig{
			Engine:        strings.ToLower(v.GetString("dbEngine")),
			Host:          v.GetString("dbHost"),
			Port:          v.GetString("dbPort"),
			Name:          v.GetString("dbName"),
			User:          v.GetString("dbUser"),
			Password:      v.GetString("dbPassword"),
			AdminUser:     v.GetString("dbAdminUser"),
			AdminPassword: v.GetString("dbAdminPassword"),
			DisableTLS:    v.GetBool("dbDisableTLS"),
			Path:          v.GetString("dbPath"),
			PingAttempts:  v.GetUint64("dbPingAttempts"),
		},
		IDP: IDPConfig{
			Kind:          strings.ToLower(v.GetString("idpKind")),
			BaseURL:       v.GetString("idpBaseURL"),
			Realm:         v.GetString("idpRealm"),
			ClientID:      v.GetString("idpClientID"),
			ClientSecret:  v.GetString("idpClientSecret"),
			AdminUser:     v.GetString("idpAdminUser"),
			AdminPassword: v.GetString("idpAdminPassword"),
			AdminRealm:    v.GetString("idpAdminRealm"),
			Timeout:       v.GetDuration("idpTimeout"),
		},
		Server: ServerConfig{
			Host:            v.GetString("serverHost"),
			ShutdownTimeout: v.GetDuration("serverShutdownTimeout"),
		},
	}
}
