package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/viper"
)

type Config struct {
	ServerAddress string `env:"SERVER_ADDRESS,required"`
	Environment   string `env:"ENVIRONMENT,required"`
	LogLevel      string `env:"LOG_LEVEL"`
	StorageDriver string `env:"STORAGE_DRIVER"`
	JWTSecret     string `env:"JWT_SECRET,required"`
	Database      DatabaseConfig
	Migration     MigrationConfig
	Permissions   PermissionsConfig
	Workflow      WorkflowConfig
}

type DatabaseConfig struct {
	Host     string `env:"DB_HOST,required"`
	Port     int    `env:"DB_PORT,required"`
	User     string `env:"DB_USER,required"`
	Password string `env:"DB_PASSWORD,required"`
	Name     string `env:"DB_NAME,required"`
	Params   string `env:"DB_PARAMS,required"`
}

type MigrationConfig struct {
	Dir string `env:"MIGRATION_DIR"`
}

type PermissionsConfig struct {
	File  string `env:"PERMISSIONS_FILE"`
	Watch bool   `env:"PERMISSIONS_WATCH"`
}

// WorkflowConfig carries the tunable approval rules.
type WorkflowConfig struct {
	NationalFundID       int64  `env:"NATIONAL_FUND_ID,required"`
	ContributorTolerance int64  `env:"REPORT_CONTRIBUTOR_TOLERANCE"`
	DepositTolerance     int64  `env:"REPORT_DEPOSIT_TOLERANCE"`
	SeparationOfDuties   string `env:"FUND_EVENT_SEPARATION_OF_DUTIES"`
}

const (
	StorageMySQL  = "mysql"
	StorageMemory = "memory"
)

func LoadConfig() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.SetConfigType("env")
	viper.AutomaticEnv()

	viper.SetDefault("SERVER_ADDRESS", ":8080")
	viper.SetDefault("ENVIRONMENT", "development")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("STORAGE_DRIVER", StorageMySQL)
	viper.SetDefault("DB_PARAMS", "parseTime=true&multiStatements=true")
	viper.SetDefault("MIGRATION_DIR", "migrations")
	viper.SetDefault("PERMISSIONS_FILE", "config/permissions.yaml")
	viper.SetDefault("PERMISSIONS_WATCH", true)
	viper.SetDefault("NATIONAL_FUND_ID", 1)
	viper.SetDefault("REPORT_CONTRIBUTOR_TOLERANCE", 1000)
	viper.SetDefault("REPORT_DEPOSIT_TOLERANCE", 1000)
	viper.SetDefault("FUND_EVENT_SEPARATION_OF_DUTIES", "distinct_principal")

	if err := viper.ReadInConfig(); err != nil {
		// environment variables alone are enough
		if !errors.Is(err, os.ErrNotExist) {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	config := &Config{
		ServerAddress: viper.GetString("SERVER_ADDRESS"),
		Environment:   viper.GetString("ENVIRONMENT"),
		LogLevel:      viper.GetString("LOG_LEVEL"),
		StorageDriver: viper.GetString("STORAGE_DRIVER"),
		JWTSecret:     viper.GetString("JWT_SECRET"),
		Database: DatabaseConfig{
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetInt("DB_PORT"),
			User:     viper.GetString("DB_USER"),
			Password: viper.GetString("DB_PASSWORD"),
			Name:     viper.GetString("DB_NAME"),
			Params:   viper.GetString("DB_PARAMS"),
		},
		Migration: MigrationConfig{
			Dir: viper.GetString("MIGRATION_DIR"),
		},
		Permissions: PermissionsConfig{
			File:  viper.GetString("PERMISSIONS_FILE"),
			Watch: viper.GetBool("PERMISSIONS_WATCH"),
		},
		Workflow: WorkflowConfig{
			NationalFundID:       viper.GetInt64("NATIONAL_FUND_ID"),
			ContributorTolerance: viper.GetInt64("REPORT_CONTRIBUTOR_TOLERANCE"),
			DepositTolerance:     viper.GetInt64("REPORT_DEPOSIT_TOLERANCE"),
			SeparationOfDuties:   viper.GetString("FUND_EVENT_SEPARATION_OF_DUTIES"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the settings that have no safe default.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	switch c.StorageDriver {
	case StorageMySQL:
		if c.Database.Host == "" || c.Database.Name == "" {
			return errors.New("DB_HOST and DB_NAME are required for the mysql storage driver")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.Workflow.NationalFundID <= 0 {
		return errors.New("NATIONAL_FUND_ID must be positive")
	}
	if c.Workflow.ContributorTolerance < 0 || c.Workflow.DepositTolerance < 0 {
		return errors.New("report tolerances must not be negative")
	}
	return nil
}

// GetDSN returns the MySQL DSN string
func (c *Config) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.Params,
	)
}

// GetMigrationDBURL returns the database URL for migrations
func (c *Config) GetMigrationDBURL() string {
	return fmt.Sprintf("mysql://%s:%s@tcp(%s:%d)/%s?%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.Params,
	)
}
