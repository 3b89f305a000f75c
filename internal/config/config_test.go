package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		StorageDriver: StorageMySQL,
		JWTSecret:     "s3cret",
		Database: DatabaseConfig{
			Host: "db", Port: 3306, User: "treasury", Password: "pw", Name: "treasury", Params: "parseTime=true",
		},
		Workflow: WorkflowConfig{NationalFundID: 1, ContributorTolerance: 1000, DepositTolerance: 1000},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing secret", mutate: func(c *Config) { c.JWTSecret = "" }, wantErr: "JWT_SECRET"},
		{name: "memory needs no database", mutate: func(c *Config) { c.StorageDriver = StorageMemory; c.Database = DatabaseConfig{} }},
		{name: "mysql needs a host", mutate: func(c *Config) { c.Database.Host = "" }, wantErr: "DB_HOST"},
		{name: "unknown driver", mutate: func(c *Config) { c.StorageDriver = "postgres" }, wantErr: "STORAGE_DRIVER"},
		{name: "national fund", mutate: func(c *Config) { c.Workflow.NationalFundID = 0 }, wantErr: "NATIONAL_FUND_ID"},
		{name: "negative tolerance", mutate: func(c *Config) { c.Workflow.DepositTolerance = -1 }, wantErr: "tolerances"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDSN(t *testing.T) {
	c := validConfig()

	assert.Equal(t, "treasury:pw@tcp(db:3306)/treasury?parseTime=true", c.GetDSN())
	assert.Equal(t, "mysql://treasury:pw@tcp(db:3306)/treasury?parseTime=true", c.GetMigrationDBURL())
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", StorageMemory)
	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("NATIONAL_FUND_ID", "3")

	cfg, err := LoadConfig()

	require.NoError(t, err)
	assert.Equal(t, StorageMemory, cfg.StorageDriver)
	assert.Equal(t, "env-secret", cfg.JWTSecret)
	assert.Equal(t, int64(3), cfg.Workflow.NationalFundID)
	assert.Equal(t, int64(1000), cfg.Workflow.DepositTolerance)
	assert.Equal(t, "distinct_principal", cfg.Workflow.SeparationOfDuties)
}
