package db

import (
	"testing"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"craftworker/config"
)

func TestMySQLDSN(t *testing.T) {
	cfg := &config.Config{
		DBUser:     "worker",
		DBPassword: "p@ss",
		DBHost:     "db.internal",
		DBPort:     "3307",
		DBName:     "crafts",
	}

	parsed, err := mysqldrv.ParseDSN(MySQLDSN(cfg))
	require.NoError(t, err)
	assert.Equal(t, "worker", parsed.User)
	assert.Equal(t, "p@ss", parsed.Passwd)
	assert.Equal(t, "db.internal:3307", parsed.Addr)
	assert.Equal(t, "crafts", parsed.DBName)
	assert.True(t, parsed.ParseTime)
}

func TestNilDatabaseHelpers(t *testing.T) {
	assert.NoError(t, CloseGormDB(nil))
	assert.Error(t, AutoMigrateModels(nil))
}
