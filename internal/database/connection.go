package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"treasury-service/internal/config"
)

// MySQL server error numbers the repositories translate.
const (
	errDuplicateEntry   = 1062
	errLockWaitTimeout  = 1205
	errDeadlockDetected = 1213
)

func NewConnection(cfg *config.Config, logger *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	err = db.Ping()
	if err != nil {
		if strings.Contains(err.Error(), "Unknown database") {
			logger.Warn("database does not exist, attempting to create it", zap.String("database", cfg.Database.Name))

			db.Close()

			rootDB, err := sql.Open("mysql", getRootDSN(cfg))
			if err != nil {
				return nil, fmt.Errorf("error connecting to MySQL root: %w", err)
			}
			defer rootDB.Close()
			_, err = rootDB.Exec(fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci", cfg.Database.Name))
			if err != nil {
				return nil, fmt.Errorf("error creating database: %w", err)
			}

			logger.Info("created database", zap.String("database", cfg.Database.Name))

			db, err = sql.Open("mysql", cfg.GetDSN())
			if err != nil {
				return nil, fmt.Errorf("error connecting to new database: %w", err)
			}

			if err = db.Ping(); err != nil {
				return nil, fmt.Errorf("error verifying connection to new database: %w", err)
			}
		} else {
			return nil, fmt.Errorf("error pinging database: %w", err)
		}
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	logger.Info("connected to MySQL database", zap.String("host", cfg.Database.Host), zap.String("database", cfg.Database.Name))
	return db, nil
}

func getRootDSN(cfg *config.Config) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/?parseTime=true",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
	)
}

// IsDuplicateEntry reports whether err is a unique-key violation.
func IsDuplicateEntry(err error) bool {
	return mysqlErrorNumber(err) == errDuplicateEntry
}

// IsRetryable reports whether err is a lock timeout or deadlock, after
// which the whole transaction can be retried.
func IsRetryable(err error) bool {
	n := mysqlErrorNumber(err)
	return n == errLockWaitTimeout || n == errDeadlockDetected
}

func mysqlErrorNumber(err error) uint16 {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number
	}
	return 0
}
