// api/db/store.go
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	logger "github.com/amanshivam/auth/logging"
)

// StoreDB is the shared connection pool for the policy store. One bounded
// pool per replica serves all tenants.
var StoreDB *sql.DB

func InitStore() error {
	driver := viper.GetString("store.driver")
	dsn := viper.GetString("store.dsn")

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return fmt.Errorf("failed to open policy store: %w", err)
	}

	maxOpen := viper.GetInt("store.maxOpenConns")
	if driver == "sqlite" {
		// The sqlite driver serializes writers anyway; a single
		// connection avoids table-lock errors.
		maxOpen = 1
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetConnMaxIdleTime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to policy store: %w", err)
	}

	StoreDB = db
	logger.Info("Successfully connected to policy store",
		zap.String("driver", driver))
	return nil
}

func CloseStore() {
	if StoreDB != nil {
		if err := StoreDB.Close(); err != nil {
			logger.Error("Error closing policy store connection", zap.Error(err))
		}
	}
}
