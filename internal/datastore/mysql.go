package datastore

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"time"

	"github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/cropscan/cropscan/internal/conf"
	"github.com/cropscan/cropscan/internal/errors"
)

const (
	mysqlDialTimeout  = "10s"
	mysqlMaxOpenConns = 10
	mysqlConnMaxIdle  = 5 * time.Minute
	snapshotBatchSize = 200
)

// MySQLStore implements Interface for MySQL.
type MySQLStore struct {
	DataStore
	Settings *conf.Settings
}

func validateMySQLConfig(settings *conf.Settings) error {
	m := settings.Output.MySQL
	switch {
	case m.Host == "":
		return validationError("mysql host must be set", "output.mysql.host", "")
	case m.Database == "":
		return validationError("mysql database must be set", "output.mysql.database", "")
	case m.Username == "":
		return validationError("mysql username must be set", "output.mysql.username", "")
	}
	return nil
}

// mysqlDSN builds the connection string with mysql.Config so credentials are escaped.
func mysqlDSN(m conf.MySQLSettings) string {
	port := m.Port
	if port == "" {
		port = "3306"
	}
	cfg := mysql.Config{
		User:                 m.Username,
		Passwd:               m.Password,
		Net:                  "tcp",
		Addr:                 net.JoinHostPort(m.Host, port),
		DBName:               m.Database,
		AllowNativePasswords: true,
		Params: map[string]string{
			"charset":      "utf8mb4",
			"parseTime":    "True",
			"loc":          "UTC",
			"timeout":      mysqlDialTimeout,
			"readTimeout":  "30s",
			"writeTimeout": "30s",
		},
	}
	return cfg.FormatDSN()
}

// Open connects and migrates the schema.
func (store *MySQLStore) Open() error {
	if err := validateMySQLConfig(store.Settings); err != nil {
		return err
	}

	m := store.Settings.Output.MySQL
	db, err := gorm.Open(gormmysql.Open(mysqlDSN(m)), newGormConfig())
	if err != nil {
		return dbError(err, "open", "db_type", "mysql", "host", m.Host)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return dbError(err, "open", "db_type", "mysql")
	}
	sqlDB.SetMaxOpenConns(mysqlMaxOpenConns)
	sqlDB.SetConnMaxIdleTime(mysqlConnMaxIdle)

	store.DB = db
	return performAutoMigration(db, "MySQL", net.JoinHostPort(m.Host, m.Port)+"/"+m.Database)
}

// Close releases the connection pool.
func (store *MySQLStore) Close() error {
	return closeDB(store.DB)
}

// Snapshot streams every scan to dest as a JSON array in id order.
func (store *MySQLStore) Snapshot(ctx context.Context, dest string) (err error) {
	if err := store.ready("snapshot"); err != nil {
		return err
	}

	f, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryFileIO).
			Context("operation", "snapshot").
			Build()
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = dbError(cerr, "snapshot")
		}
		if err != nil {
			_ = os.Remove(dest)
		}
	}()

	if _, err := f.WriteString("["); err != nil {
		return dbError(err, "snapshot")
	}
	enc := json.NewEncoder(f)
	first := true

	var batch []Scan
	result := store.DB.WithContext(ctx).Order("id ASC").FindInBatches(&batch, snapshotBatchSize, func(_ *gorm.DB, _ int) error {
		for i := range batch {
			if !first {
				if _, err := f.WriteString(","); err != nil {
					return err
				}
			}
			first = false
			if err := enc.Encode(&batch[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if result.Error != nil {
		return dbError(result.Error, "snapshot", "dest", dest)
	}
	if _, err := f.WriteString("]\n"); err != nil {
		return dbError(err, "snapshot")
	}
	return nil
}

func (store *MySQLStore) Driver() string { return "mysql" }
