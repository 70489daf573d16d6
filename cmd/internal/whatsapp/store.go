package whatsapp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"

	"go.mau.fi/whatsmeow/store/sqlstore"

	_ "modernc.org/sqlite"
)

// DeviceFile is the credential database inside an attempt directory.
const DeviceFile = "device.db"

const sqliteDriver = "sqlite"

func deviceDSN(dir string) string {
	u := url.URL{Scheme: "file", Path: filepath.Join(dir, DeviceFile)}
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	u.RawQuery = q.Encode()
	return u.String()
}

// openStore opens (and migrates) the device store for one attempt. The
// caller owns the returned db.
func openStore(ctx context.Context, dir string, log *slog.Logger) (*sqlstore.Container, *sql.DB, error) {
	db, err := sql.Open(sqliteDriver, deviceDSN(dir))
	if err != nil {
		return nil, nil, fmt.Errorf("open device db: %w", err)
	}
	db.SetMaxOpenConns(1)

	container := sqlstore.NewWithDB(db, sqliteDriver, newLogger(log, "store"))
	if err := container.Upgrade(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrate device db: %w", err)
	}
	return container, db, nil
}
