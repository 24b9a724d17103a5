package app

import (
	"database/sql"

	"branchline/internal/config"
	"branchline/internal/db"
	"branchline/internal/engine"
	"branchline/internal/migrate"
	"branchline/internal/notify"
)

// Open prepares the workspace database and returns a ready engine. The
// caller owns the returned connection. A nil notifier discards
// notifications, which is what the one-shot CLI commands want.
func Open(workspace string, notifier notify.Emitter) (*sql.DB, engine.Engine, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, engine.Engine{}, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, engine.Engine{}, err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		conn.Close()
		return nil, engine.Engine{}, err
	}
	return conn, engine.New(conn, cfg, notifier), nil
}
