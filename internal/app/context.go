// Package app wires a workspace into a ready-to-use engine: it opens the
// database, applies migrations and loads stakeline.yml.
package app

import (
	"database/sql"
	"fmt"

	"stakeline/internal/config"
	"stakeline/internal/db"
	"stakeline/internal/engine"
	"stakeline/internal/migrate"
)

// Context bundles everything a command or server needs for one workspace.
type Context struct {
	Workspace string
	DB        *sql.DB
	Config    *config.Config
	Engine    engine.Engine
}

// Open prepares the workspace at dir. The database and config file are
// created on first use; an existing schema is migrated forward.
func Open(dir string) (*Context, error) {
	if dir == "" {
		dir = "."
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.Load(dir)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &Context{
		Workspace: dir,
		DB:        conn,
		Config:    cfg,
		Engine:    engine.New(conn, cfg),
	}, nil
}

// Close releases the database connection.
func (c *Context) Close() error {
	if c == nil || c.DB == nil {
		return nil
	}
	return c.DB.Close()
}
