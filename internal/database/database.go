package database

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/tahcohcat/fishtrip-achievements/internal/logger"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

type DB struct {
	*sqlx.DB
	Driver string
}

// NewDB opens the database for the given driver and makes sure the schema exists.
func NewDB(driver, dsn string) (*DB, error) {
	switch driver {
	case "", DriverSQLite:
		driver = DriverSQLite
		if dsn == "" {
			dsn = "fishtrip.db" // Default SQLite file
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_foreign_keys=on&_busy_timeout=5000"
		}
	case DriverPostgres:
		if dsn == "" {
			return nil, fmt.Errorf("postgres dsn is required")
		}
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver == DriverSQLite {
		// SQLite serializes writers anyway; one connection avoids SQLITE_BUSY between pool members.
		db.SetMaxOpenConns(1)
	}

	dbWrapper := &DB{DB: db, Driver: driver}

	if err := dbWrapper.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.New().WithField("driver", driver).Info("Database connection established and tables initialized")
	return dbWrapper, nil
}

// Ready reports whether the database answers a ping.
func (db *DB) Ready(ctx context.Context) error {
	return db.PingContext(ctx)
}

func (db *DB) dialect(stmt string) string {
	if db.Driver != DriverPostgres {
		return stmt
	}
	stmt = strings.ReplaceAll(stmt, "INTEGER PRIMARY KEY AUTOINCREMENT", "BIGSERIAL PRIMARY KEY")
	return strings.ReplaceAll(stmt, "DATETIME", "TIMESTAMPTZ")
}

// createTables creates the necessary database tables
func (db *DB) createTables() error {
	usersTable := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT UNIQUE NOT NULL,
		email TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		display_name TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	);`

	achievementsTable := `
	CREATE TABLE IF NOT EXISTS achievements (
		type TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL,
		icon TEXT NOT NULL,
		category TEXT NOT NULL,
		rarity TEXT NOT NULL,
		max_progress INTEGER NOT NULL CHECK (max_progress > 0),
		created_at DATETIME NOT NULL
	);`

	progressTable := `
	CREATE TABLE IF NOT EXISTS user_achievements (
		user_id TEXT NOT NULL,
		achievement_type TEXT NOT NULL,
		progress INTEGER NOT NULL DEFAULT 0 CHECK (progress >= 0),
		unlocked BOOLEAN NOT NULL DEFAULT FALSE,
		unlocked_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (user_id, achievement_type),
		FOREIGN KEY (achievement_type) REFERENCES achievements(type)
	);`

	profilesTable := `
	CREATE TABLE IF NOT EXISTS user_profiles (
		user_id TEXT PRIMARY KEY,
		experience_points INTEGER NOT NULL DEFAULT 0 CHECK (experience_points >= 0),
		level INTEGER NOT NULL DEFAULT 1,
		updated_at DATETIME NOT NULL
	);`

	awardsTable := `
	CREATE TABLE IF NOT EXISTS experience_awards (
		user_id TEXT NOT NULL,
		achievement_type TEXT NOT NULL,
		points INTEGER NOT NULL,
		awarded_at DATETIME NOT NULL,
		PRIMARY KEY (user_id, achievement_type)
	);`

	activitiesTable := `
	CREATE TABLE IF NOT EXISTS achievement_activities (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		details TEXT NOT NULL DEFAULT '',
		icon TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);`

	// Create indexes for better performance
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);`,
		`CREATE INDEX IF NOT EXISTS idx_user_achievements_user ON user_achievements(user_id);`,
		`CREATE INDEX IF NOT EXISTS idx_activities_user ON achievement_activities(user_id, created_at);`,
	}

	for _, query := range []string{usersTable, achievementsTable, progressTable, profilesTable, awardsTable, activitiesTable} {
		if _, err := db.Exec(db.dialect(query)); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	for _, index := range indexes {
		if _, err := db.Exec(index); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
