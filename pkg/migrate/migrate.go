package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"sync"

	"github.com/pressly/goose/v3"
)

const DefaultDir = "pkg/migrate/migrations"

const (
	embeddedDir = "migrations"
	dialect     = "postgres"
)

// Migrations carries the SQL files so binaries can migrate without the source tree.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// goose keeps its dialect and base filesystem in package globals.
var gooseMu sync.Mutex

// Source is a set of goose migrations. A nil FS reads Dir from disk.
type Source struct {
	FS  fs.FS
	Dir string
}

func DiskSource(dir string) Source { return Source{Dir: dir} }

func EmbeddedSource() Source { return Source{FS: Migrations, Dir: embeddedDir} }

func (s Source) String() string {
	if s.FS != nil {
		return "embedded:" + s.Dir
	}
	return s.Dir
}

func (s Source) with(db *sql.DB, fn func(dir string) error) error {
	if db == nil {
		return errors.New("db is required")
	}
	if s.Dir == "" {
		return errors.New("migration dir is required")
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(s.FS)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	return fn(s.Dir)
}

// Run executes a goose command (up, down, status, version, ...) against src.
func Run(ctx context.Context, db *sql.DB, src Source, command string, args ...string) error {
	return src.with(db, func(dir string) error {
		if err := goose.RunContext(ctx, command, db, dir, args...); err != nil {
			return fmt.Errorf("goose %s (%s): %w", command, src, err)
		}
		return nil
	})
}

// MigrateTo moves the schema up or down to version, a YYYYMMDDHHMMSS stamp.
func MigrateTo(ctx context.Context, db *sql.DB, src Source, version string) error {
	target, err := strconv.ParseInt(version, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q (expected YYYYMMDDHHMMSS): %w", version, err)
	}

	return src.with(db, func(dir string) error {
		current, err := goose.GetDBVersionContext(ctx, db)
		if err != nil {
			return fmt.Errorf("get db version: %w", err)
		}
		switch {
		case current < target:
			err = goose.UpToContext(ctx, db, dir, target)
		case current > target:
			err = goose.DownToContext(ctx, db, dir, target)
		}
		if err != nil {
			return fmt.Errorf("goose migrate %d -> %d: %w", current, target, err)
		}
		return nil
	})
}
