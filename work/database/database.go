package database

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"iptv-curator/work/logger"

	"github.com/samber/oops"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// DB is the curator's sqlite file. It holds a single kv_store table.
type DB struct {
	*sql.DB
}

type migration struct {
	version int
	name    string
}

// Open opens or creates the database at path and brings its schema up to
// date. The schema version lives in PRAGMA user_version.
func Open(path string) (*DB, error) {
	errb := oops.In("database").With("path", path)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errb.Wrapf(err, "create directory")
	}

	pragmas := url.Values{}
	for _, p := range []string{"journal_mode(WAL)", "busy_timeout(5000)", "synchronous(NORMAL)"} {
		pragmas.Add("_pragma", p)
	}
	conn, err := sql.Open("sqlite", "file:"+path+"?"+pragmas.Encode())
	if err != nil {
		return nil, errb.Wrapf(err, "open")
	}
	// sqlite serialises writers anyway, a single connection avoids SQLITE_BUSY
	conn.SetMaxOpenConns(1)

	db := &DB{DB: conn}
	if err := db.upgrade(context.Background()); err != nil {
		conn.Close()
		return nil, errb.Wrapf(err, "upgrade schema")
	}
	return db, nil
}

// pending lists embedded migrations newer than current, oldest first.
func pending(current int) ([]migration, error) {
	entries, err := fs.Glob(migrationFiles, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	var out []migration
	for _, name := range entries {
		prefix, _, _ := strings.Cut(filepath.Base(name), "_")
		v, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, oops.With("file", name).Errorf("migration file without numeric prefix")
		}
		if v > current {
			out = append(out, migration{version: v, name: name})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// SchemaVersion reports the last migration applied to the file.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v)
	return v, err
}

func (db *DB) upgrade(ctx context.Context) error {
	current, err := db.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	todo, err := pending(current)
	if err != nil {
		return err
	}
	for _, m := range todo {
		if err := db.apply(ctx, m); err != nil {
			return oops.With("migration", m.name).Wrap(err)
		}
		logger.Debug("{database - upgrade} schema now at version %d (%s)", m.version, filepath.Base(m.name))
	}
	return nil
}

func (db *DB) apply(ctx context.Context, m migration) error {
	body, err := migrationFiles.ReadFile(m.name)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		return err
	}
	// PRAGMA does not take bound parameters
	if _, err := tx.ExecContext(ctx, "PRAGMA user_version = "+strconv.Itoa(m.version)); err != nil {
		return err
	}
	return tx.Commit()
}
