package shared

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mattn/go-sqlite3"
)

// NewDatabase opens a connection to a SQLite database at the specified path.
// The path can be ":memory:" for an in-memory database.
// Returns an open database connection or an error if connection fails.
func NewDatabase(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return ping(db, path)
}

// NewKeyedDatabase is [NewDatabase] with every pooled connection keyed with PRAGMA key as it is opened.
//
// SQLCipher builds use the key to decrypt the file; stock SQLite ignores unknown pragmas.
// An empty passphrase opens an unkeyed database.
func NewKeyedDatabase(path string, passphrase []byte) (*sql.DB, error) {
	if len(passphrase) == 0 {
		return NewDatabase(path)
	}
	return ping(sql.OpenDB(newKeyedConnector(path, passphrase)), path)
}

func ping(db *sql.DB, path string) (*sql.DB, error) {
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// An in-memory database lives only as long as its connection.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	return db, nil
}

// ConfigureDatabase sets connection pool settings for the database.
// Recommended for production use to limit connections and improve performance.
func ConfigureDatabase(db *sql.DB, maxOpenConns, maxIdleConns int) {
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	if maxIdleConns > 0 {
		db.SetMaxIdleConns(maxIdleConns)
	}
}

func keyPragma(passphrase []byte) string {
	return fmt.Sprintf("PRAGMA key = '%s'", strings.ReplaceAll(string(passphrase), "'", "''"))
}

// keyedConnector runs PRAGMA key on each new connection before the pool hands it out.
type keyedConnector struct {
	path   string
	driver *sqlite3.SQLiteDriver
	keyed  atomic.Int64
}

func newKeyedConnector(path string, passphrase []byte) *keyedConnector {
	c := &keyedConnector{path: path}
	pragma := keyPragma(passphrase)
	c.driver = &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			if _, err := conn.Exec(pragma, nil); err != nil {
				return fmt.Errorf("failed to apply passphrase: %w", err)
			}
			c.keyed.Add(1)
			return nil
		},
	}
	return c
}

func (c *keyedConnector) Connect(context.Context) (driver.Conn, error) {
	return c.driver.Open(c.path)
}

func (c *keyedConnector) Driver() driver.Driver {
	return c.driver
}

// DatabaseProvider owns the process-wide database handle.
//
// The first call to [DatabaseProvider.Open] resolves the passphrase, opens the database, applies pool settings and runs migrations.
// Concurrent callers wait for that single construction and share its result.
type DatabaseProvider struct {
	config     DatabaseConfig
	passphrase PassphraseProvider

	once sync.Once
	mu   sync.Mutex
	db   *sql.DB
	err  error
}

// NewDatabaseProvider creates a provider; the database is not opened until [DatabaseProvider.Open].
func NewDatabaseProvider(config DatabaseConfig, passphrase PassphraseProvider) *DatabaseProvider {
	if passphrase == nil {
		passphrase = EnvPassphrase(config.PassphraseEnv)
	}
	return &DatabaseProvider{config: config, passphrase: passphrase}
}

// Open returns the shared handle, constructing it on first use.
func (p *DatabaseProvider) Open(ctx context.Context) (*sql.DB, error) {
	p.once.Do(func() {
		db, err := p.build(ctx)
		p.mu.Lock()
		p.db, p.err = db, err
		p.mu.Unlock()
	})

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.db, p.err
}

// Ready reports whether a handle has been constructed successfully.
func (p *DatabaseProvider) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.db != nil
}

// Close closes the handle if one was opened.
func (p *DatabaseProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return nil
	}
	err := p.db.Close()
	p.db = nil
	p.err = ErrReleased
	return err
}

func (p *DatabaseProvider) build(ctx context.Context) (*sql.DB, error) {
	key, err := p.passphrase(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve passphrase: %w", err)
	}

	db, err := NewKeyedDatabase(p.config.Path, key)
	if err != nil {
		return nil, err
	}

	if p.config.Path != ":memory:" {
		ConfigureDatabase(db, p.config.MaxOpenConns, p.config.MaxIdleConns)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}
