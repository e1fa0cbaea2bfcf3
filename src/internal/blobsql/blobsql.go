// Package blobsql is the project's interface to SQL databases.  It supports
// postgres and mysql for production shards, and sqlite for local use and
// tests.
package blobsql

import (
	"context"
	"database/sql"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/sqlblob/sqlblob/src/internal/errors"
	_ "modernc.org/sqlite"
)

const (
	ProtocolPostgres = "postgres"
	ProtocolMySQL    = "mysql"
	ProtocolSQLite   = "sqlite"
)

const (
	// DefaultMaxOpenConns is the default maximum number of open connections
	// per shard.
	DefaultMaxOpenConns = 10
	// DefaultMaxIdleConns is the default number of idle connections to
	// maintain per shard.
	DefaultMaxIdleConns = 2
)

// DB is an alias for sqlx.DB which is the standard database type used
// throughout the project.
type DB = sqlx.DB

// Tx is an alias for sqlx.Tx which is the standard transaction type used
// throughout the project.
type Tx = sqlx.Tx

// Rows is an alias for sqlx.Rows.
type Rows = sqlx.Rows

// URL contains the information needed to connect to a SQL database, except
// for the password.
type URL struct {
	Protocol string
	User     string
	Host     string
	Port     uint16
	Database string
	Params   map[string]string
}

// ParseURL attempts to parse x into a URL.
func ParseURL(x string) (*URL, error) {
	u, err := url.Parse(x)
	if err != nil {
		return nil, errors.EnsureStack(err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		switch u.Scheme {
		case ProtocolMySQL:
			port = 3306
		case ProtocolPostgres, "postgresql":
			port = 5432
		case ProtocolSQLite:
			port = 0
		default:
			return nil, errors.EnsureStack(err)
		}
	}
	params := make(map[string]string)
	for k, v := range u.Query() {
		if len(v) > 0 {
			params[k] = v[len(v)-1]
		}
	}
	database := strings.Trim(u.Path, "/")
	if u.Scheme == ProtocolSQLite {
		// sqlite URLs address a file, not a server; keep the full path.
		database = u.Path
		if u.Opaque != "" {
			database = u.Opaque
		}
	}
	return &URL{
		Protocol: u.Scheme,
		Host:     u.Hostname(),
		Port:     uint16(port),
		User:     u.User.Username(),
		Database: database,
		Params:   params,
	}, nil
}

func (u *URL) String() string {
	return (&url.URL{
		Scheme: u.Protocol,
		Host:   u.Host,
		User:   url.User(u.User),
		Path:   u.Database,
	}).String()
}

// OpenURL returns a database connection pool to the database specified by u.
// If password != "" then it will be used for authentication.  This function
// does not confirm that the database is reachable; callers may be interested
// in DB.PingContext.
func OpenURL(u *URL, password string) (*DB, error) {
	var driver string
	var dsn string
	switch u.Protocol {
	case ProtocolPostgres, "postgresql":
		driver = "pgx"
		dsn = postgresDSN(u, password)
	case ProtocolMySQL:
		driver = "mysql"
		dsn = mySQLDSN(u, password)
	case ProtocolSQLite:
		driver = "sqlite"
		dsn = sqliteDSN(u)
	default:
		return nil, errors.Errorf("database protocol %q not supported", u.Protocol)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, errors.EnsureStack(err)
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	return db, nil
}

func postgresDSN(u *URL, password string) string {
	fields := map[string]string{
		"connect_timeout": "30",
		"user":            u.User,
		"host":            u.Host,
		"port":            strconv.Itoa(int(u.Port)),
		"dbname":          u.Database,
	}
	if password != "" {
		fields["password"] = password
	}
	for k, v := range u.Params {
		fields[k] = v
	}
	var dsnParts []string
	for k, v := range fields {
		dsnParts = append(dsnParts, k+"="+v)
	}
	return strings.Join(dsnParts, " ")
}

func mySQLDSN(u *URL, password string) string {
	params := make(map[string]string, len(u.Params))
	for k, v := range u.Params {
		params[k] = v
	}
	params["parseTime"] = "true"
	config := mysql.Config{
		User:                 u.User,
		Passwd:               password,
		Net:                  "tcp",
		Addr:                 net.JoinHostPort(u.Host, strconv.Itoa(int(u.Port))),
		DBName:               u.Database,
		Params:               params,
		AllowNativePasswords: true,
	}
	return config.FormatDSN()
}

func sqliteDSN(u *URL) string {
	// WAL lets a long read cursor stay open while other connections write,
	// which the collector's sweep depends on.
	parts := []string{"_pragma=journal_mode(WAL)", "_pragma=busy_timeout(5000)"}
	for k, v := range u.Params {
		parts = append(parts, k+"="+v)
	}
	return "file:" + u.Database + "?" + strings.Join(parts, "&")
}

// WithTx runs cb in a transaction and commits it if cb returns nil.  If cb
// errors the transaction is rolled back and the error returned.
func WithTx(ctx context.Context, db *DB, cb func(tx *Tx) error) (retErr error) {
	tx, err := db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return errors.EnsureStack(err)
	}
	defer func() {
		if retErr != nil {
			if err := tx.Rollback(); err != nil {
				retErr = errors.Wrapf(retErr, "additionally, rollback failed: %v", err)
			}
		}
	}()
	if err := cb(tx); err != nil {
		return err
	}
	retErr = errors.EnsureStack(tx.Commit())
	return retErr
}
