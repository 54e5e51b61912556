package cbdb

import (
	"database/sql"
	"fmt"
	"testing"
	"time"

	postgres_migrate "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/lightninglabs/clawback/cbdb/sqlc"
	_ "github.com/lib/pq" // Register relevant drivers.
	"github.com/stretchr/testify/require"
)

const (
	dsnTemplate = "postgres://%v:%v@%v:%d/%v?sslmode=%v"

	// defaultMaxIdleConns is the number of permitted idle connections.
	defaultMaxIdleConns = 6

	// defaultConnMaxIdleTime is the amount of time a connection can be
	// idle before it is closed.
	defaultConnMaxIdleTime = 5 * time.Minute
)

var (
	// DefaultPostgresFixtureLifetime is how long a postgres test container
	// may live before docker kills it. It has to outlast the slowest test.
	DefaultPostgresFixtureLifetime = 10 * time.Minute

	// postgresSchemaReplacements are the type substitutions applied to the
	// sqlite flavoured schema.
	postgresSchemaReplacements = map[string]string{
		"BLOB": "BYTEA",
	}
)

// PostgresConfig holds the postgres database configuration.
type PostgresConfig struct {
	SkipMigrations     bool          `long:"skipmigrations" description:"Skip applying migrations on startup."`
	Host               string        `long:"host" description:"Database server hostname."`
	Port               int           `long:"port" description:"Database server port."`
	User               string        `long:"user" description:"Database user."`
	Password           string        `long:"password" description:"Database user's password."`
	DBName             string        `long:"dbname" description:"Database name to use."`
	MaxOpenConnections int           `long:"maxconnections" description:"Max open connections to keep alive to the database server."`
	MaxIdleConnections int           `long:"maxidleconnections" description:"Max number of idle connections to keep in the connection pool."`
	ConnMaxLifetime    time.Duration `long:"connmaxlifetime" description:"Max amount of time a connection can be reused for before it is closed."`
	ConnMaxIdleTime    time.Duration `long:"connmaxidletime" description:"Max amount of time a connection can be idle for before it is closed."`
	RequireSSL         bool          `long:"requiressl" description:"Whether to require using SSL (mode: require) when connecting to the server."`
}

// DSN returns the connection string of the database. The password is masked
// when the DSN is meant for the log.
func (s *PostgresConfig) DSN(hidePassword bool) string {
	sslMode := "disable"
	if s.RequireSSL {
		sslMode = "require"
	}

	password := s.Password
	if hidePassword {
		password = "****"
	}

	return fmt.Sprintf(dsnTemplate, s.User, password, s.Host, s.Port,
		s.DBName, sslMode)
}

// PostgresStore is a database store implementation that uses a Postgres
// backend.
type PostgresStore struct {
	cfg *PostgresConfig

	*BaseDB
}

// poolLimits bounds the connection pool of a postgres store. Zero values
// fall back to the package defaults.
type poolLimits struct {
	maxOpen     int
	maxIdle     int
	maxLifetime time.Duration
	maxIdleTime time.Duration
}

func (p poolLimits) apply(db *sql.DB) {
	pick := func(v, def int) int {
		if v > 0 {
			return v
		}
		return def
	}
	pickDur := func(v, def time.Duration) time.Duration {
		if v > 0 {
			return v
		}
		return def
	}

	db.SetMaxOpenConns(pick(p.maxOpen, defaultMaxConns))
	db.SetMaxIdleConns(pick(p.maxIdle, defaultMaxIdleConns))
	db.SetConnMaxLifetime(pickDur(p.maxLifetime, defaultConnMaxLifetime))
	db.SetConnMaxIdleTime(pickDur(p.maxIdleTime, defaultConnMaxIdleTime))
}

// NewPostgresStore opens the coin record store on a postgres server and
// brings its schema up to date unless migrations are skipped.
func NewPostgresStore(cfg *PostgresConfig) (*PostgresStore, error) {
	log.Infof("Opening coin record store at %s", cfg.DSN(true))

	db, err := sql.Open("postgres", cfg.DSN(false))
	if err != nil {
		return nil, err
	}

	poolLimits{
		maxOpen:     cfg.MaxOpenConnections,
		maxIdle:     cfg.MaxIdleConnections,
		maxLifetime: cfg.ConnMaxLifetime,
		maxIdleTime: cfg.ConnMaxIdleTime,
	}.apply(db)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("unable to reach postgres server: %w",
			MapSQLError(err))
	}

	if !cfg.SkipMigrations {
		if err := migratePostgres(db, cfg.DBName); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return &PostgresStore{
		cfg: cfg,
		BaseDB: &BaseDB{
			DB:      db,
			Queries: sqlc.NewPostgres(db),
		},
	}, nil
}

// migratePostgres applies the sqlite flavoured schema to a postgres database
// after swapping in the postgres column types.
func migratePostgres(db *sql.DB, dbName string) error {
	driver, err := postgres_migrate.WithInstance(
		db, &postgres_migrate.Config{},
	)
	if err != nil {
		return err
	}

	schemas := newReplacerFS(sqlSchemas, postgresSchemaReplacements)
	err = applyMigrations(schemas, driver, migrationsDir, dbName)
	if err != nil {
		return fmt.Errorf("unable to apply migrations: %w", err)
	}

	return nil
}

// NewTestPostgresDB starts a postgres container and opens a migrated store
// on it. Both are torn down when the test ends.
func NewTestPostgresDB(t *testing.T) *PostgresStore {
	t.Helper()

	fixture := NewTestPgFixture(t, DefaultPostgresFixtureLifetime, true)
	store, err := NewPostgresStore(fixture.GetConfig())
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, store.DB.Close())
		fixture.TearDown(t)
	})

	return store
}
