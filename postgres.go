package fixtures

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/ory/dockertest/v3"
	"go.uber.org/zap"
)

const DEFAULT_POSTGRES_REPO = "postgres"
const DEFAULT_POSTGRES_VERSION = "13-alpine"

type PostgresOpt func(*Postgres)

func NewPostgres(d *Docker, opts ...PostgresOpt) *Postgres {
	f := &Postgres{
		docker: d,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func PostgresSettings(settings *ConnectionSettings) PostgresOpt {
	return func(f *Postgres) {
		f.settings = settings
	}
}

func PostgresRepo(repo string) PostgresOpt {
	return func(f *Postgres) {
		f.repo = repo
	}
}

func PostgresVersion(version string) PostgresOpt {
	return func(f *Postgres) {
		f.version = version
	}
}

// Tell docker to kill the container after an unreasonable amount of test time to prevent orphans. Defaults to 600 seconds.
func PostgresExpireAfter(expireAfter uint) PostgresOpt {
	return func(f *Postgres) {
		f.expireAfter = expireAfter
	}
}

// Wait this long for the database to accept connections. Defaults to 30 seconds.
func PostgresTimeoutAfter(timeoutAfter uint) PostgresOpt {
	return func(f *Postgres) {
		f.timeoutAfter = timeoutAfter
	}
}

func PostgresSkipTearDown() PostgresOpt {
	return func(f *Postgres) {
		f.skipTearDown = true
	}
}

// Postgres runs a throwaway postgres container for PostgresBackend to write into.
type Postgres struct {
	log          *zap.Logger
	docker       *Docker
	settings     *ConnectionSettings
	resource     *dockertest.Resource
	repo         string
	version      string
	expireAfter  uint
	timeoutAfter uint
	skipTearDown bool
}

func (f *Postgres) GetSettings() *ConnectionSettings {
	return f.settings
}

func (f *Postgres) SetUp(ctx context.Context) error {
	f.log = logger()
	if f.repo == "" {
		f.repo = DEFAULT_POSTGRES_REPO
	}
	if f.version == "" {
		f.version = DEFAULT_POSTGRES_VERSION
	}
	if f.settings == nil {
		f.settings = &ConnectionSettings{
			User:       "postgres",
			Password:   GenerateString(),
			Database:   f.docker.GetNamePrefix(),
			DisableSSL: true,
		}
	}
	var err error
	f.resource, err = f.docker.Run(&dockertest.RunOptions{
		Repository: f.repo,
		Tag:        f.version,
		Env: []string{
			"POSTGRES_USER=" + f.settings.User,
			"POSTGRES_PASSWORD=" + f.settings.Password,
			"POSTGRES_DB=" + f.settings.Database,
		},
		Cmd: []string{
			// https://www.postgresql.org/docs/current/non-durability.html
			"-c", "fsync=off",
			"-c", "synchronous_commit=off",
			"-c", "full_page_writes=off",
			"-c", fmt.Sprintf("shared_buffers=%vMB", memoryMB()/8),
		},
	}, f.expireAfter)
	if err != nil {
		return err
	}

	f.settings.Host = GetContainerAddress(f.resource, f.docker.GetNetwork())
	f.settings.Port = GetContainerTcpPort(f.resource, f.docker.GetNetwork(), "5432")

	if f.timeoutAfter == 0 {
		f.timeoutAfter = 30
	}
	return f.WaitForReady(ctx, time.Second*time.Duration(f.timeoutAfter))
}

func (f *Postgres) TearDown(ctx context.Context) error {
	if f.resource == nil {
		return nil
	}
	defer f.log.Sync()
	if f.skipTearDown {
		return nil
	}
	wg.Add(1)
	go purge(f.log, f.docker.GetPool(), f.resource)
	return nil
}

func (f *Postgres) GetConnection(ctx context.Context, database string) (*pgx.Conn, error) {
	settings := f.settings.Copy()
	if database != "" {
		settings.Database = database
	}
	return settings.Connect(ctx)
}

// Connect returns a pool against the default database.
func (f *Postgres) Connect(ctx context.Context) (*pgxpool.Pool, error) {
	return f.settings.ConnectPool(ctx)
}

func (f *Postgres) MustConnect(ctx context.Context) *pgxpool.Pool {
	pool, err := f.Connect(ctx)
	if err != nil {
		panic(err)
	}
	return pool
}

func (f *Postgres) GetHostName() string {
	return GetHostName(f.resource)
}

func (f *Postgres) WaitForReady(ctx context.Context, d time.Duration) error {
	if err := Retry(ctx, d, func() error {
		db, err := f.settings.Connect(ctx)
		if err != nil {
			return err
		}
		return db.Close(ctx)
	}); err != nil {
		f.log.Debug("postgres never became ready", zap.String("container", f.GetHostName()), zap.String("logs", getLogs(f.log, f.resource.Container.ID, f.docker.GetPool())))
		return fmt.Errorf("gave up waiting for postgres: %w", err)
	}
	return nil
}

func (f *Postgres) TableExists(ctx context.Context, database, schema, table string) (bool, error) {
	db, err := f.GetConnection(ctx, database)
	if err != nil {
		return false, err
	}
	defer db.Close(ctx)
	query := "SELECT count(*) FROM pg_catalog.pg_tables WHERE schemaname = $1 AND tablename = $2"
	count := 0
	if err := db.QueryRow(ctx, query, schema, table).Scan(&count); err != nil {
		return false, err
	}
	return count == 1, nil
}

func (f *Postgres) GetTableColumns(ctx context.Context, database, schema, table string) ([]string, error) {
	db, err := f.GetConnection(ctx, database)
	if err != nil {
		return nil, err
	}
	defer db.Close(ctx)
	var columnNames pgtype.TextArray
	query := "SELECT array_agg(column_name::text ORDER BY ordinal_position) FROM information_schema.columns WHERE table_schema = $1 AND table_name = $2"
	if err := db.QueryRow(ctx, query, schema, table).Scan(&columnNames); err != nil {
		return nil, err
	}
	cols := make([]string, 0, len(columnNames.Elements))
	for _, text := range columnNames.Elements {
		cols = append(cols, text.String)
	}
	return cols, nil
}

func (f *Postgres) GetTables(ctx context.Context, database string) ([]string, error) {
	db, err := f.GetConnection(ctx, database)
	if err != nil {
		return nil, err
	}
	defer db.Close(ctx)
	tables := []string{}
	rows, err := db.Query(ctx, "SELECT tablename FROM pg_catalog.pg_tables WHERE schemaname != 'information_schema' AND schemaname != 'pg_catalog'")
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var table string
		if err := rows.Scan(&table); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		tables = append(tables, table)
	}
	return tables, rows.Err()
}
