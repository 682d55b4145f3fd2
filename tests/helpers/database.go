package helpers

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/hbomb79/Tempo/internal/database"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/gommon/random"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	User         = "postgres"
	Password     = "postgres"
	MasterDBName = "TEMPO_DB"
)

// databaseManager is an internal test helper which shares a single
// postgres container between every test in a package. Each test is
// given its own freshly migrated database inside of that container.
type databaseManager struct {
	*sync.Mutex
	pgContainer *postgres.PostgresContainer
	connection  *sql.DB
}

var dbManager = &databaseManager{Mutex: &sync.Mutex{}}

// RequireDatabase provisions a new, migrated database for the calling test and
// returns a connection to it. The database is dropped when the test completes.
// Tests using this helper are skipped when running with '-short'.
func RequireDatabase(t *testing.T) *sqlx.DB {
	name, dsn := dbManager.provision(t)

	db, err := sqlx.Open(database.SqlDialect, replaceDatabaseName(dsn, name))
	if err != nil {
		t.Fatalf("failed to open connection to provisioned database: %s", err)
	}
	if err := database.Migrate(db.DB); err != nil {
		t.Fatalf("failed to migrate provisioned database: %s", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return db
}

// RequireDatabaseConfig provisions a new, empty database for the calling test and
// returns the configuration required to connect to it. Migrations are left to
// the caller (Tempo applies them on connection).
func RequireDatabaseConfig(t *testing.T) database.DatabaseConfig {
	name, _ := dbManager.provision(t)

	ctx := context.Background()
	host, err := dbManager.pgContainer.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get database host: %s", err)
	}
	port, err := dbManager.pgContainer.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("failed to get database port: %s", err)
	}

	return database.DatabaseConfig{
		User:            User,
		Password:        Password,
		Name:            name,
		Host:            host,
		Port:            port.Port(),
		ConnectAttempts: 5,
	}
}

// provision creates a uniquely named database inside of the shared container, which
// is dropped when the test completes. The name of the database and the DSN of the
// master database are returned.
func (manager *databaseManager) provision(t *testing.T) (string, string) {
	if testing.Short() {
		t.Skip("skipping database test in short mode")
	}

	manager.Lock()
	defer manager.Unlock()

	ctx := context.Background()
	if manager.pgContainer == nil {
		manager.spawnPostgres(t, ctx)
	}

	name := "tempo_" + random.String(12, random.Lowercase)
	if _, err := manager.connection.Exec(fmt.Sprintf(`CREATE DATABASE "%s"`, name)); err != nil {
		t.Fatalf("failed to provision database '%s': %s", name, err)
	}

	dsn, err := manager.pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %s", err)
	}

	// Registered before any cleanup of the caller, so the database is
	// dropped only once every connection to it has been closed.
	t.Cleanup(func() {
		if _, err := manager.connection.Exec(fmt.Sprintf(`DROP DATABASE IF EXISTS "%s" WITH (FORCE)`, name)); err != nil {
			t.Logf("WARNING: failed to drop database '%s': %s", name, err)
		}
	})

	return name, dsn
}

func (manager *databaseManager) spawnPostgres(t *testing.T, ctx context.Context) {
	postgresC, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("docker.io/postgres:14.1-alpine"),
		postgres.WithDatabase(MasterDBName),
		postgres.WithUsername(User),
		postgres.WithPassword(Password),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		testcontainers.WithHostConfigModifier(func(hostConfig *container.HostConfig) { hostConfig.AutoRemove = true }),
	)
	if err != nil {
		t.Fatalf("failed to start container: %s", err)
		return
	}

	dsn, err := postgresC.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %s", err)
	}

	conn, err := sql.Open(database.SqlDialect, dsn)
	if err != nil {
		t.Fatalf("failed to open postgres connection: %s", err)
	}

	for attempt := 1; ; attempt++ {
		if err := conn.Ping(); err != nil {
			if attempt >= 5 {
				t.Fatalf("all database connection attempts FAILED: %s", err)
			}

			t.Logf("DB connection attempt (%v/5) failed... Retrying in 1s", attempt)
			time.Sleep(time.Second)
			continue
		}

		break
	}

	manager.pgContainer = postgresC
	manager.connection = conn
}

// replaceDatabaseName swaps the database in a postgres URL connection string
// for the name provided.
func replaceDatabaseName(dsn string, name string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return dsn
	}

	u.Path = "/" + name
	return u.String()
}
