package suite

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/redis/go-redis/v9"

	"github.com/rocketscienceinc/tictactoe-wager/internal/repository/storage"
)

const (
	testTimeout      = 120 * time.Second
	containerTTL     = 120
	redisPort        = "6379/tcp"
	redisImage       = "redis"
	redisTag         = "alpine"
	redisDialTimeout = 2 * time.Second
)

// Suite is the environment of a test that needs the shared match store.
type Suite struct {
	*testing.T
	Logger *slog.Logger

	Storage *redis.Client
}

// NewLogger returns the JSON logger tests hand to components.
func NewLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func testContext(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)

	return ctx
}

// NewSQLite opens a migrated in-memory ledger database that lives as long as the test.
func NewSQLite(t *testing.T) (context.Context, *storage.Storage) {
	t.Helper()

	ctx := testContext(t)

	ledgerDB, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("could not open sqlite: %v", err)
	}

	t.Cleanup(func() {
		_ = ledgerDB.Close()
	})

	if err = ledgerDB.Init(ctx); err != nil {
		t.Fatalf("could not migrate sqlite: %v", err)
	}

	return ctx, ledgerDB
}

// New starts a throwaway redis container and connects to it the way the app does.
// Tests are skipped when docker is not reachable.
func New(t *testing.T) (context.Context, *Suite) {
	t.Helper()

	ctx := testContext(t)

	pool, err := dockertest.NewPool("")
	if err == nil {
		err = pool.Client.Ping()
	}
	if err != nil {
		t.Skipf("docker is not available: %v", err)
	}
	pool.MaxWait = testTimeout

	resource := runRedis(t, pool)

	var matchStore *storage.RedisStorage
	if err = pool.Retry(func() error {
		var dialErr error
		matchStore, dialErr = storage.NewRedisStorage(ctx, storage.RedisOptions{
			Addr:        resource.GetHostPort(redisPort),
			DialTimeout: redisDialTimeout,
		})

		return dialErr
	}); err != nil {
		t.Fatalf("redis never became ready: %v", err)
	}

	t.Cleanup(func() {
		_ = matchStore.Close()
	})

	return ctx, &Suite{
		T:       t,
		Logger:  NewLogger(),
		Storage: matchStore.Connection,
	}
}

func runRedis(t *testing.T, pool *dockertest.Pool) *dockertest.Resource {
	t.Helper()

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: redisImage,
		Tag:        redisTag,
		// no snapshots, every test starts from an empty keyspace
		Cmd: []string{"redis-server", "--save", "", "--appendonly", "no"},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("could not start redis: %v", err)
	}

	// hard kill in case Purge below never runs
	_ = resource.Expire(containerTTL)

	t.Cleanup(func() {
		if err := pool.Purge(resource); err != nil {
			t.Errorf("could not purge redis: %v", err)
		}
	})

	return resource
}
