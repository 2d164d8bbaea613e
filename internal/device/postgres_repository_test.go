package device_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psptrack/psptrack/internal/database"
	"github.com/psptrack/psptrack/internal/device"
)

// connect opens a separate pool, standing in for a separate process.
func connect(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if os.Getenv("DB_INTEGRATION") == "" {
		t.Skip("DB_INTEGRATION not set")
	}

	ctx := context.Background()
	pool, err := database.Connect(ctx, database.ConfigFromEnv())
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	_, err = database.Migrate(ctx, pool)
	require.NoError(t, err)
	return pool
}

func TestPostgresRepository_LockExcludesOtherPools(t *testing.T) {
	ctx := context.Background()
	api := device.NewPostgresRepository(connect(t))
	worker := device.NewPostgresRepository(connect(t))

	unlock, err := api.Lock(ctx, testEUI)
	require.NoError(t, err)

	acquired := make(chan func(), 1)
	go func() {
		u, err := worker.Lock(ctx, testEUI)
		if assert.NoError(t, err) {
			acquired <- u
		}
	}()

	assert.Never(t, func() bool { return len(acquired) > 0 }, 200*time.Millisecond, 10*time.Millisecond)

	// Another device is not blocked.
	other, err := worker.Lock(ctx, "0004a30b001c42f0")
	require.NoError(t, err)
	other()

	unlock()
	select {
	case u := <-acquired:
		u()
	case <-time.After(5 * time.Second):
		t.Fatal("second pool never acquired the lock")
	}
}

func TestPostgresRepository_LockedReadModifyWrite(t *testing.T) {
	ctx := context.Background()
	repos := []*device.PostgresRepository{
		device.NewPostgresRepository(connect(t)),
		device.NewPostgresRepository(connect(t)),
	}
	eui := fmt.Sprintf("%016x", time.Now().UnixNano())
	require.NoError(t, repos[0].Upsert(ctx, &device.Device{EUI: eui, Owners: []string{}}))

	const perRepo = 20
	done := make(chan struct{})
	for i, repo := range repos {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < perRepo; j++ {
				unlock, err := repo.Lock(ctx, eui)
				if !assert.NoError(t, err) {
					return
				}
				d, err := repo.Get(ctx, eui)
				if assert.NoError(t, err) {
					d.Record(device.Position{Latitude: float64(i), Timestamp: time.Now()}, 0)
					assert.NoError(t, repo.Upsert(ctx, d))
				}
				unlock()
			}
		}()
	}
	<-done
	<-done

	d, err := repos[0].Get(ctx, eui)
	require.NoError(t, err)
	assert.Len(t, d.Positions, 2*perRepo, "no write is lost across pools")
}
