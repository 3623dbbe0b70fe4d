package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/leasepool-server-go/internal/model"
	"github.com/openclaw/leasepool-server-go/internal/repository"
	"github.com/openclaw/leasepool-server-go/internal/testutil"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
	failPut bool
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: map[string][]byte{}}
}

func (m *memBlobs) Put(ctx context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut {
		return errors.New("bucket unavailable")
	}
	m.objects[key] = data
	return nil
}

func (m *memBlobs) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func (m *memBlobs) URL(key string) string {
	return "https://cdn.example.com/" + key
}

var keySeq atomic.Int64

type testEnv struct {
	db         *sqlx.DB
	repo       repository.ResourceRepository
	pools      *Pools
	clock      *fakeClock
	blobs      *memBlobs
	lease      *LeaseService
	ledger     *CreditLedger
	reconciler *CookieReconciler
	retire     *RetireService
	resources  *ResourceService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.NewTestDB(t)
	repo := repository.NewResourceRepository(db)
	pools := DefaultPools()
	clock := &fakeClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	blobs := newMemBlobs()

	env := &testEnv{
		db:         db,
		repo:       repo,
		pools:      pools,
		clock:      clock,
		blobs:      blobs,
		lease:      NewLeaseService(repo, DefaultCooldown),
		ledger:     NewCreditLedger(repo, pools),
		reconciler: NewCookieReconciler(repo, blobs, pools),
		retire:     NewRetireService(db, repo, blobs, pools),
	}
	env.resources = NewResourceService(repo, repository.NewStatsRepository(db), pools, env.ledger, env.retire, 5, DefaultCooldown)

	env.lease.now = clock.Now
	env.ledger.now = clock.Now
	env.reconciler.now = clock.Now
	env.retire.now = clock.Now
	env.resources.now = clock.Now

	return env
}

func (e *testEnv) create(t *testing.T, kind model.Kind, credits int) *model.Resource {
	t.Helper()
	params := CreateResourceParams{Email: "user@example.com", Password: "pw", Credits: &credits}
	if kind == model.KindAPIKey {
		params = CreateResourceParams{APIKey: fmt.Sprintf("bk_test_%d", keySeq.Add(1)), Credits: &credits}
	}
	res, err := e.resources.Create(context.Background(), kind, params)
	require.NoError(t, err)
	return res
}

func (e *testEnv) set(t *testing.T, id int64, column string, value interface{}) {
	t.Helper()
	_, err := e.db.Exec(`UPDATE resources SET `+column+` = $1 WHERE id = $2`, value, id)
	require.NoError(t, err)
}

func (e *testEnv) get(t *testing.T, id int64) *model.Resource {
	t.Helper()
	res, err := e.repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	return res
}
