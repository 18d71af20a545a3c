package directory

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maareksillamae/mock-bank/internal/models"
	"github.com/maareksillamae/mock-bank/internal/repository"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type fakeStore struct {
	mu    sync.Mutex
	banks map[string]models.RemoteBank
}

func newFakeStore(banks ...models.RemoteBank) *fakeStore {
	s := &fakeStore{banks: map[string]models.RemoteBank{}}
	for _, b := range banks {
		s.banks[b.BankPrefix] = b
	}
	return s
}

func (s *fakeStore) FindRemoteBank(ctx context.Context, prefix string) (*models.RemoteBank, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.banks[prefix]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &b, nil
}

func (s *fakeStore) ReplaceRemoteBanks(ctx context.Context, banks []models.RemoteBank) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.banks = map[string]models.RemoteBank{}
	for _, b := range banks {
		s.banks[b.BankPrefix] = b
	}
	return nil
}

func (s *fakeStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.banks)
}

const membership = `[
	{"name":"testbank","transactionUrl":"http://testbank.test/transactions/b2b",
	 "apiKey":"94d21b14","bankPrefix":"666","owners":"Künter Pärtel",
	 "jwksUrl":"http://testbank.test/jwks.json"},
	{"name":"Demo pank","transactionUrl":"http://demo-bank.test/transactions/b2b",
	 "apiKey":"7ec31850","bankPrefix":"7v7","owners":"Demo Bank",
	 "jwksUrl":"http://demo-bank.test/transactions/jwks"},
	{"name":"broken bank","bankPrefix":"bad"}
]`

func centralBank(t *testing.T, hits *int32) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		assert.Equal(t, "/banks", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("api-key"))
		fmt.Fprint(w, membership)
	}))
}

func TestRefreshReplacesWholeMirror(t *testing.T) {
	central := centralBank(t, nil)
	defer central.Close()

	store := newFakeStore(models.RemoteBank{
		Name: "stale", BankPrefix: "OLD",
		TransactionURL: "http://stale.test", JwksURL: "http://stale.test/jwks",
	})
	dir := New(store, central.URL, "test-key", testLogger())

	require.NoError(t, dir.Refresh(context.Background()))

	// Incomplete entries are skipped, stale ones are gone.
	assert.Equal(t, 2, store.size())
	_, err := store.FindRemoteBank(context.Background(), "OLD")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	bank, err := store.FindRemoteBank(context.Background(), "666")
	require.NoError(t, err)
	assert.Equal(t, "testbank", bank.Name)
}

func TestRefreshFailureLeavesCacheUntouched(t *testing.T) {
	central := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer central.Close()

	store := newFakeStore(models.RemoteBank{
		Name: "keep", BankPrefix: "666",
		TransactionURL: "http://keep.test", JwksURL: "http://keep.test/jwks",
	})
	dir := New(store, central.URL, "test-key", testLogger())

	err := dir.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrDirectoryUnavailable)
	assert.Equal(t, 1, store.size())
}

func TestRefreshUnreachableDirectory(t *testing.T) {
	central := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	central.Close()

	dir := New(newFakeStore(), central.URL, "test-key", testLogger())
	assert.ErrorIs(t, dir.Refresh(context.Background()), ErrDirectoryUnavailable)
}

func TestResolveCacheHitSkipsRefresh(t *testing.T) {
	var hits int32
	central := centralBank(t, &hits)
	defer central.Close()

	store := newFakeStore(models.RemoteBank{
		Name: "cached", BankPrefix: "666",
		TransactionURL: "http://cached.test", JwksURL: "http://cached.test/jwks",
	})
	dir := New(store, central.URL, "test-key", testLogger())

	bank, err := dir.Resolve(context.Background(), "666")
	require.NoError(t, err)
	assert.Equal(t, "cached", bank.Name)
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}

func TestResolveMissRefreshesAndRetries(t *testing.T) {
	var hits int32
	central := centralBank(t, &hits)
	defer central.Close()

	dir := New(newFakeStore(), central.URL, "test-key", testLogger())

	bank, err := dir.Resolve(context.Background(), "7v7")
	require.NoError(t, err)
	assert.Equal(t, "Demo pank", bank.Name)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestResolveUnknownAfterRefresh(t *testing.T) {
	var hits int32
	central := centralBank(t, &hits)
	defer central.Close()

	dir := New(newFakeStore(), central.URL, "test-key", testLogger())

	_, err := dir.Resolve(context.Background(), "ZZZ")
	assert.ErrorIs(t, err, ErrUnknownBank)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "exactly one refresh per miss")
}

func TestResolveDirectoryDown(t *testing.T) {
	central := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer central.Close()

	dir := New(newFakeStore(), central.URL, "test-key", testLogger())

	_, err := dir.Resolve(context.Background(), "666")
	assert.ErrorIs(t, err, ErrDirectoryUnavailable)
}
