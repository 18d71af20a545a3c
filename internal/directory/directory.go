package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/maareksillamae/mock-bank/internal/models"
	"github.com/maareksillamae/mock-bank/internal/repository"
)

// ErrDirectoryUnavailable is returned when the central directory could
// not be reached or answered with an error. The local cache is left
// untouched; stale data beats no data.
var ErrDirectoryUnavailable = errors.New("central directory unavailable")

// ErrUnknownBank is returned when a prefix is unknown even after a
// directory refresh.
var ErrUnknownBank = errors.New("unknown bank prefix")

const refreshTimeout = 10 * time.Second

// Store is the persistence the directory cache sits on.
type Store interface {
	FindRemoteBank(ctx context.Context, prefix string) (*models.RemoteBank, error)
	ReplaceRemoteBanks(ctx context.Context, banks []models.RemoteBank) error
}

// Directory is the local mirror of the federation's membership list,
// refreshed wholesale from the central directory on cache miss.
type Directory struct {
	store  Store
	url    string
	apiKey string
	client *http.Client
	log    *logrus.Logger
	group  singleflight.Group
}

// New initializes a directory cache over the given store.
func New(store Store, centralBankURL, apiKey string, log *logrus.Logger) *Directory {
	return &Directory{
		store:  store,
		url:    centralBankURL,
		apiKey: apiKey,
		client: &http.Client{Timeout: refreshTimeout},
		log:    log,
	}
}

// Resolve looks a peer bank up by prefix. On a cache miss it refreshes
// the mirror from the central directory and retries exactly once;
// ErrUnknownBank means the prefix is unknown even after that.
func (d *Directory) Resolve(ctx context.Context, prefix string) (*models.RemoteBank, error) {
	bank, err := d.store.FindRemoteBank(ctx, prefix)
	if err == nil {
		return bank, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	if err := d.Refresh(ctx); err != nil {
		return nil, err
	}

	bank, err = d.store.FindRemoteBank(ctx, prefix)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUnknownBank
	}
	return bank, err
}

// Refresh replaces the whole mirror with the central directory's current
// membership list. Concurrent callers share a single in-flight refresh.
func (d *Directory) Refresh(ctx context.Context) error {
	_, err, _ := d.group.Do("refresh", func() (interface{}, error) {
		return nil, d.refresh(ctx)
	})
	return err
}

func (d *Directory) refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	d.log.Infof("Refreshing remote banks from central directory at %s/banks", d.url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url+"/banks", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	req.Header.Set("api-key", d.apiKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: unexpected status code %d", ErrDirectoryUnavailable, resp.StatusCode)
	}

	var banks []models.RemoteBank
	if err := json.NewDecoder(resp.Body).Decode(&banks); err != nil {
		return fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}

	valid := banks[:0]
	for _, b := range banks {
		if !b.Valid() {
			d.log.Warnf("Skipping incomplete directory entry %q (prefix %q)", b.Name, b.BankPrefix)
			continue
		}
		valid = append(valid, b)
	}

	if err := d.store.ReplaceRemoteBanks(ctx, valid); err != nil {
		return fmt.Errorf("failed to replace remote banks: %w", err)
	}

	d.log.Infof("Remote bank mirror replaced with %d entries", len(valid))
	return nil
}
