package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/maareksillamae/mock-bank/internal/directory"
	"github.com/maareksillamae/mock-bank/internal/models"
	"github.com/maareksillamae/mock-bank/internal/repository"
)

// ErrPeerUnreachable is returned when a dispatch got no usable response:
// timeout, network error or an undecodable body. The transfer stays
// pending and is retried on a later sweep.
var ErrPeerUnreachable = errors.New("peer bank unreachable")

// ErrPeerRejected is returned when the peer answered with a non-2xx
// status. The transfer is terminally failed.
var ErrPeerRejected = errors.New("peer bank rejected transfer")

const (
	// transferExpiry is how long a transfer may stay pending before it
	// is failed without further dispatch attempts.
	transferExpiry = 3 * 24 * time.Hour

	defaultDispatchTimeout = 10 * time.Second
)

// Ledger is the slice of the durable store the engine needs.
type Ledger interface {
	PendingTransfers(ctx context.Context) ([]models.Transfer, error)
	CompleteTransfer(ctx context.Context, id int64, receiverName string) error
	MarkTransferFailed(ctx context.Context, id int64) error
	AdjustBalance(ctx context.Context, number string, delta int64) error
	AccountOwnerName(ctx context.Context, number string) (string, error)
}

// Resolver resolves a bank prefix to a directory entry.
type Resolver interface {
	Resolve(ctx context.Context, prefix string) (*models.RemoteBank, error)
}

// Signer produces the signed wire form of a transfer payload.
type Signer interface {
	Sign(payload models.TransferPayload) (string, error)
}

// Engine advances pending transfers to a terminal outcome. It runs as a
// recurring sweep for the lifetime of the process; every transfer in a
// sweep is processed independently, so one hung peer cannot stall the
// rest.
type Engine struct {
	ledger     Ledger
	directory  Resolver
	signer     Signer
	bankPrefix string
	client     *http.Client
	log        *logrus.Logger
	interval   time.Duration
	timeout    time.Duration
	cron       *cron.Cron
}

// New initializes a settlement engine.
func New(ledger Ledger, dir Resolver, signer Signer, bankPrefix string, interval time.Duration, log *logrus.Logger) *Engine {
	return &Engine{
		ledger:     ledger,
		directory:  dir,
		signer:     signer,
		bankPrefix: bankPrefix,
		client:     &http.Client{},
		log:        log,
		interval:   interval,
		timeout:    defaultDispatchTimeout,
	}
}

// Start schedules the sweep at the configured interval and returns
// immediately. The sweep keeps rescheduling until Stop is called.
func (e *Engine) Start() error {
	e.cron = cron.New()
	_, err := e.cron.AddFunc(fmt.Sprintf("@every %s", e.interval), func() {
		e.Sweep(context.Background())
	})
	if err != nil {
		return fmt.Errorf("failed to schedule settlement sweep: %w", err)
	}
	e.cron.Start()
	e.log.Infof("Settlement sweep scheduled every %s", e.interval)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (e *Engine) Stop() {
	if e.cron != nil {
		<-e.cron.Stop().Done()
	}
}

// Sweep runs one settlement cycle over all pending transfers, each in
// its own goroutine.
func (e *Engine) Sweep(ctx context.Context) {
	transfers, err := e.ledger.PendingTransfers(ctx)
	if err != nil {
		e.log.Errorf("Failed to load pending transfers: %v", err)
		return
	}
	if len(transfers) == 0 {
		return
	}

	e.log.Infof("Processing %d pending transfers", len(transfers))

	var wg sync.WaitGroup
	for _, t := range transfers {
		wg.Add(1)
		go func(t models.Transfer) {
			defer wg.Done()
			e.process(ctx, t)
		}(t)
	}
	wg.Wait()
}

// process drives a single transfer. inProgress lives only in memory for
// the duration of this call; a crash leaves the record pending, which is
// safe to reprocess.
func (e *Engine) process(ctx context.Context, t models.Transfer) {
	t.Status = models.StatusInProgress
	log := e.log.WithField("transfer", t.ID)

	if time.Now().After(t.CreatedAt.Add(transferExpiry)) {
		log.Info("Transfer expired, marking failed")
		e.fail(ctx, t.ID)
		return
	}

	prefix := models.BankPrefix(t.AccountTo)
	if prefix == "" {
		log.Warnf("Destination account %q carries no bank prefix", t.AccountTo)
		e.fail(ctx, t.ID)
		return
	}

	if prefix == e.bankPrefix {
		e.settleLocal(ctx, t, log)
		return
	}

	bank, err := e.directory.Resolve(ctx, prefix)
	if errors.Is(err, directory.ErrUnknownBank) {
		log.Infof("Prefix %s unknown even after directory refresh, marking failed", prefix)
		e.fail(ctx, t.ID)
		return
	}
	if err != nil {
		// Directory trouble is transient; retry on the next sweep.
		log.Warnf("Could not resolve destination bank: %v", err)
		return
	}

	token, err := e.signer.Sign(t.Payload())
	if err != nil {
		log.Errorf("Failed to sign transfer: %v", err)
		return
	}

	receiverName, err := e.dispatch(ctx, bank.TransactionURL, token)
	if errors.Is(err, ErrPeerRejected) {
		log.Infof("Transfer rejected: %v", err)
		e.fail(ctx, t.ID)
		return
	}
	if err != nil {
		// No usable response; the transfer stays pending for retry.
		log.Warnf("Dispatch got no response: %v", err)
		return
	}

	if err := e.ledger.AdjustBalance(ctx, t.AccountFrom, -t.Amount); err != nil {
		// The peer already credited; record the loss as a failed
		// transfer rather than retrying delivery.
		log.Errorf("Failed to debit source account %s after delivery: %v", t.AccountFrom, err)
		e.fail(ctx, t.ID)
		return
	}

	if err := e.ledger.CompleteTransfer(ctx, t.ID, receiverName); err != nil {
		log.Errorf("Failed to mark transfer completed: %v", err)
		return
	}
	log.Infof("Transfer completed, received by %s", receiverName)
}

// settleLocal settles a transfer whose destination is in this bank.
// No directory lookup, signing or dispatch is involved.
func (e *Engine) settleLocal(ctx context.Context, t models.Transfer, log *logrus.Entry) {
	receiverName, err := e.ledger.AccountOwnerName(ctx, t.AccountTo)
	if errors.Is(err, repository.ErrNotFound) {
		log.Infof("Local destination account %s does not exist, marking failed", t.AccountTo)
		e.fail(ctx, t.ID)
		return
	}
	if err != nil {
		log.Errorf("Failed to look up local destination: %v", err)
		return
	}

	if err := e.ledger.AdjustBalance(ctx, t.AccountFrom, -t.Amount); err != nil {
		log.Warnf("Failed to debit source account %s: %v", t.AccountFrom, err)
		e.fail(ctx, t.ID)
		return
	}
	if err := e.ledger.AdjustBalance(ctx, t.AccountTo, t.Amount); err != nil {
		log.Errorf("Failed to credit destination account %s after debit: %v", t.AccountTo, err)
		e.fail(ctx, t.ID)
		return
	}

	if err := e.ledger.CompleteTransfer(ctx, t.ID, receiverName); err != nil {
		log.Errorf("Failed to mark transfer completed: %v", err)
		return
	}
	log.Info("Local transfer completed")
}

// dispatch POSTs the signed token to the peer's transfer-submission URL
// and returns the receiver name from its response.
func (e *Engine) dispatch(ctx context.Context, transactionURL, token string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{"jwt": token})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPeerUnreachable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, transactionURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPeerUnreachable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPeerUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: status code %d", ErrPeerRejected, resp.StatusCode)
	}

	var result struct {
		ReceiverName string `json:"receiverName"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: undecodable response: %v", ErrPeerUnreachable, err)
	}
	return result.ReceiverName, nil
}

// fail moves a transfer to its terminal failed state.
func (e *Engine) fail(ctx context.Context, id int64) {
	if err := e.ledger.MarkTransferFailed(ctx, id); err != nil {
		e.log.Errorf("Failed to mark transfer %d failed: %v", id, err)
	}
}
