package transfer

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/Mr-browny/ethy/entities"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/olebedev/emitter"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// TopicLedgerChanged is emitted after a confirmed write. The event carries the fresh transaction count.
const TopicLedgerChanged = "ledger.changed"

const (
	outcomeConfirmed = "confirmed"
	outcomeRejected  = "rejected"
	outcomeFailed    = "failed"
	outcomeBusy      = "busy"
)

type Wallet interface {
	EnsureAccount(ctx context.Context) (entities.Account, error)
	Restore(ctx context.Context) (entities.Account, error)
	Account() entities.Account
}

type Ledger interface {
	GetAllTransactions(ctx context.Context) ([]entities.TransactionRecord, error)
	GetTransactionCount(ctx context.Context) (uint64, error)
	SubmitTransfer(ctx context.Context, from entities.Account, recipient string, amount *big.Int, message, keyword string) (entities.Confirmation, error)
}

type CountStore interface {
	GetTransactionCount(ctx context.Context) (uint64, error)
	SetTransactionCount(ctx context.Context, count uint64) error
}

type Config struct {
	Decimals     int32
	OnTransition func(Transition) // called synchronously on every state entry
}

type Result struct {
	Transaction      *entities.SubmittedTransaction
	TransactionCount uint64
}

type SyncReport struct {
	Account         entities.Account
	WalletAvailable bool
	Transactions    []entities.TransactionRecord
	// TransactionCount is the live ledger count, PreviousCount the persisted hint found before.
	TransactionCount uint64
	PreviousCount    uint64
	HadPrevious      bool
}

// Changed reports whether the ledger moved since the persisted hint was written.
func (r *SyncReport) Changed() bool {
	return !r.HadPrevious || r.PreviousCount != r.TransactionCount
}

type Status struct {
	State          State            `json:"state"`
	Loading        bool             `json:"loading"`
	Account        entities.Account `json:"account"`
	PersistedCount *uint64          `json:"persistedCount"`
}

// Controller drives one submission at a time from validation to reconciliation with the ledger.
type Controller struct {
	wallet       Wallet
	ledger       Ledger
	store        CountStore
	cache        *TransactionCache
	events       *emitter.Emitter
	metrics      *Metrics
	logger       *zap.SugaredLogger
	decimals     int32
	onTransition func(Transition)

	mu      sync.Mutex
	state   State
	loading bool

	// syncMu orders ledger reads with the cache and count writes that follow them
	syncMu sync.Mutex
}

func NewController(wallet Wallet, ledger Ledger, store CountStore, cache *TransactionCache, m *Metrics, logger *zap.SugaredLogger, cfg Config) *Controller {
	if cfg.Decimals == 0 {
		cfg.Decimals = entities.DefaultDecimals
	}
	return &Controller{
		wallet:       wallet,
		ledger:       ledger,
		store:        store,
		cache:        cache,
		events:       emitter.New(8),
		metrics:      m,
		logger:       logger,
		decimals:     cfg.Decimals,
		onTransition: cfg.OnTransition,
		state:        StateIdle,
	}
}

// Submit runs one transfer through the state machine. It blocks while the wallet prompts the user
// and while the transaction waits for confirmation. Every return leaves the controller Idle.
func (c *Controller) Submit(ctx context.Context, request entities.TransferRequest) (*Result, error) {
	if current, ok := c.tryBegin(); !ok {
		c.metrics.IncSubmissions(outcomeBusy)
		return nil, entities.NewError(entities.KindSubmissionInProgress, fmt.Sprintf("controller is %s", current), nil)
	}

	amount, err := c.validate(request)
	if err != nil {
		return nil, c.fail(StateRejected, err)
	}

	c.enter(StateAwaitingSignature, false)
	account, err := c.wallet.EnsureAccount(ctx)
	if err != nil {
		return nil, c.fail(terminalState(err), err)
	}

	recipient := strings.TrimSpace(request.Recipient)
	confirmation, err := c.ledger.SubmitTransfer(ctx, account, recipient, amount, request.Message, request.Keyword)
	if err != nil {
		return nil, c.fail(terminalState(err), err)
	}

	submitted := &entities.SubmittedTransaction{
		ID:           uuid.NewString(),
		Sender:       account,
		Recipient:    recipient,
		Amount:       amount,
		Message:      request.Message,
		Keyword:      request.Keyword,
		SubmittedAt:  time.Now().UTC(),
		Confirmation: confirmation,
	}
	result := &Result{Transaction: submitted}

	c.enter(StateAwaitingConfirmation, true)
	c.logger.Infow("Waiting for confirmation", "id", submitted.ID, "hash", confirmation.TxHash(), "from", account, "to", recipient)
	err = confirmation.Wait(ctx)
	if err != nil {
		return result, c.fail(StateFailed, entities.LedgerCallFailed(err))
	}
	c.metrics.ObserveConfirmation(time.Since(submitted.SubmittedAt).Seconds())

	c.enter(StateReconciling, false)
	count, err := c.reconcile(ctx, account)
	if err != nil {
		// the write is final, listeners still have to re-read
		c.emitLedgerChanged(0)
		return result, c.fail(StateFailed, err)
	}
	result.TransactionCount = count

	c.enter(StateIdle, false)
	c.metrics.IncSubmissions(outcomeConfirmed)
	c.logger.Infow("Transaction confirmed", "id", submitted.ID, "hash", confirmation.TxHash(), "transactionCount", count)
	c.emitLedgerChanged(count)
	return result, nil
}

// Startup adopts an already authorized wallet session and refreshes the persisted count. Both run
// concurrently and independently of each other.
func (c *Controller) Startup(ctx context.Context) (*SyncReport, error) {
	report, err := c.sync(ctx, c.wallet.Restore)
	if err != nil {
		return report, err
	}
	if report.Changed() {
		c.logger.Infow("Ledger changed since last session", "previousCount", report.PreviousCount, "transactionCount", report.TransactionCount)
	}
	return report, nil
}

// Reload re-reads all ledger derived state: account, transaction list and count.
func (c *Controller) Reload(ctx context.Context) (*SyncReport, error) {
	return c.sync(ctx, func(ctx context.Context) (entities.Account, error) {
		if account := c.wallet.Account(); account != "" {
			return account, nil
		}
		return c.wallet.Restore(ctx)
	})
}

// LedgerChanges subscribes to the signal emitted after every confirmed write.
func (c *Controller) LedgerChanges() <-chan emitter.Event {
	return c.events.On(TopicLedgerChanged)
}

func (c *Controller) Unsubscribe(ch <-chan emitter.Event) {
	c.events.Off(TopicLedgerChanged, ch)
}

// Transactions returns the cached ledger history of the session account.
func (c *Controller) Transactions() ([]entities.TransactionRecord, bool) {
	account := c.wallet.Account()
	if account == "" {
		return nil, false
	}
	return c.cache.Get(account)
}

func (c *Controller) Status(ctx context.Context) Status {
	c.mu.Lock()
	status := Status{State: c.state, Loading: c.loading}
	c.mu.Unlock()

	status.Account = c.wallet.Account()
	count, err := c.store.GetTransactionCount(ctx)
	if err == nil {
		status.PersistedCount = &count
	} else if !errors.Is(err, entities.ErrStoreEntityNotFound) {
		c.logger.Warnw("Reading persisted transaction count failed", "error", err)
	}
	return status
}

func (c *Controller) validate(request entities.TransferRequest) (*big.Int, error) {
	if !request.Complete() {
		return nil, entities.NewError(entities.KindIncompleteForm, "recipient, amount, keyword and message are required", nil)
	}
	if !common.IsHexAddress(strings.TrimSpace(request.Recipient)) {
		return nil, entities.NewError(entities.KindInvalidInput, fmt.Sprintf("invalid recipient address [%s]", request.Recipient), nil)
	}
	return entities.ToBaseUnits(request.Amount, c.decimals)
}

// reconcile trusts only a fresh ledger read, the cached list is dropped instead of patched.
func (c *Controller) reconcile(ctx context.Context, account entities.Account) (uint64, error) {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	c.cache.Invalidate(account)

	count, err := c.ledger.GetTransactionCount(ctx)
	if err != nil {
		return 0, err
	}
	c.persistCount(ctx, count)
	return count, nil
}

func (c *Controller) sync(ctx context.Context, restore func(context.Context) (entities.Account, error)) (*SyncReport, error) {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()

	report := &SyncReport{}

	var errorGroup errgroup.Group
	errorGroup.Go(func() error {
		account, err := restore(ctx)
		if entities.KindOf(err) == entities.KindWalletUnavailable {
			c.logger.Warnw("Wallet unavailable, skipping account restore", "error", err)
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "restoring wallet session")
		}
		report.WalletAvailable = true
		if account == "" {
			return nil
		}

		records, err := c.ledger.GetAllTransactions(ctx)
		if err != nil {
			return errors.Wrap(err, "loading transactions")
		}
		c.cache.Store(account, records)
		report.Account = account
		report.Transactions = records
		return nil
	})
	errorGroup.Go(func() error {
		previous, err := c.store.GetTransactionCount(ctx)
		if err == nil {
			report.PreviousCount, report.HadPrevious = previous, true
		} else if !errors.Is(err, entities.ErrStoreEntityNotFound) {
			c.logger.Warnw("Reading persisted transaction count failed", "error", err)
		}

		count, err := c.ledger.GetTransactionCount(ctx)
		if err != nil {
			return errors.Wrap(err, "getting transaction count")
		}
		c.persistCount(ctx, count)
		report.TransactionCount = count
		return nil
	})

	err := errorGroup.Wait()
	if err != nil {
		return report, err
	}
	return report, nil
}

// persistCount overwrites the hint. A failed write is logged only, the hint is never authoritative.
func (c *Controller) persistCount(ctx context.Context, count uint64) {
	c.metrics.SetTransactionCount(count)
	err := c.store.SetTransactionCount(ctx, count)
	if err != nil {
		c.logger.Errorw("Persisting transaction count failed", "count", count, "error", err)
	}
}

func (c *Controller) emitLedgerChanged(count uint64) {
	c.events.Emit(TopicLedgerChanged, count)
}

func (c *Controller) tryBegin() (State, bool) {
	c.mu.Lock()
	if c.state != StateIdle {
		current := c.state
		c.mu.Unlock()
		return current, false
	}
	c.state, c.loading = StateValidating, false
	c.mu.Unlock()

	c.notify(Transition{From: StateIdle, To: StateValidating})
	return StateValidating, true
}

func (c *Controller) enter(state State, loading bool) {
	c.mu.Lock()
	from := c.state
	c.state, c.loading = state, loading
	c.mu.Unlock()

	c.notify(Transition{From: from, To: state, Loading: loading})
}

func (c *Controller) notify(transition Transition) {
	c.metrics.SetState(transition.To, transition.Loading)
	if c.onTransition != nil {
		c.onTransition(transition)
	}
}

// fail passes through the terminal state and resets to Idle with loading cleared.
func (c *Controller) fail(terminal State, err error) error {
	c.enter(terminal, false)
	c.enter(StateIdle, false)

	if terminal == StateRejected {
		c.metrics.IncSubmissions(outcomeRejected)
		c.logger.Infow("Submission rejected", "kind", entities.KindOf(err), "reason", err.Error())
	} else {
		c.metrics.IncSubmissions(outcomeFailed)
		c.logger.Errorw("Submission failed", "kind", entities.KindOf(err), "error", err)
	}
	return err
}

func terminalState(err error) State {
	switch entities.KindOf(err) {
	case entities.KindUserRejected, entities.KindIncompleteForm, entities.KindInvalidInput:
		return StateRejected
	default:
		return StateFailed
	}
}
