package transfer

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/Mr-browny/ethy/entities"
	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testMetrics = NewMetrics("test")

const (
	sender    = entities.Account("0x1111111111111111111111111111111111111111")
	recipient = "0x2222222222222222222222222222222222222222"
)

type FakeWallet struct {
	mu          sync.Mutex
	account     entities.Account
	approved    entities.Account
	ensureErr   error
	restoreErr  error
	ensureCalls int
	entered     chan struct{}
	release     chan struct{}
}

func (f *FakeWallet) EnsureAccount(_ context.Context) (entities.Account, error) {
	f.mu.Lock()
	f.ensureCalls++
	f.mu.Unlock()

	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	if f.ensureErr != nil {
		return "", f.ensureErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.account == "" {
		f.account = f.approved
	}
	return f.account, nil
}

func (f *FakeWallet) Restore(_ context.Context) (entities.Account, error) {
	if f.restoreErr != nil {
		return "", f.restoreErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.account = f.approved
	return f.account, nil
}

func (f *FakeWallet) Account() entities.Account {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.account
}

func (f *FakeWallet) EnsureCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ensureCalls
}

type FakeConfirmation struct {
	hash string
	err  error
}

func (f *FakeConfirmation) TxHash() string {
	return f.hash
}

func (f *FakeConfirmation) Wait(ctx context.Context) error {
	if f.err != nil {
		return f.err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

type submitted struct {
	from      entities.Account
	recipient string
	amount    *big.Int
	message   string
	keyword   string
}

type FakeLedger struct {
	mu           sync.Mutex
	count        uint64
	countErr     error
	records      []entities.TransactionRecord
	recordsErr   error
	submitErr    error
	confirmation *FakeConfirmation
	countCalls   int
	submissions  []submitted
	// countEntered and countRelease hold the first count read until released
	countEntered chan struct{}
	countRelease chan struct{}
}

func (f *FakeLedger) GetAllTransactions(_ context.Context) ([]entities.TransactionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records, f.recordsErr
}

func (f *FakeLedger) GetTransactionCount(_ context.Context) (uint64, error) {
	f.mu.Lock()
	f.countCalls++
	hold := f.countCalls == 1 && f.countEntered != nil
	count := f.count
	f.mu.Unlock()

	if hold {
		f.countEntered <- struct{}{}
		<-f.countRelease
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if hold {
		return count, f.countErr
	}
	return f.count, f.countErr
}

func (f *FakeLedger) SetCount(count uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count = count
}

func (f *FakeLedger) SubmitTransfer(_ context.Context, from entities.Account, recipient string, amount *big.Int, message, keyword string) (entities.Confirmation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submissions = append(f.submissions, submitted{from, recipient, amount, message, keyword})
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	if f.confirmation == nil {
		return &FakeConfirmation{hash: "0xabc"}, nil
	}
	return f.confirmation, nil
}

func (f *FakeLedger) Submissions() []submitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]submitted(nil), f.submissions...)
}

type FakeCountStore struct {
	mu     sync.Mutex
	count  *uint64
	setErr error
	sets   []uint64
}

func (f *FakeCountStore) GetTransactionCount(_ context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.count == nil {
		return 0, entities.ErrStoreEntityNotFound
	}
	return *f.count, nil
}

func (f *FakeCountStore) SetTransactionCount(_ context.Context, count uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets = append(f.sets, count)
	if f.setErr != nil {
		return f.setErr
	}
	f.count = &count
	return nil
}

func (f *FakeCountStore) Sets() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.sets...)
}

type transitionRecorder struct {
	mu          sync.Mutex
	transitions []Transition
}

func (r *transitionRecorder) record(transition Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, transition)
}

func (r *transitionRecorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var states []State
	for _, transition := range r.transitions {
		states = append(states, transition.To)
	}
	return states
}

func (r *transitionRecorder) loading() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	var loading []bool
	for _, transition := range r.transitions {
		loading = append(loading, transition.Loading)
	}
	return loading
}

type fixture struct {
	wallet     *FakeWallet
	ledger     *FakeLedger
	store      *FakeCountStore
	cache      *TransactionCache
	recorder   *transitionRecorder
	controller *Controller
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		wallet:   &FakeWallet{approved: sender},
		ledger:   &FakeLedger{},
		store:    &FakeCountStore{},
		cache:    NewTransactionCache(time.Minute),
		recorder: &transitionRecorder{},
	}
	t.Cleanup(f.cache.Stop)
	f.controller = NewController(f.wallet, f.ledger, f.store, f.cache, testMetrics, zap.NewNop().Sugar(), Config{
		OnTransition: f.recorder.record,
	})
	return f
}

func validRequest() entities.TransferRequest {
	return entities.TransferRequest{
		Recipient: recipient,
		Amount:    "0.0001",
		Keyword:   "coffee",
		Message:   "thanks",
	}
}

func uint64Ptr(v uint64) *uint64 {
	return &v
}

func TestController_Submit_givenIncompleteForm_thenRejectedWithoutWalletOrLedgerCalls(t *testing.T) {
	f := newFixture(t)
	request := validRequest()
	request.Keyword = "   "

	_, err := f.controller.Submit(context.Background(), request)
	require.ErrorIs(t, err, entities.ErrIncompleteForm)

	assert.Equal(t, 0, f.wallet.EnsureCalls())
	assert.Empty(t, f.ledger.Submissions())
	assert.Equal(t, []State{StateValidating, StateRejected, StateIdle}, f.recorder.states())
	assert.Equal(t, StateIdle, f.controller.Status(context.Background()).State)
}

func TestController_Submit_givenInvalidInput_thenRejectedLocally(t *testing.T) {
	for name, request := range map[string]entities.TransferRequest{
		"bad address":      {Recipient: "not-an-address", Amount: "1", Keyword: "k", Message: "m"},
		"too many decimals": {Recipient: recipient, Amount: "0.0000000000000000001", Keyword: "k", Message: "m"},
		"negative amount":  {Recipient: recipient, Amount: "-1", Keyword: "k", Message: "m"},
		"zero amount":      {Recipient: recipient, Amount: "0", Keyword: "k", Message: "m"},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)

			_, err := f.controller.Submit(context.Background(), request)
			require.ErrorIs(t, err, entities.ErrInvalidInput)
			assert.Equal(t, 0, f.wallet.EnsureCalls())
			assert.Empty(t, f.ledger.Submissions())
		})
	}
}

func TestController_Submit_givenConfirmedWrite_thenReconcileFromFreshCount(t *testing.T) {
	f := newFixture(t)
	f.store.count = uint64Ptr(7)
	f.ledger.count = 42
	f.cache.Store(sender, []entities.TransactionRecord{{Sender: sender.String()}})

	changes := f.controller.LedgerChanges()
	defer f.controller.Unsubscribe(changes)

	result, err := f.controller.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, uint64(42), result.TransactionCount)
	assert.Equal(t, []uint64{42}, f.store.Sets())
	assert.NotEmpty(t, result.Transaction.ID)
	assert.Equal(t, sender, result.Transaction.Sender)
	assert.Equal(t, "0xabc", result.Transaction.Confirmation.TxHash())

	expected := []submitted{{
		from:      sender,
		recipient: recipient,
		amount:    big.NewInt(100_000_000_000_000),
		message:   "thanks",
		keyword:   "coffee",
	}}
	diff := cmp.Diff(expected, f.ledger.Submissions(), cmp.AllowUnexported(submitted{}), cmp.Comparer(func(a, b *big.Int) bool {
		return a.Cmp(b) == 0
	}))
	assert.Empty(t, diff)

	_, cached := f.cache.Get(sender)
	assert.False(t, cached, "cached list must be dropped, not patched")

	select {
	case event := <-changes:
		require.Len(t, event.Args, 1)
		assert.Equal(t, uint64(42), event.Args[0])
	case <-time.After(time.Second):
		t.Fatal("no ledger changed event")
	}
}

func TestController_Submit_givenSuccess_thenStatesAndLoadingInOrder(t *testing.T) {
	f := newFixture(t)
	f.ledger.count = 1

	_, err := f.controller.Submit(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, []State{
		StateValidating,
		StateAwaitingSignature,
		StateAwaitingConfirmation,
		StateReconciling,
		StateIdle,
	}, f.recorder.states())
	assert.Equal(t, []bool{false, false, true, false, false}, f.recorder.loading())

	status := f.controller.Status(context.Background())
	assert.Equal(t, StateIdle, status.State)
	assert.False(t, status.Loading)
	assert.Equal(t, sender, status.Account)
	require.NotNil(t, status.PersistedCount)
	assert.Equal(t, uint64(1), *status.PersistedCount)
}

func TestController_Submit_givenConfirmationFails_thenReasonVerbatimAndIdle(t *testing.T) {
	f := newFixture(t)
	f.ledger.confirmation = &FakeConfirmation{hash: "0xdead", err: errors.New("execution reverted: insufficient funds")}
	f.store.count = uint64Ptr(3)

	result, err := f.controller.Submit(context.Background(), validRequest())
	require.ErrorIs(t, err, entities.ErrLedgerCallFailed)
	assert.Equal(t, "execution reverted: insufficient funds", err.Error())
	require.NotNil(t, result)
	assert.Equal(t, "0xdead", result.Transaction.Confirmation.TxHash())

	assert.Equal(t, []State{
		StateValidating,
		StateAwaitingSignature,
		StateAwaitingConfirmation,
		StateFailed,
		StateIdle,
	}, f.recorder.states())
	assert.Equal(t, []bool{false, false, true, false, false}, f.recorder.loading())

	status := f.controller.Status(context.Background())
	assert.Equal(t, StateIdle, status.State)
	assert.False(t, status.Loading)
	assert.Empty(t, f.store.Sets())
	assert.Equal(t, uint64(3), *status.PersistedCount)
}

func TestController_Submit_givenCancelledWait_thenLedgerCallFailed(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.controller.Submit(ctx, validRequest())
	require.ErrorIs(t, err, entities.ErrLedgerCallFailed)
	assert.Equal(t, context.Canceled.Error(), err.Error())
	assert.Equal(t, StateIdle, f.controller.Status(context.Background()).State)
}

func TestController_Submit_givenUserRejects_thenRejectedAndIdle(t *testing.T) {
	f := newFixture(t)
	f.wallet.ensureErr = entities.NewError(entities.KindUserRejected, "User rejected the request.", nil)

	_, err := f.controller.Submit(context.Background(), validRequest())
	require.ErrorIs(t, err, entities.ErrUserRejected)

	assert.Empty(t, f.ledger.Submissions())
	assert.Equal(t, []State{StateValidating, StateAwaitingSignature, StateRejected, StateIdle}, f.recorder.states())
}

func TestController_Submit_givenNoProvider_thenWalletUnavailable(t *testing.T) {
	f := newFixture(t)
	f.wallet.ensureErr = entities.NewError(entities.KindWalletUnavailable, "no wallet provider", nil)

	_, err := f.controller.Submit(context.Background(), validRequest())
	require.ErrorIs(t, err, entities.ErrWalletUnavailable)

	assert.Empty(t, f.ledger.Submissions())
	assert.Equal(t, []State{StateValidating, StateAwaitingSignature, StateFailed, StateIdle}, f.recorder.states())
}

func TestController_Submit_givenSignerRejects_thenRejected(t *testing.T) {
	f := newFixture(t)
	f.ledger.submitErr = entities.NewError(entities.KindUserRejected, "User denied transaction signature.", nil)

	_, err := f.controller.Submit(context.Background(), validRequest())
	require.ErrorIs(t, err, entities.ErrUserRejected)
	assert.Len(t, f.ledger.Submissions(), 1)
	assert.Equal(t, StateIdle, f.controller.Status(context.Background()).State)
}

func TestController_Submit_givenSubmissionInFlight_thenSecondFailsImmediately(t *testing.T) {
	f := newFixture(t)
	f.wallet.entered = make(chan struct{})
	f.wallet.release = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.controller.Submit(context.Background(), validRequest())
		done <- err
	}()
	<-f.wallet.entered

	_, err := f.controller.Submit(context.Background(), validRequest())
	require.ErrorIs(t, err, entities.ErrSubmissionInProgress)
	assert.Equal(t, StateAwaitingSignature, f.controller.Status(context.Background()).State)

	close(f.wallet.release)
	require.NoError(t, <-done)

	assert.Equal(t, 1, f.wallet.EnsureCalls())
	assert.Len(t, f.ledger.Submissions(), 1)
	assert.Equal(t, StateIdle, f.controller.Status(context.Background()).State)
}

func TestController_Submit_givenCountReadFailsAfterConfirm_thenFailedButCacheDropped(t *testing.T) {
	f := newFixture(t)
	f.ledger.countErr = errors.New("connection reset")
	f.cache.Store(sender, []entities.TransactionRecord{{Sender: sender.String()}})

	_, err := f.controller.Submit(context.Background(), validRequest())
	require.Error(t, err)

	_, cached := f.cache.Get(sender)
	assert.False(t, cached)
	assert.Empty(t, f.store.Sets())
	assert.Equal(t, StateIdle, f.controller.Status(context.Background()).State)
}

func TestController_Submit_givenStoreWriteFails_thenSubmissionStillSucceeds(t *testing.T) {
	f := newFixture(t)
	f.ledger.count = 5
	f.store.setErr = errors.New("disk full")

	result, err := f.controller.Submit(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, uint64(5), result.TransactionCount)
}

func TestController_Startup_givenAuthorizedAccount_thenLoadsTransactionsAndCount(t *testing.T) {
	f := newFixture(t)
	f.store.count = uint64Ptr(2)
	f.ledger.count = 3
	f.ledger.records = []entities.TransactionRecord{{
		Sender:    sender.String(),
		Recipient: recipient,
		Amount:    decimal.RequireFromString("0.5"),
		Message:   "hello",
		Keyword:   "wave",
		Timestamp: time.Unix(1700000000, 0).UTC(),
	}}

	report, err := f.controller.Startup(context.Background())
	require.NoError(t, err)

	assert.True(t, report.WalletAvailable)
	assert.Equal(t, sender, report.Account)
	assert.Equal(t, uint64(2), report.PreviousCount)
	assert.Equal(t, uint64(3), report.TransactionCount)
	assert.True(t, report.Changed())
	assert.Equal(t, []uint64{3}, f.store.Sets())

	cached, ok := f.controller.Transactions()
	require.True(t, ok)
	assert.Equal(t, f.ledger.records, cached)
}

func TestController_Startup_givenNoWallet_thenCountStillRefreshed(t *testing.T) {
	f := newFixture(t)
	f.wallet.restoreErr = entities.NewError(entities.KindWalletUnavailable, "no wallet provider", nil)
	f.ledger.count = 9

	report, err := f.controller.Startup(context.Background())
	require.NoError(t, err)

	assert.False(t, report.WalletAvailable)
	assert.Empty(t, report.Account)
	assert.False(t, report.HadPrevious)
	assert.Equal(t, uint64(9), report.TransactionCount)
	assert.Equal(t, []uint64{9}, f.store.Sets())

	_, ok := f.controller.Transactions()
	assert.False(t, ok)
}

func TestController_Startup_givenNoAuthorizedAccount_thenNothingCached(t *testing.T) {
	f := newFixture(t)
	f.wallet.approved = ""
	f.store.count = uint64Ptr(4)
	f.ledger.count = 4

	report, err := f.controller.Startup(context.Background())
	require.NoError(t, err)

	assert.True(t, report.WalletAvailable)
	assert.Empty(t, report.Account)
	assert.False(t, report.Changed())
}

func TestController_Startup_givenCountFails_thenWalletBranchUnaffected(t *testing.T) {
	f := newFixture(t)
	f.ledger.countErr = errors.New("node down")

	report, err := f.controller.Startup(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "node down")

	assert.Equal(t, sender, report.Account)
	_, ok := f.controller.Transactions()
	assert.True(t, ok)
	assert.Empty(t, f.store.Sets())
}

func TestController_Reload_givenSessionAccount_thenRefetchesAll(t *testing.T) {
	f := newFixture(t)
	f.wallet.account = sender
	f.wallet.approved = ""
	f.ledger.count = 11
	f.ledger.records = []entities.TransactionRecord{{Sender: sender.String(), Message: "m"}}

	report, err := f.controller.Reload(context.Background())
	require.NoError(t, err)

	assert.Equal(t, sender, report.Account)
	assert.Equal(t, uint64(11), report.TransactionCount)
	cached, ok := f.controller.Transactions()
	require.True(t, ok)
	assert.Len(t, cached, 1)
}

func TestController_Status_givenNothingPersisted_thenNilCount(t *testing.T) {
	f := newFixture(t)

	status := f.controller.Status(context.Background())
	assert.Equal(t, StateIdle, status.State)
	assert.Nil(t, status.PersistedCount)
	assert.Empty(t, status.Account)
}

func TestController_Reload_givenSlowCountRead_thenSubmissionCountNotOverwritten(t *testing.T) {
	f := newFixture(t)
	f.wallet.account = sender
	f.ledger.count = 5
	f.ledger.countEntered = make(chan struct{})
	f.ledger.countRelease = make(chan struct{})

	reloaded := make(chan error, 1)
	go func() {
		_, err := f.controller.Reload(context.Background())
		reloaded <- err
	}()
	<-f.ledger.countEntered // reload read the old count and is stalled

	submittedResult := make(chan *Result, 1)
	go func() {
		result, err := f.controller.Submit(context.Background(), validRequest())
		assert.NoError(t, err)
		submittedResult <- result
	}()
	require.Eventually(t, func() bool {
		return f.controller.Status(context.Background()).State == StateReconciling
	}, time.Second, time.Millisecond)

	f.ledger.SetCount(6)
	close(f.ledger.countRelease)

	require.NoError(t, <-reloaded)
	result := <-submittedResult
	require.NotNil(t, result)
	assert.Equal(t, uint64(6), result.TransactionCount)
	assert.Equal(t, []uint64{5, 6}, f.store.Sets())
	assert.Equal(t, uint64(6), *f.controller.Status(context.Background()).PersistedCount)
}
