package session

import (
	"context"
	"sync"

	"github.com/Mr-browny/ethy/entities"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Detector interface {
	Detect(ctx context.Context) (entities.ProviderHandle, error)
}

// Gateway owns the wallet connection of one session: the detected provider and the active account.
type Gateway struct {
	detector   Detector
	installURL string
	logger     *zap.SugaredLogger

	mu       sync.Mutex
	provider entities.ProviderHandle
	account  entities.Account
}

func NewGateway(detector Detector, installURL string, logger *zap.SugaredLogger) *Gateway {
	return &Gateway{
		detector:   detector,
		installURL: installURL,
		logger:     logger,
	}
}

// DetectProvider returns the injected provider. The first successful detection is kept for the session.
func (g *Gateway) DetectProvider(ctx context.Context) (entities.ProviderHandle, error) {
	g.mu.Lock()
	provider := g.provider
	g.mu.Unlock()
	if provider != nil {
		return provider, nil
	}

	provider, err := g.detector.Detect(ctx)
	if err != nil {
		g.logger.Warnw("No wallet provider found. Install a wallet to continue.", "installUrl", g.installURL, "error", err)
		if entities.KindOf(err) == entities.KindWalletUnavailable {
			return nil, err
		}
		return nil, entities.NewError(entities.KindWalletUnavailable, "detecting wallet provider", err)
	}
	if provider == nil {
		return nil, entities.NewError(entities.KindWalletUnavailable, "no wallet provider", nil)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.provider == nil {
		g.provider = provider
	}
	return g.provider, nil
}

// RequestAccounts asks the wallet for access and may wait for the user indefinitely.
// On success the first account becomes the session account.
func (g *Gateway) RequestAccounts(ctx context.Context) ([]entities.Account, error) {
	provider, err := g.DetectProvider(ctx)
	if err != nil {
		return nil, err
	}

	accounts, err := provider.RequestAccounts(ctx)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, entities.NewError(entities.KindUserRejected, "wallet returned no accounts", nil)
	}

	g.setAccount(accounts[0])
	return accounts, nil
}

// ConnectedAccounts returns accounts that are already authorized without prompting.
func (g *Gateway) ConnectedAccounts(ctx context.Context) ([]entities.Account, error) {
	provider, err := g.DetectProvider(ctx)
	if err != nil {
		return nil, err
	}

	accounts, err := provider.Accounts(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "getting connected accounts")
	}
	return accounts, nil
}

// Restore adopts an already authorized account, if any, and reports it.
func (g *Gateway) Restore(ctx context.Context) (entities.Account, error) {
	accounts, err := g.ConnectedAccounts(ctx)
	if err != nil {
		return "", err
	}
	if len(accounts) == 0 {
		return "", nil
	}
	g.setAccount(accounts[0])
	return accounts[0], nil
}

// EnsureAccount returns the session account, requesting access only when there is none yet.
func (g *Gateway) EnsureAccount(ctx context.Context) (entities.Account, error) {
	if account := g.Account(); account != "" {
		return account, nil
	}

	accounts, err := g.RequestAccounts(ctx)
	if err != nil {
		return "", err
	}
	return accounts[0], nil
}

// SendTransaction signs through the session's provider, detecting it when the wallet appeared
// after startup.
func (g *Gateway) SendTransaction(ctx context.Context, call entities.ContractCall) (string, error) {
	provider, err := g.DetectProvider(ctx)
	if err != nil {
		return "", err
	}
	return provider.SendTransaction(ctx, call)
}

func (g *Gateway) Account() entities.Account {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.account
}

func (g *Gateway) Disconnect() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.account = ""
}

func (g *Gateway) setAccount(account entities.Account) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.account != account {
		g.logger.Infow("Wallet account connected", "account", account)
	}
	g.account = account
}
