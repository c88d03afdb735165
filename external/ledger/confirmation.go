package ledger

import (
	"context"
	"time"

	"github.com/Mr-browny/ethy/entities"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const defaultPollInterval = time.Second

// Confirmation polls for the receipt of a submitted transaction. It resolves exactly once, there is
// no timeout as inclusion is up to the network. Closing the client resolves it with an error.
type Confirmation struct {
	hash    common.Hash
	done    chan struct{}
	err     error
	receipt *types.Receipt
}

var _ entities.Confirmation = &Confirmation{}

func newConfirmation(ctx context.Context, hash common.Hash, backend Backend, interval time.Duration, logger *zap.SugaredLogger) *Confirmation {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	c := &Confirmation{
		hash: hash,
		done: make(chan struct{}),
	}
	go c.watch(ctx, backend, interval, logger)
	return c
}

func (c *Confirmation) watch(ctx context.Context, backend Backend, interval time.Duration, logger *zap.SugaredLogger) {
	defer close(c.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		receipt, err := backend.TransactionReceipt(ctx, c.hash)
		switch {
		case ctx.Err() != nil:
			c.err = entities.LedgerCallFailed(errors.Errorf("stopped waiting for transaction [%s]", c.hash.Hex()))
			return
		case err == nil:
			c.receipt = receipt
			if receipt.Status != types.ReceiptStatusSuccessful {
				c.err = entities.LedgerCallFailed(errors.Errorf("transaction [%s] reverted", c.hash.Hex()))
				logger.Warnw("Transaction reverted", "hash", c.hash.Hex(), "block", receipt.BlockNumber)
				return
			}
			logger.Infow("Transaction mined", "hash", c.hash.Hex(), "block", receipt.BlockNumber, "gasUsed", receipt.GasUsed)
			return
		case errors.Is(err, ethereum.NotFound):
			select {
			case <-ticker.C: // pending
			case <-ctx.Done():
			}
		default:
			c.err = entities.LedgerCallFailed(err)
			logger.Errorw("Getting transaction receipt failed", "hash", c.hash.Hex(), "error", err)
			return
		}
	}
}

func (c *Confirmation) TxHash() string {
	return c.hash.Hex()
}

// Wait blocks until the transaction is mined or ctx is done. A cancelled wait does not resolve the
// confirmation, later calls can still observe the outcome.
func (c *Confirmation) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return entities.LedgerCallFailed(errors.Wrap(ctx.Err(), "waiting for confirmation"))
	}
}

// Receipt is nil until the confirmation has resolved.
func (c *Confirmation) Receipt() *types.Receipt {
	select {
	case <-c.done:
		return c.receipt
	default:
		return nil
	}
}
