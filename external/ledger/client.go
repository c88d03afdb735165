package ledger

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/Mr-browny/ethy/entities"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Backend is the read side of an ethereum node. *ethclient.Client satisfies it.
type Backend interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Signer hands mutating calls to a wallet. entities.ProviderHandle satisfies it.
type Signer interface {
	SendTransaction(ctx context.Context, call entities.ContractCall) (string, error)
}

// transferStruct mirrors Transactions.TransferStruct.
type transferStruct struct {
	Sender    common.Address
	Receiver  common.Address
	Amount    *big.Int
	Message   string
	Timestamp *big.Int
	Keyword   string
}

type Client struct {
	address      common.Address
	contractABI  abi.ABI
	backend      Backend
	signer       Signer
	decimals     int32
	pollInterval time.Duration
	logger       *zap.SugaredLogger

	// closing stops the watchers of unresolved confirmations
	closing context.Context
	stop    context.CancelFunc
}

func NewClient(address string, contractABI abi.ABI, backend Backend, decimals int32, pollInterval time.Duration, logger *zap.SugaredLogger) (*Client, error) {
	if !common.IsHexAddress(address) {
		return nil, errors.Errorf("invalid contract address [%s]", address)
	}
	closing, cancel := context.WithCancel(context.Background())
	return &Client{
		closing:      closing,
		stop:         cancel,
		address:      common.HexToAddress(address),
		contractABI:  contractABI,
		backend:      backend,
		decimals:     decimals,
		pollInterval: pollInterval,
		logger:       logger,
	}, nil
}

// WithSigner returns a copy of the client that can submit mutating calls through the signer.
func (c *Client) WithSigner(signer Signer) *Client {
	bound := *c
	bound.signer = signer
	return &bound
}

// Close fails every confirmation that is still pending. Copies made by WithSigner share it.
func (c *Client) Close() {
	c.stop()
}

func (c *Client) Address() string {
	return c.address.Hex()
}

func (c *Client) GetTransactionCount(ctx context.Context) (uint64, error) {
	values, err := c.call(ctx, methodGetTransactionCount)
	if err != nil {
		return 0, err
	}

	count, ok := values[0].(*big.Int)
	if !ok || count.Sign() < 0 || !count.IsUint64() {
		return 0, entities.LedgerCallFailed(errors.Errorf("unexpected transaction count [%v]", values[0]))
	}
	return count.Uint64(), nil
}

func (c *Client) GetAllTransactions(ctx context.Context) ([]entities.TransactionRecord, error) {
	values, err := c.call(ctx, methodGetAllTransactions)
	if err != nil {
		return nil, err
	}

	var transfers []transferStruct
	err = convert(values[0], &transfers)
	if err != nil {
		return nil, entities.LedgerCallFailed(errors.Wrap(err, "converting transactions"))
	}

	records := make([]entities.TransactionRecord, 0, len(transfers))
	for _, transfer := range transfers {
		records = append(records, entities.TransactionRecord{
			Sender:    transfer.Sender.Hex(),
			Recipient: transfer.Receiver.Hex(),
			Amount:    entities.FromBaseUnits(transfer.Amount, c.decimals),
			Message:   transfer.Message,
			Keyword:   transfer.Keyword,
			Timestamp: time.Unix(transfer.Timestamp.Int64(), 0).UTC(),
		})
	}
	return records, nil
}

// SubmitTransfer hands addToBlockchain to the wallet. The returned confirmation resolves once the
// transaction is mined.
func (c *Client) SubmitTransfer(ctx context.Context, from entities.Account, recipient string, amount *big.Int, message, keyword string) (entities.Confirmation, error) {
	if c.signer == nil || c.backend == nil {
		return nil, entities.NewError(entities.KindNoProviderBound, "ledger client has no signer", nil)
	}
	if !common.IsHexAddress(recipient) {
		return nil, entities.NewError(entities.KindInvalidInput, fmt.Sprintf("invalid recipient address [%s]", recipient), nil)
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, entities.NewError(entities.KindInvalidInput, "amount must be positive", nil)
	}
	if !entities.FitsBaseUnits(amount) {
		return nil, entities.NewError(entities.KindInvalidInput, fmt.Sprintf("amount [%s] exceeds uint256", amount), nil)
	}

	data, err := c.contractABI.Pack(methodAddToBlockchain, common.HexToAddress(recipient), amount, message, keyword)
	if err != nil {
		return nil, entities.LedgerCallFailed(errors.Wrap(err, "packing call"))
	}

	hash, err := c.signer.SendTransaction(ctx, entities.ContractCall{From: from, To: c.address.Hex(), Data: data})
	if err != nil {
		if entities.KindOf(err) != entities.KindUnknown {
			return nil, err
		}
		return nil, entities.LedgerCallFailed(err)
	}

	c.logger.Infow("Transaction accepted by wallet", "hash", hash, "from", from, "to", recipient, "amount", amount.String())
	return newConfirmation(c.closing, common.HexToHash(hash), c.backend, c.pollInterval, c.logger), nil
}

func (c *Client) call(ctx context.Context, method string) ([]interface{}, error) {
	if c.backend == nil {
		return nil, entities.NewError(entities.KindNoProviderBound, "ledger client has no backend", nil)
	}

	data, err := c.contractABI.Pack(method)
	if err != nil {
		return nil, entities.LedgerCallFailed(errors.Wrapf(err, "packing [%s]", method))
	}

	out, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &c.address, Data: data}, nil)
	if err != nil {
		return nil, entities.LedgerCallFailed(err)
	}

	values, err := c.contractABI.Unpack(method, out)
	if err != nil {
		return nil, entities.LedgerCallFailed(errors.Wrapf(err, "unpacking [%s]", method))
	}
	if len(values) == 0 {
		return nil, entities.LedgerCallFailed(errors.Errorf("empty result for [%s]", method))
	}
	return values, nil
}

// convert copies the anonymous struct produced by the abi decoder into target.
func convert(value interface{}, target *[]transferStruct) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("%v", r)
		}
	}()
	*target = *abi.ConvertType(value, new([]transferStruct)).(*[]transferStruct)
	return nil
}
