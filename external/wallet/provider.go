package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/Mr-browny/ethy/entities"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
)

// EIP-1193 and JSON-RPC error codes the provider reports.
const (
	codeUserRejected   = 4001
	codeUnauthorized   = 4100
	codeMethodNotFound = -32601
)

type transactionArgs struct {
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to"`
	Data  hexutil.Bytes   `json:"data"`
	Value *hexutil.Big    `json:"value"`
}

// Provider talks to a wallet that exposes the ethereum JSON-RPC account methods.
type Provider struct {
	client *rpc.Client
}

var _ entities.ProviderHandle = &Provider{}

func NewProvider(client *rpc.Client) *Provider {
	return &Provider{client: client}
}

func (p *Provider) Accounts(ctx context.Context) ([]entities.Account, error) {
	var addresses []common.Address
	err := p.client.CallContext(ctx, &addresses, "eth_accounts")
	if err != nil {
		return nil, mapError(err)
	}
	return toAccounts(addresses), nil
}

func (p *Provider) RequestAccounts(ctx context.Context) ([]entities.Account, error) {
	var addresses []common.Address
	err := p.client.CallContext(ctx, &addresses, "eth_requestAccounts")
	if isMethodNotFound(err) {
		// plain nodes with unlocked accounts do not prompt
		return p.Accounts(ctx)
	}
	if err != nil {
		return nil, mapError(err)
	}
	return toAccounts(addresses), nil
}

func (p *Provider) SendTransaction(ctx context.Context, call entities.ContractCall) (string, error) {
	if !common.IsHexAddress(call.From.String()) {
		return "", entities.NewError(entities.KindInvalidInput, fmt.Sprintf("invalid sender address [%s]", call.From), nil)
	}
	to := common.HexToAddress(call.To)
	args := transactionArgs{
		From:  common.HexToAddress(call.From.String()),
		To:    &to,
		Data:  call.Data,
		Value: (*hexutil.Big)(common.Big0),
	}

	var hash common.Hash
	err := p.client.CallContext(ctx, &hash, "eth_sendTransaction", args)
	if err != nil {
		return "", mapError(err)
	}
	return hash.Hex(), nil
}

func (p *Provider) Close() {
	p.client.Close()
}

func toAccounts(addresses []common.Address) []entities.Account {
	accounts := make([]entities.Account, 0, len(addresses))
	for _, address := range addresses {
		accounts = append(accounts, entities.Account(address.Hex()))
	}
	return accounts
}

func isMethodNotFound(err error) bool {
	var rpcErr rpc.Error
	return errors.As(err, &rpcErr) && rpcErr.ErrorCode() == codeMethodNotFound
}

func mapError(err error) error {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case codeUserRejected, codeUnauthorized:
			return entities.NewError(entities.KindUserRejected, rpcErr.Error(), err)
		}
	}
	return entities.LedgerCallFailed(err)
}
