package wallet

import (
	"context"
	"time"

	"github.com/Mr-browny/ethy/entities"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
)

// Detector looks for a wallet endpoint at the configured url.
type Detector struct {
	url          string
	probeTimeout time.Duration
}

func NewDetector(url string, probeTimeout time.Duration) *Detector {
	return &Detector{url: url, probeTimeout: probeTimeout}
}

// Detect dials the wallet and checks that it answers. An unset or unreachable endpoint counts as absent.
func (d *Detector) Detect(ctx context.Context) (entities.ProviderHandle, error) {
	if d.url == "" {
		return nil, entities.NewError(entities.KindWalletUnavailable, "no wallet endpoint configured", nil)
	}

	client, err := rpc.DialContext(ctx, d.url)
	if err != nil {
		return nil, entities.NewError(entities.KindWalletUnavailable, "dialing wallet", errors.Wrapf(err, "dialing [%s]", d.url))
	}

	probeCtx, cancel := context.WithTimeout(ctx, d.probeTimeout)
	defer cancel()
	var chainID hexutil.Big
	err = client.CallContext(probeCtx, &chainID, "eth_chainId")
	if err != nil {
		client.Close()
		return nil, entities.NewError(entities.KindWalletUnavailable, "wallet not responding", errors.Wrapf(err, "probing [%s]", d.url))
	}

	return NewProvider(client), nil
}
