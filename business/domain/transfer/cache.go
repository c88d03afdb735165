package transfer

import (
	"time"

	"github.com/Mr-browny/ethy/entities"
	"github.com/jellydator/ttlcache/v3"
)

// TransactionCache is a disposable view of the ledger history per account. It is only ever
// replaced by a full re-read of the ledger, never patched.
type TransactionCache struct {
	cache *ttlcache.Cache[entities.Account, []entities.TransactionRecord]
}

// NewTransactionCache creates a cache whose entries expire after ttl. A ttl of zero keeps entries
// until they are invalidated.
func NewTransactionCache(ttl time.Duration) *TransactionCache {
	cache := ttlcache.New[entities.Account, []entities.TransactionRecord](
		ttlcache.WithTTL[entities.Account, []entities.TransactionRecord](ttl),
		ttlcache.WithDisableTouchOnHit[entities.Account, []entities.TransactionRecord](), // age is measured from the ledger read
	)
	go cache.Start()
	return &TransactionCache{cache: cache}
}

func (tc *TransactionCache) Store(account entities.Account, records []entities.TransactionRecord) {
	tc.cache.Set(account, records, ttlcache.DefaultTTL)
}

func (tc *TransactionCache) Get(account entities.Account) ([]entities.TransactionRecord, bool) {
	item := tc.cache.Get(account)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

func (tc *TransactionCache) Invalidate(account entities.Account) {
	tc.cache.Delete(account)
}

func (tc *TransactionCache) Stop() {
	tc.cache.Stop()
}
