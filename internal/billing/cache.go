package billing

import (
	"sync"
	"time"

	"balance-topup-bot/internal/model"
)

const defaultPendingTTL = 5 * time.Minute

// pendingCache последний незавершённый платёж пользователя. Только подсказка
// для поиска: статус всегда перечитывается из хранилища.
type pendingCache struct {
	mu    sync.Mutex
	ttl   time.Duration
	items map[int64]pendingItem
	now   func() time.Time
}

type pendingItem struct {
	provider model.Provider
	txID     string
	expires  time.Time
}

func newPendingCache(ttl time.Duration) *pendingCache {
	return &pendingCache{ttl: ttl, items: make(map[int64]pendingItem), now: time.Now}
}

func (c *pendingCache) put(rec model.PaymentRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[rec.UserID] = pendingItem{provider: rec.Provider, txID: rec.TxID, expires: c.now().Add(c.ttl)}
}

func (c *pendingCache) get(userID int64) (model.Provider, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[userID]
	if !ok {
		return "", "", false
	}
	if c.now().After(it.expires) {
		delete(c.items, userID)
		return "", "", false
	}
	return it.provider, it.txID, true
}

func (c *pendingCache) invalidate(userID int64) {
	c.mu.Lock()
	delete(c.items, userID)
	c.mu.Unlock()
}
