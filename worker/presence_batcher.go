package worker

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ebelyak/sealwire/store"
)

type PresenceUpdate struct {
	Username string
	LastSeen int64
}

// PresenceBatcher coalesces last-seen updates from the delivery hub and
// flushes them to the store on a ticker. A user reconnecting and
// dropping several times inside one interval costs a single write.
type PresenceBatcher struct {
	UpdateCh           chan PresenceUpdate
	messageStore       store.MessageStore
	tickerMilliseconds int
}

func NewPresenceBatcher(messageStore store.MessageStore, tickerMilliseconds int) *PresenceBatcher {
	return &PresenceBatcher{
		UpdateCh:           make(chan PresenceUpdate, 1024),
		messageStore:       messageStore,
		tickerMilliseconds: tickerMilliseconds,
	}
}

func (b *PresenceBatcher) Run(shutdownCtx context.Context) {
	ticker := time.NewTicker(time.Duration(b.tickerMilliseconds) * time.Millisecond)
	defer ticker.Stop()

	// username -> newest lastSeen observed this interval
	pending := make(map[string]int64)

	flush := func() {
		for username, lastSeen := range pending {
			go func(username string, lastSeen int64) {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := b.messageStore.UpdateLastSeen(ctx, username, lastSeen); err != nil {
					log.WithError(err).WithField("username", username).Error("failed to persist last seen")
				}
			}(username, lastSeen)
		}
		pending = make(map[string]int64)
	}

	for {
		select {
		case update := <-b.UpdateCh:
			if update.Username == "" {
				continue
			}
			if update.LastSeen > pending[update.Username] {
				pending[update.Username] = update.LastSeen
			}

			if len(pending) >= 100 {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-shutdownCtx.Done():
			flush()
			return
		}
	}
}
