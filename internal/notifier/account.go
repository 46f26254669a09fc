package notifier

import (
	"fmt"
	"sync"
	"time"

	"killswitch/internal/logger"
)

// dedupeWindow suppresses repeats of the same alert text. Kill triggers
// and retry storms would otherwise flood the channel.
const dedupeWindow = 60 * time.Second

// AccountNotifier prefixes alerts with the account tag and drops exact
// duplicates inside the dedupe window. Sends are fire-and-forget: a
// delivery failure is logged, never propagated.
type AccountNotifier struct {
	account string
	sink    TextNotifier

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewAccountNotifier(accountID string, sink TextNotifier) *AccountNotifier {
	return &AccountNotifier{
		account: accountID,
		sink:    sink,
		seen:    make(map[string]time.Time),
	}
}

// Notify sends a tagged alert asynchronously.
func (n *AccountNotifier) Notify(format string, args ...any) {
	if n == nil || n.sink == nil {
		return
	}
	text := fmt.Sprintf("[%s] %s", n.account, fmt.Sprintf(format, args...))
	if n.duplicate(text, time.Now()) {
		return
	}
	go func() {
		if err := n.sink.SendText(text); err != nil {
			logger.Warnf("[notify] %s: delivery failed: %v", n.account, err)
		}
	}()
}

func (n *AccountNotifier) duplicate(text string, now time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if last, ok := n.seen[text]; ok && now.Sub(last) < dedupeWindow {
		return true
	}
	n.seen[text] = now
	for msg, at := range n.seen {
		if now.Sub(at) >= dedupeWindow {
			delete(n.seen, msg)
		}
	}
	return false
}
