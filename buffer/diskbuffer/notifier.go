package diskbuffer

import (
	"sync"

	"github.com/relex/gotils/channels"
)

// notifier wakes up all current waiters on each Notify. Waiters must take the Awaitable before checking conditions.
type notifier struct {
	mutex   sync.Mutex
	current *channels.SignalAwaitable
}

func newNotifier() *notifier {
	return &notifier{current: channels.NewSignalAwaitable()}
}

func (n *notifier) Awaitable() channels.Awaitable {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return n.current
}

func (n *notifier) Notify() {
	n.mutex.Lock()
	last := n.current
	n.current = channels.NewSignalAwaitable()
	n.mutex.Unlock()
	last.Signal()
}
