package notify

import (
	"context"

	"github.com/nerrad567/gray-logic-access/internal/access"
)

// Fanout delivers each notification to every sink in order.
type Fanout []access.Notifier

// Notify implements access.Notifier.
func (f Fanout) Notify(ctx context.Context, n access.Notification) {
	for _, sink := range f {
		if sink != nil {
			sink.Notify(ctx, n)
		}
	}
}
