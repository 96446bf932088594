package bot

import (
	"context"
	"time"

	"github.com/tinyland-inc/govorun/pkg/logger"
	"github.com/tinyland-inc/govorun/pkg/vk"
)

// errorPause is how long the loop sleeps after a cycle-level failure
// before retrying the whole cycle.
const errorPause = 5 * time.Second

// Loop drives the single poll → extract → dispatch cycle. One cycle at
// a time: there are no concurrent fetches against the session, and
// cancellation is observed only between cycles.
type Loop struct {
	session    *vk.PollSession
	dispatcher *Dispatcher
}

func NewLoop(session *vk.PollSession, dispatcher *Dispatcher) *Loop {
	return &Loop{session: session, dispatcher: dispatcher}
}

// Run polls until ctx is canceled. Fatal session errors are logged and
// followed by a pause and a fresh attempt; the loop never exits silently.
func (l *Loop) Run(ctx context.Context) {
	logger.InfoC("loop", "Update loop started")

	for {
		select {
		case <-ctx.Done():
			logger.InfoC("loop", "Update loop stopped")
			return
		default:
		}

		updates, err := l.session.Fetch(ctx)
		if err != nil {
			logger.ErrorCF("loop", "Poll cycle failed, pausing before retry", map[string]any{
				"error": err.Error(),
			})
			l.pause(ctx)
			continue
		}

		for _, update := range updates {
			msg, ok := vk.ExtractMessage(update)
			if !ok {
				continue
			}
			l.dispatcher.Route(ctx, msg)
		}
	}
}

func (l *Loop) pause(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(errorPause):
	}
}
