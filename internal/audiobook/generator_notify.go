package audiobook

import (
	"context"
	"errors"

	"bookvoice/internal/logging"
	"bookvoice/internal/notifications"
)

// notice tells the user about a rejected call. Nothing else changes.
func (g *Generator) notice(ctx context.Context, message string) {
	g.publish(ctx, notifications.EventNotice, notifications.Payload{"message": message})
}

func (g *Generator) announceCancelled(ctx context.Context, st State) {
	kept := g.Archive()
	g.logger.Info("audiobook generation cancelled",
		logging.String(logging.FieldRunID, st.RunID),
		logging.Int("completed", st.CompletedFiles),
		logging.Int("files_kept", len(kept)),
	)
	g.publish(ctx, notifications.EventRunCancelled, notifications.Payload{
		"bookTitle": st.BookTitle,
		"files":     len(kept),
	})
}

func (g *Generator) publish(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if g.notifier == nil {
		return
	}
	if err := g.notifier.Publish(ctx, event, payload); err != nil {
		if errors.Is(err, context.Canceled) {
			g.logger.Debug("context cancelled, notification not sent", logging.String(logging.FieldEventType, string(event)))
			return
		}
		g.logger.Debug("notification failed",
			logging.String(logging.FieldEventType, string(event)),
			logging.Error(err),
		)
	}
}
