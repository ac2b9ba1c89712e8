package notify

import (
	"context"

	"github.com/teamoflifebox/erp-analytics/pkg/logger"
)

// Receipt is the acknowledgement of an external notification dispatch.
type Receipt struct {
	Success   bool
	MessageID string
}

// Dispatcher is the send-and-forget external delivery service consumed
// by the surrounding application flows. The core never calls it on the
// hot path; update records are merely the trigger source.
type Dispatcher interface {
	Notify(ctx context.Context, subjectID, kind string, payload map[string]any) (Receipt, error)
}

// LogDispatcher records dispatches to the logger and reports success.
// It stands in where no real delivery service is wired.
type LogDispatcher struct {
	Log logger.Logger
}

func (d LogDispatcher) Notify(ctx context.Context, subjectID, kind string, payload map[string]any) (Receipt, error) {
	logger.OrNop(d.Log).Info("notification dispatched",
		"subject_id", subjectID, "kind", kind, "payload", payload)
	return Receipt{Success: true}, nil
}
