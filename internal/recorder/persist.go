package recorder

import (
	"context"
	"errors"
	"math"

	"github.com/google/uuid"
	"github.com/trailog/recorder/internal/api"
	"github.com/trailog/recorder/internal/auth"
	"github.com/trailog/recorder/internal/notify"
	"github.com/trailog/recorder/pkg/core"
	"go.opentelemetry.io/otel/attribute"
)

func newTrailID() string {
	return uuid.NewString()
}

func roundMeters(d float64) int64 {
	return int64(math.Round(d))
}

func outcomeAttr(o core.Outcome) attribute.KeyValue {
	return attribute.String("outcome", o.String())
}

// persist queues the summary first, then tries the remote store when the
// device is confirmed online and signed in. The queue row is removed only
// after the remote save is acknowledged.
func (r *Recorder) persist(ctx context.Context, s core.StopSummary) core.StopResult {
	queueErr := r.deps.Queue.Upsert(ctx, s)
	if queueErr != nil {
		r.logger.Error("Failed to queue hike", "trailId", s.TrailID, "error", queueErr)
	}

	token := r.token(ctx)
	if token == "" {
		return r.localResult(s, queueErr, auth.ErrNotAuthenticated)
	}
	if _, err := auth.UserIDFromToken(token); err != nil {
		r.logger.Warn("Credential has no user id", "error", err)
		return r.localResult(s, queueErr, auth.ErrNotAuthenticated)
	}

	if !r.canTryRemote(ctx, token) {
		return r.localResult(s, queueErr, ErrOffline)
	}

	err := r.deps.Remote.SaveTrail(ctx, token, s)
	if err == nil {
		if queueErr == nil {
			if derr := r.deps.Queue.Delete(ctx, s.TrailID); derr != nil {
				r.logger.Warn("Failed to remove synced hike from queue", "trailId", s.TrailID, "error", derr)
			}
		}
		r.deps.Notifier.Success(notify.MsgSavedRemote)
		return core.StopResult{Outcome: core.OutcomeSavedRemote, Summary: &s}
	}

	r.logger.Warn("Remote save failed", "trailId", s.TrailID, "error", err)
	if queueErr == nil {
		if merr := r.deps.Queue.MarkError(ctx, s.TrailID, err.Error()); merr != nil {
			r.logger.Warn("Failed to record sync error", "trailId", s.TrailID, "error", merr)
		}
	}
	if errors.Is(err, api.ErrUnauthorized) && r.deps.OnUnauthorized != nil {
		r.deps.OnUnauthorized(ctx)
	}
	return r.localResult(s, queueErr, err)
}

func (r *Recorder) localResult(s core.StopSummary, queueErr, reason error) core.StopResult {
	if queueErr != nil {
		r.deps.Notifier.Error("Failed to save hike: " + queueErr.Error())
		return core.StopResult{Outcome: core.OutcomeFailed, Summary: &s, Err: errors.Join(queueErr, reason)}
	}
	r.deps.Notifier.Info(notify.MsgSavedLocal)
	return core.StopResult{Outcome: core.OutcomeSavedLocal, Summary: &s, Err: reason}
}

func (r *Recorder) token(ctx context.Context) string {
	if r.deps.Credentials == nil {
		return ""
	}
	token, err := r.deps.Credentials.Token(ctx)
	if err != nil {
		r.logger.Warn("Failed to read credential", "error", err)
		return ""
	}
	return token
}

// canTryRemote requires a link, confirmed internet reachability and a token.
func (r *Recorder) canTryRemote(ctx context.Context, token string) bool {
	if token == "" || r.deps.Remote == nil || r.deps.Connectivity == nil {
		return false
	}
	st, err := r.deps.Connectivity.FetchStatus(ctx)
	if err != nil {
		r.logger.Debug("Connectivity check failed", "error", err)
		return false
	}
	return st.Confirmed()
}
