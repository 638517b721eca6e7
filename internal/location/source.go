// Package location delivers position samples to the recorder.
package location

import (
	"context"
	"errors"

	"github.com/trailog/recorder/pkg/core"
)

var (
	// ErrNoFix is returned by CurrentFix when no sample is available.
	ErrNoFix = errors.New("no location fix available")
	// ErrUnknownSubscription is returned when unsubscribing an id that is not active.
	ErrUnknownSubscription = errors.New("unknown subscription")
)

// Subscription identifies an active Subscribe call.
type Subscription uint64

// Source is a provider of location samples.
type Source interface {
	RequestPermission(ctx context.Context) (bool, error)
	CurrentFix(ctx context.Context) (core.TrackPoint, error)
	Subscribe(fn func(core.TrackPoint)) (Subscription, error)
	Unsubscribe(sub Subscription) error
}
