package kv

import (
	"context"
	"errors"
	"log/slog"
)

// Fallback prefers Primary and falls back to Secondary when Primary errors
// or lacks the key. It lets credentials live in the secure store when one is
// available and in general storage otherwise.
type Fallback struct {
	Primary   Store
	Secondary Store
	Logger    *slog.Logger
}

func (f *Fallback) log() *slog.Logger {
	if f.Logger == nil {
		return slog.Default()
	}
	return f.Logger
}

func (f *Fallback) Get(ctx context.Context, key string) ([]byte, error) {
	if f.Primary != nil {
		v, err := f.Primary.Get(ctx, key)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrNotFound) {
			f.log().Debug("Primary store read failed, using fallback", "key", key, "error", err)
		}
	}
	return f.Secondary.Get(ctx, key)
}

func (f *Fallback) Set(ctx context.Context, key string, value []byte) error {
	if f.Primary != nil {
		err := f.Primary.Set(ctx, key, value)
		if err == nil {
			// drop any stale copy so reads cannot resurrect it
			_ = f.Secondary.Delete(ctx, key)
			return nil
		}
		f.log().Warn("Primary store write failed, using fallback", "key", key, "error", err)
	}
	return f.Secondary.Set(ctx, key, value)
}

// Delete removes key from both stores.
func (f *Fallback) Delete(ctx context.Context, key string) error {
	var errs []error
	if f.Primary != nil {
		errs = append(errs, f.Primary.Delete(ctx, key))
	}
	errs = append(errs, f.Secondary.Delete(ctx, key))
	return errors.Join(errs...)
}
