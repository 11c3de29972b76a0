package storage

import (
	"context"
	"time"
)

// WatchOptions tunes the change poller.
type WatchOptions struct {
	// Interval is the polling frequency. Default: 1s.
	Interval time.Duration
	// Debounce is the quiet period after a change before a signal is sent.
	// New changes inside the window restart it. 0 signals immediately.
	Debounce time.Duration
}

func (o *WatchOptions) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
}

// Watch polls PRAGMA data_version, which changes whenever another connection
// (typically another process) commits to the database file. Each detected
// change sends one value on the returned channel; the channel is closed when
// ctx ends. Sends never block: a pending signal absorbs further changes.
func (s *SQLite) Watch(ctx context.Context, opts WatchOptions) <-chan struct{} {
	opts.defaults()
	out := make(chan struct{}, 1)

	// The baseline is taken before Watch returns so a commit made right
	// after the call is always reported.
	last, err := s.dataVersion(ctx)
	if err != nil {
		last = -1
	}

	go func() {
		defer close(out)

		ticker := time.NewTicker(opts.Interval)
		defer ticker.Stop()

		var debounce *time.Timer
		var debounceC <-chan time.Time
		defer func() {
			if debounce != nil {
				debounce.Stop()
			}
		}()

		notify := func() {
			select {
			case out <- struct{}{}:
			default:
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cur, err := s.dataVersion(ctx)
				if err != nil || cur == last {
					continue
				}
				last = cur
				if opts.Debounce <= 0 {
					notify()
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.NewTimer(opts.Debounce)
				debounceC = debounce.C
			case <-debounceC:
				debounceC = nil
				notify()
			}
		}
	}()

	return out
}

func (s *SQLite) dataVersion(ctx context.Context) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
	return v, err
}
