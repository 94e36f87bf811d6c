package location

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrUnavailable is returned by providers that have no fix.
var ErrUnavailable = errors.New("location unavailable")

// Provider acquires and enriches device locations. Implementations must
// honor context cancellation.
type Provider interface {
	// CurrentLocation returns the current fix.
	CurrentLocation(ctx context.Context) (*Location, error)
	// Geocode returns loc enriched with an address or landmark.
	Geocode(ctx context.Context, loc Location) (Location, error)
}

// Request is a pending location acquisition. Wait and Cancel may be called
// any number of times from any goroutine; the request resolves exactly once.
type Request struct {
	done   chan struct{}
	once   sync.Once
	result *Location
	cancel context.CancelFunc
}

// Start begins acquiring a location bounded by timeout. A fix that arrives is
// geocoded within the same budget; a geocoding failure keeps the bare fix.
func Start(ctx context.Context, p Provider, timeout time.Duration) *Request {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	r := &Request{done: make(chan struct{}), cancel: cancel}

	go func() {
		defer cancel()

		loc, err := p.CurrentLocation(ctx)
		if err != nil || loc == nil {
			logrus.WithFields(logrus.Fields{
				"function": "location.Start",
				"error":    errString(err),
			}).Debug("No location fix")
			r.resolve(nil)
			return
		}

		enriched := Enrich(ctx, p, *loc)
		r.resolve(&enriched)
	}()

	return r
}

func (r *Request) resolve(loc *Location) {
	r.once.Do(func() {
		r.result = loc
		close(r.done)
	})
}

// Cancel abandons the request. Waiters receive nil unless a fix was already
// delivered.
func (r *Request) Cancel() {
	r.resolve(nil)
	r.cancel()
}

// Done is closed once the request resolves.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the request resolves or ctx ends and returns the fix, or
// nil when none is available.
func (r *Request) Wait(ctx context.Context) *Location {
	select {
	case <-r.done:
		return r.result
	case <-ctx.Done():
		return nil
	}
}

// Acquire is a blocking best-effort fix: it returns nil on error, timeout or
// cancellation rather than stalling the caller.
func Acquire(ctx context.Context, p Provider, timeout time.Duration) *Location {
	if p == nil {
		return nil
	}
	req := Start(ctx, p, timeout)
	defer req.Cancel()
	return req.Wait(ctx)
}

// Enrich geocodes loc, passing it through unchanged on failure.
func Enrich(ctx context.Context, p Provider, loc Location) Location {
	enriched, err := p.Geocode(ctx, loc)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "location.Enrich",
			"error":    err.Error(),
		}).Debug("Geocoding failed, using bare coordinates")
		return loc
	}
	return enriched
}

func errString(err error) string {
	if err == nil {
		return "nil location"
	}
	return err.Error()
}

// StaticProvider returns a fixed location. It backs nodes with a surveyed
// position and tests.
type StaticProvider struct {
	Location *Location
	Address  string
	Landmark string
	// Delay is waited before answering, or until the context ends.
	Delay time.Duration
}

// CurrentLocation returns a copy of the configured location.
func (s *StaticProvider) CurrentLocation(ctx context.Context) (*Location, error) {
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.Location == nil {
		return nil, ErrUnavailable
	}
	loc := *s.Location
	if loc.Timestamp.IsZero() {
		loc.Timestamp = time.Now()
	}
	return &loc, nil
}

// Geocode fills in the configured address and landmark.
func (s *StaticProvider) Geocode(ctx context.Context, loc Location) (Location, error) {
	if err := ctx.Err(); err != nil {
		return loc, err
	}
	if s.Address == "" && s.Landmark == "" {
		return loc, ErrUnavailable
	}
	loc.Address = s.Address
	loc.Landmark = s.Landmark
	return loc, nil
}
