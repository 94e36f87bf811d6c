// Package location defines the geolocation collaborator used when
// originating SOS messages, plus distance helpers for nearby-service queries.
//
// Acquisition never blocks the caller beyond its timeout:
//
//	loc := location.Acquire(ctx, provider, limits.LocationTimeout)
//	if loc == nil {
//	    // originate without a location
//	}
//
// Start returns a Request handle whose Cancel is safe to call repeatedly and
// which resolves its waiters at most once.
package location
