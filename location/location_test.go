package location

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistance(t *testing.T) {
	paris := Location{Latitude: 48.8566, Longitude: 2.3522}
	london := Location{Latitude: 51.5074, Longitude: -0.1278}

	d := Distance(paris, london)
	assert.InDelta(t, 343_500, d, 2_000)
	assert.InDelta(t, d, Distance(london, paris), 1e-6)
	assert.Zero(t, Distance(paris, paris))
}

func TestFormatting(t *testing.T) {
	loc := Location{Latitude: 1.5, Longitude: -2.25}
	assert.Equal(t, "lat: 1.500000, lng: -2.250000", FormatLocation(loc))

	loc.Landmark = "Town hall"
	assert.Equal(t, "Town hall (lat: 1.500000, lng: -2.250000)", FormatLocation(loc))

	loc.Address = "1 Main St"
	assert.Equal(t, "1 Main St", FormatLocation(loc))

	assert.Equal(t, "999 m", FormatDistance(999))
	assert.Equal(t, "1.5 km", FormatDistance(1500))
}

func TestValid(t *testing.T) {
	assert.True(t, Location{Latitude: 90, Longitude: -180}.Valid())
	assert.False(t, Location{Latitude: 91}.Valid())
	assert.False(t, Location{Longitude: 181}.Valid())
}

func TestAcquireEnriches(t *testing.T) {
	p := &StaticProvider{
		Location: &Location{Latitude: 10, Longitude: 20},
		Address:  "Harbor road",
	}
	loc := Acquire(context.Background(), p, time.Second)
	require.NotNil(t, loc)
	assert.Equal(t, "Harbor road", loc.Address)
	assert.False(t, loc.Timestamp.IsZero())
}

func TestAcquireGeocodeFailurePassesThrough(t *testing.T) {
	p := &StaticProvider{Location: &Location{Latitude: 10, Longitude: 20}}
	loc := Acquire(context.Background(), p, time.Second)
	require.NotNil(t, loc)
	assert.Empty(t, loc.Address)
	assert.Equal(t, 10.0, loc.Latitude)
}

func TestAcquireTimeoutReturnsNil(t *testing.T) {
	p := &StaticProvider{Location: &Location{Latitude: 1}, Delay: time.Second}

	start := time.Now()
	loc := Acquire(context.Background(), p, 20*time.Millisecond)
	assert.Nil(t, loc)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	assert.Nil(t, Acquire(context.Background(), nil, time.Second))
	assert.Nil(t, Acquire(context.Background(), &StaticProvider{}, time.Second))
}

func TestRequestCancelIsIdempotent(t *testing.T) {
	p := &StaticProvider{Location: &Location{Latitude: 1}, Delay: time.Second}
	req := Start(context.Background(), p, 5*time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req.Cancel()
		}()
	}
	wg.Wait()

	select {
	case <-req.Done():
	case <-time.After(time.Second):
		t.Fatal("request did not resolve after cancel")
	}
	assert.Nil(t, req.Wait(context.Background()))
	req.Cancel()
}

func TestRequestResultStableAfterCancel(t *testing.T) {
	p := &StaticProvider{Location: &Location{Latitude: 3}}
	req := Start(context.Background(), p, time.Second)

	loc := req.Wait(context.Background())
	require.NotNil(t, loc)
	req.Cancel()
	assert.Same(t, loc, req.Wait(context.Background()))
}
