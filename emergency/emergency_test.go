package emergency

import (
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/sosmesh/location"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockTimeProvider struct {
	mu          sync.Mutex
	currentTime time.Time
}

func newMockTimeProvider() *mockTimeProvider {
	return &mockTimeProvider{currentTime: time.Unix(1700000000, 0)}
}

func (m *mockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTime
}

func (m *mockTimeProvider) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTime = m.currentTime.Add(d)
}

func newTestRouter() (*Router, *mockTimeProvider) {
	clock := newMockTimeProvider()
	cfg := DefaultConfig()
	cfg.TimeProvider = clock
	return NewRouter(cfg), clock
}

func TestUrgencyMapping(t *testing.T) {
	tests := []struct {
		urgency  Urgency
		ttl      uint8
		priority int
		urgent   bool
	}{
		{UrgencyCritical, 10, 1000, true},
		{UrgencyHigh, 8, 800, true},
		{UrgencyMedium, 6, 600, false},
		{UrgencyLow, 4, 400, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.urgency), func(t *testing.T) {
			assert.Equal(t, tt.ttl, TTLFor(tt.urgency))
			assert.Equal(t, tt.priority, PriorityOf(tt.urgency))
			assert.Equal(t, tt.urgent, ShouldPrioritize(tt.urgency))
		})
	}

	assert.Equal(t, uint8(4), TTLFor("bogus"))
	assert.Equal(t, 400, PriorityOf("bogus"))
	assert.Equal(t, "Medical Emergency", TypeMedical.DisplayName())
	assert.Equal(t, "En Route", ResponseEnRoute.DisplayName())
	assert.Len(t, Types, 7)
}

func TestDuplicateSOSStoredOnce(t *testing.T) {
	r, _ := newTestRouter()
	msg := NewSOSMessage(TypeFire, UrgencyHigh, "smoke in stairwell", "alice", "aaaa")

	assert.Equal(t, AddStored, r.AddSOS(msg))
	relayed := *msg
	relayed.Description = "altered by relay"
	assert.Equal(t, AddIgnored, r.AddSOS(&relayed))

	active := r.Active()
	require.Len(t, active, 1)
	assert.Equal(t, "smoke in stairwell", active[0].Description)
}

func TestDeactivateKeepsHistory(t *testing.T) {
	r, _ := newTestRouter()
	msg := NewSOSMessage(TypeMedical, UrgencyCritical, "injury", "alice", "aaaa")
	msg.ContactInfo = "channel 16"
	r.AddSOS(msg)

	inactive, err := r.Deactivate(msg.ID)
	require.NoError(t, err)
	assert.False(t, inactive.IsActive)

	stored, ok := r.SOS(msg.ID)
	require.True(t, ok)
	assert.False(t, stored.IsActive)
	assert.Equal(t, "channel 16", stored.ContactInfo)
	assert.Equal(t, msg.Description, stored.Description)

	_, err = r.Deactivate(msg.ID)
	assert.ErrorIs(t, err, ErrAlreadyInactive)
	_, err = r.Deactivate("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Empty(t, r.Active())
	assert.Len(t, r.AllSOS(), 1)
}

func TestRemoteDeactivation(t *testing.T) {
	r, _ := newTestRouter()
	msg := NewSOSMessage(TypeAccident, UrgencyMedium, "car off road", "bob", "bbbb")
	r.AddSOS(msg)

	assert.Equal(t, AddIgnored, r.AddSOS(msg.Deactivated()), "a repeated id never changes the record")
	stored, _ := r.SOS(msg.ID)
	assert.True(t, stored.IsActive)

	assert.Equal(t, AddDeactivated, r.ApplyDeactivation(msg.Deactivated(), "bbbb"))
	assert.Equal(t, AddIgnored, r.ApplyDeactivation(msg.Deactivated(), "bbbb"))
	assert.Equal(t, AddIgnored, r.AddSOS(msg), "an active copy never reactivates")

	stored, _ = r.SOS(msg.ID)
	assert.False(t, stored.IsActive)
}

func TestDeactivationFromThirdPartyIgnored(t *testing.T) {
	r, _ := newTestRouter()
	msg := NewSOSMessage(TypeFire, UrgencyCritical, "trapped on roof", "carol", "cccc")
	r.AddSOS(msg)

	forged := msg.Deactivated()
	assert.Equal(t, AddIgnored, r.ApplyDeactivation(forged, "eeee"), "relay is not the originator")

	forged.SenderID = "eeee"
	assert.Equal(t, AddIgnored, r.ApplyDeactivation(forged, "eeee"), "rewritten sender does not match the stored record")

	assert.Equal(t, AddIgnored, r.ApplyDeactivation(msg, "cccc"), "an active copy is not a deactivation")
	assert.Equal(t, AddIgnored, r.ApplyDeactivation(NewSOSMessage(TypeFire, UrgencyLow, "x", "c", "cccc").Deactivated(), "cccc"), "unknown id")

	require.Len(t, r.Active(), 1)
}

func TestSweepRetention(t *testing.T) {
	r, clock := newTestRouter()

	active := NewSOSMessage(TypeOther, UrgencyLow, "still waiting", "a", "a")
	r.AddSOS(active)
	clock.Advance(5 * time.Hour)

	inactive := NewSOSMessage(TypeOther, UrgencyLow, "resolved", "b", "b")
	r.AddSOS(inactive)
	_, err := r.Deactivate(inactive.ID)
	require.NoError(t, err)

	// active stored 30h ago, inactive stored 25h ago.
	clock.Advance(25 * time.Hour)
	report := r.Sweep()
	assert.Equal(t, 1, report.SOSMessages)

	_, ok := r.SOS(inactive.ID)
	assert.False(t, ok)
	_, ok = r.SOS(active.ID)
	assert.True(t, ok)
}

func TestSweepKeepsRecentInactive(t *testing.T) {
	r, clock := newTestRouter()
	msg := NewSOSMessage(TypeOther, UrgencyLow, "x", "a", "a")
	r.AddSOS(msg)
	_, err := r.Deactivate(msg.ID)
	require.NoError(t, err)

	clock.Advance(23 * time.Hour)
	assert.Zero(t, r.Sweep().Total())
}

func TestResponses(t *testing.T) {
	r, clock := newTestRouter()
	msg := NewSOSMessage(TypeMedical, UrgencyHigh, "help", "a", "a")
	r.AddSOS(msg)

	first := NewSOSResponse(msg.ID, ResponseEnRoute, "5 minutes out", "medic", "m")
	second := NewSOSResponse(msg.ID, ResponseOnSite, "arrived", "medic", "m")
	second.Timestamp = first.Timestamp.Add(time.Minute)
	other := NewSOSResponse("other", ResponseUnable, "", "x", "x")

	assert.True(t, r.AddResponse(second))
	assert.True(t, r.AddResponse(first))
	assert.False(t, r.AddResponse(first))
	assert.True(t, r.AddResponse(other))

	got := r.Responses(msg.ID)
	require.Len(t, got, 2)
	assert.Equal(t, first.ID, got[0].ID)
	assert.Equal(t, second.ID, got[1].ID)

	clock.Advance(25 * time.Hour)
	assert.Equal(t, 3, r.Sweep().Responses)
	assert.Empty(t, r.Responses(msg.ID))
}

func TestServicesReplaceAndNearby(t *testing.T) {
	r, clock := newTestRouter()
	here := location.Location{Latitude: 40.0, Longitude: -75.0}

	near := NewServiceAnnouncement(TypeMedical, "First aid tent", "svc-1", []string{"first aid"})
	near.Location = &location.Location{Latitude: 40.01, Longitude: -75.0}
	far := NewServiceAnnouncement(TypeMedical, "Hospital", "svc-2", nil)
	far.Location = &location.Location{Latitude: 41.0, Longitude: -75.0}
	noLoc := NewServiceAnnouncement(TypeFire, "Fire crew", "svc-3", nil)

	r.AddService(near)
	r.AddService(far)
	r.AddService(noLoc)

	nearby := r.NearbyServices(here, 0)
	require.Len(t, nearby, 1)
	assert.Equal(t, "svc-1", nearby[0].Service.ServiceID)
	assert.InDelta(t, 1112, nearby[0].Distance, 10)

	assert.Len(t, r.NearbyServices(here, 200_000), 2)
	assert.Len(t, r.ServicesByType(TypeMedical), 2)

	// Latest announcement wins.
	r.AddService(near.Deactivated())
	assert.Len(t, r.Services(), 3)
	assert.Empty(t, r.NearbyServices(here, 0))
	assert.Len(t, r.ServicesByType(TypeMedical), 1)

	clock.Advance(25 * time.Hour)
	assert.Equal(t, 1, r.Sweep().Services)
	assert.Len(t, r.Services(), 2)
}

func TestOwnServices(t *testing.T) {
	r, _ := newTestRouter()
	assert.False(t, r.IsServiceProvider())

	svc := NewServiceAnnouncement(TypePolice, "Patrol", "svc-p", []string{"patrol"})
	r.EnableService(svc)
	assert.True(t, r.IsServiceProvider())
	require.Len(t, r.MyServices(), 1)

	inactive, err := r.DisableService("svc-p")
	require.NoError(t, err)
	assert.False(t, inactive.IsActive)
	assert.Equal(t, "svc-p", inactive.ServiceID)
	assert.NotEqual(t, svc.ID, inactive.ID)
	assert.False(t, r.IsServiceProvider())

	_, err = r.DisableService("svc-p")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueriesAndStats(t *testing.T) {
	r, clock := newTestRouter()

	low := NewSOSMessage(TypeOther, UrgencyLow, "low", "a", "a")
	low.Timestamp = clock.Now().Add(-2 * time.Hour)
	crit := NewSOSMessage(TypeMedical, UrgencyCritical, "crit", "b", "b")
	crit.Timestamp = clock.Now()
	high := NewSOSMessage(TypeFire, UrgencyHigh, "high", "c", "c")
	high.Timestamp = clock.Now().Add(-time.Minute)

	r.AddSOS(low)
	r.AddSOS(crit)
	r.AddSOS(high)

	active := r.Active()
	require.Len(t, active, 3)
	assert.Equal(t, []string{"crit", "high", "low"}, []string{active[0].Description, active[1].Description, active[2].Description})

	assert.Len(t, r.Critical(), 1)
	assert.Len(t, r.ByUrgency(UrgencyHigh), 1)
	assert.Len(t, r.Recent(0), 2)
	assert.Len(t, r.Recent(3*time.Hour), 3)

	st := r.Stats()
	assert.Equal(t, 3, st.ActiveSOS)
	assert.Equal(t, 1, st.CriticalSOS)
	assert.Equal(t, 1, st.ActiveByType[TypeFire])
}

func TestSnapshotRestore(t *testing.T) {
	r, clock := newTestRouter()
	msg := NewSOSMessage(TypeMedical, UrgencyHigh, "help", "a", "a")
	r.AddSOS(msg)
	r.AddResponse(NewSOSResponse(msg.ID, ResponseAcknowledged, "ok", "b", "b"))
	r.EnableService(NewServiceAnnouncement(TypeMedical, "Tent", "svc-1", nil))

	snap := r.Snapshot()
	require.Len(t, snap.SOS, 1)
	assert.Equal(t, clock.Now(), snap.SOS[0].StoredAt)

	restored, _ := newTestRouter()
	restored.Restore(snap)
	got, ok := restored.SOS(msg.ID)
	require.True(t, ok)
	assert.Equal(t, msg.Description, got.Description)
	assert.Len(t, restored.Responses(msg.ID), 1)
	assert.True(t, restored.IsServiceProvider())

	// Live state wins over the snapshot.
	_, err := restored.Deactivate(msg.ID)
	require.NoError(t, err)
	restored.Restore(snap)
	got, _ = restored.SOS(msg.ID)
	assert.False(t, got.IsActive)
}

func TestRecordEncoding(t *testing.T) {
	msg := NewSOSMessage(TypeNaturalDisaster, UrgencyCritical, "flood", "alice", "aaaa")
	alt := 12.5
	msg.Location = &location.Location{Latitude: 1, Longitude: 2, Altitude: &alt, Timestamp: msg.Timestamp}
	msg.AdditionalInfo = map[string]string{"people": "4"}

	data, err := msg.Encode()
	require.NoError(t, err)
	decoded, err := DecodeSOSMessage(data)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, decoded.ID)
	assert.Equal(t, msg.AdditionalInfo, decoded.AdditionalInfo)
	assert.Equal(t, 12.5, *decoded.Location.Altitude)
	assert.True(t, msg.Timestamp.Equal(decoded.Timestamp))

	_, err = DecodeSOSMessage([]byte(`{"id":"x","type":"alien","urgency":"low"}`))
	assert.ErrorIs(t, err, ErrInvalidRecord)
	_, err = DecodeSOSMessage([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidRecord)

	resp := NewSOSResponse(msg.ID, ResponseReferral, "calling coast guard", "bob", "bbbb")
	eta := resp.Timestamp.Add(10 * time.Minute)
	resp.ETA = &eta
	data, err = resp.Encode()
	require.NoError(t, err)
	gotResp, err := DecodeSOSResponse(data)
	require.NoError(t, err)
	assert.True(t, eta.Equal(*gotResp.ETA))

	_, err = DecodeSOSResponse([]byte(`{"id":"r","responseType":"acknowledged"}`))
	assert.ErrorIs(t, err, ErrInvalidRecord)

	svc := NewServiceAnnouncement(TypeFire, "Crew", "svc", nil)
	data, err = svc.Encode()
	require.NoError(t, err)
	gotSvc, err := DecodeServiceAnnouncement(data)
	require.NoError(t, err)
	assert.Equal(t, []string{}, gotSvc.Capabilities)

	bad := &SOSMessage{ID: "x", Type: TypeFire, Urgency: UrgencyLow, Location: &location.Location{Latitude: 200}}
	_, err = bad.Encode()
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestBackgroundSweeper(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retention = time.Millisecond
	cfg.SweepInterval = 5 * time.Millisecond
	r := NewRouter(cfg)

	msg := NewSOSMessage(TypeOther, UrgencyLow, "x", "a", "a")
	r.AddSOS(msg)
	_, err := r.Deactivate(msg.ID)
	require.NoError(t, err)

	r.Start()
	r.Start()
	defer r.Stop()

	assert.Eventually(t, func() bool {
		_, ok := r.SOS(msg.ID)
		return !ok
	}, time.Second, 5*time.Millisecond)

	r.Stop()
	r.Stop()
}
