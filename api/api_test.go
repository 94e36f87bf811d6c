package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sosmesh "github.com/opd-ai/sosmesh"
	"github.com/opd-ai/sosmesh/emergency"
	"github.com/opd-ai/sosmesh/limits"
	"github.com/opd-ai/sosmesh/location"
	"github.com/opd-ai/sosmesh/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Message string `json:"message"`
}

func newMesh(t *testing.T, hub *transport.Hub, name string, id byte) *sosmesh.Mesh {
	t.Helper()
	link := hub.Endpoint(name, limits.DefaultMaxFrameSize)
	opts := sosmesh.NewOptions()
	opts.Nickname = name
	opts.PeerID = transport.PeerID{id, id, id, id, id, id, id, id}
	opts.MaintenanceInterval = time.Hour
	opts.Location = &location.StaticProvider{Location: &location.Location{Latitude: 52.52, Longitude: 13.405}}

	m, err := sosmesh.New(link, opts)
	require.NoError(t, err)
	require.NoError(t, m.Start())
	t.Cleanup(func() {
		m.Stop()
		link.Close()
	})
	return m
}

func setupTestServer(t *testing.T) (*Server, *sosmesh.Mesh, *sosmesh.Mesh) {
	t.Helper()
	hub := transport.NewHub()
	local := newMesh(t, hub, "local", 1)
	remote := newMesh(t, hub, "remote", 2)
	require.NoError(t, hub.Link("local", "remote"))

	server, err := NewServer(local, nil)
	require.NoError(t, err)
	return server, local, remote
}

func doRequest(t *testing.T, server *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)
	return w
}

func TestNewServerRequiresNode(t *testing.T) {
	_, err := NewServer(nil, nil)
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	server, local, _ := setupTestServer(t)

	for _, path := range []string{"/health", "/api/v1/health"} {
		w := doRequest(t, server, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, w.Code)

		var resp HealthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, local.PeerID().String(), resp.PeerID)
		assert.Equal(t, "local", resp.Nickname)
	}
}

func TestCORSPreflight(t *testing.T) {
	server, _, _ := setupTestServer(t)

	w := doRequest(t, server, http.MethodOptions, "/api/v1/sos", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCreateAndListSOS(t *testing.T) {
	server, _, remote := setupTestServer(t)

	w := doRequest(t, server, http.MethodPost, "/api/v1/sos", CreateSOSRequest{
		Type:        "medical",
		Urgency:     "critical",
		Description: "fall with head injury",
		ContactInfo: "ch 16",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created envelope[emergency.SOSMessage]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.True(t, created.Success)
	assert.Equal(t, emergency.TypeMedical, created.Data.Type)
	require.NotNil(t, created.Data.Location)
	assert.InDelta(t, 52.52, created.Data.Location.Latitude, 1e-9)

	// The SOS reaches the linked node.
	require.Eventually(t, func() bool {
		_, ok := remote.Router().SOS(created.Data.ID)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	w = doRequest(t, server, http.MethodGet, "/api/v1/sos?active=true", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var list envelope[[]emergency.SOSMessage]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
	assert.Equal(t, created.Data.ID, list.Data[0].ID)

	w = doRequest(t, server, http.MethodGet, "/api/v1/sos?urgency=low", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Empty(t, list.Data)

	w = doRequest(t, server, http.MethodGet, "/api/v1/sos/"+created.Data.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateSOSValidation(t *testing.T) {
	server, _, _ := setupTestServer(t)

	tests := []struct {
		name string
		body interface{}
	}{
		{"missing fields", map[string]string{"type": "fire"}},
		{"unknown type", CreateSOSRequest{Type: "flood", Urgency: "high", Description: "x"}},
		{"unknown urgency", CreateSOSRequest{Type: "fire", Urgency: "extreme", Description: "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, server, http.MethodPost, "/api/v1/sos", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, "invalid_request", resp.Error)
		})
	}

	w := doRequest(t, server, http.MethodGet, "/api/v1/sos?within=soon", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeactivateSOS(t *testing.T) {
	server, local, _ := setupTestServer(t)

	msg, err := local.SendSOS(context.Background(), sosmesh.SOSRequest{
		Type:        emergency.TypeFire,
		Urgency:     emergency.UrgencyHigh,
		Description: "smoke on the third floor",
	})
	require.NoError(t, err)

	w := doRequest(t, server, http.MethodPost, "/api/v1/sos/"+msg.ID+"/deactivate", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(t, server, http.MethodPost, "/api/v1/sos/"+msg.ID+"/deactivate", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(t, server, http.MethodPost, "/api/v1/sos/missing/deactivate", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestResponses(t *testing.T) {
	server, local, remote := setupTestServer(t)

	msg, err := remote.SendSOS(context.Background(), sosmesh.SOSRequest{
		Type:        emergency.TypeAccident,
		Urgency:     emergency.UrgencyMedium,
		Description: "two cars, no fire",
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok := local.Router().SOS(msg.ID)
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	w := doRequest(t, server, http.MethodPost, "/api/v1/sos/"+msg.ID+"/responses", CreateResponseRequest{
		ResponseType: "enroute",
		Message:      "five minutes out",
		Capabilities: []string{"first aid"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doRequest(t, server, http.MethodGet, "/api/v1/sos/"+msg.ID+"/responses", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var list envelope[[]emergency.SOSResponse]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
	assert.Equal(t, "five minutes out", list.Data[0].Message)

	require.Eventually(t, func() bool {
		return len(remote.Router().Responses(msg.ID)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	w = doRequest(t, server, http.MethodGet, "/api/v1/sos/missing/responses", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(t, server, http.MethodPost, "/api/v1/sos/missing/responses", CreateResponseRequest{ResponseType: "onsite"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServicesAndNearby(t *testing.T) {
	server, local, remote := setupTestServer(t)

	_, err := remote.EnableEmergencyService(context.Background(), sosmesh.ServiceRequest{
		Type:         emergency.TypeMedical,
		Name:         "Field clinic",
		Capabilities: []string{"triage"},
		Location:     &location.Location{Latitude: 52.5205, Longitude: 13.4050},
	})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(local.Router().Services()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	w := doRequest(t, server, http.MethodGet, "/api/v1/services?type=medical", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var services envelope[[]emergency.ServiceAnnouncement]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &services))
	require.Len(t, services.Data, 1)
	assert.Equal(t, "Field clinic", services.Data[0].ServiceName)

	w = doRequest(t, server, http.MethodGet, "/api/v1/services?type=fire", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &services))
	assert.Empty(t, services.Data)

	w = doRequest(t, server, http.MethodGet, "/api/v1/services/nearby?lat=52.52&lon=13.405&radius=1000", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var nearby envelope[[]NearbyView]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &nearby))
	require.Len(t, nearby.Data, 1)
	assert.InDelta(t, 56, nearby.Data[0].Distance, 2)
	assert.Equal(t, "56 m", nearby.Data[0].DistanceText)

	w = doRequest(t, server, http.MethodGet, "/api/v1/services/nearby?lat=52.52&lon=13.405&radius=10", nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &nearby))
	assert.Empty(t, nearby.Data)

	w = doRequest(t, server, http.MethodGet, "/api/v1/services/nearby?lat=95&lon=0", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = doRequest(t, server, http.MethodGet, "/api/v1/services/nearby", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPeersAndStats(t *testing.T) {
	server, local, remote := setupTestServer(t)

	require.NoError(t, remote.Announce())
	require.Eventually(t, func() bool {
		return len(local.Peers()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	w := doRequest(t, server, http.MethodGet, "/api/v1/peers", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var peers envelope[[]PeerView]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &peers))
	require.Len(t, peers.Data, 1)
	assert.Equal(t, "remote", peers.Data[0].Nickname)
	assert.Equal(t, remote.PeerID().String(), peers.Data[0].ID)

	_, err := local.SendSOS(context.Background(), sosmesh.SOSRequest{
		Type:        emergency.TypePolice,
		Urgency:     emergency.UrgencyCritical,
		Description: "break-in in progress",
	})
	require.NoError(t, err)

	w = doRequest(t, server, http.MethodGet, "/api/v1/stats", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var stats envelope[emergency.Stats]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Data.ActiveSOS)
	assert.Equal(t, 1, stats.Data.CriticalSOS)
}

func TestDeliveryStatus(t *testing.T) {
	server, local, remote := setupTestServer(t)

	id, err := local.SendPrivate("are you safe?", remote.PeerID())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		w := doRequest(t, server, http.MethodGet, "/api/v1/delivery/"+id, nil)
		if w.Code != http.StatusOK {
			return false
		}
		var resp envelope[DeliveryView]
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			return false
		}
		return resp.Data.Status == "delivered"
	}, 2*time.Second, 10*time.Millisecond)

	w := doRequest(t, server, http.MethodGet, "/api/v1/delivery/unknown", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
