package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	sosmesh "github.com/opd-ai/sosmesh"
	"github.com/opd-ai/sosmesh/emergency"
	"github.com/opd-ai/sosmesh/location"
	"github.com/sirupsen/logrus"
)

// CreateSOSRequest is the body of POST /api/v1/sos.
type CreateSOSRequest struct {
	Type           string            `json:"type" binding:"required"`
	Urgency        string            `json:"urgency" binding:"required"`
	Description    string            `json:"description" binding:"required"`
	ContactInfo    string            `json:"contactInfo"`
	AdditionalInfo map[string]string `json:"additionalInfo"`
}

// CreateResponseRequest is the body of POST /api/v1/sos/:id/responses.
type CreateResponseRequest struct {
	ResponseType string   `json:"responseType" binding:"required"`
	Message      string   `json:"message"`
	Capabilities []string `json:"capabilities"`
}

// PeerView is a peer as reported by GET /api/v1/peers.
type PeerView struct {
	ID       string    `json:"id"`
	Nickname string    `json:"nickname"`
	LastSeen time.Time `json:"lastSeen"`
}

// NearbyView is one entry of GET /api/v1/services/nearby.
type NearbyView struct {
	emergency.NearbyService
	DistanceText string `json:"distanceText"`
}

// DeliveryView is the body of GET /api/v1/delivery/:id.
type DeliveryView struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
	Detail    string `json:"detail"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	PeerID   string `json:"peerId"`
	Nickname string `json:"nickname"`
	Peers    int    `json:"peers"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:   "ok",
		PeerID:   s.node.PeerID().String(),
		Nickname: s.node.Nickname(),
		Peers:    len(s.node.Peers()),
	})
}

// handleListSOS serves GET /api/v1/sos. Filters: active=true,
// urgency=<name>, within=<duration>.
func (s *Server) handleListSOS(c *gin.Context) {
	router := s.node.Router()

	var list []*emergency.SOSMessage
	switch {
	case c.Query("urgency") != "":
		u, err := emergency.ParseUrgency(c.Query("urgency"))
		if err != nil {
			badRequest(c, err)
			return
		}
		list = router.ByUrgency(u)
	case c.Query("within") != "":
		d, err := time.ParseDuration(c.Query("within"))
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "within must be a positive duration"})
			return
		}
		list = router.Recent(d)
	case c.Query("active") == "true":
		list = router.Active()
	default:
		list = router.AllSOS()
	}

	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: list})
}

func (s *Server) handleGetSOS(c *gin.Context) {
	msg, ok := s.node.Router().SOS(c.Param("id"))
	if !ok {
		notFound(c, "sos not found")
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: msg})
}

func (s *Server) handleCreateSOS(c *gin.Context) {
	var req CreateSOSRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	sosType, err := emergency.ParseType(req.Type)
	if err != nil {
		badRequest(c, err)
		return
	}
	urgency, err := emergency.ParseUrgency(req.Urgency)
	if err != nil {
		badRequest(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.config.SOSTimeout)
	defer cancel()

	msg, err := s.node.SendSOS(ctx, sosmesh.SOSRequest{
		Type:           sosType,
		Urgency:        urgency,
		Description:    req.Description,
		ContactInfo:    req.ContactInfo,
		AdditionalInfo: req.AdditionalInfo,
	})
	if err != nil {
		if msg == nil {
			s.writeError(c, "Server.handleCreateSOS", err)
			return
		}
		// Stored locally but the transport refused a frame.
		c.JSON(http.StatusAccepted, SuccessResponse{Success: true, Data: msg, Message: err.Error()})
		return
	}

	c.JSON(http.StatusCreated, SuccessResponse{Success: true, Data: msg})
}

func (s *Server) handleDeactivateSOS(c *gin.Context) {
	if err := s.node.DeactivateSOS(c.Param("id")); err != nil {
		s.writeError(c, "Server.handleDeactivateSOS", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Message: "sos deactivated"})
}

func (s *Server) handleListResponses(c *gin.Context) {
	id := c.Param("id")
	if _, ok := s.node.Router().SOS(id); !ok {
		notFound(c, "sos not found")
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: s.node.Router().Responses(id)})
}

func (s *Server) handleCreateResponse(c *gin.Context) {
	var req CreateResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := s.node.RespondToSOS(c.Param("id"), emergency.ResponseType(req.ResponseType), req.Message, req.Capabilities)
	if err != nil {
		if resp == nil {
			s.writeError(c, "Server.handleCreateResponse", err)
			return
		}
		c.JSON(http.StatusAccepted, SuccessResponse{Success: true, Data: resp, Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, SuccessResponse{Success: true, Data: resp})
}

func (s *Server) handleListServices(c *gin.Context) {
	router := s.node.Router()
	if raw := c.Query("type"); raw != "" {
		t, err := emergency.ParseType(raw)
		if err != nil {
			badRequest(c, err)
			return
		}
		c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: router.ServicesByType(t)})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: router.Services()})
}

// handleNearbyServices serves GET /api/v1/services/nearby?lat=&lon=&radius=.
// radius is in meters and optional.
func (s *Server) handleNearbyServices(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lon, errLon := strconv.ParseFloat(c.Query("lon"), 64)
	if errLat != nil || errLon != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "lat and lon are required"})
		return
	}
	point := location.Location{Latitude: lat, Longitude: lon}
	if !point.Valid() {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "coordinates out of range"})
		return
	}

	var radius float64
	if raw := c.Query("radius"); raw != "" {
		r, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			badRequest(c, err)
			return
		}
		radius = r
	}

	nearby := s.node.Router().NearbyServices(point, radius)
	views := make([]NearbyView, 0, len(nearby))
	for _, n := range nearby {
		views = append(views, NearbyView{NearbyService: n, DistanceText: location.FormatDistance(n.Distance)})
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: views})
}

func (s *Server) handlePeers(c *gin.Context) {
	peers := s.node.Peers()
	views := make([]PeerView, 0, len(peers))
	for _, p := range peers {
		views = append(views, PeerView{ID: p.ID.String(), Nickname: p.Nickname, LastSeen: p.LastSeen})
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: views})
}

func (s *Server) handleDelivery(c *gin.Context) {
	id := c.Param("id")
	status, ok := s.node.DeliveryStatus(id)
	if !ok {
		notFound(c, "message not tracked")
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: DeliveryView{
		MessageID: id,
		Status:    status.Kind(),
		Detail:    status.String(),
	}})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Data: s.node.Router().Stats()})
}

// writeError maps mesh errors onto HTTP status codes.
func (s *Server) writeError(c *gin.Context, function string, err error) {
	switch {
	case errors.Is(err, emergency.ErrNotFound):
		notFound(c, err.Error())
	case errors.Is(err, emergency.ErrAlreadyInactive):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "conflict", Message: err.Error()})
	case errors.Is(err, emergency.ErrInvalidRecord):
		badRequest(c, err)
	default:
		logrus.WithFields(logrus.Fields{
			"function": function,
			"error":    err.Error(),
		}).Error("Request failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: err.Error()})
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
}

func notFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: message})
}
