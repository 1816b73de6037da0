package handlers

import (
	"database/sql"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"cleanmadurai/aggregator"
	"cleanmadurai/dailybrief"
	"cleanmadurai/database"
	"cleanmadurai/events"
	"cleanmadurai/lifecycle"
	"cleanmadurai/mapaggr"
	"cleanmadurai/metrics"
	"cleanmadurai/middleware"
	"cleanmadurai/models"
	"cleanmadurai/triage"
	"cleanmadurai/version"
	"cleanmadurai/wardindex"
)

// TriagePublisher pushes a message onto the triage queue.
type TriagePublisher interface {
	Publish(message interface{}) error
	IsConnected() bool
}

// Handler owns the HTTP surface of the service.
type Handler struct {
	db         *database.Database
	wards      *wardindex.Index
	publisher  TriagePublisher
	triage     *triage.Service
	engine     *lifecycle.Engine
	aggregator *aggregator.Aggregator
	brief      *dailybrief.Service
	hub        *events.Hub
}

func NewHandler(db *database.Database, wards *wardindex.Index, publisher TriagePublisher,
	triageService *triage.Service, engine *lifecycle.Engine, agg *aggregator.Aggregator,
	brief *dailybrief.Service, hub *events.Hub) *Handler {
	return &Handler{
		db:         db,
		wards:      wards,
		publisher:  publisher,
		triage:     triageService,
		engine:     engine,
		aggregator: agg,
		brief:      brief,
		hub:        hub,
	}
}

// HealthCheck returns a simple health status
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":            "healthy",
		"service":           "cleanmadurai-service",
		"wards":             h.wards.Count(),
		"connected_clients": h.hub.ClientCount(),
	})
}

// Version returns build information.
func (h *Handler) Version(c *gin.Context) {
	c.JSON(http.StatusOK, version.Get("cleanmadurai-service"))
}

// newTrackingID builds the citizen-facing code: CMR- plus eight uppercased
// hex characters from a fresh uuid.
func newTrackingID() string {
	fragment := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return "CMR-" + strings.ToUpper(fragment)
}

// SubmitComplaint files a new complaint, resolves its ward and queues it
// for triage.
func (h *Handler) SubmitComplaint(c *gin.Context) {
	args := &models.SubmitComplaintRequest{}
	if err := c.BindJSON(args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if !models.IsValidComplaintType(args.Type) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown complaint type %q", args.Type)})
		return
	}
	lat, lon := *args.Latitude, *args.Longitude
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lon) || math.IsInf(lon, 0) ||
		lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "coordinates out of range"})
		return
	}

	complaint := &models.Complaint{
		ID:          uuid.New().String(),
		TrackingID:  newTrackingID(),
		Type:        args.Type,
		Description: args.Description,
		Latitude:    lat,
		Longitude:   lon,
		PhotoURLs:   args.PhotoURLs,
		Status:      models.StatusPending,
	}
	if wardID, ok := h.wards.ResolveWard(lat, lon); ok {
		complaint.WardID = &wardID
	}

	if err := h.db.CreateComplaint(c.Request.Context(), complaint); err != nil {
		log.Errorf("Failed to create complaint: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create complaint"})
		return
	}
	metrics.ComplaintsSubmittedTotal.WithLabelValues(complaint.Type).Inc()

	// Queue for triage; when the broker is down the pipeline still runs in
	// process so no complaint is left unprioritized.
	queued := false
	if h.publisher != nil && h.publisher.IsConnected() {
		if err := h.publisher.Publish(models.TriageMessage{ComplaintID: complaint.ID}); err != nil {
			log.Errorf("Failed to publish triage message for %s: %v", complaint.ID, err)
		} else {
			queued = true
		}
	}
	if !queued {
		h.triage.ProcessAsync(complaint.ID)
	}

	c.JSON(http.StatusCreated, models.SubmitComplaintResponse{
		ID:         complaint.ID,
		TrackingID: complaint.TrackingID,
		WardID:     complaint.WardID,
		Status:     complaint.Status,
	})
}

// trackedComplaint is the citizen view of a complaint: an unrated priority
// shows as the string "unrated" rather than null.
type trackedComplaint struct {
	models.Complaint
	PriorityLabel string `json:"priority_label"`
}

// TrackComplaint looks a complaint up by tracking code.
func (h *Handler) TrackComplaint(c *gin.Context) {
	trackingID, ok := c.GetQuery("tracking_id")
	if !ok || trackingID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tracking_id is required"})
		return
	}

	complaint, err := h.db.GetComplaintByTrackingID(c.Request.Context(), trackingID)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "complaint not found"})
		return
	}
	if err != nil {
		log.Errorf("Failed to fetch complaint %s: %v", trackingID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch complaint"})
		return
	}

	label := "unrated"
	if complaint.Priority != nil {
		label = string(*complaint.Priority)
	}
	c.JSON(http.StatusOK, trackedComplaint{Complaint: *complaint, PriorityLabel: label})
}

// GetTimeline returns the audit timeline of one complaint.
func (h *Handler) GetTimeline(c *gin.Context) {
	complaintID := c.Param("id")

	if _, err := h.db.GetComplaintByID(c.Request.Context(), complaintID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "complaint not found"})
			return
		}
		log.Errorf("Failed to fetch complaint %s: %v", complaintID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch complaint"})
		return
	}

	entries, err := h.db.GetTimeline(c.Request.Context(), complaintID)
	if err != nil {
		log.Errorf("Failed to fetch timeline for %s: %v", complaintID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch timeline"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"complaint_id": complaintID, "timeline": entries})
}

// ListComplaints returns a filtered page of complaints for dashboards.
func (h *Handler) ListComplaints(c *gin.Context) {
	status := c.Query("status")
	if status != "" && !models.IsValidStatus(models.Status(status)) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown status %q", status)})
		return
	}

	wardID := 0
	if wardStr, ok := c.GetQuery("ward_id"); ok {
		parsed, err := strconv.Atoi(wardStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ward_id must be an integer"})
			return
		}
		wardID = parsed
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	complaints, err := h.db.ListComplaints(c.Request.Context(), status, wardID, limit)
	if err != nil {
		log.Errorf("Failed to list complaints: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list complaints"})
		return
	}
	if complaints == nil {
		complaints = []*models.Complaint{}
	}
	c.JSON(http.StatusOK, gin.H{"complaints": complaints, "count": len(complaints)})
}

// UpdateStatus applies a manual status transition on behalf of the
// authenticated user.
func (h *Handler) UpdateStatus(c *gin.Context) {
	args := &models.UpdateStatusRequest{}
	if err := c.BindJSON(args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if !models.IsValidStatus(args.Status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown status %q", args.Status)})
		return
	}

	actorID := middleware.GetUserID(c)
	message := args.Message
	if message == "" {
		message = fmt.Sprintf("Status changed to %s", args.Status)
	}

	entry, err := h.engine.ApplyTransition(c.Request.Context(), args.ID, args.Status, actorID, "", message)
	switch {
	case errors.Is(err, lifecycle.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "complaint not found"})
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		log.Errorf("Failed to update status of %s: %v", args.ID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update status"})
	default:
		c.JSON(http.StatusOK, entry)
	}
}

// ListWards serves the ward reference dataset.
func (h *Handler) ListWards(c *gin.Context) {
	wards, err := h.db.ListWards(c.Request.Context())
	if err != nil {
		log.Errorf("Failed to list wards: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list wards"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"wards": wards, "count": len(wards)})
}

// GetWard serves one ward with its councillor and KPI fields.
func (h *Handler) GetWard(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ward id must be an integer"})
		return
	}

	ward, err := h.db.GetWard(c.Request.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "ward not found"})
		return
	}
	if err != nil {
		log.Errorf("Failed to fetch ward %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch ward"})
		return
	}
	c.JSON(http.StatusOK, ward)
}

// Leaderboard ranks wards by cleanliness score.
func (h *Handler) Leaderboard(c *gin.Context) {
	scores, err := h.db.Leaderboard(c.Request.Context())
	if err != nil {
		log.Errorf("Failed to build leaderboard: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build leaderboard"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"leaderboard": scores})
}

// Heatmap aggregates open-complaint positions into viewport-sized cells.
func (h *Handler) Heatmap(c *gin.Context) {
	vp := &mapaggr.ViewPort{}
	var err error
	for _, p := range []struct {
		name string
		dst  *float64
	}{
		{"sw_lat", &vp.LatMin},
		{"sw_lon", &vp.LonMin},
		{"ne_lat", &vp.LatMax},
		{"ne_lon", &vp.LonMax},
	} {
		raw, ok := c.GetQuery(p.name)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s is required", p.name)})
			return
		}
		if *p.dst, err = strconv.ParseFloat(raw, 64); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("parsing %s: %v", p.name, err)})
			return
		}
	}
	if vp.LatMin >= vp.LatMax || vp.LonMin >= vp.LonMax {
		c.JSON(http.StatusBadRequest, gin.H{"error": "viewport is empty"})
		return
	}

	positions, err := h.db.ComplaintPositions(c.Request.Context(), vp.LatMin, vp.LonMin, vp.LatMax, vp.LonMax)
	if err != nil {
		log.Errorf("Failed to fetch complaint positions: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build heatmap"})
		return
	}

	agg := mapaggr.New(vp)
	for _, p := range positions {
		agg.AddPoint(p[0], p[1])
	}
	c.JSON(http.StatusOK, gin.H{"cells": agg.ToArray()})
}

// ResponderTasks returns the open complaints assigned to one responder.
func (h *Handler) ResponderTasks(c *gin.Context) {
	responderID := c.Param("id")

	tasks, err := h.db.ResponderTasks(c.Request.Context(), responderID)
	if err != nil {
		log.Errorf("Failed to fetch tasks for responder %s: %v", responderID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch tasks"})
		return
	}
	if tasks == nil {
		tasks = []*models.Complaint{}
	}
	c.JSON(http.StatusOK, gin.H{"responder_id": responderID, "tasks": tasks})
}

// TriggerAggregate rebuilds the daily snapshot for one date.
func (h *Handler) TriggerAggregate(c *gin.Context) {
	args := &models.AggregateRequest{}
	if err := c.BindJSON(args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	date, err := time.Parse("2006-01-02", args.Date)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}

	snapshot, err := h.aggregator.Aggregate(c.Request.Context(), date)
	if err != nil {
		log.Errorf("Aggregation for %s failed: %v", args.Date, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "aggregation failed"})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// GetSnapshot serves a stored daily snapshot.
func (h *Handler) GetSnapshot(c *gin.Context) {
	date := c.DefaultQuery("date", time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02"))
	if _, err := time.Parse("2006-01-02", date); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}

	snapshot, err := h.db.GetSnapshot(c.Request.Context(), date)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot for " + date})
		return
	}
	if err != nil {
		log.Errorf("Failed to fetch snapshot %s: %v", date, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch snapshot"})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// GetBrief serves the stored councillor action brief for one date.
func (h *Handler) GetBrief(c *gin.Context) {
	date := c.DefaultQuery("date", time.Now().UTC().Format("2006-01-02"))
	if _, err := time.Parse("2006-01-02", date); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}

	brief, err := h.brief.Get(c.Request.Context(), date)
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no brief for " + date})
		return
	}
	if err != nil {
		log.Errorf("Failed to fetch brief %s: %v", date, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch brief"})
		return
	}
	c.JSON(http.StatusOK, brief)
}

// TriggerBrief regenerates today's councillor action brief on demand.
func (h *Handler) TriggerBrief(c *gin.Context) {
	brief, err := h.brief.Generate(c.Request.Context(), time.Now().UTC())
	if err != nil {
		log.Errorf("Brief generation failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "brief generation failed"})
		return
	}
	c.JSON(http.StatusOK, brief)
}

// ListenEvents upgrades to a websocket carrying complaint change events.
func (h *Handler) ListenEvents(c *gin.Context) {
	h.hub.ServeWS(c)
}
