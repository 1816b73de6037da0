package dispatch

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/apex/log"

	"cleanmadurai/lifecycle"
	"cleanmadurai/metrics"
	"cleanmadurai/models"
)

// Notifier delivers a dispatch alert to a responder. Delivery is
// best-effort; the assignment stands even when the alert fails.
type Notifier interface {
	SendDispatchAlert(ctx context.Context, phone string, complaint *models.Complaint, responderName string) error
}

// Result reports the outcome of a dispatch attempt.
type Result struct {
	Assigned    bool   `json:"assigned"`
	ResponderID string `json:"responder_id,omitempty"`
}

// Coordinator matches triaged complaints with available responders. The
// selection policy is deliberately simple: first available responder in the
// complaint's ward, no load balancing or proximity ranking.
type Coordinator struct {
	db       *sql.DB
	engine   *lifecycle.Engine
	notifier Notifier
}

// NewCoordinator creates a dispatch coordinator. notifier may be nil.
func NewCoordinator(db *sql.DB, engine *lifecycle.Engine, notifier Notifier) *Coordinator {
	return &Coordinator{db: db, engine: engine, notifier: notifier}
}

// Dispatch looks for an available responder in the complaint's ward and, if
// one exists, assigns the complaint to them via the lifecycle engine. Finding
// nobody is a normal outcome, not a failure; the complaint simply stays in
// its pre-dispatch state. Only lifecycle persistence errors are returned, so
// the queue worker can retry them.
func (c *Coordinator) Dispatch(ctx context.Context, complaint *models.Complaint) (Result, error) {
	if complaint.WardID == nil {
		log.Warnf("Complaint %s has no ward, skipping dispatch", complaint.TrackingID)
		return Result{}, nil
	}

	responder, err := c.firstAvailable(ctx, *complaint.WardID)
	if err != nil {
		// Availability lookup is a best-effort enrichment; absorb and leave
		// the complaint untouched.
		log.Errorf("Responder lookup failed for ward %d: %v", *complaint.WardID, err)
		metrics.DispatchTotal.WithLabelValues("lookup_error").Inc()
		return Result{}, nil
	}
	if responder == nil {
		log.Infof("No available responder in ward %d for complaint %s", *complaint.WardID, complaint.TrackingID)
		metrics.DispatchTotal.WithLabelValues("unassigned").Inc()
		return Result{}, nil
	}

	message := fmt.Sprintf("Assigned to responder %s", responder.Name)
	if _, err := c.engine.ApplyTransition(ctx, complaint.ID, models.StatusAssigned, lifecycle.SystemActor, responder.ID, message); err != nil {
		return Result{}, fmt.Errorf("failed to assign complaint %s: %w", complaint.ID, err)
	}
	metrics.DispatchTotal.WithLabelValues("assigned").Inc()

	if c.notifier != nil {
		if err := c.notifier.SendDispatchAlert(ctx, responder.Phone, complaint, responder.Name); err != nil {
			// The assignment is authoritative even if the alert never lands.
			log.Errorf("Dispatch notification to %s failed: %v", responder.Phone, err)
			metrics.NotificationFailureTotal.Inc()
		}
	}

	return Result{Assigned: true, ResponderID: responder.ID}, nil
}

// firstAvailable returns the first on-duty responder in the ward, or nil when
// the ward has none. Ordering by id keeps the pick deterministic.
func (c *Coordinator) firstAvailable(ctx context.Context, wardID int) (*models.Responder, error) {
	var r models.Responder
	err := c.db.QueryRowContext(ctx,
		"SELECT id, name, phone, ward_id FROM responders WHERE ward_id = ? AND is_available = TRUE ORDER BY id LIMIT 1",
		wardID).Scan(&r.ID, &r.Name, &r.Phone, &r.WardID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query responders: %w", err)
	}
	r.IsAvailable = true
	return &r, nil
}
