package triage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/apex/log"

	"cleanmadurai/classifier"
	"cleanmadurai/dispatch"
	"cleanmadurai/lifecycle"
	"cleanmadurai/metrics"
	"cleanmadurai/models"
)

// Service runs the post-submission pipeline for a complaint: assign a
// priority with the classifier, record it on the timeline, then try to
// dispatch a responder.
type Service struct {
	db         *sql.DB
	classifier *classifier.Client
	engine     *lifecycle.Engine
	dispatcher *dispatch.Coordinator
}

func NewService(db *sql.DB, classifierClient *classifier.Client, engine *lifecycle.Engine, dispatcher *dispatch.Coordinator) *Service {
	return &Service{
		db:         db,
		classifier: classifierClient,
		engine:     engine,
		dispatcher: dispatcher,
	}
}

// HandleMessage is the queue callback. The body is a TriageMessage payload.
func (s *Service) HandleMessage(body []byte) error {
	var msg models.TriageMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		log.Errorf("failed to unmarshal triage message: %v", err)
		metrics.TriageTotal.WithLabelValues("bad_message").Inc()
		// Malformed payloads never succeed on retry.
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	return s.Process(ctx, msg.ComplaintID)
}

// Process triages a single complaint. A complaint that already carries a
// priority is skipped, so redelivered or duplicate messages classify at
// most once.
func (s *Service) Process(ctx context.Context, complaintID string) error {
	start := time.Now()

	complaint, err := s.loadComplaint(ctx, complaintID)
	if err == sql.ErrNoRows {
		log.WithField("complaint_id", complaintID).Warn("triage: complaint not found")
		metrics.TriageTotal.WithLabelValues("not_found").Inc()
		return nil
	}
	if err != nil {
		metrics.TriageTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to load complaint %s: %w", complaintID, err)
	}

	if complaint.Priority != nil {
		log.WithFields(log.Fields{
			"complaint_id": complaintID,
			"priority":     string(*complaint.Priority),
		}).Info("triage: priority already set, skipping classification")
		metrics.TriageTotal.WithLabelValues("skipped").Inc()
		return nil
	}

	photoURL := ""
	if len(complaint.PhotoURLs) > 0 {
		photoURL = complaint.PhotoURLs[0]
	}
	priority := s.classifier.Classify(ctx, complaint.Type, complaint.Description, photoURL)

	if _, err := s.engine.ApplyPriority(ctx, complaintID, priority); err != nil {
		metrics.TriageTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to apply priority to %s: %w", complaintID, err)
	}
	complaint.Priority = &priority

	if _, err := s.dispatcher.Dispatch(ctx, complaint); err != nil {
		metrics.TriageTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to dispatch %s: %w", complaintID, err)
	}

	metrics.TriageTotal.WithLabelValues("processed").Inc()
	metrics.TriageDurationSeconds.Observe(time.Since(start).Seconds())
	log.WithFields(log.Fields{
		"complaint_id": complaintID,
		"priority":     string(priority),
		"duration":     time.Since(start).String(),
	}).Info("triage: complaint processed")
	return nil
}

// ProcessAsync triages in a goroutine, used when the queue is unavailable
// and the submission path falls back to inline processing.
func (s *Service) ProcessAsync(complaintID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := s.Process(ctx, complaintID); err != nil {
			log.Errorf("inline triage failed for %s: %v", complaintID, err)
		}
	}()
}

func (s *Service) loadComplaint(ctx context.Context, complaintID string) (*models.Complaint, error) {
	var (
		c         models.Complaint
		wardID    sql.NullInt64
		priority  sql.NullString
		responder sql.NullString
		photos    sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, tracking_id, type, description, latitude, longitude,
		       ward_id, priority, status, photo_urls, assigned_responder
		FROM complaints WHERE id = ?`, complaintID).Scan(
		&c.ID, &c.TrackingID, &c.Type, &c.Description, &c.Latitude, &c.Longitude,
		&wardID, &priority, &c.Status, &photos, &responder,
	)
	if err != nil {
		return nil, err
	}
	if wardID.Valid {
		w := int(wardID.Int64)
		c.WardID = &w
	}
	if priority.Valid {
		p := models.Priority(priority.String)
		c.Priority = &p
	}
	if responder.Valid {
		c.AssignedResponder = &responder.String
	}
	if photos.Valid && photos.String != "" {
		if err := json.Unmarshal([]byte(photos.String), &c.PhotoURLs); err != nil {
			log.Warnf("failed to parse photo_urls for %s: %v", complaintID, err)
		}
	}
	return &c, nil
}
