package lifecycle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/apex/log"

	"cleanmadurai/models"
)

// ErrNotFound is returned when a transition targets a nonexistent complaint.
var ErrNotFound = errors.New("complaint not found")

// ErrInvalidTransition is returned when a requested status change violates
// the lifecycle rules.
var ErrInvalidTransition = errors.New("invalid status transition")

// SystemActor marks a transition triggered by the pipeline rather than a
// human. System transitions are stored with a NULL actor_id.
const SystemActor = ""

// EventSink receives a notification after every successful mutation. How the
// event reaches a UI is the sink's problem.
type EventSink interface {
	Publish(event models.ComplaintEvent)
}

// Engine owns every mutation of complaint status and priority. All callers,
// including the dispatch coordinator and admin handlers, go through it; the
// complaints row is never written directly.
type Engine struct {
	db     *sql.DB
	events EventSink
}

// NewEngine creates a lifecycle engine. events may be nil.
func NewEngine(db *sql.DB, events EventSink) *Engine {
	return &Engine{db: db, events: events}
}

// ApplyTransition moves a complaint to newStatus and appends a timeline
// entry, atomically. actorID is SystemActor for automated transitions; those
// must strictly advance the lifecycle. Human actors may jump to any forward
// state, but nothing leaves resolved and nothing returns to pending.
// responderID, when non-empty, is stored on the complaint.
// Persistence failures are returned to the caller as-is; the engine does not
// retry.
func (e *Engine) ApplyTransition(ctx context.Context, complaintID string, newStatus models.Status, actorID, responderID, message string) (*models.TimelineEntry, error) {
	if !models.IsValidStatus(newStatus) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, newStatus)
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current models.Status
	var trackingID string
	err = tx.QueryRowContext(ctx,
		"SELECT status, tracking_id FROM complaints WHERE id = ? FOR UPDATE",
		complaintID).Scan(&current, &trackingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, complaintID)
		}
		return nil, fmt.Errorf("failed to load complaint %s: %w", complaintID, err)
	}

	if err := validateTransition(current, newStatus, actorID); err != nil {
		return nil, err
	}

	if newStatus == models.StatusResolved {
		// COALESCE keeps the first resolved timestamp on repeat resolutions.
		if responderID != "" {
			_, err = tx.ExecContext(ctx,
				"UPDATE complaints SET status = ?, assigned_responder = ?, resolved_at = COALESCE(resolved_at, NOW()), updated_at = NOW() WHERE id = ?",
				newStatus, responderID, complaintID)
		} else {
			_, err = tx.ExecContext(ctx,
				"UPDATE complaints SET status = ?, resolved_at = COALESCE(resolved_at, NOW()), updated_at = NOW() WHERE id = ?",
				newStatus, complaintID)
		}
	} else if responderID != "" {
		_, err = tx.ExecContext(ctx,
			"UPDATE complaints SET status = ?, assigned_responder = ?, updated_at = NOW() WHERE id = ?",
			newStatus, responderID, complaintID)
	} else {
		_, err = tx.ExecContext(ctx,
			"UPDATE complaints SET status = ?, updated_at = NOW() WHERE id = ?",
			newStatus, complaintID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update complaint %s: %w", complaintID, err)
	}

	entry, err := appendTimeline(ctx, tx, complaintID, newStatus, message, actorID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transition: %w", err)
	}

	log.Infof("Complaint %s: %s -> %s (%s)", trackingID, current, newStatus, message)
	e.publish(models.ComplaintEvent{
		ComplaintID: complaintID,
		TrackingID:  trackingID,
		Status:      newStatus,
		Timestamp:   entry.CreatedAt,
	})
	return entry, nil
}

// ApplyPriority records the triage verdict. It never changes status; the
// timeline entry carries the complaint's current status.
func (e *Engine) ApplyPriority(ctx context.Context, complaintID string, priority models.Priority) (*models.TimelineEntry, error) {
	if !models.IsValidPriority(priority) {
		return nil, fmt.Errorf("invalid priority %q", priority)
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current models.Status
	var trackingID string
	err = tx.QueryRowContext(ctx,
		"SELECT status, tracking_id FROM complaints WHERE id = ? FOR UPDATE",
		complaintID).Scan(&current, &trackingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, complaintID)
		}
		return nil, fmt.Errorf("failed to load complaint %s: %w", complaintID, err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE complaints SET priority = ?, updated_at = NOW() WHERE id = ?",
		priority, complaintID)
	if err != nil {
		return nil, fmt.Errorf("failed to update priority for %s: %w", complaintID, err)
	}

	message := fmt.Sprintf("AI triage assigned %s priority", priority)
	entry, err := appendTimeline(ctx, tx, complaintID, current, message, SystemActor)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit priority update: %w", err)
	}

	log.Infof("Complaint %s: priority set to %s", trackingID, priority)
	e.publish(models.ComplaintEvent{
		ComplaintID: complaintID,
		TrackingID:  trackingID,
		Status:      current,
		Priority:    &priority,
		Timestamp:   entry.CreatedAt,
	})
	return entry, nil
}

func appendTimeline(ctx context.Context, tx *sql.Tx, complaintID string, status models.Status, message, actorID string) (*models.TimelineEntry, error) {
	var actor sql.NullString
	if actorID != SystemActor {
		actor = sql.NullString{String: actorID, Valid: true}
	}

	res, err := tx.ExecContext(ctx,
		"INSERT INTO complaint_timeline (complaint_id, status, message, actor_id) VALUES (?, ?, ?, ?)",
		complaintID, status, message, actor)
	if err != nil {
		return nil, fmt.Errorf("failed to append timeline entry: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get timeline entry id: %w", err)
	}

	entry := &models.TimelineEntry{
		ID:          id,
		ComplaintID: complaintID,
		Status:      status,
		Message:     message,
		CreatedAt:   time.Now().UTC(),
	}
	if actor.Valid {
		entry.ActorID = &actor.String
	}
	return entry, nil
}

func validateTransition(current, next models.Status, actorID string) error {
	if current == models.StatusResolved && next != models.StatusResolved {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, models.StatusResolved)
	}
	if next == models.StatusPending && current != models.StatusPending {
		return fmt.Errorf("%w: cannot return to %s", ErrInvalidTransition, models.StatusPending)
	}

	if actorID == SystemActor {
		// Automated transitions only ever move forward. Re-resolving is
		// tolerated so repeat triggers stay idempotent.
		if current == models.StatusResolved && next == models.StatusResolved {
			return nil
		}
		if models.StatusRank(next) <= models.StatusRank(current) {
			return fmt.Errorf("%w: system transition %s -> %s does not advance the lifecycle", ErrInvalidTransition, current, next)
		}
	}
	return nil
}

func (e *Engine) publish(event models.ComplaintEvent) {
	if e.events == nil {
		return
	}
	e.events.Publish(event)
}
