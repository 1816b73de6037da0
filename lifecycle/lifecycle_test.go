package lifecycle

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jknair0/beforeeach"

	"cleanmadurai/models"
)

var (
	db   *sql.DB
	mock sqlmock.Sqlmock
)

func setUp() {
	db, mock, _ = sqlmock.New()
}

func tearDown() {
	db.Close()
}

var it = beforeeach.Create(setUp, tearDown)

type recordingSink struct {
	mu     sync.Mutex
	events []models.ComplaintEvent
}

func (s *recordingSink) Publish(event models.ComplaintEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func expectStatusRow(id string, status models.Status, trackingID string) {
	mock.ExpectQuery("SELECT status, tracking_id FROM complaints WHERE id = \\? FOR UPDATE").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"status", "tracking_id"}).AddRow(string(status), trackingID))
}

func TestApplyTransitionAssignsResponder(t *testing.T) {
	it(func() {
		sink := &recordingSink{}
		e := NewEngine(db, sink)

		mock.ExpectBegin()
		expectStatusRow("c-1", models.StatusPending, "CMR-AB12CD34")
		mock.ExpectExec("UPDATE complaints SET status = \\?, assigned_responder = \\?, updated_at = NOW\\(\\) WHERE id = \\?").
			WithArgs(string(models.StatusAssigned), "lcv-7", "c-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO complaint_timeline \\(complaint_id, status, message, actor_id\\) VALUES \\(\\?, \\?, \\?, \\?\\)").
			WithArgs("c-1", string(models.StatusAssigned), "Assigned to responder Muthu", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(11, 1))
		mock.ExpectCommit()

		entry, err := e.ApplyTransition(context.Background(), "c-1", models.StatusAssigned, SystemActor, "lcv-7", "Assigned to responder Muthu")
		if err != nil {
			t.Fatalf("ApplyTransition: %v", err)
		}
		if entry.ID != 11 || entry.Status != models.StatusAssigned {
			t.Errorf("unexpected entry %+v", entry)
		}
		if entry.ActorID != nil {
			t.Errorf("system entry must have no actor, got %v", *entry.ActorID)
		}
		if len(sink.events) != 1 || sink.events[0].Status != models.StatusAssigned {
			t.Errorf("expected one assigned event, got %+v", sink.events)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
}

func TestApplyTransitionResolvedStampsOnce(t *testing.T) {
	it(func() {
		e := NewEngine(db, nil)

		// First resolution and a repeat: both use COALESCE, so resolved_at
		// only ever takes the first value.
		for _, current := range []models.Status{models.StatusInProgress, models.StatusResolved} {
			mock.ExpectBegin()
			expectStatusRow("c-2", current, "CMR-XY99ZZ00")
			mock.ExpectExec("UPDATE complaints SET status = \\?, resolved_at = COALESCE\\(resolved_at, NOW\\(\\)\\), updated_at = NOW\\(\\) WHERE id = \\?").
				WithArgs(string(models.StatusResolved), "c-2").
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectExec("INSERT INTO complaint_timeline").
				WithArgs("c-2", string(models.StatusResolved), "Issue resolved", sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(21, 1))
			mock.ExpectCommit()
		}

		if _, err := e.ApplyTransition(context.Background(), "c-2", models.StatusResolved, SystemActor, "", "Issue resolved"); err != nil {
			t.Fatalf("first resolve: %v", err)
		}
		if _, err := e.ApplyTransition(context.Background(), "c-2", models.StatusResolved, SystemActor, "", "Issue resolved"); err != nil {
			t.Fatalf("repeat resolve: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
}

func TestApplyTransitionNotFound(t *testing.T) {
	it(func() {
		e := NewEngine(db, nil)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT status, tracking_id FROM complaints WHERE id = \\? FOR UPDATE").
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := e.ApplyTransition(context.Background(), "missing", models.StatusAssigned, SystemActor, "", "x")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestApplyTransitionRules(t *testing.T) {
	it(func() {
		e := NewEngine(db, nil)

		testCases := []struct {
			name    string
			current models.Status
			next    models.Status
			actor   string
			wantErr bool
		}{
			{"system forward", models.StatusPending, models.StatusAssigned, SystemActor, false},
			{"system skip forward", models.StatusPending, models.StatusDispatched, SystemActor, false},
			{"system backward", models.StatusInProgress, models.StatusAssigned, SystemActor, true},
			{"system same state", models.StatusAssigned, models.StatusAssigned, SystemActor, true},
			{"out of resolved", models.StatusResolved, models.StatusInProgress, "admin-1", true},
			{"back to pending", models.StatusDispatched, models.StatusPending, "admin-1", true},
			{"admin jump to resolved", models.StatusPending, models.StatusResolved, "admin-1", false},
			{"admin re-dispatch", models.StatusInProgress, models.StatusDispatched, "admin-1", false},
		}

		for _, tc := range testCases {
			t.Run(tc.name, func(t *testing.T) {
				mock.ExpectBegin()
				expectStatusRow("c-3", tc.current, "CMR-RULES001")
				if !tc.wantErr {
					if tc.next == models.StatusResolved {
						mock.ExpectExec("UPDATE complaints SET status = \\?, resolved_at = COALESCE").
							WithArgs(string(tc.next), "c-3").
							WillReturnResult(sqlmock.NewResult(0, 1))
					} else {
						mock.ExpectExec("UPDATE complaints SET status = \\?, updated_at = NOW\\(\\) WHERE id = \\?").
							WithArgs(string(tc.next), "c-3").
							WillReturnResult(sqlmock.NewResult(0, 1))
					}
					mock.ExpectExec("INSERT INTO complaint_timeline").
						WithArgs("c-3", string(tc.next), "msg", sqlmock.AnyArg()).
						WillReturnResult(sqlmock.NewResult(1, 1))
					mock.ExpectCommit()
				} else {
					mock.ExpectRollback()
				}

				_, err := e.ApplyTransition(context.Background(), "c-3", tc.next, tc.actor, "", "msg")
				if tc.wantErr && !errors.Is(err, ErrInvalidTransition) {
					t.Errorf("expected ErrInvalidTransition, got %v", err)
				}
				if !tc.wantErr && err != nil {
					t.Errorf("unexpected error: %v", err)
				}
			})
		}
	})
}

func TestApplyTransitionHumanActorRecorded(t *testing.T) {
	it(func() {
		e := NewEngine(db, nil)

		mock.ExpectBegin()
		expectStatusRow("c-4", models.StatusAssigned, "CMR-ACT00001")
		mock.ExpectExec("UPDATE complaints SET status = \\?, updated_at = NOW\\(\\) WHERE id = \\?").
			WithArgs(string(models.StatusInProgress), "c-4").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO complaint_timeline").
			WithArgs("c-4", string(models.StatusInProgress), "Crew on site", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(31, 1))
		mock.ExpectCommit()

		entry, err := e.ApplyTransition(context.Background(), "c-4", models.StatusInProgress, "worker-9", "", "Crew on site")
		if err != nil {
			t.Fatalf("ApplyTransition: %v", err)
		}
		if entry.ActorID == nil || *entry.ActorID != "worker-9" {
			t.Errorf("expected actor worker-9, got %v", entry.ActorID)
		}
	})
}

func TestApplyTransitionPersistenceFailurePropagates(t *testing.T) {
	it(func() {
		e := NewEngine(db, nil)

		mock.ExpectBegin()
		expectStatusRow("c-5", models.StatusPending, "CMR-FAIL0001")
		mock.ExpectExec("UPDATE complaints SET status = \\?, updated_at = NOW\\(\\) WHERE id = \\?").
			WithArgs(string(models.StatusAssigned), "c-5").
			WillReturnError(errors.New("deadlock"))
		mock.ExpectRollback()

		_, err := e.ApplyTransition(context.Background(), "c-5", models.StatusAssigned, SystemActor, "", "x")
		if err == nil {
			t.Fatal("persistence failure must surface to the caller")
		}
	})
}

func TestApplyPriority(t *testing.T) {
	it(func() {
		sink := &recordingSink{}
		e := NewEngine(db, sink)

		mock.ExpectBegin()
		expectStatusRow("c-6", models.StatusPending, "CMR-PRI00001")
		mock.ExpectExec("UPDATE complaints SET priority = \\?, updated_at = NOW\\(\\) WHERE id = \\?").
			WithArgs(string(models.PriorityHigh), "c-6").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO complaint_timeline").
			WithArgs("c-6", string(models.StatusPending), "AI triage assigned high priority", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(41, 1))
		mock.ExpectCommit()

		entry, err := e.ApplyPriority(context.Background(), "c-6", models.PriorityHigh)
		if err != nil {
			t.Fatalf("ApplyPriority: %v", err)
		}
		// Priority assignment never changes status; the entry carries the
		// status the complaint already had.
		if entry.Status != models.StatusPending {
			t.Errorf("entry status = %s, want pending", entry.Status)
		}
		if len(sink.events) != 1 || sink.events[0].Priority == nil || *sink.events[0].Priority != models.PriorityHigh {
			t.Errorf("expected one high-priority event, got %+v", sink.events)
		}
	})
}

func TestApplyPriorityRejectsInvalidLevel(t *testing.T) {
	it(func() {
		e := NewEngine(db, nil)
		if _, err := e.ApplyPriority(context.Background(), "c-7", models.Priority("urgent")); err == nil {
			t.Error("invalid priority must be rejected")
		}
	})
}
