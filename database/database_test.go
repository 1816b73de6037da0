package database

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jknair0/beforeeach"

	"cleanmadurai/models"
)

var (
	db   *sql.DB
	mock sqlmock.Sqlmock
	d    *Database
)

func setUp() {
	db, mock, _ = sqlmock.New()
	d = NewFromDB(db)
}

func tearDown() {
	db.Close()
}

var it = beforeeach.Create(setUp, tearDown)

func complaintRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "tracking_id", "type", "description", "latitude", "longitude",
		"ward_id", "priority", "status", "photo_urls", "assigned_responder",
		"created_at", "updated_at", "resolved_at",
	})
}

func TestCreateComplaint(t *testing.T) {
	it(func() {
		ward := 42
		c := &models.Complaint{
			ID:          "11111111-2222-3333-4444-555555555555",
			TrackingID:  "CMR-AB12CD34",
			Type:        "overflowing_bin",
			Description: "Bin spilling onto the street",
			Latitude:    9.9252,
			Longitude:   78.1198,
			WardID:      &ward,
			PhotoURLs:   []string{"https://cdn.example/p1.jpg"},
		}

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO complaints").
			WithArgs(c.ID, c.TrackingID, c.Type, c.Description, c.Latitude, c.Longitude,
				42, "pending", `["https://cdn.example/p1.jpg"]`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO complaint_timeline").
			WithArgs(c.ID, "pending", "Complaint received").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		if err := d.CreateComplaint(context.Background(), c); err != nil {
			t.Fatalf("CreateComplaint: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
}

func TestCreateComplaintNoWard(t *testing.T) {
	it(func() {
		c := &models.Complaint{
			ID:         "c-nw",
			TrackingID: "CMR-NOWARD01",
			Type:       "other",
			Latitude:   9.0,
			Longitude:  78.0,
		}

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO complaints").
			WithArgs(c.ID, c.TrackingID, c.Type, "", c.Latitude, c.Longitude,
				nil, "pending", "null").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO complaint_timeline").
			WithArgs(c.ID, "pending", "Complaint received").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		if err := d.CreateComplaint(context.Background(), c); err != nil {
			t.Fatalf("CreateComplaint: %v", err)
		}
	})
}

func TestGetComplaintByTrackingID(t *testing.T) {
	it(func() {
		now := time.Now()
		mock.ExpectQuery("SELECT (.+) FROM complaints WHERE tracking_id = \\?").
			WithArgs("CMR-AB12CD34").
			WillReturnRows(complaintRows().AddRow(
				"c-1", "CMR-AB12CD34", "dirty_toilet", "desc", 9.93, 78.12,
				42, nil, "pending", `["https://cdn.example/p1.jpg"]`, nil,
				now, now, nil))

		c, err := d.GetComplaintByTrackingID(context.Background(), "CMR-AB12CD34")
		if err != nil {
			t.Fatalf("GetComplaintByTrackingID: %v", err)
		}
		if c.Priority != nil {
			t.Errorf("untriaged complaint must have nil priority, got %v", *c.Priority)
		}
		if c.WardID == nil || *c.WardID != 42 {
			t.Errorf("ward = %v, want 42", c.WardID)
		}
		if len(c.PhotoURLs) != 1 {
			t.Errorf("photo urls = %v", c.PhotoURLs)
		}
	})
}

func TestListComplaintsFilters(t *testing.T) {
	it(func() {
		now := time.Now()
		mock.ExpectQuery("SELECT (.+) FROM complaints WHERE 1=1 AND status = \\? AND ward_id = \\? ORDER BY created_at DESC LIMIT \\?").
			WithArgs("pending", 7, 50).
			WillReturnRows(complaintRows().AddRow(
				"c-2", "CMR-LIST0001", "pest_sighting", "", 9.9, 78.1,
				7, "high", "pending", "[]", nil, now, now, nil))

		list, err := d.ListComplaints(context.Background(), "pending", 7, 50)
		if err != nil {
			t.Fatalf("ListComplaints: %v", err)
		}
		if len(list) != 1 || *list[0].Priority != models.PriorityHigh {
			t.Errorf("unexpected result %+v", list)
		}
	})
}

func TestGetTimeline(t *testing.T) {
	it(func() {
		now := time.Now()
		mock.ExpectQuery("SELECT id, complaint_id, status, message, actor_id, created_at").
			WithArgs("c-3").
			WillReturnRows(sqlmock.NewRows([]string{"id", "complaint_id", "status", "message", "actor_id", "created_at"}).
				AddRow(1, "c-3", "pending", "Complaint received", nil, now).
				AddRow(2, "c-3", "assigned", "Assigned to responder Muthu", nil, now).
				AddRow(3, "c-3", "resolved", "Done", "worker-9", now))

		entries, err := d.GetTimeline(context.Background(), "c-3")
		if err != nil {
			t.Fatalf("GetTimeline: %v", err)
		}
		if len(entries) != 3 {
			t.Fatalf("len = %d, want 3", len(entries))
		}
		if entries[0].ActorID != nil {
			t.Errorf("system entry has actor %v", *entries[0].ActorID)
		}
		if entries[2].ActorID == nil || *entries[2].ActorID != "worker-9" {
			t.Errorf("human entry lost its actor: %+v", entries[2])
		}
	})
}

func TestLeaderboardOrdering(t *testing.T) {
	it(func() {
		mock.ExpectQuery("SELECT w.id, w.name, w.zone").
			WillReturnRows(sqlmock.NewRows([]string{"id", "name", "zone", "open_complaints", "score"}).
				AddRow(3, "Tallakulam", "North", 0, 88.4).
				AddRow(1, "Anna Nagar", "East", 5, 61.2))

		scores, err := d.Leaderboard(context.Background())
		if err != nil {
			t.Fatalf("Leaderboard: %v", err)
		}
		if len(scores) != 2 || scores[0].WardID != 3 || scores[1].OpenComplaints != 5 {
			t.Errorf("unexpected leaderboard %+v", scores)
		}
	})
}

func TestResponderTasksExcludesResolved(t *testing.T) {
	it(func() {
		now := time.Now()
		mock.ExpectQuery("SELECT (.+) FROM complaints\\s+WHERE assigned_responder = \\? AND status != 'resolved'").
			WithArgs("lcv-3").
			WillReturnRows(complaintRows().AddRow(
				"c-4", "CMR-TASK0001", "bulk_waste", "", 9.91, 78.13,
				12, "medium", "assigned", "[]", "lcv-3", now, now, nil))

		tasks, err := d.ResponderTasks(context.Background(), "lcv-3")
		if err != nil {
			t.Fatalf("ResponderTasks: %v", err)
		}
		if len(tasks) != 1 || tasks[0].Status != models.StatusAssigned {
			t.Errorf("unexpected tasks %+v", tasks)
		}
	})
}

func TestGetSnapshot(t *testing.T) {
	it(func() {
		reportDate, _ := time.Parse("2006-01-02", "2026-08-28")
		mock.ExpectQuery("SELECT report_date, total_complaints, resolved_complaints").
			WithArgs("2026-08-28").
			WillReturnRows(sqlmock.NewRows([]string{
				"report_date", "total_complaints", "resolved_complaints", "avg_resolution_hours",
				"by_type", "by_ward", "by_priority",
			}).AddRow(reportDate, 14, 9, 6.5,
				`{"overflowing_bin":8,"other":6}`, `{"42":14}`, `{"high":3,"medium":11}`))

		s, err := d.GetSnapshot(context.Background(), "2026-08-28")
		if err != nil {
			t.Fatalf("GetSnapshot: %v", err)
		}
		if s.ReportDate != "2026-08-28" || s.ByType["overflowing_bin"] != 8 || s.ByPriority["medium"] != 11 {
			t.Errorf("unexpected snapshot %+v", s)
		}
	})
}

func TestGetComplaintByIDNotFound(t *testing.T) {
	it(func() {
		mock.ExpectQuery("SELECT (.+) FROM complaints WHERE id = \\?").
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		if _, err := d.GetComplaintByID(context.Background(), "missing"); err != sql.ErrNoRows {
			t.Errorf("expected sql.ErrNoRows, got %v", err)
		}
	})
}
