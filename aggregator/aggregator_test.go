package aggregator

import (
	"context"
	"database/sql"
	"reflect"
	"testing"
	"time"

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

var complaintColumns = []string{"type", "ward_id", "priority", "created_at", "resolved_at"}

func expectDayQuery(rows *sqlmock.Rows) {
	mock.ExpectQuery("SELECT type, ward_id, priority, created_at, resolved_at FROM complaints WHERE created_at >= \\? AND created_at < \\?").
		WillReturnRows(rows)
}

func expectUpsert() {
	mock.ExpectExec("INSERT INTO daily_snapshot").
		WillReturnResult(sqlmock.NewResult(1, 1))
}

func TestAggregateBasicCounts(t *testing.T) {
	it(func() {
		a := NewAggregator(db)

		day := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
		created := day.Add(9 * time.Hour)

		rows := sqlmock.NewRows(complaintColumns).
			AddRow(models.TypeOverflowingBin, 42, "high", created, created.Add(3*time.Hour)).
			AddRow(models.TypeOverflowingBin, 42, "medium", created, nil).
			AddRow(models.TypeDeadAnimal, 7, "critical", created, created.Add(1*time.Hour))
		expectDayQuery(rows)
		expectUpsert()

		s, err := a.Aggregate(context.Background(), day)
		if err != nil {
			t.Fatalf("Aggregate: %v", err)
		}

		if s.ReportDate != "2026-08-28" {
			t.Errorf("ReportDate = %s", s.ReportDate)
		}
		if s.TotalComplaints != 3 || s.ResolvedComplaints != 2 {
			t.Errorf("counts = %d/%d, want 3/2", s.TotalComplaints, s.ResolvedComplaints)
		}
		// (3h + 1h) / 2 resolved = 2.0; unresolved excluded, not zeroed.
		if s.AvgResolutionHours != 2.0 {
			t.Errorf("AvgResolutionHours = %v, want 2.0", s.AvgResolutionHours)
		}
		if s.ByType[models.TypeOverflowingBin] != 2 || s.ByType[models.TypeDeadAnimal] != 1 {
			t.Errorf("ByType = %v", s.ByType)
		}
		if s.ByWard["42"] != 2 || s.ByWard["7"] != 1 {
			t.Errorf("ByWard = %v", s.ByWard)
		}
		if s.ByPriority["high"] != 1 || s.ByPriority["medium"] != 1 || s.ByPriority["critical"] != 1 {
			t.Errorf("ByPriority = %v", s.ByPriority)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
}

func TestAggregateUnknownBuckets(t *testing.T) {
	it(func() {
		a := NewAggregator(db)

		day := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
		created := day.Add(12 * time.Hour)

		// Null ward and priority land in the explicit unknown bucket rather
		// than being dropped.
		rows := sqlmock.NewRows(complaintColumns).
			AddRow(models.TypeOther, nil, nil, created, nil)
		expectDayQuery(rows)
		expectUpsert()

		s, err := a.Aggregate(context.Background(), day)
		if err != nil {
			t.Fatalf("Aggregate: %v", err)
		}
		if s.ByWard["unknown"] != 1 {
			t.Errorf("ByWard = %v, want unknown bucket", s.ByWard)
		}
		if s.ByPriority["unknown"] != 1 {
			t.Errorf("ByPriority = %v, want unknown bucket", s.ByPriority)
		}
		if s.AvgResolutionHours != 0 {
			t.Errorf("AvgResolutionHours = %v, want 0 with no resolved rows", s.AvgResolutionHours)
		}
	})
}

func TestAggregateRounding(t *testing.T) {
	it(func() {
		a := NewAggregator(db)

		day := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
		created := day.Add(6 * time.Hour)

		// 100 minutes = 1.666..h, rounds to 1.7.
		rows := sqlmock.NewRows(complaintColumns).
			AddRow(models.TypeDirtyToilet, 3, "low", created, created.Add(100*time.Minute))
		expectDayQuery(rows)
		expectUpsert()

		s, err := a.Aggregate(context.Background(), day)
		if err != nil {
			t.Fatalf("Aggregate: %v", err)
		}
		if s.AvgResolutionHours != 1.7 {
			t.Errorf("AvgResolutionHours = %v, want 1.7", s.AvgResolutionHours)
		}
	})
}

func TestAggregateIdempotent(t *testing.T) {
	it(func() {
		a := NewAggregator(db)

		day := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
		created := day.Add(9 * time.Hour)

		makeRows := func() *sqlmock.Rows {
			return sqlmock.NewRows(complaintColumns).
				AddRow(models.TypeBulkWaste, 12, "high", created, created.Add(2*time.Hour)).
				AddRow(models.TypePestSighting, 12, nil, created, nil)
		}

		expectDayQuery(makeRows())
		expectUpsert()
		first, err := a.Aggregate(context.Background(), day)
		if err != nil {
			t.Fatalf("first Aggregate: %v", err)
		}

		expectDayQuery(makeRows())
		expectUpsert()
		second, err := a.Aggregate(context.Background(), day)
		if err != nil {
			t.Fatalf("second Aggregate: %v", err)
		}

		if !reflect.DeepEqual(first, second) {
			t.Errorf("reprocessing the same day diverged:\nfirst:  %+v\nsecond: %+v", first, second)
		}
	})
}

func TestAggregateQueryFailure(t *testing.T) {
	it(func() {
		a := NewAggregator(db)

		mock.ExpectQuery("SELECT type, ward_id, priority, created_at, resolved_at FROM complaints").
			WillReturnError(sql.ErrConnDone)

		if _, err := a.Aggregate(context.Background(), time.Now()); err == nil {
			t.Error("query failure must surface")
		}
	})
}
