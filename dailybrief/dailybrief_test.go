package dailybrief

import (
	"context"
	"database/sql"
	"errors"
	"strings"
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

type stubGenerator struct {
	prompt string
	text   string
	err    error
	calls  int
}

func (g *stubGenerator) GenerateText(ctx context.Context, prompt string) (string, error) {
	g.calls++
	g.prompt = prompt
	return g.text, g.err
}

var issueColumns = []string{"ward_id", "type", "priority", "description"}

func expectPendingQuery(rows *sqlmock.Rows) {
	mock.ExpectQuery("SELECT ward_id, type, priority, description FROM complaints WHERE status != 'resolved'").
		WillReturnRows(rows)
}

func expectUpsert(openIssues int, brief string) {
	mock.ExpectExec("INSERT INTO daily_briefs").
		WithArgs("2026-08-28", openIssues, brief).
		WillReturnResult(sqlmock.NewResult(1, 1))
}

func TestGenerateBrief(t *testing.T) {
	it(func() {
		gen := &stubGenerator{text: "- Ward 42 needs two extra LCVs.\n"}
		s := NewService(db, gen)

		rows := sqlmock.NewRows(issueColumns).
			AddRow(7, models.TypeDeadAnimal, "critical", "Near the bus stand").
			AddRow(42, models.TypeOverflowingBin, nil, nil)
		expectPendingQuery(rows)
		expectUpsert(2, "- Ward 42 needs two extra LCVs.")

		day := time.Date(2026, 8, 28, 6, 0, 0, 0, time.UTC)
		b, err := s.Generate(context.Background(), day)
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if b.BriefDate != "2026-08-28" || b.OpenIssues != 2 {
			t.Errorf("brief = %+v", b)
		}
		if b.Brief != "- Ward 42 needs two extra LCVs." {
			t.Errorf("Brief = %q", b.Brief)
		}

		// Null priority and description fall back to labelled placeholders.
		if !strings.Contains(gen.prompt, "Ward 7: [CRITICAL] dead_animal - Near the bus stand") {
			t.Errorf("prompt missing critical line:\n%s", gen.prompt)
		}
		if !strings.Contains(gen.prompt, "Ward 42: [PENDING] overflowing_bin - No desc") {
			t.Errorf("prompt missing placeholder line:\n%s", gen.prompt)
		}
		if !strings.Contains(gen.prompt, "Chief AI Officer") {
			t.Errorf("prompt missing framing:\n%s", gen.prompt)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
	})
}

func TestGenerateBriefNoPendingIssues(t *testing.T) {
	it(func() {
		gen := &stubGenerator{}
		s := NewService(db, gen)

		expectPendingQuery(sqlmock.NewRows(issueColumns))
		expectUpsert(0, "No pending issues to brief.")

		day := time.Date(2026, 8, 28, 6, 0, 0, 0, time.UTC)
		b, err := s.Generate(context.Background(), day)
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		if b.Brief != "No pending issues to brief." {
			t.Errorf("Brief = %q", b.Brief)
		}
		// With nothing to summarize the model is never consulted.
		if gen.calls != 0 {
			t.Errorf("GenerateText called %d times, want 0", gen.calls)
		}
	})
}

func TestGenerateBriefModelFailure(t *testing.T) {
	it(func() {
		gen := &stubGenerator{err: errors.New("quota exceeded")}
		s := NewService(db, gen)

		rows := sqlmock.NewRows(issueColumns).
			AddRow(3, models.TypeBulkWaste, "high", "Vacant lot")
		expectPendingQuery(rows)

		if _, err := s.Generate(context.Background(), time.Now()); err == nil {
			t.Error("model failure must surface, a brief has no fallback text")
		}
	})
}

func TestGenerateBriefQueryFailure(t *testing.T) {
	it(func() {
		s := NewService(db, &stubGenerator{})

		mock.ExpectQuery("SELECT ward_id, type, priority, description FROM complaints").
			WillReturnError(sql.ErrConnDone)

		if _, err := s.Generate(context.Background(), time.Now()); err == nil {
			t.Error("query failure must surface")
		}
	})
}

func TestGetBrief(t *testing.T) {
	it(func() {
		s := NewService(db, &stubGenerator{})

		mock.ExpectQuery("SELECT brief_date, open_issues, brief FROM daily_briefs WHERE brief_date = \\?").
			WithArgs("2026-08-28").
			WillReturnRows(sqlmock.NewRows([]string{"brief_date", "open_issues", "brief"}).
				AddRow(time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC), 5, "Focus on Ward 12."))

		b, err := s.Get(context.Background(), "2026-08-28")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if b.BriefDate != "2026-08-28" || b.OpenIssues != 5 || b.Brief != "Focus on Ward 12." {
			t.Errorf("brief = %+v", b)
		}
	})
}
