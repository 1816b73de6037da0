package dailybrief

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/apex/log"

	"cleanmadurai/metrics"
	"cleanmadurai/models"
)

// briefHourUTC is when the loop fires: 00:30 UTC is 06:00 in Madurai, in
// time for the morning LCV deployment round.
const briefHourUTC = 0
const briefMinuteUTC = 30

// TextGenerator produces free-form text for a prompt. Failures surface to
// the caller; a brief has no safe default.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// Service summarizes the currently unresolved complaints into a morning
// action brief for councillors and stores it per calendar day.
type Service struct {
	db       *sql.DB
	gen      TextGenerator
	stopChan chan struct{}
}

func NewService(db *sql.DB, gen TextGenerator) *Service {
	return &Service{
		db:       db,
		gen:      gen,
		stopChan: make(chan struct{}),
	}
}

type pendingIssue struct {
	wardID      sql.NullInt64
	issueType   string
	priority    sql.NullString
	description sql.NullString
}

// Generate builds and stores the brief for date (YYYY-MM-DD key). With no
// unresolved complaints the stored brief says so and the model is not called.
func (s *Service) Generate(ctx context.Context, date time.Time) (*models.DailyBrief, error) {
	issues, err := s.pendingIssues(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load unresolved complaints: %w", err)
	}

	brief := &models.DailyBrief{
		BriefDate:  date.UTC().Format("2006-01-02"),
		OpenIssues: len(issues),
	}

	if len(issues) == 0 {
		brief.Brief = "No pending issues to brief."
	} else {
		text, err := s.gen.GenerateText(ctx, buildPrompt(issues))
		if err != nil {
			return nil, fmt.Errorf("failed to generate brief: %w", err)
		}
		brief.Brief = strings.TrimSpace(text)
	}

	if err := s.upsert(ctx, brief); err != nil {
		return nil, err
	}
	return brief, nil
}

func (s *Service) pendingIssues(ctx context.Context) ([]pendingIssue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ward_id, type, priority, description
		FROM complaints WHERE status != 'resolved'
		ORDER BY ward_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var issues []pendingIssue
	for rows.Next() {
		var i pendingIssue
		if err := rows.Scan(&i.wardID, &i.issueType, &i.priority, &i.description); err != nil {
			return nil, err
		}
		issues = append(issues, i)
	}
	return issues, rows.Err()
}

func buildPrompt(issues []pendingIssue) string {
	var lines strings.Builder
	for _, i := range issues {
		ward := "unassigned"
		if i.wardID.Valid {
			ward = fmt.Sprintf("%d", i.wardID.Int64)
		}
		priority := "PENDING"
		if i.priority.Valid {
			priority = strings.ToUpper(i.priority.String)
		}
		description := "No desc"
		if i.description.Valid && i.description.String != "" {
			description = i.description.String
		}
		fmt.Fprintf(&lines, "Ward %s: [%s] %s - %s\n", ward, priority, i.issueType, description)
	}

	var b strings.Builder
	b.WriteString("You are the Chief AI Officer for the Madurai Corporation.\n")
	b.WriteString("Analyze the following unresolved complaints from yesterday.\n")
	b.WriteString("Provide a clean, bulleted \"Daily Action Brief\" highlighting:\n")
	b.WriteString("1. Wards with the most critical issues.\n")
	b.WriteString("2. Patterns in issue types (e.g., are there many overflowing bins?).\n")
	b.WriteString("3. Your recommendation for where the Commissioner should deploy extra LCVs today.\n\n")
	b.WriteString("Raw Data:\n")
	b.WriteString(lines.String())
	return b.String()
}

func (s *Service) upsert(ctx context.Context, b *models.DailyBrief) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_briefs (brief_date, open_issues, brief)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE
			open_issues = VALUES(open_issues),
			brief = VALUES(brief)`,
		b.BriefDate, b.OpenIssues, b.Brief)
	if err != nil {
		return fmt.Errorf("failed to upsert daily brief: %w", err)
	}
	return nil
}

// Get returns the stored brief for one date (YYYY-MM-DD).
func (s *Service) Get(ctx context.Context, date string) (*models.DailyBrief, error) {
	var (
		b         models.DailyBrief
		briefDate time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT brief_date, open_issues, brief
		FROM daily_briefs WHERE brief_date = ?`, date).Scan(
		&briefDate, &b.OpenIssues, &b.Brief)
	if err != nil {
		return nil, err
	}
	b.BriefDate = briefDate.Format("2006-01-02")
	return &b, nil
}

// RunDaily generates a brief every morning until Stop is called. Failures
// are logged and retried the next morning.
func (s *Service) RunDaily() {
	log.Info("Starting daily brief loop")
	for {
		now := time.Now().UTC()
		next := now.Truncate(24 * time.Hour).
			Add(briefHourUTC*time.Hour + briefMinuteUTC*time.Minute)
		if !next.After(now) {
			next = next.Add(24 * time.Hour)
		}
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-s.stopChan:
			timer.Stop()
			log.Info("Daily brief loop stopped")
			return
		case <-timer.C:
			today := time.Now().UTC()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			if _, err := s.Generate(ctx, today); err != nil {
				log.Errorf("Daily brief failed for %s: %v", today.Format("2006-01-02"), err)
				metrics.BriefRunsTotal.WithLabelValues("error").Inc()
			} else {
				metrics.BriefRunsTotal.WithLabelValues("success").Inc()
			}
			cancel()
		}
	}
}

// Stop terminates the daily loop.
func (s *Service) Stop() {
	close(s.stopChan)
}
