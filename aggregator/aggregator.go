package aggregator

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/apex/log"
	"github.com/shopspring/decimal"

	"cleanmadurai/metrics"
	"cleanmadurai/models"
)

// unknownBucket collects complaints whose ward or priority was never set, so
// the breakdown maps always account for every row.
const unknownBucket = "unknown"

// Aggregator produces the once-per-day summary snapshot.
type Aggregator struct {
	db       *sql.DB
	stopChan chan struct{}
}

// NewAggregator creates a daily aggregator.
func NewAggregator(db *sql.DB) *Aggregator {
	return &Aggregator{
		db:       db,
		stopChan: make(chan struct{}),
	}
}

// Aggregate summarizes all complaints created within the UTC day containing
// date and upserts the snapshot row keyed by that date. Re-running for the
// same day overwrites the prior snapshot.
func (a *Aggregator) Aggregate(ctx context.Context, date time.Time) (*models.DailySnapshot, error) {
	day := date.UTC().Truncate(24 * time.Hour)
	start := day
	end := day.Add(24 * time.Hour)

	rows, err := a.db.QueryContext(ctx,
		"SELECT type, ward_id, priority, created_at, resolved_at FROM complaints WHERE created_at >= ? AND created_at < ?",
		start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query complaints for %s: %w", day.Format("2006-01-02"), err)
	}
	defer rows.Close()

	snapshot := &models.DailySnapshot{
		ReportDate: day.Format("2006-01-02"),
		ByType:     map[string]int{},
		ByWard:     map[string]int{},
		ByPriority: map[string]int{},
	}

	var totalHours float64
	var resolvedWithTimestamp int

	for rows.Next() {
		var (
			complaintType string
			wardID        sql.NullInt64
			priority      sql.NullString
			createdAt     time.Time
			resolvedAt    sql.NullTime
		)
		if err := rows.Scan(&complaintType, &wardID, &priority, &createdAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("failed to scan complaint row: %w", err)
		}

		snapshot.TotalComplaints++
		snapshot.ByType[complaintType]++

		if wardID.Valid {
			snapshot.ByWard[fmt.Sprintf("%d", wardID.Int64)]++
		} else {
			snapshot.ByWard[unknownBucket]++
		}

		if priority.Valid {
			snapshot.ByPriority[priority.String]++
		} else {
			snapshot.ByPriority[unknownBucket]++
		}

		if resolvedAt.Valid {
			snapshot.ResolvedComplaints++
			totalHours += resolvedAt.Time.Sub(createdAt).Hours()
			resolvedWithTimestamp++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate complaint rows: %w", err)
	}

	// Never-resolved complaints are excluded from the average, not counted
	// as zero. One decimal place, matching the report format.
	if resolvedWithTimestamp > 0 {
		avg := decimal.NewFromFloat(totalHours / float64(resolvedWithTimestamp)).Round(1)
		snapshot.AvgResolutionHours, _ = avg.Float64()
	}

	if err := a.upsert(ctx, snapshot); err != nil {
		return nil, err
	}

	log.Infof("Daily snapshot %s: %d complaints, %d resolved, avg %.1fh",
		snapshot.ReportDate, snapshot.TotalComplaints, snapshot.ResolvedComplaints, snapshot.AvgResolutionHours)
	return snapshot, nil
}

func (a *Aggregator) upsert(ctx context.Context, s *models.DailySnapshot) error {
	byType, err := json.Marshal(s.ByType)
	if err != nil {
		return fmt.Errorf("failed to marshal by_type: %w", err)
	}
	byWard, err := json.Marshal(s.ByWard)
	if err != nil {
		return fmt.Errorf("failed to marshal by_ward: %w", err)
	}
	byPriority, err := json.Marshal(s.ByPriority)
	if err != nil {
		return fmt.Errorf("failed to marshal by_priority: %w", err)
	}

	query := `
		INSERT INTO daily_snapshot (report_date, total_complaints, resolved_complaints, avg_resolution_hours, by_type, by_ward, by_priority)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			total_complaints = VALUES(total_complaints),
			resolved_complaints = VALUES(resolved_complaints),
			avg_resolution_hours = VALUES(avg_resolution_hours),
			by_type = VALUES(by_type),
			by_ward = VALUES(by_ward),
			by_priority = VALUES(by_priority)`

	_, err = a.db.ExecContext(ctx, query,
		s.ReportDate, s.TotalComplaints, s.ResolvedComplaints, s.AvgResolutionHours,
		byType, byWard, byPriority)
	if err != nil {
		return fmt.Errorf("failed to upsert daily snapshot: %w", err)
	}
	return nil
}

// RunDaily aggregates the previous day shortly after each UTC midnight until
// Stop is called. Failures are logged and retried at the next midnight.
func (a *Aggregator) RunDaily() {
	log.Info("Starting daily aggregation loop")
	for {
		now := time.Now().UTC()
		next := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-a.stopChan:
			timer.Stop()
			log.Info("Daily aggregation loop stopped")
			return
		case <-timer.C:
			yesterday := time.Now().UTC().Add(-24 * time.Hour)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			if _, err := a.Aggregate(ctx, yesterday); err != nil {
				log.Errorf("Daily aggregation failed for %s: %v", yesterday.Format("2006-01-02"), err)
				metrics.SnapshotRunsTotal.WithLabelValues("error").Inc()
			} else {
				metrics.SnapshotRunsTotal.WithLabelValues("success").Inc()
			}
			cancel()
		}
	}
}

// Stop terminates the daily loop.
func (a *Aggregator) Stop() {
	close(a.stopChan)
}
