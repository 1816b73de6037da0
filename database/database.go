package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"cleanmadurai/config"
	"cleanmadurai/models"
)

// Database handles all database operations
type Database struct {
	db *sql.DB
}

// NewDatabase creates a new database connection
func NewDatabase(cfg *config.Config) (*Database, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true&multiStatements=true",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	log.Printf("Database connected successfully to %s:%s/%s", cfg.DBHost, cfg.DBPort, cfg.DBName)

	return &Database{db: db}, nil
}

// NewFromDB wraps an existing connection, used by tests.
func NewFromDB(db *sql.DB) *Database {
	return &Database{db: db}
}

// DB exposes the underlying connection for collaborators that run their own
// transactions.
func (d *Database) DB() *sql.DB {
	return d.db
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// EnsureSchema creates all tables if they don't exist
func (d *Database) EnsureSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS complaints (
			id CHAR(36) NOT NULL,
			tracking_id VARCHAR(16) NOT NULL,
			type ENUM('overflowing_bin', 'missed_collection', 'bulk_waste', 'dirty_toilet', 'pest_sighting', 'dead_animal', 'other') NOT NULL,
			description TEXT,
			latitude DOUBLE NOT NULL,
			longitude DOUBLE NOT NULL,
			ward_id INT NULL,
			priority ENUM('critical', 'high', 'medium', 'low') NULL,
			status ENUM('pending', 'assigned', 'dispatched', 'in_progress', 'resolved') NOT NULL DEFAULT 'pending',
			photo_urls JSON,
			assigned_responder CHAR(36) NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			resolved_at TIMESTAMP NULL,
			PRIMARY KEY (id),
			UNIQUE KEY uniq_tracking_id (tracking_id),
			INDEX idx_complaints_ward (ward_id),
			INDEX idx_complaints_status (status),
			INDEX idx_complaints_created (created_at)
		)`,
		`CREATE TABLE IF NOT EXISTS complaint_timeline (
			id BIGINT NOT NULL AUTO_INCREMENT,
			complaint_id CHAR(36) NOT NULL,
			status ENUM('pending', 'assigned', 'dispatched', 'in_progress', 'resolved') NOT NULL,
			message TEXT,
			actor_id VARCHAR(255) NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (id),
			INDEX idx_timeline_complaint (complaint_id),
			FOREIGN KEY (complaint_id) REFERENCES complaints(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS wards (
			id INT NOT NULL,
			name VARCHAR(255) NOT NULL,
			zone VARCHAR(64) NOT NULL,
			councillor_name VARCHAR(255) NOT NULL DEFAULT '',
			councillor_party VARCHAR(64) NOT NULL DEFAULT '',
			councillor_phone VARCHAR(32) NOT NULL DEFAULT '',
			councillor_email VARCHAR(255) NOT NULL DEFAULT '',
			population INT NOT NULL DEFAULT 0,
			area_sqkm DOUBLE NOT NULL DEFAULT 0,
			door_to_door_pct DOUBLE NOT NULL DEFAULT 0,
			segregation_pct DOUBLE NOT NULL DEFAULT 0,
			processing_pct DOUBLE NOT NULL DEFAULT 0,
			toilet_cleanliness_pct DOUBLE NOT NULL DEFAULT 0,
			dumpsite_remediation_pct DOUBLE NOT NULL DEFAULT 0,
			PRIMARY KEY (id)
		)`,
		`CREATE TABLE IF NOT EXISTS responders (
			id CHAR(36) NOT NULL,
			name VARCHAR(255) NOT NULL,
			phone VARCHAR(32) NOT NULL,
			ward_id INT NOT NULL,
			is_available BOOLEAN NOT NULL DEFAULT TRUE,
			PRIMARY KEY (id),
			INDEX idx_responders_ward (ward_id, is_available)
		)`,
		`CREATE TABLE IF NOT EXISTS daily_briefs (
			brief_date DATE NOT NULL,
			open_issues INT NOT NULL DEFAULT 0,
			brief TEXT,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			PRIMARY KEY (brief_date)
		)`,
		`CREATE TABLE IF NOT EXISTS daily_snapshot (
			report_date DATE NOT NULL,
			total_complaints INT NOT NULL DEFAULT 0,
			resolved_complaints INT NOT NULL DEFAULT 0,
			avg_resolution_hours DOUBLE NOT NULL DEFAULT 0,
			by_type JSON,
			by_ward JSON,
			by_priority JSON,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			PRIMARY KEY (report_date)
		)`,
	}

	for _, query := range queries {
		if _, err := d.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}

	log.Println("Database schema ensured")
	return nil
}

// CreateComplaint inserts a new complaint in pending state with no priority,
// together with its opening timeline entry.
func (d *Database) CreateComplaint(ctx context.Context, c *models.Complaint) error {
	photos, err := json.Marshal(c.PhotoURLs)
	if err != nil {
		return fmt.Errorf("failed to marshal photo urls: %w", err)
	}

	var wardID interface{}
	if c.WardID != nil {
		wardID = *c.WardID
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO complaints (id, tracking_id, type, description, latitude, longitude, ward_id, status, photo_urls)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.TrackingID, c.Type, c.Description, c.Latitude, c.Longitude, wardID, string(models.StatusPending), string(photos))
	if err != nil {
		return fmt.Errorf("failed to insert complaint: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO complaint_timeline (complaint_id, status, message, actor_id)
		VALUES (?, ?, ?, NULL)`,
		c.ID, string(models.StatusPending), "Complaint received")
	if err != nil {
		return fmt.Errorf("failed to insert opening timeline entry: %w", err)
	}

	return tx.Commit()
}

const complaintColumns = `id, tracking_id, type, description, latitude, longitude,
		ward_id, priority, status, photo_urls, assigned_responder,
		created_at, updated_at, resolved_at`

func (d *Database) scanComplaint(row interface{ Scan(...interface{}) error }) (*models.Complaint, error) {
	var (
		c          models.Complaint
		wardID     sql.NullInt64
		priority   sql.NullString
		photos     sql.NullString
		responder  sql.NullString
		resolvedAt sql.NullTime
	)
	err := row.Scan(&c.ID, &c.TrackingID, &c.Type, &c.Description, &c.Latitude, &c.Longitude,
		&wardID, &priority, &c.Status, &photos, &responder,
		&c.CreatedAt, &c.UpdatedAt, &resolvedAt)
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
	if resolvedAt.Valid {
		c.ResolvedAt = &resolvedAt.Time
	}
	if photos.Valid && photos.String != "" {
		if err := json.Unmarshal([]byte(photos.String), &c.PhotoURLs); err != nil {
			log.Printf("Failed to parse photo_urls for complaint %s: %v", c.ID, err)
		}
	}
	return &c, nil
}

// GetComplaintByID fetches one complaint, sql.ErrNoRows when absent.
func (d *Database) GetComplaintByID(ctx context.Context, id string) (*models.Complaint, error) {
	row := d.db.QueryRowContext(ctx, "SELECT "+complaintColumns+" FROM complaints WHERE id = ?", id)
	return d.scanComplaint(row)
}

// GetComplaintByTrackingID fetches one complaint by its citizen-facing code.
func (d *Database) GetComplaintByTrackingID(ctx context.Context, trackingID string) (*models.Complaint, error) {
	row := d.db.QueryRowContext(ctx, "SELECT "+complaintColumns+" FROM complaints WHERE tracking_id = ?", trackingID)
	return d.scanComplaint(row)
}

// ListComplaints returns complaints, newest first, optionally filtered by
// status and ward. limit caps the page size.
func (d *Database) ListComplaints(ctx context.Context, status string, wardID int, limit int) ([]*models.Complaint, error) {
	query := "SELECT " + complaintColumns + " FROM complaints WHERE 1=1"
	args := []interface{}{}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	if wardID > 0 {
		query += " AND ward_id = ?"
		args = append(args, wardID)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query complaints: %w", err)
	}
	defer rows.Close()

	var complaints []*models.Complaint
	for rows.Next() {
		c, err := d.scanComplaint(rows)
		if err != nil {
			return nil, err
		}
		complaints = append(complaints, c)
	}
	return complaints, rows.Err()
}

// GetTimeline returns a complaint's audit entries, oldest first.
func (d *Database) GetTimeline(ctx context.Context, complaintID string) ([]models.TimelineEntry, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, complaint_id, status, message, actor_id, created_at
		FROM complaint_timeline WHERE complaint_id = ? ORDER BY id ASC`, complaintID)
	if err != nil {
		return nil, fmt.Errorf("failed to query timeline: %w", err)
	}
	defer rows.Close()

	var entries []models.TimelineEntry
	for rows.Next() {
		var (
			e     models.TimelineEntry
			actor sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.ComplaintID, &e.Status, &e.Message, &actor, &e.CreatedAt); err != nil {
			return nil, err
		}
		if actor.Valid {
			e.ActorID = &actor.String
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ComplaintPositions returns the coordinates of complaints inside the
// bounding box, for heatmap aggregation. Resolved complaints are excluded.
func (d *Database) ComplaintPositions(ctx context.Context, latMin, lonMin, latMax, lonMax float64) ([][2]float64, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT latitude, longitude FROM complaints
		WHERE status != 'resolved'
		  AND latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?`,
		latMin, latMax, lonMin, lonMax)
	if err != nil {
		return nil, fmt.Errorf("failed to query complaint positions: %w", err)
	}
	defer rows.Close()

	var positions [][2]float64
	for rows.Next() {
		var lat, lon float64
		if err := rows.Scan(&lat, &lon); err != nil {
			return nil, err
		}
		positions = append(positions, [2]float64{lat, lon})
	}
	return positions, rows.Err()
}

// ListWards returns ward reference data ordered by id.
func (d *Database) ListWards(ctx context.Context) ([]models.Ward, error) {
	rows, err := d.db.QueryContext(ctx, wardColumnsQuery+" ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query wards: %w", err)
	}
	defer rows.Close()

	var wards []models.Ward
	for rows.Next() {
		w, err := scanWard(rows)
		if err != nil {
			return nil, err
		}
		wards = append(wards, w)
	}
	return wards, rows.Err()
}

// GetWard fetches one ward, sql.ErrNoRows when absent.
func (d *Database) GetWard(ctx context.Context, id int) (*models.Ward, error) {
	row := d.db.QueryRowContext(ctx, wardColumnsQuery+" WHERE id = ?", id)
	w, err := scanWard(row)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

const wardColumnsQuery = `SELECT id, name, zone, councillor_name, councillor_party,
		councillor_phone, councillor_email, population, area_sqkm,
		door_to_door_pct, segregation_pct, processing_pct,
		toilet_cleanliness_pct, dumpsite_remediation_pct FROM wards`

func scanWard(row interface{ Scan(...interface{}) error }) (models.Ward, error) {
	var w models.Ward
	err := row.Scan(&w.ID, &w.Name, &w.Zone, &w.CouncillorName, &w.CouncillorParty,
		&w.CouncillorPhone, &w.CouncillorEmail, &w.Population, &w.AreaSqKm,
		&w.DoorToDoorPct, &w.SegregationPct, &w.ProcessingPct,
		&w.ToiletCleanlinessPct, &w.DumpsiteRemediationPct)
	return w, err
}

// Leaderboard ranks wards by cleanliness score: the mean of the five KPI
// percentages, minus one point per open complaint. Higher is better.
func (d *Database) Leaderboard(ctx context.Context) ([]models.WardScore, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT w.id, w.name, w.zone,
		       COALESCE(oc.open_complaints, 0) AS open_complaints,
		       (w.door_to_door_pct + w.segregation_pct + w.processing_pct +
		        w.toilet_cleanliness_pct + w.dumpsite_remediation_pct) / 5
		         - COALESCE(oc.open_complaints, 0) AS score
		FROM wards w
		LEFT JOIN (
			SELECT ward_id, COUNT(*) AS open_complaints
			FROM complaints WHERE status != 'resolved' GROUP BY ward_id
		) oc ON oc.ward_id = w.id
		ORDER BY score DESC, w.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	var scores []models.WardScore
	for rows.Next() {
		var s models.WardScore
		if err := rows.Scan(&s.WardID, &s.Name, &s.Zone, &s.OpenComplaints, &s.Score); err != nil {
			return nil, err
		}
		scores = append(scores, s)
	}
	return scores, rows.Err()
}

// ResponderTasks returns the unresolved complaints assigned to a responder,
// oldest first so the queue is worked in order.
func (d *Database) ResponderTasks(ctx context.Context, responderID string) ([]*models.Complaint, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT "+complaintColumns+` FROM complaints
		WHERE assigned_responder = ? AND status != 'resolved'
		ORDER BY created_at ASC`, responderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query responder tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Complaint
	for rows.Next() {
		c, err := d.scanComplaint(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, c)
	}
	return tasks, rows.Err()
}

// GetSnapshot fetches the aggregate row for one report date (YYYY-MM-DD).
func (d *Database) GetSnapshot(ctx context.Context, date string) (*models.DailySnapshot, error) {
	var (
		s          models.DailySnapshot
		reportDate time.Time
		byType     []byte
		byWard     []byte
		byPriority []byte
	)
	err := d.db.QueryRowContext(ctx, `
		SELECT report_date, total_complaints, resolved_complaints, avg_resolution_hours,
		       by_type, by_ward, by_priority
		FROM daily_snapshot WHERE report_date = ?`, date).Scan(
		&reportDate, &s.TotalComplaints, &s.ResolvedComplaints, &s.AvgResolutionHours,
		&byType, &byWard, &byPriority)
	if err != nil {
		return nil, err
	}
	s.ReportDate = reportDate.Format("2006-01-02")
	for _, pair := range []struct {
		raw []byte
		dst *map[string]int
	}{{byType, &s.ByType}, {byWard, &s.ByWard}, {byPriority, &s.ByPriority}} {
		if len(pair.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(pair.raw, pair.dst); err != nil {
			return nil, fmt.Errorf("failed to parse snapshot breakdown: %w", err)
		}
	}
	return &s, nil
}
