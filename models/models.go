package models

import (
	"time"
)

// Priority is the AI-assigned severity of a complaint.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Priorities lists all valid priority levels.
var Priorities = []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}

// IsValidPriority reports whether p is one of the four levels.
func IsValidPriority(p Priority) bool {
	for _, level := range Priorities {
		if p == level {
			return true
		}
	}
	return false
}

// Status is the lifecycle state of a complaint.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAssigned   Status = "assigned"
	StatusDispatched Status = "dispatched"
	StatusInProgress Status = "in_progress"
	StatusResolved   Status = "resolved"
)

// statusRank orders statuses along the lifecycle. Higher rank means further
// along; system-triggered transitions only ever increase the rank.
var statusRank = map[Status]int{
	StatusPending:    0,
	StatusAssigned:   1,
	StatusDispatched: 2,
	StatusInProgress: 3,
	StatusResolved:   4,
}

// StatusRank returns the lifecycle rank of s, or -1 for an unknown status.
func StatusRank(s Status) int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// IsValidStatus reports whether s is a known lifecycle status.
func IsValidStatus(s Status) bool {
	return StatusRank(s) >= 0
}

// Complaint categories match the citizen-facing issue type picker.
const (
	TypeOverflowingBin   = "overflowing_bin"
	TypeMissedCollection = "missed_collection"
	TypeBulkWaste        = "bulk_waste"
	TypeDirtyToilet      = "dirty_toilet"
	TypePestSighting     = "pest_sighting"
	TypeDeadAnimal       = "dead_animal"
	TypeOther            = "other"
)

var complaintTypes = map[string]bool{
	TypeOverflowingBin:   true,
	TypeMissedCollection: true,
	TypeBulkWaste:        true,
	TypeDirtyToilet:      true,
	TypePestSighting:     true,
	TypeDeadAnimal:       true,
	TypeOther:            true,
}

// IsValidComplaintType reports whether t is a known issue category.
func IsValidComplaintType(t string) bool {
	return complaintTypes[t]
}

// Complaint is the central entity: one citizen-filed sanitation issue.
type Complaint struct {
	ID                string     `json:"id" db:"id"`
	TrackingID        string     `json:"tracking_id" db:"tracking_id"`
	Type              string     `json:"type" db:"type"`
	Description       string     `json:"description,omitempty" db:"description"`
	Latitude          float64    `json:"latitude" db:"latitude"`
	Longitude         float64    `json:"longitude" db:"longitude"`
	WardID            *int       `json:"ward_id" db:"ward_id"`
	Priority          *Priority  `json:"priority" db:"priority"`
	Status            Status     `json:"status" db:"status"`
	PhotoURLs         []string   `json:"photo_urls,omitempty" db:"photo_urls"`
	AssignedResponder *string    `json:"assigned_responder,omitempty" db:"assigned_responder"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
}

// TimelineEntry is one immutable audit record of a complaint status change.
type TimelineEntry struct {
	ID          int64     `json:"id" db:"id"`
	ComplaintID string    `json:"complaint_id" db:"complaint_id"`
	Status      Status    `json:"status" db:"status"`
	Message     string    `json:"message" db:"message"`
	ActorID     *string   `json:"actor_id,omitempty" db:"actor_id"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Ward is static reference data for one of the 100 municipal wards.
type Ward struct {
	ID                    int     `json:"id" db:"id"`
	Name                  string  `json:"name" db:"name"`
	Zone                  string  `json:"zone" db:"zone"`
	CouncillorName        string  `json:"councillor_name" db:"councillor_name"`
	CouncillorParty       string  `json:"councillor_party" db:"councillor_party"`
	CouncillorPhone       string  `json:"councillor_phone" db:"councillor_phone"`
	CouncillorEmail       string  `json:"councillor_email" db:"councillor_email"`
	Population            int     `json:"population" db:"population"`
	AreaSqKm              float64 `json:"area_sqkm" db:"area_sqkm"`
	DoorToDoorPct         float64 `json:"door_to_door_pct" db:"door_to_door_pct"`
	SegregationPct        float64 `json:"segregation_pct" db:"segregation_pct"`
	ProcessingPct         float64 `json:"processing_pct" db:"processing_pct"`
	ToiletCleanlinessPct  float64 `json:"toilet_cleanliness_pct" db:"toilet_cleanliness_pct"`
	DumpsiteRemediationPct float64 `json:"dumpsite_remediation_pct" db:"dumpsite_remediation_pct"`
}

// Responder is a field worker / LCV driver who can be assigned a complaint.
type Responder struct {
	ID          string `json:"id" db:"id"`
	Name        string `json:"name" db:"name"`
	Phone       string `json:"phone" db:"phone"`
	WardID      int    `json:"ward_id" db:"ward_id"`
	IsAvailable bool   `json:"is_available" db:"is_available"`
}

// DailySnapshot is the once-per-day aggregate row for reporting.
type DailySnapshot struct {
	ReportDate         string           `json:"report_date" db:"report_date"`
	TotalComplaints    int              `json:"total_complaints" db:"total_complaints"`
	ResolvedComplaints int              `json:"resolved_complaints" db:"resolved_complaints"`
	AvgResolutionHours float64          `json:"avg_resolution_hours" db:"avg_resolution_hours"`
	ByType             map[string]int   `json:"by_type" db:"by_type"`
	ByWard             map[string]int   `json:"by_ward" db:"by_ward"`
	ByPriority         map[string]int   `json:"by_priority" db:"by_priority"`
}

// DailyBrief is the AI-written morning action summary of unresolved
// complaints, stored per calendar day.
type DailyBrief struct {
	BriefDate  string `json:"brief_date" db:"brief_date"`
	OpenIssues int    `json:"open_issues" db:"open_issues"`
	Brief      string `json:"brief" db:"brief"`
}

// ComplaintEvent is broadcast to websocket subscribers whenever the lifecycle
// engine mutates a complaint.
type ComplaintEvent struct {
	ComplaintID string    `json:"complaint_id"`
	TrackingID  string    `json:"tracking_id,omitempty"`
	Status      Status    `json:"status"`
	Priority    *Priority `json:"priority,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// TriageMessage is the RabbitMQ payload published on complaint creation and
// consumed by the triage worker.
type TriageMessage struct {
	ComplaintID string `json:"complaint_id"`
}

// SubmitComplaintRequest is the citizen submission payload.
type SubmitComplaintRequest struct {
	Type        string   `json:"type" binding:"required"`
	Description string   `json:"description"`
	Latitude    *float64 `json:"latitude" binding:"required"`
	Longitude   *float64 `json:"longitude" binding:"required"`
	PhotoURLs   []string `json:"photo_urls"`
}

// SubmitComplaintResponse is returned on successful submission.
type SubmitComplaintResponse struct {
	ID         string `json:"id"`
	TrackingID string `json:"tracking_id"`
	WardID     *int   `json:"ward_id"`
	Status     Status `json:"status"`
}

// UpdateStatusRequest is a manual status change by an administrator or
// responder.
type UpdateStatusRequest struct {
	ID      string `json:"id" binding:"required"`
	Status  Status `json:"status" binding:"required"`
	Message string `json:"message"`
}

// AggregateRequest triggers a snapshot rebuild for one calendar day.
type AggregateRequest struct {
	Date string `json:"date" binding:"required"`
}

// WardScore is one leaderboard row.
type WardScore struct {
	WardID         int     `json:"ward_id"`
	Name           string  `json:"name"`
	Zone           string  `json:"zone"`
	OpenComplaints int     `json:"open_complaints"`
	Score          float64 `json:"score"`
}
