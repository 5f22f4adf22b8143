// Package audit provides the append-only event sink consumed by the
// execution pipeline and the session registry. Recording is fire-and-forget:
// a failing sink must never block or fail the operation being audited.
package audit

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/coreastra/coreastra/internal/models"
	"gorm.io/gorm"
)

// Event is one audit entry. Details must be JSON-serializable.
type Event struct {
	Action    string
	RiskLevel string
	Details   map[string]any
}

// Recorder appends audit events.
type Recorder interface {
	Record(ev Event)
}

// DBRecorder persists events as AuditLog rows.
type DBRecorder struct {
	db *gorm.DB
}

func NewDBRecorder(db *gorm.DB) *DBRecorder {
	return &DBRecorder{db: db}
}

func (r *DBRecorder) Record(ev Event) {
	details, err := json.Marshal(ev.Details)
	if err != nil {
		slog.Warn("Audit details not serializable", "action", ev.Action, "error", err)
		details = []byte("{}")
	}

	row := models.AuditLog{
		Action:    ev.Action,
		RiskLevel: ev.RiskLevel,
		Details:   details,
		CreatedAt: time.Now(),
	}
	if err := r.db.Create(&row).Error; err != nil {
		slog.Error("Audit write failed", "action", ev.Action, "error", err)
	}
}

// LogRecorder writes events to the structured log. Used when no
// database is configured and in tests.
type LogRecorder struct{}

func (LogRecorder) Record(ev Event) {
	slog.Info("audit", "action", ev.Action, "risk_level", ev.RiskLevel, "details", ev.Details)
}
