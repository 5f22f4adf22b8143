package models

import (
	"time"

	"github.com/google/uuid"
)

type CommandRecord struct {
	ID         uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Command    string    `gorm:"not null" json:"command"`
	RiskLevel  string    `json:"risk_level"`
	Confirmed  bool      `gorm:"default:false" json:"confirmed"`
	ExitCode   int       `json:"exit_code"`
	Success    bool      `json:"success"`
	ExecutedAt time.Time `gorm:"not null;index" json:"executed_at"`
	DurationMs int       `json:"duration_ms"`
}
