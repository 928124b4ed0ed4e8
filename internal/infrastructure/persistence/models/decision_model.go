package models

import (
	"time"
)

// DecisionModel is the persisted form of one approval-ledger entry.
type DecisionModel struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	SessionID  string `gorm:"index;size:64;not null"`
	Turn       int    `gorm:"not null"`
	ToolName   string `gorm:"index;size:64;not null"`
	ArgsDigest string `gorm:"index;size:64;not null"`
	Decision   string `gorm:"size:32;not null"`
	CreatedAt  time.Time
}

// TableName names the decisions table.
func (DecisionModel) TableName() string {
	return "decisions"
}

// PermanentApprovalModel records approvals that survive across sessions.
type PermanentApprovalModel struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	ToolName   string `gorm:"uniqueIndex:idx_tool_digest;size:64;not null"`
	ArgsDigest string `gorm:"uniqueIndex:idx_tool_digest;size:64;not null"`
	CreatedAt  time.Time
}

// TableName names the permanent approvals table.
func (PermanentApprovalModel) TableName() string {
	return "permanent_approvals"
}

// SessionModel records session metadata for resume.
type SessionModel struct {
	ID            string `gorm:"primaryKey;size:64"`
	Workspace     string `gorm:"size:255"`
	Model         string `gorm:"size:128"`
	HistoryJSON   string `gorm:"type:text"`
	ModifiedFiles string `gorm:"type:text"` // JSON encoded list
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TableName names the sessions table.
func (SessionModel) TableName() string {
	return "sessions"
}
