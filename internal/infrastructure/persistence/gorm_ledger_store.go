package persistence

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/vtcode/vtcode/internal/domain/service"
	"github.com/vtcode/vtcode/internal/infrastructure/persistence/models"
)

// GormLedgerStore persists decision-ledger entries and permanent approvals.
// Implements service.LedgerStore.
type GormLedgerStore struct {
	db        *gorm.DB
	sessionID string
}

// NewGormLedgerStore creates a ledger store bound to a session.
func NewGormLedgerStore(db *gorm.DB, sessionID string) *GormLedgerStore {
	return &GormLedgerStore{db: db, sessionID: sessionID}
}

// AppendDecision writes one ledger entry; permanent approvals are upserted
// into the cross-session table.
func (s *GormLedgerStore) AppendDecision(entry service.LedgerEntry) error {
	model := models.DecisionModel{
		SessionID:  s.sessionID,
		Turn:       entry.Turn,
		ToolName:   entry.ToolName,
		ArgsDigest: entry.ArgsDigest,
		Decision:   entry.Decision.String(),
		CreatedAt:  entry.Timestamp,
	}
	if err := s.db.Create(&model).Error; err != nil {
		return err
	}

	if entry.Decision == service.DecisionApprovedPermanent {
		approval := models.PermanentApprovalModel{
			ToolName:   entry.ToolName,
			ArgsDigest: entry.ArgsDigest,
		}
		return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&approval).Error
	}
	return nil
}

// LoadPermanentApprovals hydrates the cross-session approval cache.
func (s *GormLedgerStore) LoadPermanentApprovals() (map[string]bool, error) {
	var rows []models.PermanentApprovalModel
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, err
	}
	approvals := make(map[string]bool, len(rows))
	for _, row := range rows {
		approvals[service.ApprovalKey(row.ToolName, row.ArgsDigest)] = true
	}
	return approvals, nil
}

var _ service.LedgerStore = (*GormLedgerStore)(nil)
