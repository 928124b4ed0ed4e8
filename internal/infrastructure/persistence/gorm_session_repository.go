package persistence

import (
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/vtcode/vtcode/internal/domain/entity"
	"github.com/vtcode/vtcode/internal/infrastructure/persistence/models"
)

// SessionRecord is the loaded form of a persisted session.
type SessionRecord struct {
	ID            string
	Workspace     string
	Model         string
	History       []entity.Message
	ModifiedFiles []string
}

// GormSessionRepository saves and restores sessions for resume.
type GormSessionRepository struct {
	db *gorm.DB
}

// NewGormSessionRepository creates the repository.
func NewGormSessionRepository(db *gorm.DB) *GormSessionRepository {
	return &GormSessionRepository{db: db}
}

// Save upserts a session snapshot.
func (r *GormSessionRepository) Save(record SessionRecord) error {
	history, err := json.Marshal(record.History)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	files, err := json.Marshal(record.ModifiedFiles)
	if err != nil {
		return fmt.Errorf("failed to encode modified files: %w", err)
	}

	model := models.SessionModel{
		ID:            record.ID,
		Workspace:     record.Workspace,
		Model:         record.Model,
		HistoryJSON:   string(history),
		ModifiedFiles: string(files),
	}
	return r.db.Save(&model).Error
}

// Load restores a session by id; a missing session returns (nil, nil).
func (r *GormSessionRepository) Load(sessionID string) (*SessionRecord, error) {
	var model models.SessionModel
	err := r.db.First(&model, "id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	record := &SessionRecord{
		ID:        model.ID,
		Workspace: model.Workspace,
		Model:     model.Model,
	}
	if model.HistoryJSON != "" {
		if err := json.Unmarshal([]byte(model.HistoryJSON), &record.History); err != nil {
			return nil, fmt.Errorf("failed to decode history: %w", err)
		}
	}
	if model.ModifiedFiles != "" {
		if err := json.Unmarshal([]byte(model.ModifiedFiles), &record.ModifiedFiles); err != nil {
			return nil, fmt.Errorf("failed to decode modified files: %w", err)
		}
	}
	return record, nil
}
