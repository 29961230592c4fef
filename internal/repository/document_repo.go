package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"settlement-reconciliation-engine/internal/models"
)

// DocumentRepository archives original settlement files in the database.
type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Archive(ctx context.Context, content []byte, meta models.DocumentMetadata) (uuid.UUID, error) {
	raw, err := json.Marshal(meta)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encoding document metadata: %w", err)
	}
	doc := models.ArchivedDocument{
		ID:             uuid.New(),
		OrganizationID: meta.OrganizationID,
		Filename:       meta.Filename,
		ContentType:    meta.ContentType,
		Checksum:       meta.Checksum,
		Content:        content,
		Metadata:       datatypes.JSON(raw),
	}
	if err := r.db.WithContext(ctx).Create(&doc).Error; err != nil {
		return uuid.Nil, translate(err)
	}
	return doc.ID, nil
}

func (r *DocumentRepository) Get(ctx context.Context, id uuid.UUID) (*models.ArchivedDocument, error) {
	var doc models.ArchivedDocument
	if err := r.db.WithContext(ctx).First(&doc, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &doc, nil
}
