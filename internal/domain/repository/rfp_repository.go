package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/common"
	"github.com/VerticalLabs-ai/rfp-ml-sub001/internal/domain/model"
)

// RFPRepository reads RFP metadata owned by the RFP store.
type RFPRepository interface {
	FindRFPByID(ctx context.Context, id string) (*model.RFPMeta, error)
}

// BidDocumentRepository reads generated bid documents.
type BidDocumentRepository interface {
	FindDocumentByID(ctx context.Context, id string) (*model.BidDocument, error)
}

type pgRFPRepository struct {
	db *sql.DB
}

func NewPgRFPRepository(db *sql.DB) RFPRepository {
	return &pgRFPRepository{db: db}
}

func (r *pgRFPRepository) FindRFPByID(ctx context.Context, id string) (*model.RFPMeta, error) {
	query := `SELECT rfp_id, title, response_deadline FROM rfps WHERE rfp_id = $1`
	rfp := &model.RFPMeta{}
	var title sql.NullString
	var deadline sql.NullTime
	err := r.db.QueryRowContext(ctx, query, id).Scan(&rfp.ID, &title, &deadline)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("rfp %s: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("pgRFPRepository.FindRFPByID: %w", err)
	}
	if !deadline.Valid {
		return nil, fmt.Errorf("rfp %s has no response deadline: %w", id, common.ErrBadRequest)
	}
	rfp.Title = title.String
	rfp.Deadline = deadline.Time.UTC()
	return rfp, nil
}

type pgBidDocumentRepository struct {
	db *sql.DB
}

func NewPgBidDocumentRepository(db *sql.DB) BidDocumentRepository {
	return &pgBidDocumentRepository{db: db}
}

func (r *pgBidDocumentRepository) FindDocumentByID(ctx context.Context, id string) (*model.BidDocument, error) {
	query := `SELECT document_id, content FROM bid_documents WHERE document_id = $1`
	doc := &model.BidDocument{}
	var content []byte
	err := r.db.QueryRowContext(ctx, query, id).Scan(&doc.ID, &content)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("bid document %s: %w", id, common.ErrNotFound)
		}
		return nil, fmt.Errorf("pgBidDocumentRepository.FindDocumentByID: %w", err)
	}
	doc.Content = map[string]any{}
	if len(content) > 0 {
		if err := json.Unmarshal(content, &doc.Content); err != nil {
			return nil, fmt.Errorf("decode bid document %s: %w", id, err)
		}
	}
	if _, ok := doc.Content["document_id"]; !ok {
		doc.Content["document_id"] = doc.ID
	}
	return doc, nil
}
