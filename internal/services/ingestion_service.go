package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"treasury-service/internal/apperrors"
	"treasury-service/internal/authz"
	"treasury-service/internal/models"
	"treasury-service/internal/repositories"
)

// MaxBulkRows bounds a single bulk request.
const MaxBulkRows = 500

var errBatchRejected = errors.New("batch rejected")

// IngestionService posts batches of manually prepared transactions.
type IngestionService struct {
	store    repositories.Store
	resolver *authz.Resolver
	ledger   *LedgerService
	logger   *zap.Logger
}

func NewIngestionService(store repositories.Store, resolver *authz.Resolver, ledger *LedgerService, logger *zap.Logger) *IngestionService {
	return &IngestionService{
		store:    store,
		resolver: resolver,
		ledger:   ledger,
		logger:   logger.Named("ingestion"),
	}
}

type IngestionResult struct {
	Success      bool                  `json:"success"`
	BatchID      string                `json:"batch_id,omitempty"`
	RecordsCount int                   `json:"records_count"`
	Errors       []string              `json:"errors,omitempty"`
	Transactions []*models.Transaction `json:"transactions,omitempty"`
}

// CreateTransactionsBulk posts every row under one batch id inside a single
// database transaction. When any row fails the result lists every failure
// and nothing is committed.
func (s *IngestionService) CreateTransactionsBulk(ctx context.Context, p *authz.Principal, rows []TransactionInput) (*IngestionResult, error) {
	if _, err := s.resolver.Authorize(p, authz.ResourceTransactions, authz.ActionCreate, authz.Target{}); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, apperrors.Validation("at least one transaction is required")
	}
	if len(rows) > MaxBulkRows {
		return nil, apperrors.Validation("a batch holds at most %d transactions", MaxBulkRows)
	}

	result := &IngestionResult{BatchID: uuid.NewString()}
	var rowErrs *multierror.Error

	err := s.store.WithinTx(ctx, func(tx repositories.Store) error {
		for i, row := range rows {
			t, err := s.ingestRow(ctx, tx, p, row, result.BatchID)
			if err != nil {
				if apperrors.KindOf(err) == apperrors.KindInternal {
					return err
				}
				rowErrs = multierror.Append(rowErrs, fmt.Errorf("row %d: %w", i+1, err))
				continue
			}
			result.Transactions = append(result.Transactions, t)
			result.RecordsCount++
		}

		if rowErrs.ErrorOrNil() != nil {
			return errBatchRejected
		}
		return writeAudit(ctx, tx, models.EntityTransaction, 0, models.AuditActionImported, p, map[string]any{
			"batch_id":      result.BatchID,
			"total_records": len(rows),
		})
	})
	if err != nil && !errors.Is(err, errBatchRejected) {
		return nil, err
	}

	result.Success = rowErrs.ErrorOrNil() == nil
	if !result.Success {
		for _, e := range rowErrs.Errors {
			result.Errors = append(result.Errors, e.Error())
		}
		// nothing was committed
		result.RecordsCount = 0
		result.Transactions = nil
		s.logger.Warn("bulk batch rejected",
			zap.String("batch_id", result.BatchID),
			zap.Int("rows", len(rows)),
			zap.Int("failed", len(result.Errors)),
		)
		return result, nil
	}

	s.logger.Info("bulk batch posted",
		zap.String("batch_id", result.BatchID),
		zap.Int("rows", result.RecordsCount),
		zap.String("user_id", p.ID),
	)
	return result, nil
}

func (s *IngestionService) ingestRow(ctx context.Context, tx repositories.Store, p *authz.Principal, row TransactionInput, batchID string) (*models.Transaction, error) {
	if _, err := s.resolver.Authorize(p, authz.ResourceTransactions, authz.ActionCreate, transactionTarget(row.ChurchID, row.FundID)); err != nil {
		return nil, err
	}
	posting := row.posting(p.ID, batchID)
	if err := validatePosting(posting); err != nil {
		return nil, err
	}
	if row.ChurchID != nil {
		if _, err := tx.Churches().GetByID(ctx, *row.ChurchID); err != nil {
			return nil, lookupErr("church", *row.ChurchID, "get church", err)
		}
	}
	return s.ledger.Post(ctx, tx, posting)
}
