package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Windi-Fikriyansyah/freelancedesk/internal/apperr"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/models"
)

// credit adds amount to the user's balance and writes the matching ledger
// entry. Must run inside the caller's transaction.
func credit(tx *gorm.DB, userID uuid.UUID, amount int64, inv *models.Invoice, description string) error {
	if amount <= 0 {
		return apperr.Invalid("amount", "must be greater than zero")
	}

	result := tx.Model(&models.User{}).
		Where("id = ?", userID).
		Update("balance", gorm.Expr("balance + ?", amount))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.NotFound("user %s not found", userID)
	}

	entry := models.Transaction{
		UserID:      userID,
		ProjectID:   &inv.ProjectID,
		InvoiceID:   &inv.ID,
		Amount:      amount,
		Type:        models.TransactionCredit,
		Description: description,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("write ledger entry: %w", err)
	}
	return nil
}

// Ledger returns a user's ledger entries, newest first.
func (s *Service) Ledger(ctx context.Context, userID uuid.UUID, limit int) ([]models.Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []models.Transaction
	err := s.Read(ctx, "list ledger", func(q *gorm.DB) error {
		return q.Where("user_id = ?", userID).Order("created_at DESC").Limit(limit).Find(&out).Error
	})
	return out, err
}
