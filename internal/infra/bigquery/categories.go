package bigquery

import "github.com/dvloznov/banksync/internal/domain"

type CategoryRow struct {
	CategoryID   string `bigquery:"category_id"`   // REQUIRED
	CategoryName string `bigquery:"category_name"` // REQUIRED
	IsPredefined bool   `bigquery:"is_predefined"` // REQUIRED
	SortOrder    int64  `bigquery:"sort_order"`    // REQUIRED
}

func categoryToDomain(r *CategoryRow) domain.Category {
	return domain.Category{
		ID:           r.CategoryID,
		Name:         r.CategoryName,
		IsPredefined: r.IsPredefined,
		SortOrder:    r.SortOrder,
	}
}
