package domain

// CategoryIncome is the reserved predefined category for incoming funds.
// It is assigned only during ingestion, never by the batch classifier.
const CategoryIncome = "Income"

// Category is a spending category. Predefined categories form the
// classifier vocabulary; user categories are owned by a single user and
// only ever assigned manually.
type Category struct {
	ID           string
	Name         string
	IsPredefined bool
	SortOrder    int64
}
