package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/banksync/internal/domain"
)

// ListCategories returns all categories ordered by sort order then
// name. The first non-income predefined entry doubles as the
// categorization fallback, so the ordering is part of the contract.
func ListCategories(ctx context.Context) ([]domain.Category, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("ListCategories: bigquery client: %w", err)
	}
	defer client.Close()

	return ListCategoriesWithClient(ctx, client)
}

// ListCategoriesWithClient returns all categories using the provided
// BigQuery client.
func ListCategoriesWithClient(ctx context.Context, client *bigquery.Client) ([]domain.Category, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT
			category_id,
			category_name,
			is_predefined,
			sort_order
		FROM `+"`%s.%s.%s`"+`
		ORDER BY sort_order, category_name
	`, projectID, datasetID, categoriesTable))

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListCategories: query read: %w", err)
	}

	var categories []domain.Category
	for {
		var row CategoryRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListCategories: iter next: %w", err)
		}
		categories = append(categories, categoryToDomain(&row))
	}

	return categories, nil
}

// FindCategoryByName finds a category by exact name, case-insensitive.
// Returns nil when it does not exist.
func FindCategoryByName(ctx context.Context, name string) (*domain.Category, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("FindCategoryByName: bigquery client: %w", err)
	}
	defer client.Close()

	return FindCategoryByNameWithClient(ctx, client, name)
}

// FindCategoryByNameWithClient finds a category by name using the
// provided BigQuery client.
func FindCategoryByNameWithClient(ctx context.Context, client *bigquery.Client, name string) (*domain.Category, error) {
	q := client.Query(fmt.Sprintf(`
		SELECT
			category_id,
			category_name,
			is_predefined,
			sort_order
		FROM `+"`%s.%s.%s`"+`
		WHERE LOWER(category_name) = LOWER(@category_name)
		LIMIT 1
	`, projectID, datasetID, categoriesTable))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "category_name", Value: name},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("FindCategoryByName: query read: %w", err)
	}

	var row CategoryRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FindCategoryByName: iter next: %w", err)
	}

	category := categoryToDomain(&row)
	return &category, nil
}
