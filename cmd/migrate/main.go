package main

import (
	"context"
	"crypto/sha256"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/banksync/internal/logger"
)

// migrationPattern matches versioned migration files, e.g. 0001_init_schema.sql.
var migrationPattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

type migration struct {
	Version  int
	Name     string
	SQL      string
	Checksum string
}

func main() {
	var (
		projectID     = flag.String("project", "studious-union-470122-v7", "GCP project ID")
		datasetID     = flag.String("dataset", "banksync", "BigQuery dataset ID")
		appliedBy     = flag.String("applied-by", "migrate-cli", "Recorded as the applier of each migration")
		migrationsDir = flag.String("migrations", "migrations/bigquery", "Path to migrations directory")
	)
	flag.Parse()

	log := logger.New()
	ctx := context.Background()

	client, err := bigquery.NewClient(ctx, *projectID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery client")
	}
	defer client.Close()

	log.Info().Str("project", *projectID).Str("dataset", *datasetID).Msg("Connected to BigQuery")

	if err := ensureDataset(ctx, client, *datasetID); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure dataset")
	}
	if err := ensureMigrationsTable(ctx, client, *projectID, *datasetID); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure schema_migrations table")
	}

	migrations, err := loadMigrations(*migrationsDir, *projectID, *datasetID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load migrations")
	}
	log.Info().Int("count", len(migrations)).Msg("Loaded migration files")

	applied, err := appliedChecksums(ctx, client, *projectID, *datasetID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read applied migrations")
	}

	apply(ctx, log, client, migrations, applied, *projectID, *datasetID, *appliedBy)
}

func apply(ctx context.Context, log zerolog.Logger, client *bigquery.Client,
	migrations []migration, applied map[int]string, projectID, datasetID, appliedBy string) {

	count := 0
	for _, m := range migrations {
		if checksum, ok := applied[m.Version]; ok {
			if checksum != "" && checksum != m.Checksum {
				log.Warn().
					Int("version", m.Version).
					Str("name", m.Name).
					Msg("Applied migration differs from the file on disk")
			}
			log.Debug().Int("version", m.Version).Str("name", m.Name).Msg("Already applied")
			continue
		}

		log.Info().Int("version", m.Version).Str("name", m.Name).Msg("Applying migration")

		if err := runStatement(ctx, client, m.SQL, nil); err != nil {
			log.Fatal().Err(err).Int("version", m.Version).Str("name", m.Name).Msg("Migration failed")
		}
		if err := recordMigration(ctx, client, projectID, datasetID, appliedBy, m); err != nil {
			log.Fatal().Err(err).Int("version", m.Version).Str("name", m.Name).Msg("Failed to record migration")
		}
		count++
	}

	if count == 0 {
		log.Info().Msg("No new migrations to apply")
	} else {
		log.Info().Int("applied", count).Msg("Migrations applied")
	}
}

func ensureDataset(ctx context.Context, client *bigquery.Client, datasetID string) error {
	ds := client.Dataset(datasetID)
	if _, err := ds.Metadata(ctx); err == nil {
		return nil
	}
	if err := ds.Create(ctx, &bigquery.DatasetMetadata{Location: "EU"}); err != nil {
		// Racing another migrate run is fine.
		if strings.Contains(err.Error(), "Already Exists") {
			return nil
		}
		return fmt.Errorf("ensureDataset: creating dataset %s: %w", datasetID, err)
	}
	return nil
}

func ensureMigrationsTable(ctx context.Context, client *bigquery.Client, projectID, datasetID string) error {
	sql := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS `+"`%s.%s.schema_migrations`"+` (
			version     INT64 NOT NULL,
			name        STRING NOT NULL,
			applied_at  TIMESTAMP NOT NULL,
			checksum    STRING,
			applied_by  STRING
		)`, projectID, datasetID)

	if err := runStatement(ctx, client, sql, nil); err != nil {
		return fmt.Errorf("ensureMigrationsTable: %w", err)
	}
	return nil
}

// loadMigrations reads every versioned .sql file in dir, substitutes the
// project and dataset placeholders, and returns the set sorted by version.
// The checksum is taken over the raw file so it is stable across targets.
func loadMigrations(dir, projectID, datasetID string) ([]migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("loadMigrations: reading %s: %w", dir, err)
	}

	var migrations []migration
	seen := make(map[int]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version, name, ok := parseMigrationName(entry.Name())
		if !ok {
			continue
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("loadMigrations: version %d defined by both %s and %s", version, prev, entry.Name())
		}
		seen[version] = entry.Name()

		content, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("loadMigrations: reading %s: %w", entry.Name(), err)
		}

		sql := strings.ReplaceAll(string(content), "{{PROJECT_ID}}", projectID)
		sql = strings.ReplaceAll(sql, "{{DATASET_ID}}", datasetID)

		migrations = append(migrations, migration{
			Version:  version,
			Name:     name,
			SQL:      sql,
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func parseMigrationName(filename string) (version int, name string, ok bool) {
	matches := migrationPattern.FindStringSubmatch(filename)
	if matches == nil {
		return 0, "", false
	}
	version, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, "", false
	}
	return version, matches[2], true
}

// appliedChecksums returns version -> checksum for every recorded migration.
func appliedChecksums(ctx context.Context, client *bigquery.Client, projectID, datasetID string) (map[int]string, error) {
	sql := fmt.Sprintf(
		"SELECT version, checksum FROM `%s.%s.schema_migrations` ORDER BY version",
		projectID, datasetID)

	it, err := client.Query(sql).Read(ctx)
	if err != nil {
		// First run against a fresh dataset.
		if strings.Contains(err.Error(), "Not found") {
			return map[int]string{}, nil
		}
		return nil, fmt.Errorf("appliedChecksums: %w", err)
	}

	applied := make(map[int]string)
	for {
		var row struct {
			Version  int64
			Checksum bigquery.NullString
		}
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("appliedChecksums: iterating: %w", err)
		}
		applied[int(row.Version)] = row.Checksum.StringVal
	}
	return applied, nil
}

func recordMigration(ctx context.Context, client *bigquery.Client, projectID, datasetID, appliedBy string, m migration) error {
	sql := fmt.Sprintf(`
		INSERT INTO `+"`%s.%s.schema_migrations`"+`
		(version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)`,
		projectID, datasetID)

	params := []bigquery.QueryParameter{
		{Name: "version", Value: m.Version},
		{Name: "name", Value: m.Name},
		{Name: "checksum", Value: m.Checksum},
		{Name: "applied_by", Value: appliedBy},
	}
	if err := runStatement(ctx, client, sql, params); err != nil {
		return fmt.Errorf("recordMigration: %w", err)
	}
	return nil
}

func runStatement(ctx context.Context, client *bigquery.Client, sql string, params []bigquery.QueryParameter) error {
	query := client.Query(sql)
	query.Parameters = params

	job, err := query.Run(ctx)
	if err != nil {
		return fmt.Errorf("running query: %w", err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("waiting for job: %w", err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("job error: %w", err)
	}
	return nil
}
