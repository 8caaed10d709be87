package main

import (
	"context"
	"crypto/sha256"
	"embed"
	"flag"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/doc-analyzer/internal/config"
	infraBQ "github.com/dvloznov/doc-analyzer/internal/infra/bigquery"
	"github.com/dvloznov/doc-analyzer/internal/logger"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Migration represents a single migration file
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// AppliedMigration represents a migration that has already been applied
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

// Pattern to match migration files: 0001_name.sql
var migrationPattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

func main() {
	cfg := config.Load()

	var (
		projectID = flag.String("project", cfg.GCP.ProjectID, "GCP project ID (or set GCP_PROJECT_ID env)")
		datasetID = flag.String("dataset", cfg.GCP.Dataset, "BigQuery dataset ID (or set BQ_DATASET env)")
		appliedBy = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
		dryRun    = flag.Bool("dry-run", false, "List pending migrations without applying them")
	)
	flag.Parse()

	log := logger.NewFromConfig(cfg.Log.Level, cfg.Log.Format)
	ctx := logger.WithContext(context.Background(), log)

	ds := infraBQ.Dataset{ProjectID: *projectID, DatasetID: *datasetID}
	if err := ds.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Error: -project and -dataset must name a valid dataset")
	}

	migrations, err := readMigrations(embeddedMigrations, "migrations", ds)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read migrations")
	}
	log.Info().Int("count", len(migrations)).Msg("Found migration files")

	// Create BigQuery client
	client, err := bigquery.NewClient(ctx, ds.ProjectID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery client")
	}
	defer client.Close()

	log.Info().Str("project", ds.ProjectID).Str("dataset", ds.DatasetID).Msg("Connected to BigQuery")

	// Ensure schema_migrations table exists
	if err := runQuery(ctx, client.Query(schemaMigrationsDDL(ds))); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure schema_migrations table")
	}

	applied, err := getAppliedMigrations(ctx, client, ds)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to get applied migrations")
	}
	log.Info().Int("count", len(applied)).Msg("Found already applied migrations")

	pending, drifted := planMigrations(migrations, applied)
	for _, m := range drifted {
		log.Warn().
			Int("version", m.Version).
			Str("name", m.Name).
			Msg("Applied migration file changed since it was applied")
	}

	if err := applyMigrations(ctx, client, ds, pending, *appliedBy, *dryRun, log); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
}

func applyMigrations(ctx context.Context, client *bigquery.Client, ds infraBQ.Dataset, pending []Migration, appliedBy string, dryRun bool, log zerolog.Logger) error {
	if len(pending) == 0 {
		log.Info().Msg("No new migrations to apply. Database is up to date.")
		return nil
	}

	for _, migration := range pending {
		mlog := log.With().Int("version", migration.Version).Str("name", migration.Name).Logger()

		if dryRun {
			mlog.Info().Msg("[DRY RUN] Would apply migration")
			continue
		}

		mlog.Info().Msg("Applying migration")

		if err := runQuery(ctx, client.Query(migration.SQL)); err != nil {
			return fmt.Errorf("executing %s: %w", migration.Filename, err)
		}

		// Record migration in schema_migrations
		q := client.Query(recordMigrationSQL(ds))
		q.Parameters = []bigquery.QueryParameter{
			{Name: "version", Value: migration.Version},
			{Name: "name", Value: migration.Name},
			{Name: "checksum", Value: migration.Checksum},
			{Name: "applied_by", Value: appliedBy},
		}
		if err := runQuery(ctx, q); err != nil {
			return fmt.Errorf("recording %s: %w", migration.Filename, err)
		}

		mlog.Info().Msg("Migration applied")
	}

	if !dryRun {
		log.Info().Int("count", len(pending)).Msg("Successfully applied migrations")
	}
	return nil
}

func schemaMigrationsDDL(ds infraBQ.Dataset) string {
	return `
		CREATE TABLE IF NOT EXISTS ` + ds.Table("schema_migrations") + ` (
			version       INT64 NOT NULL,
			name          STRING NOT NULL,
			applied_at    TIMESTAMP NOT NULL,
			checksum      STRING,
			applied_by    STRING
		)
	`
}

func recordMigrationSQL(ds infraBQ.Dataset) string {
	return `
		INSERT INTO ` + ds.Table("schema_migrations") + `
		(version, name, applied_at, checksum, applied_by)
		VALUES (@version, @name, CURRENT_TIMESTAMP(), @checksum, @applied_by)
	`
}

// readMigrations reads the migration files in dir, substituting the
// {{PROJECT_ID}} and {{DATASET_ID}} placeholders. The checksum covers the
// file as written, so it does not depend on the target dataset.
func readMigrations(fsys fs.FS, dir string, ds infraBQ.Dataset) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	seen := make(map[int]string)
	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		version, name, ok := parseMigrationFilename(entry.Name())
		if !ok {
			return nil, fmt.Errorf("invalid migration filename: %s", entry.Name())
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %04d: %s and %s", version, prev, entry.Name())
		}
		seen[version] = entry.Name()

		content, err := fs.ReadFile(fsys, dir+"/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("reading file %s: %w", entry.Name(), err)
		}

		sql := string(content)
		sql = strings.ReplaceAll(sql, "{{PROJECT_ID}}", ds.ProjectID)
		sql = strings.ReplaceAll(sql, "{{DATASET_ID}}", ds.DatasetID)

		migrations = append(migrations, Migration{
			Version:  version,
			Name:     name,
			Filename: entry.Name(),
			SQL:      sql,
			Checksum: fmt.Sprintf("%x", sha256.Sum256(content)),
		})
	}

	// Sort by version
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}

func parseMigrationFilename(filename string) (int, string, bool) {
	matches := migrationPattern.FindStringSubmatch(filename)
	if matches == nil {
		return 0, "", false
	}
	version, err := strconv.Atoi(matches[1])
	if err != nil || version == 0 {
		return 0, "", false
	}
	return version, matches[2], true
}

// planMigrations returns the migrations not applied yet, in version order,
// and the applied ones whose file checksum no longer matches.
func planMigrations(migrations []Migration, applied []AppliedMigration) (pending, drifted []Migration) {
	appliedByVersion := make(map[int]AppliedMigration, len(applied))
	for _, am := range applied {
		appliedByVersion[am.Version] = am
	}

	for _, m := range migrations {
		am, ok := appliedByVersion[m.Version]
		if !ok {
			pending = append(pending, m)
			continue
		}
		if am.Checksum != "" && am.Checksum != m.Checksum {
			drifted = append(drifted, m)
		}
	}
	return pending, drifted
}

// getAppliedMigrations retrieves the list of already applied migrations
func getAppliedMigrations(ctx context.Context, client *bigquery.Client, ds infraBQ.Dataset) ([]AppliedMigration, error) {
	query := client.Query(`
		SELECT version, name, applied_at, checksum, applied_by
		FROM ` + ds.Table("schema_migrations") + `
		ORDER BY version ASC
	`)
	it, err := query.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}

	var applied []AppliedMigration
	for {
		var row struct {
			Version   int64               `bigquery:"version"`
			Name      string              `bigquery:"name"`
			AppliedAt time.Time           `bigquery:"applied_at"`
			Checksum  bigquery.NullString `bigquery:"checksum"`
			AppliedBy bigquery.NullString `bigquery:"applied_by"`
		}

		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating results: %w", err)
		}

		applied = append(applied, AppliedMigration{
			Version:   int(row.Version),
			Name:      row.Name,
			AppliedAt: row.AppliedAt,
			Checksum:  row.Checksum.StringVal,
			AppliedBy: row.AppliedBy.StringVal,
		})
	}

	return applied, nil
}

func runQuery(ctx context.Context, query *bigquery.Query) error {
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
