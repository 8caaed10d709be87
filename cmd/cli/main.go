package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dvloznov/doc-analyzer/internal/app"
	"github.com/dvloznov/doc-analyzer/internal/config"
	"github.com/dvloznov/doc-analyzer/internal/gcsuploader"
	"github.com/dvloznov/doc-analyzer/internal/ingest"
	"github.com/dvloznov/doc-analyzer/internal/logger"
	"github.com/dvloznov/doc-analyzer/internal/notionexport"
	"github.com/dvloznov/doc-analyzer/internal/pipeline"
	"github.com/rs/zerolog"
)

func main() {
	cfg := config.Load()
	log := logger.NewFromConfig(cfg.Log.Level, cfg.Log.Format)

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "analyze":
		runAnalyze(cfg, log)
	case "analyze-gcs":
		runAnalyzeGCS(cfg, log)
	case "upload":
		runUpload(log)
	case "inspect":
		runInspect(cfg, log)
	case "export-notion":
		runExportNotion(cfg, log)
	case "delete":
		runDelete(cfg, log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Document Analyzer CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  analyze        Analyze a local document and print the result")
	fmt.Println("  analyze-gcs    Analyze a document stored in GCS and persist it")
	fmt.Println("  upload         Upload a file to GCS")
	fmt.Println("  inspect        Show a stored analysis and its transactions")
	fmt.Println("  export-notion  Export a stored analysis to Notion")
	fmt.Println("  delete         Delete a stored analysis")
	fmt.Println("  help           Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

// newApp wires the application or exits.
func newApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) *app.Application {
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize application")
	}
	return application
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "encode: %v\n", err)
		os.Exit(1)
	}
}

func runAnalyze(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	filePath := fs.String("file", "", "Path to the document")
	mimeType := fs.String("mime", "", "MIME type (inferred from the extension when empty)")
	persist := fs.Bool("persist", false, "Store the analysis")
	userID := fs.String("user", ingest.DefaultUserID, "Owner of the stored analysis")
	verbose := fs.Bool("verbose", false, "Print source, diagnostics and extracted text too")
	fs.Parse(os.Args[2:])

	if *filePath == "" {
		log.Fatal().Msg("Usage: cli analyze -file PATH [-mime TYPE] [-persist]")
	}

	data, err := os.ReadFile(*filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read file")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	application := newApp(ctx, cfg, log)
	defer application.Close()

	fileName := filepath.Base(*filePath)

	if *persist {
		res, err := application.Ingest.Analyze(ctx, ingest.Request{
			UserID:   *userID,
			FileName: fileName,
			MIMEType: *mimeType,
			Bytes:    data,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Analysis failed")
		}
		printJSON(map[string]interface{}{
			"analysis_id": res.Analysis.AnalysisID,
			"duplicate":   res.Duplicate,
			"analysis":    res.Result,
		})
		return
	}

	if *mimeType == "" {
		*mimeType = pipeline.MIMETypeFromFileName(fileName)
	}

	out, err := application.Analyzer.Run(ctx, pipeline.RawDocument{
		FileName: fileName,
		MIMEType: *mimeType,
		Bytes:    data,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Analysis failed")
	}

	if *verbose {
		printJSON(out)
		return
	}
	printJSON(out.Result)
}

func runAnalyzeGCS(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("analyze-gcs", flag.ExitOnError)
	gcsURI := fs.String("gcs-uri", "", "GCS URI of the document")
	mimeType := fs.String("mime", "", "MIME type (inferred from the object name when empty)")
	userID := fs.String("user", ingest.DefaultUserID, "Owner of the stored analysis")
	fs.Parse(os.Args[2:])

	if *gcsURI == "" {
		log.Fatal().Msg("Error: --gcs-uri is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	application := newApp(ctx, cfg, log)
	defer application.Close()

	log.Info().Str("gcs_uri", *gcsURI).Msg("Starting analysis")

	res, err := application.Ingest.AnalyzeGCS(ctx, *userID, *gcsURI, *mimeType)
	if err != nil {
		log.Fatal().Err(err).Msg("Analysis failed")
	}

	printJSON(map[string]interface{}{
		"analysis_id": res.Analysis.AnalysisID,
		"duplicate":   res.Duplicate,
		"analysis":    res.Result,
	})
}

func runUpload(log zerolog.Logger) {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	bucketName := fs.String("bucket", "", "GCS bucket name")
	objectName := fs.String("object", "", "GCS object name (defaults to filename)")
	filePath := fs.String("file", "", "Path to local file")
	fs.Parse(os.Args[2:])

	if *bucketName == "" || *filePath == "" {
		log.Fatal().Msg("Usage: cli upload -bucket NAME -file PATH")
	}

	if *objectName == "" {
		*objectName = filepath.Base(*filePath)
	}

	ctx := context.Background()
	ctx = logger.WithContext(ctx, log)

	storage, err := gcsuploader.NewGCSStorageService(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create storage client")
	}
	defer storage.Close()

	log.Info().
		Str("bucket", *bucketName).
		Str("object", *objectName).
		Str("file", *filePath).
		Msg("Uploading file to GCS")

	if err := storage.UploadFile(ctx, *bucketName, *objectName, *filePath); err != nil {
		log.Fatal().Err(err).Msg("Upload failed")
	}

	fmt.Printf("Uploaded %s to %s\n", *filePath, gcsuploader.FormatGCSURI(*bucketName, *objectName))
}

func runInspect(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	analysisID := fs.String("analysis-id", "", "Analysis ID to inspect")
	fs.Parse(os.Args[2:])

	if *analysisID == "" {
		log.Fatal().Msg("Error: --analysis-id is required")
	}

	ctx := logger.WithContext(context.Background(), log)

	application := newApp(ctx, cfg, log)
	defer application.Close()

	res, err := application.Ingest.Get(ctx, *analysisID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load analysis")
	}
	row := res.Analysis

	fmt.Println("\n=== Analysis Details ===")
	fmt.Printf("ID:          %s\n", row.AnalysisID)
	fmt.Printf("User:        %s\n", row.UserID)
	fmt.Printf("File:        %s (%s)\n", row.OriginalFilename, row.FileMimeType)
	if row.GCSURI.Valid {
		fmt.Printf("GCS URI:     %s\n", row.GCSURI.StringVal)
	}
	fmt.Printf("Source:      %s\n", row.Source)
	fmt.Printf("Guidance:    %t\n", row.IsGuidanceOnly)
	fmt.Printf("Created:     %s\n", row.CreatedTS.Format(time.RFC3339))
	fmt.Printf("Income:      %s\n", res.Result.Summary.TotalIncome.StringFixed(2))
	fmt.Printf("Expense:     %s\n", res.Result.Summary.TotalExpense.StringFixed(2))
	fmt.Printf("Net profit:  %s\n", res.Result.Summary.NetProfit.StringFixed(2))

	fmt.Printf("\n=== Transactions (%d) ===\n", len(res.Transactions))
	for i, tx := range res.Transactions {
		fmt.Printf("\n%d. %s\n", i+1, tx.Description)
		fmt.Printf("   Date:     %s\n", tx.TransactionDate)
		fmt.Printf("   Amount:   %s (%s)\n", tx.Amount.FloatString(2), tx.Type)
		fmt.Printf("   Category: %s\n", tx.Category)
	}

	if len(res.Result.Insights) > 0 {
		fmt.Println("\n=== Insights ===")
		for _, insight := range res.Result.Insights {
			fmt.Printf("- %s\n", insight)
		}
	}
	fmt.Println()
}

func runExportNotion(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("export-notion", flag.ExitOnError)
	analysisID := fs.String("analysis-id", "", "Analysis ID to export")
	databaseID := fs.String("database-id", cfg.Notion.DatabaseID, "Notion database ID (or set NOTION_DATABASE_ID env)")
	dryRun := fs.Bool("dry-run", false, "Log the pages that would be created")
	fs.Parse(os.Args[2:])

	if *analysisID == "" {
		log.Fatal().Msg("Error: --analysis-id is required")
	}
	if cfg.Notion.Token == "" {
		log.Fatal().Msg("NOTION_TOKEN environment variable is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	exporter, err := notionexport.NewExporter(notionexport.NewNotionClient(cfg.Notion.Token), *databaseID, *dryRun)
	if err != nil {
		log.Fatal().Err(err).Msg("NOTION_DATABASE_ID environment variable is required")
	}

	application := newApp(ctx, cfg, log)
	defer application.Close()

	res, err := application.Ingest.Get(ctx, *analysisID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load analysis")
	}

	stats, err := exporter.ExportAnalysis(ctx, res.Analysis, res.Transactions)
	if err != nil {
		log.Fatal().Err(err).Msg("Notion export failed")
	}

	fmt.Printf("Exported analysis %s: %d created, %d already present\n", *analysisID, stats.Created, stats.Skipped)
}

func runDelete(cfg *config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	analysisID := fs.String("analysis-id", "", "Analysis ID to delete")
	archiveNotion := fs.Bool("notion", false, "Also archive the analysis pages exported to Notion")
	fs.Parse(os.Args[2:])

	if *analysisID == "" {
		log.Fatal().Msg("Error: --analysis-id is required")
	}

	ctx := logger.WithContext(context.Background(), log)

	application := newApp(ctx, cfg, log)
	defer application.Close()

	if err := application.Ingest.Delete(ctx, *analysisID); err != nil {
		log.Fatal().Err(err).Msg("Failed to delete analysis")
	}

	if *archiveNotion {
		exporter, err := notionexport.NewExporter(notionexport.NewNotionClient(cfg.Notion.Token), cfg.Notion.DatabaseID, false)
		if err != nil {
			log.Fatal().Err(err).Msg("Notion is not configured")
		}
		stats, err := exporter.RemoveAnalysis(ctx, *analysisID)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to archive Notion pages")
		}
		fmt.Printf("Archived %d Notion pages\n", stats.Archived)
	}

	fmt.Printf("Deleted analysis %s\n", *analysisID)
}
