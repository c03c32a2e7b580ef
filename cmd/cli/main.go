// Command cli is the thin reference CLI for the tribunal prediction engine.
// It starts from DefaultConfig and overrides only TRIBUNAL_DATA_DIR,
// TRIBUNAL_CHAT_API_KEY and TRIBUNAL_EMBED_API_KEY; it reads no config file.
// It is treated as external wiring, not part of the engine's core contract.
//
// Usage:
//
//	tribunalengine ingest --pdf-dir ./data/raw [--batch-size 50]
//	tribunalengine query "deposit not protected in time" --region LON --year-min 2018
//	tribunalengine predict --case-file ./case.json
//	tribunalengine stats
//	tribunalengine clear
//	tribunalengine rebuild-bm25
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/ukdeposit/tribunalengine"
	"github.com/ukdeposit/tribunalengine/casefile"
	"github.com/ukdeposit/tribunalengine/retrieval"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	cmd, args := os.Args[1], os.Args[2:]

	// clear never opens the engine: the store would hold the sqlite file
	// open for the duration of the process otherwise.
	if cmd == "clear" {
		if err := runClear(); err != nil {
			fmt.Fprintf(os.Stderr, "clear: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg := tribunalengine.DefaultConfig()
	if v := os.Getenv("TRIBUNAL_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("TRIBUNAL_CHAT_API_KEY"); v != "" {
		cfg.Chat.APIKey = v
	}
	if v := os.Getenv("TRIBUNAL_EMBED_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}

	engine, err := tribunalengine.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	ctx := context.Background()

	var runErr error
	switch cmd {
	case "ingest":
		runErr = runIngest(ctx, engine, args)
	case "query":
		runErr = runQuery(ctx, engine, args)
	case "predict":
		runErr = runPredict(ctx, engine, args)
	case "stats":
		runErr = runStats(ctx, engine)
	case "rebuild-bm25":
		runErr = runRebuild(ctx, engine)
	default:
		usage()
		os.Exit(1)
	}

	if runErr != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, runErr)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: tribunalengine <ingest|query|predict|stats|clear|rebuild-bm25> [flags]")
}

func runIngest(ctx context.Context, engine tribunalengine.Engine, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	pdfDir := fs.String("pdf-dir", "", "directory of tribunal decisions to ingest")
	batchSize := fs.Int("batch-size", 0, "embedding batch size override")
	force := fs.Bool("force", false, "re-parse every document regardless of content hash")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *pdfDir == "" {
		return fmt.Errorf("--pdf-dir is required")
	}

	var opts []tribunalengine.IngestOption
	if *force {
		opts = append(opts, tribunalengine.WithForceReparse())
	}
	if *batchSize > 0 {
		opts = append(opts, tribunalengine.WithBatchSize(*batchSize))
	}

	result, err := engine.Ingest(ctx, *pdfDir, opts...)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func runQuery(ctx context.Context, engine tribunalengine.Engine, args []string) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	region := fs.String("region", "", "restrict results to this tribunal region")
	yearMin := fs.Int("year-min", 0, "restrict results to decisions from this year or later")
	topK := fs.Int("top-k", 0, "number of results to return")
	asJSON := fs.Bool("json", false, "print results as JSON instead of a table")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("a query string is required")
	}
	query := fs.Arg(0)
	// Flags may also follow the query text.
	if err := fs.Parse(fs.Args()[1:]); err != nil {
		return err
	}

	results, _, err := engine.Retrieve(ctx, query, *topK, retrieval.Filters{
		Region:  *region,
		YearMin: *yearMin,
	})
	if err != nil {
		return err
	}

	if *asJSON {
		return printJSON(results)
	}
	for _, r := range results {
		fmt.Printf("%.3f  %s  %s (%d)\n%s\n\n", r.FinalScore, r.CaseReference, r.Region, r.Year, r.Content)
	}
	return nil
}

func runPredict(ctx context.Context, engine tribunalengine.Engine, args []string) error {
	fs := flag.NewFlagSet("predict", flag.ExitOnError)
	caseFilePath := fs.String("case-file", "", "path to a JSON-encoded CaseFile")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *caseFilePath == "" {
		return fmt.Errorf("--case-file is required")
	}

	f, err := os.Open(*caseFilePath)
	if err != nil {
		return fmt.Errorf("opening case file: %w", err)
	}
	defer f.Close()

	var cf casefile.CaseFile
	if err := json.NewDecoder(f).Decode(&cf); err != nil {
		return fmt.Errorf("parsing case file: %w", err)
	}

	pred, err := engine.GeneratePrediction(ctx, cf)
	if err != nil {
		return err
	}
	return printJSON(pred)
}

func runStats(ctx context.Context, engine tribunalengine.Engine) error {
	stats, err := engine.CorpusStats(ctx)
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func runRebuild(ctx context.Context, engine tribunalengine.Engine) error {
	result, err := engine.RebuildSparseFromSemantic(ctx)
	if err != nil {
		return err
	}
	return printJSON(result)
}

// runClear wipes the persisted index. Unlike the other subcommands it is
// not mediated by the Engine interface: clearing is destructive enough
// that it asks for confirmation before touching disk.
func runClear() error {
	fmt.Fprint(os.Stderr, "This will delete the entire semantic store, sparse index, and prediction history. Type \"yes\" to confirm: ")
	var confirm string
	fmt.Scanln(&confirm)
	if confirm != "yes" {
		fmt.Fprintln(os.Stderr, "aborted")
		return nil
	}

	cfg := tribunalengine.DefaultConfig()
	if v := os.Getenv("TRIBUNAL_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if err := os.RemoveAll(cfg.DataDir); err != nil {
		return fmt.Errorf("clearing data directory: %w", err)
	}
	fmt.Println("cleared")
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
