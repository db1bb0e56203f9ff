// Command extract runs the hybrid invoice field extractor over an image or
// a directory of images and writes the results as JSON.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/adithya11sci/genAi-idfc/internal/config"
	"github.com/adithya11sci/genAi-idfc/internal/extractor"
	"github.com/adithya11sci/genAi-idfc/internal/gcs"
	"github.com/adithya11sci/genAi-idfc/internal/keymanager"
	"github.com/adithya11sci/genAi-idfc/internal/logger"
	"github.com/adithya11sci/genAi-idfc/internal/runlog"
)

func main() {
	os.Exit(run())
}

func run() int {
	log := logger.New()

	var (
		input   string
		output  string
		method  string
		history int
	)
	flag.StringVar(&input, "input", "", "Input image, directory, or gs:// URI")
	flag.StringVar(&input, "i", "", "Input image, directory, or gs:// URI (shorthand)")
	flag.StringVar(&output, "output", "", "Output JSON file")
	flag.StringVar(&output, "o", "", "Output JSON file (shorthand)")
	flag.StringVar(&method, "method", "hybrid", "Extraction method: hybrid, gemini, or ocr")
	flag.IntVar(&history, "history", 0, "Print the N most recent extraction runs and exit (requires run log)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return 1
	}

	ctx := logger.WithContext(context.Background(), log)

	recorder, err := newRecorder(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to connect run log")
		return 1
	}
	defer recorder.Close()

	if history > 0 {
		return printHistory(ctx, recorder, history)
	}

	if input == "" || output == "" {
		fmt.Fprintln(os.Stderr, "Usage: extract -input PATH -output FILE [-method hybrid|gemini|ocr]")
		return 1
	}

	fmt.Println(strings.Repeat("=", 60))
	fmt.Println("Hybrid Document AI Extractor")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Method: %s\nInput: %s\nOutput: %s\n", strings.ToUpper(method), input, output)
	fmt.Println(strings.Repeat("=", 60))

	inputPaths, err := discoverDocuments(input)
	if err != nil {
		log.Error().Err(err).Str("input", input).Msg("input not found")
		return 1
	}
	if len(inputPaths) == 0 {
		log.Error().Str("input", input).Msg("no documents found")
		return 1
	}
	fmt.Printf("Found %d document(s)\n", len(inputPaths))

	chain, ok := buildChain(cfg, method, log)
	if !ok {
		return 1
	}
	if !chain.Usable() {
		log.Error().Msg("no extraction engine is usable")
		return 1
	}

	batch := extractor.NewBatch(chain, extractor.FileLoader{}, recorder, log)
	report := batch.Process(ctx, inputPaths)

	if len(inputPaths) == 1 {
		rec := report.Documents[0]
		if err := extractor.WriteRecord(output, rec); err != nil {
			log.Error().Err(err).Msg("failed to write output")
			return 1
		}
		printRecord(rec)
	} else {
		if err := report.Write(output); err != nil {
			log.Error().Err(err).Msg("failed to write output")
			return 1
		}
		info := report.BatchInfo
		fmt.Printf("\nProcessed %d document(s): %d successful, %d failed (avg confidence %.2f)\n",
			info.Total, info.Successful, info.Failed, info.AvgConfidence)
	}

	fmt.Printf("\nResults saved to %s\n", output)
	return 0
}

// buildChain wires the adapters the selected method needs. Returns ok=false
// when the selection cannot be satisfied at all.
func buildChain(cfg *config.Config, method string, log zerolog.Logger) (*extractor.HybridExtractor, bool) {
	var keys *keymanager.Manager
	if len(cfg.Gemini.APIKeys) > 0 {
		var err error
		keys, err = keymanager.New(cfg.Gemini.APIKeys, log, keymanager.WithCooldown(cfg.Gemini.Cooldown()))
		if err != nil {
			log.Error().Err(err).Msg("failed to build key manager")
			return nil, false
		}
	}

	vision := extractor.NewGemini(keys, cfg.Gemini.Model, log)
	ocr := extractor.NewOCR(cfg.OCR.BaseURL, cfg.OCR.Languages, secs(cfg.OCR.TimeoutSeconds), log)
	llm := extractor.NewLocalLLM(cfg.LocalLLM.BaseURL, cfg.LocalLLM.Model, secs(cfg.LocalLLM.TimeoutSeconds), log)

	switch method {
	case "gemini":
		if !vision.Usable() {
			log.Warn().Msg("gemini not available, using hybrid")
			return extractor.NewHybrid(vision, ocr, llm, cfg.Gemini.CostPerCallUSD, log), true
		}
		return extractor.NewHybrid(vision, nil, nil, cfg.Gemini.CostPerCallUSD, log), true
	case "ocr":
		if !ocr.Usable() {
			log.Error().Msg("easyocr not available")
			return nil, false
		}
		return extractor.NewHybrid(nil, ocr, llm, 0, log), true
	case "hybrid":
		return extractor.NewHybrid(vision, ocr, llm, cfg.Gemini.CostPerCallUSD, log), true
	default:
		log.Error().Str("method", method).Msg("unknown extraction method")
		return nil, false
	}
}

func newRecorder(ctx context.Context, cfg *config.Config, log zerolog.Logger) (runlog.Recorder, error) {
	if !cfg.RunLog.Enabled() {
		return runlog.Noop{}, nil
	}
	log.Info().Str("project", cfg.RunLog.ProjectID).Msg("run log enabled")
	return runlog.NewBigQueryRecorder(ctx, cfg.RunLog.ProjectID, cfg.RunLog.Dataset, cfg.RunLog.Table)
}

func printHistory(ctx context.Context, recorder runlog.Recorder, limit int) int {
	runs, err := recorder.RecentRuns(ctx, limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list runs: %v\n", err)
		return 1
	}
	if len(runs) == 0 {
		fmt.Println("No recorded runs.")
		return 0
	}
	for _, r := range runs {
		fmt.Printf("%s  %-10s %-20s conf=%.2f  %s\n", r.RunID, r.Status, r.Method, r.Confidence, r.DocID)
	}
	return 0
}

// discoverDocuments resolves the input to an ordered document list: a
// single file or gs:// URI as-is, or a directory scanned for images in
// lexicographic order.
func discoverDocuments(input string) ([]string, error) {
	if gcs.IsURI(input) {
		return []string{input}, nil
	}

	info, err := os.Stat(input)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{input}, nil
	}

	entries, err := os.ReadDir(input)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".png", ".jpg", ".jpeg":
			paths = append(paths, filepath.Join(input, entry.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func printRecord(rec extractor.Record) {
	fmt.Println()
	fmt.Println(strings.Repeat("=", 60))
	fmt.Println("EXTRACTION RESULTS")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Document ID: %s\n", rec.DocID)
	fmt.Printf("Dealer Name: %s\n", strOrNA(rec.Fields.DealerName))
	fmt.Printf("Model Name: %s\n", strOrNA(rec.Fields.ModelName))
	fmt.Printf("Horse Power: %s\n", strOrNA(rec.Fields.HorsePower))
	fmt.Printf("Asset Cost: %s\n", costOrNA(rec.Fields.AssetCost))
	fmt.Printf("Signature: %t\n", rec.Fields.Signature.Present)
	fmt.Printf("Stamp: %t\n", rec.Fields.Stamp.Present)
	fmt.Printf("Confidence: %.2f\n", rec.Confidence)
	fmt.Printf("Method: %s\n", rec.ExtractionMethod)
	fmt.Println(strings.Repeat("=", 60))
}

func strOrNA(s *string) string {
	if s == nil {
		return "N/A"
	}
	return *s
}

func costOrNA(c *int64) string {
	if c == nil {
		return "N/A"
	}
	return fmt.Sprintf("%d", *c)
}

func secs(n int) time.Duration {
	return time.Duration(n) * time.Second
}
