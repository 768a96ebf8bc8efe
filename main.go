package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"mathblocks/internal/assembler"
	"mathblocks/internal/config"
	"mathblocks/internal/correction"
	"mathblocks/internal/logger"
	"mathblocks/internal/types"
)

// Command line flags
var (
	inFlag      = flag.String("in", "", "Input document (tex, pdf, html, docx, md, omml, mathml)")
	formatFlag  = flag.String("format", "", "Source format, detected from the file when empty")
	configFlag  = flag.String("config", "", "Path to the configuration file (JSON or YAML)")
	outFlag     = flag.String("out", "", "Write the JSON result to this file instead of stdout")
	correctFlag = flag.Bool("correct", false, "Send display formulas through the correction model")
	verboseFlag = flag.Bool("v", false, "Verbose logging")
)

// printHelp displays the help information for command line usage.
func printHelp() {
	fmt.Println("mathblocks - convert documents into structured blocks with LaTeX formulas")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  mathblocks -in <file> [options]")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -in <PATH>        input document")
	fmt.Println("  -format <FMT>     tex, pdf, html, docx, md, omml or mathml")
	fmt.Println("  -config <PATH>    configuration file (default ~/.config/mathblocks/mathblocks.json)")
	fmt.Println("  -out <PATH>       output file (default stdout)")
	fmt.Println("  -correct          repair display formulas with the configured model")
	fmt.Println("  -v                debug logging")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  mathblocks -in paper.tex")
	fmt.Println("  mathblocks -in notes.docx -out notes.json")
	fmt.Println("  mathblocks -in scan.pdf -correct -config mathblocks.yaml")
}

func main() {
	flag.Usage = printHelp
	flag.Parse()

	if *inFlag == "" {
		fmt.Fprintln(os.Stderr, "error: -in is required")
		fmt.Println()
		printHelp()
		os.Exit(2)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cm, err := config.NewConfigManager(*configFlag)
	if err != nil {
		return err
	}
	if err := cm.Load(); err != nil {
		return err
	}
	cfg := cm.GetConfig()

	level := logger.ParseLevel(cfg.LogLevel)
	if *verboseFlag {
		level = logger.LevelDebug
	}
	if err := logger.Init(&logger.Config{
		LogFilePath:   cfg.LogFile,
		MaxFileSize:   10 * 1024 * 1024,
		MaxBackups:    5,
		Level:         level,
		EnableConsole: true,
	}); err != nil {
		return err
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	doc, err := ingest(ctx, assembler.New(cfg), *inFlag, types.SourceFormat(*formatFlag))
	if err != nil {
		return err
	}

	if *correctFlag {
		if err := correctDocument(ctx, cfg, doc); err != nil {
			return err
		}
	}

	return writeDocument(doc, *outFlag)
}

func ingest(ctx context.Context, asm *assembler.Assembler, path string, format types.SourceFormat) (*assembler.Document, error) {
	if format == "" {
		return asm.AssembleFile(ctx, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, types.NewAppErrorWithDetails(types.ErrFileNotFound, "input file not found", path, err)
		}
		return nil, types.NewAppError(types.ErrInvalidInput, "failed to read input file", err)
	}
	return asm.Assemble(ctx, assembler.Source{Format: format, Name: filepath.Base(path), Data: data})
}

// correctDocument runs every display formula through the corrector. A failed
// correction keeps the original block.
func correctDocument(ctx context.Context, cfg *types.Config, doc *assembler.Document) error {
	cache := correction.NewCache(cfg.CorrectionCache)
	if err := cache.Load(); err != nil {
		logger.Warn("ignoring unreadable correction cache", logger.Err(err))
	}
	corr, err := correction.NewOpenAICorrector(ctx, cfg, cache)
	if err != nil {
		return err
	}

	corrected := 0
	for i, block := range doc.Blocks {
		if block.Kind != types.KindFormula || block.Inline {
			continue
		}
		updated, res, err := corr.Correct(ctx, block)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("formula left uncorrected", logger.String("id", block.ID), logger.Err(err))
			continue
		}
		if res.Applied && updated.Content != block.Content {
			corrected++
		}
		doc.Blocks[i] = updated
	}
	logger.Info("correction finished", logger.Int("corrected", corrected))

	return cache.Save()
}

func writeDocument(doc *assembler.Document, out string) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return types.NewAppError(types.ErrInternal, "failed to encode document", err)
	}
	data = append(data, '\n')
	if out == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		return types.NewAppError(types.ErrInternal, "failed to write output", err)
	}
	return nil
}
