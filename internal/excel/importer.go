// Package excel loads catalog words from spreadsheets.
package excel

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/example/estbot/internal/database"
	"github.com/example/estbot/pkg/models"
	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"
)

// ImportConfig defines the import configuration
type ImportConfig struct {
	SheetName         string // Sheet to import, the first one when empty
	WordColumn        string // Column with the Estonian word
	CategoryColumn    string // Column with the part of speech
	TranslationColumn string // Column with the translation
	AnnotationColumn  string // Column with usage notes, optional
	StartRow          int    // The row to start importing from (1-based index)
	Annotate          bool   // Generate missing annotations
}

// DefaultImportConfig returns the default import configuration
func DefaultImportConfig() ImportConfig {
	return ImportConfig{
		WordColumn:        "A",
		CategoryColumn:    "B",
		TranslationColumn: "C",
		AnnotationColumn:  "D",
		StartRow:          2, // By default, start from the second row (skip header)
	}
}

// ImportResult holds the result of an import operation
type ImportResult struct {
	TotalProcessed int
	Created        int
	Updated        int
	Skipped        int
	Annotated      int
	Errors         []string
}

// WordStore is the part of the catalog the importer writes
type WordStore interface {
	FindByWord(ctx context.Context, text, category string) (*models.Word, error)
	Create(ctx context.Context, word *models.Word) error
	Update(ctx context.Context, word *models.Word) error
}

// Annotator writes usage notes for words
type Annotator interface {
	Annotate(ctx context.Context, word models.Word) (string, error)
}

// Importer imports words into the catalog
type Importer struct {
	words     WordStore
	annotator Annotator
	logger    *slog.Logger
}

// NewImporter creates an importer. annotator may be nil.
func NewImporter(words WordStore, annotator Annotator, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{words: words, annotator: annotator, logger: logger}
}

// ImportFile imports words from an Excel or CSV file
func (im *Importer) ImportFile(ctx context.Context, path string, cfg ImportConfig) (*ImportResult, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open import file")
	}
	defer file.Close()
	return im.Import(ctx, file, filepath.Ext(path), cfg)
}

// Import reads rows from r, a ".csv" or Excel stream by ext
func (im *Importer) Import(ctx context.Context, r io.Reader, ext string, cfg ImportConfig) (*ImportResult, error) {
	var rows [][]string
	var err error
	if strings.EqualFold(ext, ".csv") {
		rows, err = readCSV(r)
	} else {
		rows, err = readExcel(r, cfg.SheetName)
	}
	if err != nil {
		return nil, err
	}

	result := &ImportResult{Errors: make([]string, 0)}
	currentCategory := ""
	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		// Skip header rows
		if i < cfg.StartRow-1 {
			continue
		}
		if isBlank(row) {
			continue
		}

		data := rowData(row, cfg)
		// A row with only the first cell set starts a new category, e.g. "Verbid,,"
		if data.Word != "" && data.Translation == "" && data.Category == "" && data.Annotation == "" {
			currentCategory = strings.ToLower(data.Word)
			continue
		}
		if data.Category == "" {
			data.Category = currentCategory
		}

		result.TotalProcessed++
		if err := im.processWord(ctx, data, cfg, result); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("Row %d: %v", i+1, err))
		}
	}

	im.logger.Info("Import finished",
		"processed", result.TotalProcessed,
		"created", result.Created,
		"updated", result.Updated,
		"skipped", result.Skipped,
		"errors", len(result.Errors))
	return result, nil
}

func readExcel(r io.Reader, sheet string) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open Excel file")
	}
	defer f.Close()

	if sheet == "" {
		sheet = f.GetSheetName(f.GetActiveSheetIndex())
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get rows of sheet %q", sheet)
	}
	return rows, nil
}

func readCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // Allow variable number of fields
	reader.LazyQuotes = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "error reading CSV")
	}
	return rows, nil
}

func rowData(row []string, cfg ImportConfig) models.Word {
	cell := func(column string) string {
		if column == "" {
			return ""
		}
		if idx := columnToIndex(column); idx >= 0 && idx < len(row) {
			return strings.TrimSpace(row[idx])
		}
		return ""
	}
	return models.Word{
		Word:        cleanWord(cell(cfg.WordColumn)),
		Category:    strings.ToLower(cell(cfg.CategoryColumn)),
		Translation: cell(cfg.TranslationColumn),
		Annotation:  cell(cfg.AnnotationColumn),
	}
}

// processWord creates the word or updates the stored one with the same text and category
func (im *Importer) processWord(ctx context.Context, data models.Word, cfg ImportConfig, result *ImportResult) error {
	if data.Word == "" {
		return errors.New("word cannot be empty")
	}
	if data.Translation == "" {
		return errors.New("translation cannot be empty")
	}

	existing, err := im.words.FindByWord(ctx, data.Word, data.Category)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return err
	}

	if existing != nil {
		if data.Annotation == "" {
			data.Annotation = existing.Annotation
		}
		data.ID = existing.ID
	}

	needsNote := data.Annotation == "" && cfg.Annotate && im.annotator != nil
	if existing != nil && !needsNote &&
		existing.Translation == data.Translation && existing.Annotation == data.Annotation {
		result.Skipped++
		return nil
	}

	if needsNote {
		note, err := im.annotator.Annotate(ctx, data)
		if err != nil {
			im.logger.Warn("Annotation failed", "word", data.Word, "error", err)
		} else {
			data.Annotation = note
			result.Annotated++
		}
	}

	if existing != nil {
		if err := im.words.Update(ctx, &data); err != nil {
			return errors.Wrap(err, "failed to update word")
		}
		result.Updated++
		return nil
	}
	if err := im.words.Create(ctx, &data); err != nil {
		return errors.Wrap(err, "failed to create word")
	}
	result.Created++
	return nil
}

// cleanWord drops a trailing parenthesized note, "minema (läks)" becomes "minema"
func cleanWord(word string) string {
	if i := strings.Index(word, "("); i > 0 {
		return strings.TrimSpace(word[:i])
	}
	return strings.TrimSpace(word)
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// Helper function to convert Excel column letter to index
func columnToIndex(column string) int {
	column = strings.ToUpper(strings.TrimSpace(column))
	index := 0
	for i := 0; i < len(column); i++ {
		if column[i] < 'A' || column[i] > 'Z' {
			return -1
		}
		index = index*26 + int(column[i]-'A'+1)
	}
	return index - 1
}
