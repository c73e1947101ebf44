package excel

import (
	"context"
	"strings"
	"testing"

	"github.com/example/estbot/internal/database"
	"github.com/example/estbot/pkg/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type fakeAnnotator struct {
	calls int
	fail  bool
}

func (a *fakeAnnotator) Annotate(ctx context.Context, word models.Word) (string, error) {
	a.calls++
	if a.fail {
		return "", errors.New("rate limited")
	}
	return "note for " + word.Word, nil
}

func newWordRepo(t *testing.T) *database.WordRepository {
	t.Helper()
	db, err := database.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return database.NewWordRepository(db, nil)
}

func TestImportCSV(t *testing.T) {
	ctx := context.Background()
	words := newWordRepo(t)
	im := NewImporter(words, nil, nil)

	input := strings.Join([]string{
		"word,category,translation,annotation",
		"maja,noun,дом,",
		"minema (läks),verb,идти,ma-inf: minema",
		",,,",
		"Adjektiivid,,,",
		"punane,,красный,",
		"koer,noun,,",
	}, "\n")

	res, err := im.Import(ctx, strings.NewReader(input), ".csv", DefaultImportConfig())
	require.NoError(t, err)
	assert.Equal(t, 4, res.TotalProcessed)
	assert.Equal(t, 3, res.Created)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "Row 7")

	w, err := words.FindByWord(ctx, "minema", "verb")
	require.NoError(t, err)
	assert.Equal(t, "идти", w.Translation)
	assert.Equal(t, "ma-inf: minema", w.Annotation)

	w, err = words.FindByWord(ctx, "punane", "adjektiivid")
	require.NoError(t, err, "category header applies to rows without a category")
	assert.Equal(t, "красный", w.Translation)
}

func TestImportUpdatesAndSkips(t *testing.T) {
	ctx := context.Background()
	words := newWordRepo(t)
	im := NewImporter(words, nil, nil)
	cfg := DefaultImportConfig()

	_, err := im.Import(ctx, strings.NewReader("h\nmaja,noun,дом\nkoer,noun,собака"), ".csv", cfg)
	require.NoError(t, err)

	res, err := im.Import(ctx, strings.NewReader("h\nmaja,noun,здание\nkoer,noun,собака"), ".csv", cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, res.Created)

	w, err := words.FindByWord(ctx, "maja", "noun")
	require.NoError(t, err)
	assert.Equal(t, "здание", w.Translation)

	count, err := words.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestImportAnnotates(t *testing.T) {
	ctx := context.Background()
	words := newWordRepo(t)
	annotator := &fakeAnnotator{}
	im := NewImporter(words, annotator, nil)
	cfg := DefaultImportConfig()
	cfg.Annotate = true

	res, err := im.Import(ctx, strings.NewReader("h\nmaja,noun,дом\nkass,noun,кошка,olemas"), ".csv", cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Annotated)
	assert.Equal(t, 1, annotator.calls)

	w, err := words.FindByWord(ctx, "maja", "noun")
	require.NoError(t, err)
	assert.Equal(t, "note for maja", w.Annotation)
}

func TestImportAnnotationFailureKeepsWord(t *testing.T) {
	ctx := context.Background()
	words := newWordRepo(t)
	im := NewImporter(words, &fakeAnnotator{fail: true}, nil)
	cfg := DefaultImportConfig()
	cfg.Annotate = true

	res, err := im.Import(ctx, strings.NewReader("h\nmaja,noun,дом"), ".csv", cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Zero(t, res.Annotated)
	assert.Empty(t, res.Errors)
}

func TestImportExcel(t *testing.T) {
	ctx := context.Background()
	words := newWordRepo(t)
	im := NewImporter(words, nil, nil)

	f := excelize.NewFile()
	defer f.Close()
	rows := [][]interface{}{
		{"Sõna", "Sõnaliik", "Tõlge"},
		{"maja", "noun", "дом"},
		{"jooksma", "Verb", "бегать"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	res, err := im.Import(ctx, buf, ".xlsx", DefaultImportConfig())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)

	w, err := words.FindByWord(ctx, "jooksma", "verb")
	require.NoError(t, err)
	assert.Equal(t, "бегать", w.Translation)
}

func TestColumnToIndex(t *testing.T) {
	assert.Equal(t, 0, columnToIndex("A"))
	assert.Equal(t, 3, columnToIndex("d"))
	assert.Equal(t, 26, columnToIndex("AA"))
	assert.Equal(t, -1, columnToIndex("1"))
}
