package sources

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"docloader/internal/domain"
	"docloader/internal/etl"
)

// ── CSV Directory Resolver ──────────────────────────────────
// Reads a container from a directory of CSV files: each <category>.csv
// holds one category, header row first. The container is named after
// the directory.

// SchemeCSV is the scheme handled by the CSV resolver.
const SchemeCSV = "csv"

type csvDirResolver struct {
	delimiter rune
}

// NewCSVResolver returns a resolver for csv:// references. A zero
// delimiter means comma.
func NewCSVResolver(delimiter rune) etl.Resolver {
	if delimiter == 0 {
		delimiter = ','
	}
	return &csvDirResolver{delimiter: delimiter}
}

func (s *csvDirResolver) Spec() etl.ResolverSpec {
	return etl.ResolverSpec{Schemes: []string{SchemeCSV}, Label: "CSV Directory"}
}

func (s *csvDirResolver) Resolve(ctx context.Context, ref string) (*domain.Container, error) {
	dir := strings.TrimPrefix(ref, SchemeCSV+"://")
	if dir == "" {
		return nil, fmt.Errorf("directory is required")
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("list csv files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no csv files in %s", dir)
	}
	sort.Strings(files)

	c := domain.NewContainer(filepath.Base(filepath.Clean(dir)))
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cat, err := s.readCategory(path)
		if err != nil {
			return nil, err
		}
		c.Append(cat)
	}
	return c, nil
}

func (s *csvDirResolver) readCategory(path string) (*domain.Category, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comma = s.delimiter
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv %s: %w", filepath.Base(path), err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty csv file %s", filepath.Base(path))
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	cat := domain.NewCategory(name, records[0]...)
	cat.Rows = append(cat.Rows, records[1:]...)
	return cat, nil
}
