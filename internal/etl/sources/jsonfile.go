package sources

import (
	"context"
	"fmt"
	"os"
	"strings"

	"docloader/internal/domain"
	"docloader/internal/etl"
)

// ── JSON File Resolver ──────────────────────────────────────
// Reads a container from a local JSON file. "file://" is optional;
// a "#data.path" fragment selects a nested object.

type jsonFileResolver struct{}

// NewJSONFileResolver returns the local file resolver.
func NewJSONFileResolver() etl.Resolver { return &jsonFileResolver{} }

func (s *jsonFileResolver) Spec() etl.ResolverSpec {
	return etl.ResolverSpec{Schemes: []string{etl.SchemeFile}, Label: "JSON File"}
}

func (s *jsonFileResolver) Resolve(ctx context.Context, ref string) (*domain.Container, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, dataPath := splitFragment(strings.TrimPrefix(ref, "file://"))
	if path == "" {
		return nil, fmt.Errorf("file path is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()
	return decodeContainer(f, dataPath)
}
