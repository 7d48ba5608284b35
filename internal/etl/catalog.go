package etl

import "docloader/internal/domain"

// SchemaCatalog is the read-only schema metadata the pipeline consumes.
// *catalog.Catalog implements it.
type SchemaCatalog interface {
	Name() string
	Version() string
	Tables() []domain.SchemaTable
	Table(id string) (*domain.SchemaTable, bool)
	TableIDs() []string
	CollectionNames() []string
	Collection(name string) (*domain.CollectionDefinition, error)
	SelectTables(collection string) []string
	CollectionExcludedAttributes(name string) map[string]map[string]bool
	CollectionSliceFilter(name string) *domain.SliceFilter
	SubCategoryAggregates(name string) []domain.SubCategoryAggregate
	PrivateDocumentAttributes(name string) []domain.PrivateAttribute
	DocumentKeyAttributeNames(name string) []string
	DocumentReplaceAttributeNames(name string) []string
	DataSelector(name string) ([]domain.SelectorPredicate, error)
	Methods() []domain.MethodRegistration
	ValidatorSchema(collection, level string) (map[string]any, error)
}
