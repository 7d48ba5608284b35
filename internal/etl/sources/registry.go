package sources

import (
	"context"

	"go.uber.org/zap"

	"docloader/internal/etl"
)

// Config selects and configures the resolvers.
type Config struct {
	CSVDelimiter string     `yaml:"csv_delimiter"`
	HTTP         HTTPConfig `yaml:"http"`
	S3           *S3Config  `yaml:"s3"`
}

// NewRegistry returns a registry with every configured resolver. The S3
// resolver is only registered when cfg.S3 is set.
func NewRegistry(ctx context.Context, cfg Config, logger *zap.Logger) (*etl.Registry, error) {
	reg := etl.NewRegistry()
	reg.Register(NewJSONFileResolver())

	var delim rune
	if cfg.CSVDelimiter != "" {
		delim = []rune(cfg.CSVDelimiter)[0]
	}
	reg.Register(NewCSVResolver(delim))
	reg.Register(NewHTTPResolver(cfg.HTTP, logger))

	if cfg.S3 != nil {
		r, err := NewS3Resolver(ctx, *cfg.S3)
		if err != nil {
			return nil, err
		}
		reg.Register(r)
	}
	logger.Debug("resolvers registered", zap.Strings("schemes", reg.Schemes()))
	return reg, nil
}
