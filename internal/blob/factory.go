package blob

import (
	"context"
	"fmt"
)

// Config selects and parameterises a backend. The fs root is normally the
// dataset output folder so image keys double as relative paths.
type Config struct {
	Driver Driver
	FSRoot string
	S3     S3Config
}

// Open returns the Store described by cfg. An empty driver means fs.
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return NewFilesystem(cfg.FSRoot)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("open blob store %q: %w", driver, ErrUnsupported)
	}
}
