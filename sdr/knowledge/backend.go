package knowledge

import (
	"context"
	"errors"
	"fmt"

	"github.com/ZanzyTHEbar/clinic-sdr/sdr/config"
	"github.com/ZanzyTHEbar/clinic-sdr/sdr/db"
	"github.com/rs/zerolog"
)

// ErrUnknownBackend is returned for an unrecognised knowledge.backend value.
var ErrUnknownBackend = errors.New("unknown knowledge backend")

// NewVectorStore builds the backend selected by cfg.Backend.
func NewVectorStore(ctx context.Context, cfg config.KnowledgeConfig, logger zerolog.Logger) (VectorStore, error) {
	switch cfg.Backend {
	case "qdrant":
		return NewQdrantStore(cfg.Qdrant)
	case "libsql":
		conn, err := db.ConnectToDB(ctx, cfg.Database.Path, logger)
		if err != nil {
			return nil, err
		}
		return NewLibSQLStore(conn), nil
	case "memory", "":
		return NewFlatIndex(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
}
