package server

import (
	"fmt"

	"github.com/mediavault/mediavault/internal/backend"
	"github.com/mediavault/mediavault/internal/config"
)

func metadataForBackend(bc config.BackendConfig) (backend.Metadata, error) {
	if meta, ok := backend.Resolve(bc.Type); ok {
		return meta, nil
	}
	return backend.Metadata{}, fmt.Errorf("backend type %s is not registered", bc.Type)
}
