package catalog

import "errors"

var (
	ErrInvalidCatalog = errors.New("invalid feature catalog")
	ErrUnknownTier    = errors.New("unknown plan tier")
	ErrFailedToLoad   = errors.New("failed to load feature catalog")
)
