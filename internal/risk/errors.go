package risk

import (
	"github.com/Aidin1998/vaultrisk/pkg/errors"
)

var (
	// ErrUnsupportedChain is returned when a chain id has no ChainConfig. It is
	// fatal for the call and must not be retried.
	ErrUnsupportedChain = errors.NewWithKind(errors.KindUnsupportedChain)
	// ErrNotFound marks an unknown agent, vault, rule or alert id.
	ErrNotFound = errors.NewWithKind(errors.KindNotFound)
	// ErrValidation marks malformed configuration or input.
	ErrValidation = errors.NewWithKind(errors.KindValidation)
)
