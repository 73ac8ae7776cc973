package embedding

import "errors"

var (
	// ErrInvalidImage means the input crop failed the quality gate or could
	// not be decoded. Recoverable: the caller may try a fallback crop.
	ErrInvalidImage = errors.New("invalid image format or quality")

	// ErrProcessing means inference or normalization failed for this input.
	// Recoverable: skip the face and continue the batch.
	ErrProcessing = errors.New("could not process the image")

	// ErrModel means the embedding model is unavailable. Surfaced from the
	// model constructor so the host can degrade gracefully instead of
	// crashing.
	ErrModel = errors.New("embedding model unavailable")
)
