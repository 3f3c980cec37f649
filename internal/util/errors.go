package util

import "errors"

var (
	// ErrValidation marks bad or missing caller input.
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")

	// ErrDocumentCorrupt is returned for byte streams that cannot be decoded as a PDF.
	// Retrying will not help.
	ErrDocumentCorrupt   = errors.New("document is corrupt or unreadable")
	ErrNoExtractableText = errors.New("could not extract text from document")

	// ErrInsertNotConfirmed means the database accepted a write but returned no row.
	ErrInsertNotConfirmed = errors.New("insert not confirmed by storage")

	ErrExternalService   = errors.New("external service error")
	ErrNoMatchingContent = errors.New("no matching content")
)
