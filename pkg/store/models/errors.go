package models

import "errors"

// Common errors for metadata store operations.
var (
	// Signature errors
	ErrSignatureNotFound  = errors.New("signature record not found")
	ErrDuplicateSignature = errors.New("signature record already exists")

	// Archive errors
	ErrArchiveNotFound  = errors.New("archive record not found")
	ErrDuplicateArchive = errors.New("archive record already exists")

	// Report errors
	ErrReportNotFound = errors.New("report not found")
)
