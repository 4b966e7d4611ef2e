package logger

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so custody events
// can be aggregated and queried per device, per file, and per engine.
const (
	// Pipeline identity
	KeyDevice = "device" // device identifier assigned by the resolver
	KeySource = "source" // source IP of the originating datagram
	KeyDate   = "date"   // daily file date (YYYY-MM-DD)

	// Filesystem
	KeyPath        = "path"         // device file or sidecar path
	KeyArchivePath = "archive_path" // compressed archive path
	KeySize        = "size"         // byte count

	// Engines
	KeyEngine   = "engine"   // signer, archiver, verifier, retention, reporter
	KeyDuration = "duration" // operation duration
	KeyError    = "error"    // error detail

	// Integrity
	KeyHash        = "hash"        // SHA-256 hex digest
	KeyFingerprint = "fingerprint" // certificate fingerprint
)
