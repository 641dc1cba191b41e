package types //nolint:revive // types is a valid package name

// Error kinds reported in the function error envelope. Any other kind is
// the Go type name of the failure.
const (
	ErrorKindValidation       = "ValidationError"
	ErrorKindArchiveCorrupted = "ArchiveCorruptedError"
	ErrorKindStorage          = "StorageError"
	ErrorKindStoreUnreachable = "StoreUnreachableError"
	ErrorKindInternal         = "InternalError"
)

// LegacyCorruptMessage is the message older agents report when a staged
// archive ends early.
const LegacyCorruptMessage = "zlib: unexpected end of file"
