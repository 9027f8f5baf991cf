package model

import "time"

// Shared defaults used by the target, the stores, and the CLI.
const (
	DefaultCollectionName = "Log"
	DefaultDatabaseName   = "doctarget"
	DefaultWriteTimeout   = 30 * time.Second
)
