package model

// IngestEnvelope carries one raw log line with source metadata.
// It is the transport contract between input sources and the line processor.
type IngestEnvelope struct {
	Source string
	Line   string
}
