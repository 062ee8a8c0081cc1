package models

// ItemOutcome is the per-item result within a batch. Items are never
// deleted; failed ones remain visible for operator review.
type ItemOutcome string

const (
	ItemPending   ItemOutcome = "pending"
	ItemSucceeded ItemOutcome = "succeeded"
	ItemFailed    ItemOutcome = "failed"
	ItemSkipped   ItemOutcome = "skipped"
)

// LinkStrategy is one candidate endpoint/payload combination for resolving
// a direct download link. Strategies are tried in declaration order.
type LinkStrategy struct {
	Endpoint string            `json:"endpoint"`
	Method   string            `json:"method,omitempty"` // Defaults to POST
	Payload  map[string]string `json:"payload,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// BatchItem is one unit within a batch job: a single file to import or a
// single audio track to process.
type BatchItem struct {
	Index        int    `json:"index"`
	Name         string `json:"name"`
	MimeType     string `json:"mime_type,omitempty"`
	DeclaredSize int64  `json:"declared_size,omitempty"`

	// Either a direct URL or an ordered list of authenticated strategies
	DirectURL  string         `json:"direct_url,omitempty"`
	Strategies []LinkStrategy `json:"strategies,omitempty"`

	// For audio-process jobs: path of an already-stored artifact
	StoragePath string `json:"storage_path,omitempty"`

	Outcome ItemOutcome `json:"outcome"`
	Error   string      `json:"error,omitempty"`
}
