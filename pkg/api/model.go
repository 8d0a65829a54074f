package api

// Model is one entry in the /v1/models listing.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"` // "model"
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`

	// Aliases are the configured shorthand names that resolve to this
	// model, when any exist.
	Aliases []string `json:"aliases,omitempty"`
}

type ModelList struct {
	Object string  `json:"object"` // "list"
	Data   []Model `json:"data"`
}
