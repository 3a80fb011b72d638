package models

import "errors"

// Error taxonomy shared by collaborators and the store. Callers match with errors.Is.
var (
	// ErrTransientCollaborator covers network or HTTP failures talking to a source,
	// the retrieval service or the generation service.
	ErrTransientCollaborator = errors.New("collaborator unavailable")
	// ErrMalformedResponse is returned when a collaborator answers with an unexpected shape.
	ErrMalformedResponse = errors.New("malformed collaborator response")
	// ErrStoreContention marks write timeouts and lock conflicts in the store.
	ErrStoreContention = errors.New("store contention")
)
