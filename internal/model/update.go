package model

// Update is one status change produced by an executor or the poller. It is the
// message sent to the session-state sink and, reduced, to observers.
type Update struct {
	SessionID      string        `json:"session_id"`
	PipelineID     string        `json:"index_of_pipeline"`
	ComponentIndex int           `json:"index_of_component"`
	ComponentType  ComponentType `json:"type_of_component"`
	Status         Status        `json:"status"`

	// ExpectRevision, when set, makes the write conditional on the component
	// still being at that revision.
	ExpectRevision *uint64 `json:"expect_revision,omitempty"`

	// Candidates carries a matching result. Nil means the update is not a
	// matching result; an empty slice means no match.
	Candidates *[]CandidateRecord `json:"candidates,omitempty"`

	FinishTask   *bool        `json:"finish_task,omitempty"`
	CallStatuses []CallStatus `json:"status_about_each_candidate,omitempty"`
	Stats        *CallStats   `json:"clients_stats,omitempty"`
}

// Receipt acknowledges an applied Update.
type Receipt struct {
	Previous Status      `json:"previous"`
	Current  Status      `json:"current"`
	Delta    StatusDelta `json:"state_changes"`
	Revision uint64      `json:"revision"`
}

// Revision returns a pointer to r for Update.ExpectRevision.
func Revision(r uint64) *uint64 {
	return &r
}
