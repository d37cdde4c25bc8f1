package model

// CallStatus is the calling service's view of one candidate's call.
type CallStatus struct {
	Name         string `json:"candidate_name"`
	AcceptedCall bool   `json:"accept_call"`
	Approved     bool   `json:"approved"`
	FinishedCall bool   `json:"finished_call"`
}

// CandidateRef names a candidate in observer stats.
type CandidateRef struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// CallStats aggregates a calling run for the dashboard.
type CallStats struct {
	Total              int            `json:"total"`
	Answered           int            `json:"answered"`
	AcceptedOffer      int            `json:"accepted_offer"`
	DeclinedOffer      int            `json:"declined_offer"`
	AcceptedCandidates []CandidateRef `json:"accepted_candidates"`
	DeclinedCandidates []CandidateRef `json:"declined_candidates"`
}

// AllFinished reports whether every call has ended. An empty list counts as
// finished.
func AllFinished(statuses []CallStatus) bool {
	for _, s := range statuses {
		if !s.FinishedCall {
			return false
		}
	}
	return true
}

// SummarizeCalls builds dashboard stats from per-candidate call status.
func SummarizeCalls(statuses []CallStatus) CallStats {
	stats := CallStats{
		Total:              len(statuses),
		AcceptedCandidates: []CandidateRef{},
		DeclinedCandidates: []CandidateRef{},
	}
	for _, s := range statuses {
		name := s.Name
		if name == "" {
			name = "Unknown"
		}
		if s.AcceptedCall {
			stats.Answered++
		}
		if s.Approved {
			stats.AcceptedOffer++
			stats.AcceptedCandidates = append(stats.AcceptedCandidates, CandidateRef{Name: name})
		}
		if s.AcceptedCall && !s.Approved {
			stats.DeclinedOffer++
			stats.DeclinedCandidates = append(stats.DeclinedCandidates, CandidateRef{Name: name})
		}
	}
	return stats
}
