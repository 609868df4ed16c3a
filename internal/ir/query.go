package ir

import "slices"

// WorkflowQuery selects deployed definitions. Zero fields match everything.
type WorkflowQuery struct {
	ID       string `json:"id,omitempty"`
	SourceID string `json:"source_id,omitempty"`
	Name     string `json:"name,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// Matches reports whether the definition satisfies the query filters.
func (q WorkflowQuery) Matches(w *WorkflowSource) bool {
	if q.ID != "" && w.ID != q.ID {
		return false
	}
	if q.SourceID != "" && w.SourceID != q.SourceID {
		return false
	}
	if q.Name != "" && w.Name != q.Name {
		return false
	}
	return true
}

// InstanceQuery selects workflow instances. Zero fields match everything.
type InstanceQuery struct {
	IDs        []string `json:"ids,omitempty"`
	WorkflowID string   `json:"workflow_id,omitempty"`
	Ended      *bool    `json:"ended,omitempty"`
	// ActivityID keeps instances with an open activity instance of this activity.
	ActivityID string `json:"activity_id,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// Matches reports whether the instance satisfies the query filters.
func (q InstanceQuery) Matches(wi *WorkflowInstance) bool {
	if len(q.IDs) > 0 && !slices.Contains(q.IDs, wi.ID) {
		return false
	}
	if q.WorkflowID != "" && wi.WorkflowID != q.WorkflowID {
		return false
	}
	if q.Ended != nil && wi.Ended != *q.Ended {
		return false
	}
	if q.ActivityID != "" && wi.FindOpenActivityInstanceByActivityID(q.ActivityID) == nil {
		return false
	}
	return true
}
