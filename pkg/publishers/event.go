package publishers

import (
	"time"
)

// Event announces the outcome of one cohort upload attempt.
type Event struct {
	Project    string    `json:"project"`
	AppID      string    `json:"app_id"`
	CohortName string    `json:"cohort_name"`
	Owner      string    `json:"owner"`
	IDType     string    `json:"id_type"`
	IDCount    int       `json:"id_count"`
	Published  bool      `json:"published"`
	Accepted   bool      `json:"accepted"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Status is "accepted" or "rejected".
func (e Event) Status() string {
	if e.Accepted {
		return "accepted"
	}
	return "rejected"
}

// stringAttributes are the routing attributes attached to queue and topic messages.
func (e Event) stringAttributes() map[string]string {
	return map[string]string{
		"project": e.Project,
		"status":  e.Status(),
	}
}
