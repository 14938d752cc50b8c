package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidStatus is returned when a status string is not one of the six document states.
var ErrInvalidStatus = errors.New("invalid document status")

// DocumentStatuses lists the workflow states in their nominal order.
var DocumentStatuses = []DocumentStatus{
	StatusDraft,
	StatusReview1,
	StatusCorrection,
	StatusReview2,
	StatusValidation,
	StatusApproved,
}

// completionByStatus holds the completion percentage reached when a document enters a
// state. REVIEW_2 contributes nothing on purpose; the table is not monotonic.
var completionByStatus = map[DocumentStatus]float64{
	StatusDraft:      45,
	StatusReview1:    30,
	StatusCorrection: 20,
	StatusReview2:    0,
	StatusValidation: 5,
	StatusApproved:   100,
}

// ParseDocumentStatus validates a raw status value. Matching is exact.
func ParseDocumentStatus(raw string) (DocumentStatus, error) {
	s := DocumentStatus(raw)
	if _, ok := completionByStatus[s]; !ok {
		return "", fmt.Errorf("%w %q", ErrInvalidStatus, raw)
	}
	return s, nil
}

func (s DocumentStatus) Valid() bool {
	_, ok := completionByStatus[s]
	return ok
}

// Active reports whether work is still happening on a document in this state.
func (s DocumentStatus) Active() bool {
	return s.Valid() && s != StatusApproved
}

// InReview reports whether the document sits in one of the two review states.
func (s DocumentStatus) InReview() bool {
	return s == StatusReview1 || s == StatusReview2
}

// Weight returns the completion weight of a status in [0,1].
func (s DocumentStatus) Weight() float64 {
	return completionByStatus[s] / 100
}

// CompletionPercentage returns weight(status) * 100.
func CompletionPercentage(s DocumentStatus) float64 {
	return completionByStatus[s]
}

// ProjectCompletion is the share of APPROVED documents, in percent. An empty set is 0.
func ProjectCompletion(statuses []DocumentStatus) float64 {
	if len(statuses) == 0 {
		return 0
	}
	approved := 0
	for _, s := range statuses {
		if s == StatusApproved {
			approved++
		}
	}
	return float64(approved) / float64(len(statuses)) * 100
}

// AggregateProjectStatus derives a project status from its documents' statuses.
// The result depends only on the multiset of statuses.
func AggregateProjectStatus(statuses []DocumentStatus) ProjectStatus {
	if len(statuses) == 0 {
		return ProjectCompleted
	}
	allApproved := true
	anyActive := false
	for _, s := range statuses {
		if s != StatusApproved {
			allApproved = false
		}
		if s.Active() {
			anyActive = true
		}
	}
	switch {
	case allApproved:
		return ProjectCompleted
	case anyActive:
		return ProjectInProgress
	default:
		return ProjectPending
	}
}
