package domain

import (
	"time"

	"github.com/dvloznov/finance-advisor/internal/tenant"
)

// DocumentStatus is the lifecycle state of an uploaded document.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// transitions lists the allowed forward edges. The graph has no back-edges.
var transitions = map[DocumentStatus][]DocumentStatus{
	StatusPending:    {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
}

// CanTransition reports whether a document may move from one status to another.
func CanTransition(from, to DocumentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s DocumentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Document is an uploaded source file. It is never deleted.
type Document struct {
	ID         string
	Filename   string
	UploadDate time.Time
	Status     DocumentStatus
	Owner      tenant.ID
	StorageURI string // gs:// archive of the raw upload, empty when archiving is off
	Error      string // last failure reason, set alongside StatusFailed
	UpdatedAt  time.Time
}
