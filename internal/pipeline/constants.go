package pipeline

import "time"

const (
	// DefaultStepTimeout bounds a single step when none is configured.
	DefaultStepTimeout = 2 * time.Minute

	// failureWriteTimeout bounds the write that records a failed document,
	// which runs even when the job context is already done.
	failureWriteTimeout = 30 * time.Second

	// maxFailureReason is the longest error text stored on a document.
	maxFailureReason = 2000

	dateLayout = "2006-01-02"
)
