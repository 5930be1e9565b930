package domain

import "context"

// JobRepository is the Job Store contract shared by every stage and the API.
type JobRepository interface {
	// Create fails with ErrConflict when the job id already exists.
	Create(ctx context.Context, job *Job) error
	// Get fails with ErrNotFound.
	Get(ctx context.Context, jobID string) (*Job, error)
	// Update atomically merges patch and returns the stored record. It fails
	// with ErrStateConflict when the status guard rejects the write.
	Update(ctx context.Context, jobID string, patch Patch) (*Job, error)
	// Delete removes the record of the owning user permanently.
	Delete(ctx context.Context, jobID, userID string) error
	List(ctx context.Context, filter ListFilter) ([]Job, error)
}

// ListFilter narrows gallery listings.
type ListFilter struct {
	UserID string
	// Statuses restricts results to the given internal statuses when non-empty.
	Statuses []Status
	Limit    int
}

// CreditLedger is the external balance service called around the job lifecycle.
type CreditLedger interface {
	// Deduct fails with ErrInsufficientFunds.
	Deduct(ctx context.Context, userID, jobID string, amount int) error
	// Refund credits amount back at most once per job.
	Refund(ctx context.Context, userID, jobID string, amount int) (bool, error)
}
