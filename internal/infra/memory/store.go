package memory

import "qmaster-service/internal/app"

// NewStore returns a complete in-memory app.Store. Data lives for the life of the process.
func NewStore() app.Store {
	return app.Store{
		Jobs:        NewJobStore(),
		Pools:       NewPoolStore(),
		Sessions:    NewSessionStore(),
		Assignments: NewAssignmentStore(),
		Submissions: NewSubmissionStore(),
	}
}
