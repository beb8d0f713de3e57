package domain

import "time"

// JobState is the lifecycle state of an upload job.
type JobState string

const (
	JobPending    JobState = "pending"
	JobProcessing JobState = "processing"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransition reports whether s -> next is a legal, forward-only move.
func (s JobState) CanTransition(next JobState) bool {
	switch s {
	case JobPending:
		return next == JobProcessing || next == JobFailed
	case JobProcessing:
		return next == JobCompleted || next == JobFailed
	default:
		return false
	}
}

// SourceKind identifies the shape of an uploaded payload.
type SourceKind string

const (
	SourceText SourceKind = "text"
	SourcePDF  SourceKind = "pdf"
)

// GenerationParams controls how many items the generator is asked for and how they are weighted.
type GenerationParams struct {
	NumMCQ           int     `json:"numMCQs" validate:"min=1,max=50"`
	NumDescriptive   int     `json:"numDescriptive" validate:"min=1,max=50"`
	MCQMarks         float64 `json:"mcqMarks" validate:"gt=0"`
	DescriptiveMarks float64 `json:"descriptiveMarks" validate:"gt=0"`
}

// DefaultGenerationParams mirrors the defaults of the upload form.
func DefaultGenerationParams() GenerationParams {
	return GenerationParams{
		NumMCQ:           5,
		NumDescriptive:   3,
		MCQMarks:         2,
		DescriptiveMarks: 10,
	}
}

// UploadJob is one asynchronous request to turn source content into a question pool.
type UploadJob struct {
	ID           string           `json:"id"`
	OwnerID      string           `json:"ownerId"`
	Subject      string           `json:"subject"`
	SourceKind   SourceKind       `json:"sourceKind"`
	State        JobState         `json:"state"`
	ResultPoolID string           `json:"resultPoolId,omitempty"`
	ErrorMessage string           `json:"errorMessage,omitempty"`
	Params       GenerationParams `json:"params"`
	CreatedAt    time.Time        `json:"createdAt"`
	StartedAt    *time.Time       `json:"startedAt,omitempty"`
	FinishedAt   *time.Time       `json:"finishedAt,omitempty"`
}

// Status returns the externally visible snapshot of the job.
func (j UploadJob) Status() JobStatus {
	return JobStatus{
		JobID:        j.ID,
		State:        j.State,
		ResultPoolID: j.ResultPoolID,
		ErrorMessage: j.ErrorMessage,
	}
}

// JobStatus is what pollers and push subscribers observe.
type JobStatus struct {
	JobID        string   `json:"jobId"`
	State        JobState `json:"state"`
	ResultPoolID string   `json:"resultPoolId,omitempty"`
	ErrorMessage string   `json:"errorMessage,omitempty"`
}

// JobTransition describes a compare-and-set state change applied by a job store.
type JobTransition struct {
	From         JobState
	To           JobState
	ResultPoolID string
	ErrorMessage string
	At           time.Time
}

// Apply returns job with the transition applied. It does not check From.
func (t JobTransition) Apply(job UploadJob) UploadJob {
	job.State = t.To
	at := t.At
	switch t.To {
	case JobProcessing:
		job.StartedAt = &at
	case JobCompleted:
		job.ResultPoolID = t.ResultPoolID
		job.FinishedAt = &at
	case JobFailed:
		job.ErrorMessage = t.ErrorMessage
		job.FinishedAt = &at
	}
	return job
}

// QuestionKind tags the variant of a question item.
type QuestionKind string

const (
	KindMCQ         QuestionKind = "mcq"
	KindDescriptive QuestionKind = "descriptive"
)

// QuestionItem is a generated candidate question.
// Options is only meaningful for mcq items.
type QuestionItem struct {
	ID            string       `json:"id"`
	PoolID        string       `json:"poolId"`
	Kind          QuestionKind `json:"kind"`
	Text          string       `json:"text"`
	Options       []string     `json:"options,omitempty"`
	CorrectAnswer string       `json:"correctAnswer"`
	Context       string       `json:"context,omitempty"`
	Difficulty    string       `json:"difficulty,omitempty"`
	Subject       string       `json:"subject,omitempty"`
	Marks         float64      `json:"marks"`
	Invalidated   bool         `json:"invalidated,omitempty"`
}

// Public strips the reference answer for participant delivery.
func (q QuestionItem) Public() PublicQuestion {
	opts := make([]string, len(q.Options))
	copy(opts, q.Options)
	return PublicQuestion{
		ID:         q.ID,
		Kind:       q.Kind,
		Text:       q.Text,
		Options:    opts,
		Context:    q.Context,
		Difficulty: q.Difficulty,
		Subject:    q.Subject,
		Marks:      q.Marks,
	}
}

// PublicQuestion is a question item as shown to a participant. It has no answer field at all.
type PublicQuestion struct {
	ID         string       `json:"id"`
	Kind       QuestionKind `json:"kind"`
	Text       string       `json:"text"`
	Options    []string     `json:"options,omitempty"`
	Context    string       `json:"context,omitempty"`
	Difficulty string       `json:"difficulty,omitempty"`
	Subject    string       `json:"subject,omitempty"`
	Marks      float64      `json:"marks"`
}

// Pool groups the items produced by one completed job.
type Pool struct {
	ID        string         `json:"id"`
	JobID     string         `json:"jobId"`
	OwnerID   string         `json:"ownerId"`
	Subject   string         `json:"subject"`
	Items     []QuestionItem `json:"items"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Counts holds the number of valid items per kind.
type Counts struct {
	MCQ         int `json:"mcq"`
	Descriptive int `json:"descriptive"`
}

// Of returns the count for kind.
func (c Counts) Of(kind QuestionKind) int {
	if kind == KindMCQ {
		return c.MCQ
	}
	return c.Descriptive
}

// PoolView is the owner's view of a pool: only valid items, plus derived counts.
type PoolView struct {
	PoolID      string         `json:"poolId"`
	Subject     string         `json:"subject"`
	MCQ         []QuestionItem `json:"mcqs"`
	Descriptive []QuestionItem `json:"descriptive"`
	Counts      Counts         `json:"counts"`
}

// TestSession is a graded test instance created against one pool.
type TestSession struct {
	Token              string    `json:"token"`
	PoolID             string    `json:"poolId"`
	Subject            string    `json:"subject"`
	DesiredMCQ         int       `json:"desiredMCQs"`
	DesiredDescriptive int       `json:"desiredDescriptive"`
	CreatedBy          string    `json:"createdBy"`
	CreatedAt          time.Time `json:"createdAt"`
}

// TotalQuestions is the number of items every participant receives.
func (s TestSession) TotalQuestions() int {
	return s.DesiredMCQ + s.DesiredDescriptive
}

// Assignment is the ordered set of items shown to one participant in one session.
type Assignment struct {
	SessionToken   string    `json:"sessionToken"`
	ParticipantID  string    `json:"participantId"`
	MCQIDs         []string  `json:"mcqIds"`
	DescriptiveIDs []string  `json:"descriptiveIds"`
	AssignedAt     time.Time `json:"assignedAt"`
	// Draws counts how many times the participant joined before submitting.
	Draws int `json:"draws"`
}

// ItemIDs returns mcq ids followed by descriptive ids.
func (a Assignment) ItemIDs() []string {
	ids := make([]string, 0, len(a.MCQIDs)+len(a.DescriptiveIDs))
	ids = append(ids, a.MCQIDs...)
	return append(ids, a.DescriptiveIDs...)
}

// JoinResult is returned to a participant joining a session.
type JoinResult struct {
	Token       string           `json:"token"`
	Subject     string           `json:"subject"`
	MCQ         []PublicQuestion `json:"mcqs"`
	Descriptive []PublicQuestion `json:"descriptive"`
}

// AnswerEntry is one submitted answer keyed by item id.
type AnswerEntry struct {
	ID     string `json:"id"`
	Answer string `json:"answer"`
}

// Answers groups submitted answers by question kind.
type Answers struct {
	MCQ         []AnswerEntry `json:"mcq"`
	Descriptive []AnswerEntry `json:"descriptive"`
}

// ItemResult records how one assigned item was graded.
type ItemResult struct {
	ItemID     string       `json:"itemId"`
	Kind       QuestionKind `json:"kind"`
	Answer     string       `json:"answer"`
	Similarity *float64     `json:"similarity,omitempty"`
	Awarded    float64      `json:"awarded"`
	Marks      float64      `json:"marks"`
}

// Submission is one participant's final, scored set of answers for one session.
type Submission struct {
	SessionToken  string       `json:"sessionToken"`
	ParticipantID string       `json:"participantId"`
	Assignment    Assignment   `json:"assignment"`
	Answers       Answers      `json:"answers"`
	Results       []ItemResult `json:"results"`
	Score         float64      `json:"score"`
	TotalMarks    float64      `json:"totalMarks"`
	SubmittedAt   time.Time    `json:"submittedAt"`
}

// GradeResult is returned to the participant after a successful submission.
type GradeResult struct {
	Score      float64 `json:"score"`
	TotalMarks float64 `json:"totalMarks"`
}

// LeaderboardEntry is derived from a submission; it is never stored.
type LeaderboardEntry struct {
	Rank          int       `json:"rank"`
	ParticipantID string    `json:"participantId"`
	Score         float64   `json:"score"`
	TotalMarks    float64   `json:"totalMarks"`
	SubmittedAt   time.Time `json:"submittedAt"`
}

// Leaderboard captures the ordered ranking for a session.
type Leaderboard struct {
	Token          string             `json:"token"`
	Entries        []LeaderboardEntry `json:"entries"`
	ClassAverage   float64            `json:"classAverage"`
	TotalQuestions int                `json:"totalQuestions"`
}

// SessionResults is the owner's full view of a session's submissions.
type SessionResults struct {
	Token        string       `json:"token"`
	Submissions  []Submission `json:"submissions"`
	ClassAverage float64      `json:"classAverage"`
}

// ParticipantPerformance is one participant's outcome on a single item.
type ParticipantPerformance struct {
	SessionToken  string    `json:"sessionToken"`
	ParticipantID string    `json:"participantId"`
	Answer        string    `json:"answer"`
	Correct       *bool     `json:"correct,omitempty"`
	Similarity    *float64  `json:"similarity,omitempty"`
	Awarded       float64   `json:"awarded"`
	SubmittedAt   time.Time `json:"submittedAt"`
}

// QuestionHistory pairs an item with every graded answer it received.
type QuestionHistory struct {
	Item        QuestionItem             `json:"item"`
	Performance []ParticipantPerformance `json:"performance"`
}
