package pipeline

import (
	"crypto/sha256"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dgallion1/quizgest/internal/exam"
	"github.com/google/uuid"
)

// JobStatus is the published state of an extraction run.
type JobStatus string

const (
	StatusQueued  JobStatus = "queued"
	StatusLoading JobStatus = "loading"
	StatusSuccess JobStatus = "success"
	StatusError   JobStatus = "error"
)

// Terminal reports whether no further transitions will happen.
func (s JobStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

// Phases reported while loading.
const (
	PhaseQueued      = "queued"
	PhaseNetwork     = "checking_network"
	PhaseRendering   = "rendering"
	PhaseRecognizing = "recognizing"
	PhaseExtracting  = "extracting"
	PhaseDone        = "done"
)

// Job is the latest-state cell for one document run. Every change is
// published to subscribers.
type Job struct {
	mu sync.Mutex

	ID       string
	Filename string
	Title    string

	status    JobStatus
	phase     string
	message   string
	progress  Progress
	createdAt time.Time
	updatedAt time.Time

	fileData    []byte
	contentHash string
	questions   []exam.Question
	errors      []string

	subs   map[int]chan JobSnapshot
	nextID int
}

// Progress tracks processing progress.
type Progress struct {
	TotalPages       int      `json:"total_pages"`
	PagesRecognized  int      `json:"pages_recognized"`
	TotalBatches     int      `json:"total_batches"`
	BatchesProcessed int      `json:"batches_processed"`
	BatchesSkipped   int      `json:"batches_skipped"`
	Questions        int      `json:"questions"`
	Errors           []string `json:"errors"`
}

// NewJob creates a queued job owning data.
func NewJob(filename, title string, data []byte) *Job {
	now := time.Now()
	return &Job{
		ID:          uuid.NewString(),
		Filename:    filename,
		Title:       title,
		status:      StatusQueued,
		phase:       PhaseQueued,
		createdAt:   now,
		updatedAt:   now,
		fileData:    data,
		contentHash: ContentHashHex(data),
	}
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Cleanup removes finished jobs older than the TTL.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		snap := job.Snapshot()
		if snap.Status.Terminal() && now.Sub(snap.UpdatedAt) > s.ttl {
			delete(s.jobs, id)
		}
	}
}

// SetStatus moves the job to status/phase and publishes the change.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.update(func() {
		j.status = status
		j.phase = phase
	})
}

// SetPhase changes the phase within the current status.
func (j *Job) SetPhase(phase string) {
	j.update(func() { j.phase = phase })
}

// AddError records a non-fatal problem.
func (j *Job) AddError(err string) {
	j.update(func() { j.errors = append(j.errors, err) })
}

// SetTotalPages records the document page count.
func (j *Job) SetTotalPages(n int) {
	j.update(func() { j.progress.TotalPages = n })
}

// IncrPagesRecognized counts one page through OCR.
func (j *Job) IncrPagesRecognized() {
	j.update(func() { j.progress.PagesRecognized++ })
}

// SetTotalBatches records the planned batch count.
func (j *Job) SetTotalBatches(n int) {
	j.update(func() { j.progress.TotalBatches = n })
}

// BatchDone counts a processed batch and the questions it produced.
func (j *Job) BatchDone(questions int) {
	j.update(func() {
		j.progress.BatchesProcessed++
		j.progress.Questions += questions
	})
}

// BatchSkipped counts a batch that exhausted its retries.
func (j *Job) BatchSkipped() {
	j.update(func() {
		j.progress.BatchesSkipped++
	})
}

// Succeed publishes the final question set.
func (j *Job) Succeed(qs []exam.Question) {
	j.update(func() {
		j.status = StatusSuccess
		j.phase = PhaseDone
		j.questions = qs
		j.progress.Questions = len(qs)
	})
}

// Fail publishes a user-facing error message.
func (j *Job) Fail(message string) {
	j.update(func() {
		j.status = StatusError
		j.phase = PhaseDone
		j.message = message
	})
}

// FileData returns the raw document bytes.
func (j *Job) FileData() []byte {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.fileData
}

// ReleaseFileData drops the document bytes once the run no longer needs them.
func (j *Job) ReleaseFileData() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.fileData = nil
}

// Questions returns the result of a successful run.
func (j *Job) Questions() []exam.Question {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.questions)
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID          string        `json:"job_id"`
	Status      JobStatus     `json:"status"`
	Phase       string        `json:"phase"`
	Filename    string        `json:"filename"`
	Title       string        `json:"title,omitempty"`
	Message     string        `json:"message,omitempty"`
	ContentHash string        `json:"content_hash"`
	Progress    Progress      `json:"progress"`
	Summary     *exam.Summary `json:"summary,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snapshotLocked()
}

func (j *Job) snapshotLocked() JobSnapshot {
	p := j.progress
	p.Errors = slices.Clone(j.errors)
	if p.Errors == nil {
		p.Errors = []string{}
	}
	snap := JobSnapshot{
		ID:          j.ID,
		Status:      j.status,
		Phase:       j.phase,
		Filename:    j.Filename,
		Title:       j.Title,
		Message:     j.message,
		ContentHash: j.contentHash,
		Progress:    p,
		CreatedAt:   j.createdAt,
		UpdatedAt:   j.updatedAt,
	}
	if j.status == StatusSuccess {
		s := exam.Summarize(j.questions)
		snap.Summary = &s
	}
	return snap
}

// Subscribe returns a channel that always holds the newest snapshot,
// starting with the current one. Values a slow reader has not taken are
// replaced, never queued. The channel is closed after the terminal
// snapshot or when cancel is called.
func (j *Job) Subscribe() (<-chan JobSnapshot, func()) {
	j.mu.Lock()
	defer j.mu.Unlock()

	ch := make(chan JobSnapshot, 1)
	ch <- j.snapshotLocked()
	if j.status.Terminal() {
		close(ch)
		return ch, func() {}
	}
	if j.subs == nil {
		j.subs = make(map[int]chan JobSnapshot)
	}
	id := j.nextID
	j.nextID++
	j.subs[id] = ch

	return ch, func() {
		j.mu.Lock()
		defer j.mu.Unlock()
		if c, ok := j.subs[id]; ok {
			delete(j.subs, id)
			close(c)
		}
	}
}

func (j *Job) update(fn func()) {
	j.mu.Lock()
	defer j.mu.Unlock()
	fn()
	j.updatedAt = time.Now()

	snap := j.snapshotLocked()
	for id, ch := range j.subs {
		// Sends happen only under j.mu, so draining then sending cannot block.
		select {
		case <-ch:
		default:
		}
		ch <- snap
		if snap.Status.Terminal() {
			close(ch)
			delete(j.subs, id)
		}
	}
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
