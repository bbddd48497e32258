package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/kozaktomas/face-registry/internal/constants"
)

// JobStatus represents the status of an async job.
type JobStatus string

// JobStatus constants define the lifecycle states of an async job.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// RebuildJob represents an async proposal rebuild pass.
type RebuildJob struct {
	EventBroadcaster

	ID          string            `json:"id"`
	Status      JobStatus         `json:"status"`
	Phase       string            `json:"phase,omitempty"`
	Progress    int               `json:"progress"`
	Current     int               `json:"current"`
	Total       int               `json:"total"`
	Error       string            `json:"error,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Options     RebuildJobOptions `json:"options"`
	Result      *RebuildJobResult `json:"result,omitempty"`
}

// GetStatus returns the current job status (implements SSEJob).
func (j *RebuildJob) GetStatus() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// Cancel cancels the rebuild job.
func (j *RebuildJob) Cancel() {
	j.EventBroadcaster.Cancel()
	j.mu.Lock()
	j.Status = JobStatusCancelled
	j.mu.Unlock()
}

// RebuildJobOptions represents rebuild job options. Zero values fall back
// to the engine configuration.
type RebuildJobOptions struct {
	Threshold       float64 `json:"threshold,omitempty"`
	MaxGroupSize    int     `json:"max_group_size,omitempty"`
	BatchLimit      int     `json:"batch_limit,omitempty"`
	IncludeAssigned bool    `json:"include_assigned,omitempty"`
	Force           bool    `json:"force,omitempty"`
}

// RebuildJobResult represents the result of a rebuild pass.
type RebuildJobResult struct {
	Examined          int `json:"examined"`
	Created           int `json:"created"`
	SkippedDuplicates int `json:"skipped_duplicates"`
	SkippedOversize   int `json:"skipped_oversize"`
}

// JobEvent represents an event from a job.
type JobEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// EventBroadcaster provides listener management and event broadcasting for async jobs.
// Embed this in job structs to get AddListener, RemoveListener, and SendEvent methods.
type EventBroadcaster struct {
	cancel    context.CancelFunc
	listeners []chan JobEvent
	mu        sync.RWMutex
}

// AddListener adds an event listener.
func (b *EventBroadcaster) AddListener() chan JobEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan JobEvent, constants.EventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener.
func (b *EventBroadcaster) RemoveListener(ch chan JobEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// SendEvent sends an event to all listeners.
func (b *EventBroadcaster) SendEvent(event JobEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}

// Cancel cancels the job via context and sends a cancelled event.
func (b *EventBroadcaster) Cancel() {
	if b.cancel != nil {
		b.cancel()
	}
	b.SendEvent(JobEvent{Type: "cancelled", Message: "Job cancelled by user"})
}

// SSEJob is the interface required by streamSSEEvents to stream job events via SSE.
type SSEJob interface {
	AddListener() chan JobEvent
	RemoveListener(ch chan JobEvent)
	GetStatus() JobStatus
}

// JobManager manages async rebuild jobs. Finished jobs stay around so
// their status and result can still be queried.
type JobManager struct {
	jobs map[string]*RebuildJob
	mu   sync.RWMutex
}

// NewJobManager creates a new job manager.
func NewJobManager() *JobManager {
	return &JobManager{
		jobs: make(map[string]*RebuildJob),
	}
}

// CreateJob creates a new rebuild job.
func (m *JobManager) CreateJob(id string, options RebuildJobOptions) *RebuildJob {
	job := &RebuildJob{
		ID:        id,
		Status:    JobStatusPending,
		StartedAt: time.Now(),
		Options:   options,
	}

	m.mu.Lock()
	m.jobs[id] = job
	m.mu.Unlock()

	return job
}

// GetJob retrieves a job by ID.
func (m *JobManager) GetJob(id string) *RebuildJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// ActiveJob returns the pending or running job, or nil when no pass is in
// flight. At most one rebuild runs per process.
func (m *JobManager) ActiveJob() *RebuildJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, job := range m.jobs {
		status := job.GetStatus()
		if status == JobStatusPending || status == JobStatusRunning {
			return job
		}
	}
	return nil
}

// DeleteJob removes a job.
func (m *JobManager) DeleteJob(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
}

// ListJobs returns all jobs.
func (m *JobManager) ListJobs() []*RebuildJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobs := make([]*RebuildJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	return jobs
}
