// Package progress fans per-job enrichment progress out to HTTP clients.
package progress

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/glyphic-ai/enrichment-engine/internal/observability"
	"github.com/glyphic-ai/enrichment-engine/internal/storage"
)

// RingSize is how many recent events each job retains for replay.
const RingSize = 10

// Event types.
const (
	EventProgress = "progress"
	EventComplete = "complete"
)

// Event is one progress update pushed to subscribers.
type Event struct {
	JobID     string    `json:"jobId"`
	Type      string    `json:"type"`
	Processed int       `json:"processed"`
	Total     int       `json:"total"`
	Success   int       `json:"success"`
	Failure   int       `json:"failure"`
	Status    string    `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type jobEntry struct {
	ring       []Event
	subscriber chan Event
	done       bool
}

// Notifier is the in-memory per-job event registry. Each job holds a bounded
// ring of recent events and at most one push channel.
type Notifier struct {
	mu     sync.Mutex
	jobs   map[uuid.UUID]*jobEntry
	logger *observability.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(logger *observability.Logger) *Notifier {
	return &Notifier{jobs: make(map[uuid.UUID]*jobEntry), logger: logger}
}

// JobProgress records one item's progress and pushes it to the subscriber.
func (n *Notifier) JobProgress(jobID uuid.UUID, processed, total, success, failure int) {
	n.publish(jobID, Event{
		JobID:     jobID.String(),
		Type:      EventProgress,
		Processed: processed,
		Total:     total,
		Success:   success,
		Failure:   failure,
		Timestamp: time.Now(),
	})
}

// JobComplete records the terminal event for a job.
func (n *Notifier) JobComplete(jobID uuid.UUID, status storage.BatchStatus) {
	n.publish(jobID, Event{
		JobID:     jobID.String(),
		Type:      EventComplete,
		Status:    string(status),
		Timestamp: time.Now(),
	})
}

func (n *Notifier) publish(jobID uuid.UUID, event Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	entry := n.jobs[jobID]
	if entry == nil {
		entry = &jobEntry{}
		n.jobs[jobID] = entry
	}

	entry.ring = append(entry.ring, event)
	if len(entry.ring) > RingSize {
		entry.ring = entry.ring[len(entry.ring)-RingSize:]
	}
	if event.Type == EventComplete {
		entry.done = true
	}

	if entry.subscriber != nil {
		select {
		case entry.subscriber <- event:
		default:
			// Client is not draining; drop it.
			close(entry.subscriber)
			entry.subscriber = nil
			n.logger.Warn().Str("job_id", jobID.String()).Msg("Progress subscriber stalled, dropped")
		}
		if event.Type == EventComplete && entry.subscriber != nil {
			close(entry.subscriber)
			entry.subscriber = nil
		}
	}
}

// Subscribe attaches the single subscriber channel for a job and returns the
// replay of retained events. A previous subscriber is closed. For jobs that
// already completed, the returned channel is nil and the replay holds the
// terminal event.
func (n *Notifier) Subscribe(jobID uuid.UUID) (<-chan Event, []Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	entry := n.jobs[jobID]
	if entry == nil {
		entry = &jobEntry{}
		n.jobs[jobID] = entry
	}
	replay := append([]Event(nil), entry.ring...)

	if entry.done {
		return nil, replay
	}
	if entry.subscriber != nil {
		close(entry.subscriber)
	}
	ch := make(chan Event, RingSize)
	entry.subscriber = ch
	return ch, replay
}

// Unsubscribe detaches and closes the given subscriber channel. A channel
// already replaced by a newer Subscribe call is left alone.
func (n *Notifier) Unsubscribe(jobID uuid.UUID, ch <-chan Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	entry := n.jobs[jobID]
	if entry == nil || entry.subscriber == nil || (<-chan Event)(entry.subscriber) != ch {
		return
	}
	close(entry.subscriber)
	entry.subscriber = nil
}

// Forget drops all state for a job.
func (n *Notifier) Forget(jobID uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if entry := n.jobs[jobID]; entry != nil && entry.subscriber != nil {
		close(entry.subscriber)
	}
	delete(n.jobs, jobID)
}
