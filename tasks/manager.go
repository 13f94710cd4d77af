// Package tasks owns the catalog of outstanding outbound delivery
// obligations: sends that must be retried, in shuffled batches, until
// acknowledged or cancelled.
//
// An unbounded, dynamically submitted/cancelled set of per-task timers:
// each task's timer fires into a shared command channel rather than a
// shared select statement, so every catalog mutation still happens on a
// single goroutine (the run loop) even though timers themselves live on
// the Go runtime's own goroutines until they fire.
package tasks

import (
	"math"
	"math/rand"
	"time"

	"github.com/opencanarias-go/subjectchain/crypto"
)

// Sender delivers one message to one target. Implemented by the network
// transport; injected here so tasks has no dependency on dispatch/network.
type Sender interface {
	Send(target crypto.KeyIdentifier, message any) error
}

// Config tunes one task's retry behavior.
type Config struct {
	// Timeout is how long an unacknowledged batch waits before the next
	// batch is sent.
	Timeout time.Duration
	// ReplicationFactor is the fraction (0, 1] of Targets contacted per
	// round.
	ReplicationFactor float64
}

// Task is one outbound obligation: message, to targets, with retry Config.
type Task struct {
	ID      string
	Message any
	Targets []crypto.KeyIdentifier
	Config  Config
}

type commandKind int

const (
	cmdSubmit commandKind = iota
	cmdCancel
	cmdTick
)

type command struct {
	kind    commandKind
	taskID  string
	task    Task
	attempt int
}

type taskState struct {
	task      Task
	shuffled  []crypto.KeyIdentifier
	batchSize int
	cursor    int
	attempt   int
	timer     *time.Timer
}

// Manager runs the single-threaded command loop that owns the task
// catalog. Every mutation — submit, cancel, timer tick — is processed by
// run, one at a time; callers communicate with it only through Submit,
// Cancel and DirectResponse.
type Manager struct {
	sender Sender
	cmds   chan command
	done   chan struct{}
	rng    *rand.Rand

	tasks map[string]*taskState
}

func NewManager(sender Sender) *Manager {
	m := &Manager{
		sender: sender,
		cmds:   make(chan command, 64),
		done:   make(chan struct{}),
		rng:    rand.New(rand.NewSource(1)),
		tasks:  make(map[string]*taskState),
	}
	go m.run()
	return m
}

// Shutdown stops the run loop and cancels every outstanding timer.
// In-flight sends are not awaited — they are best-effort at the network
// layer.
func (m *Manager) Shutdown() {
	close(m.done)
}

// Submit registers task, replacing any existing task with the same ID.
// The first batch is sent immediately.
func (m *Manager) Submit(task Task) {
	m.cmds <- command{kind: cmdSubmit, taskID: task.ID, task: task}
}

// Cancel removes task_id from the catalog, if present. Cancellation is
// atomic from the caller's perspective: it is only observed by the run
// loop at its next command, but once processed the task sends no further
// batches.
func (m *Manager) Cancel(taskID string) {
	m.cmds <- command{kind: cmdCancel, taskID: taskID}
}

// DirectResponse is a one-shot, non-retrying send tied to an inbound
// request's own channel — it never enters the catalog and is never
// retried.
func (m *Manager) DirectResponse(target crypto.KeyIdentifier, message any) error {
	return m.sender.Send(target, message)
}

func (m *Manager) run() {
	for {
		select {
		case <-m.done:
			for _, st := range m.tasks {
				stopTimer(st.timer)
			}
			return
		case cmd := <-m.cmds:
			m.handle(cmd)
		}
	}
}

func (m *Manager) handle(cmd command) {
	switch cmd.kind {
	case cmdSubmit:
		m.submit(cmd.task)
	case cmdCancel:
		if st, ok := m.tasks[cmd.taskID]; ok {
			stopTimer(st.timer)
			delete(m.tasks, cmd.taskID)
		}
	case cmdTick:
		st, ok := m.tasks[cmd.taskID]
		if !ok || cmd.attempt != st.attempt {
			return // stale tick for a replaced or cancelled task
		}
		m.sendBatch(st)
		st.attempt++
		st.timer = m.armTimer(st)
	}
}

func (m *Manager) submit(task Task) {
	if existing, ok := m.tasks[task.ID]; ok {
		stopTimer(existing.timer)
	}

	shuffled := append([]crypto.KeyIdentifier(nil), task.Targets...)
	m.rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	factor := task.Config.ReplicationFactor
	if factor <= 0 || factor > 1 {
		factor = 1
	}
	batchSize := int(math.Ceil(float64(len(shuffled)) * factor))
	if batchSize < 1 && len(shuffled) > 0 {
		batchSize = 1
	}

	st := &taskState{task: task, shuffled: shuffled, batchSize: batchSize}
	m.tasks[task.ID] = st
	m.sendBatch(st)
	st.timer = m.armTimer(st)
}

func (m *Manager) sendBatch(st *taskState) {
	n := len(st.shuffled)
	if n == 0 {
		return
	}
	for i := 0; i < st.batchSize && i < n; i++ {
		idx := (st.cursor + i) % n
		_ = m.sender.Send(st.shuffled[idx], st.task.Message)
	}
	st.cursor = (st.cursor + st.batchSize) % n
}

func (m *Manager) armTimer(st *taskState) *time.Timer {
	taskID := st.task.ID
	attempt := st.attempt
	return time.AfterFunc(st.task.Config.Timeout, func() {
		select {
		case m.cmds <- command{kind: cmdTick, taskID: taskID, attempt: attempt}:
		case <-m.done:
		}
	})
}

func stopTimer(t *time.Timer) {
	if t == nil {
		return
	}
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
