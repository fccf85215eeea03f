// Package handoffqueue implements the in-process typed message queue
// used only in thread-pool mode (C6): per-recipient FIFO mailboxes and a
// response-waiter table keyed by message id.
package handoffqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MessageType is one of task, response, or shutdown (spec §6).
type MessageType string

const (
	MessageTask     MessageType = "task"
	MessageResponse MessageType = "response"
	MessageShutdown MessageType = "shutdown"
)

// Outcome is the packaged result an Isolated Worker posts back after
// running process_with_tools on a task (spec §6 "package the outcome").
type Outcome struct {
	Response        string
	Success         bool
	Error           string
	ProcessingTime  time.Duration
	PendingHandoff  any // *tools.HandoffDescriptor; kept as any to avoid an import cycle
}

// Message is one entry in a mailbox.
type Message struct {
	ID               string
	Type             MessageType
	ToAgent          string
	ReplyTo          string
	UserInput        string
	IsParallelBranch bool
	Outcome          *Outcome
}

// NewTask builds an ordinary task message addressed to toAgent, with a
// fresh unique id and the given reply-to mailbox name.
func NewTask(toAgent, replyTo, userInput string) Message {
	return Message{ID: uuid.New().String(), Type: MessageTask, ToAgent: toAgent, ReplyTo: replyTo, UserInput: userInput}
}

// NewBranchTask builds a task message for a parallel-handoff branch
// dispatch: the worker must run it against an isParallelBranch=true
// registry fork so the handoff sentinel refuses a nested handoff the
// same way runBranchSerial's forked registry does (spec §4.5 rule 1).
func NewBranchTask(toAgent, replyTo, userInput string) Message {
	return Message{ID: uuid.New().String(), Type: MessageTask, ToAgent: toAgent, ReplyTo: replyTo, UserInput: userInput, IsParallelBranch: true}
}

// NewShutdown builds a shutdown message addressed to toAgent.
func NewShutdown(toAgent string) Message {
	return Message{ID: uuid.New().String(), Type: MessageShutdown, ToAgent: toAgent}
}

type waiter struct {
	ch chan Message
}

// Queue is the shared mailbox set plus the response-waiter table (spec
// §6 HandoffQueue entity).
type Queue struct {
	mu        sync.Mutex
	mailboxes map[string]chan Message
	waiters   map[string]*waiter
}

// New constructs an empty Queue.
func New() *Queue {
	return &Queue{
		mailboxes: make(map[string]chan Message),
		waiters:   make(map[string]*waiter),
	}
}

// RegisterAgent creates a mailbox for name if one does not already
// exist. Each mailbox is a channel buffered to 4096 messages; a producer
// blocks only once a mailbox holds that many undelivered messages.
func (q *Queue) RegisterAgent(name string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.mailboxes[name]; !ok {
		q.mailboxes[name] = make(chan Message, 4096)
	}
}

// SendToAgent enqueues msg into the mailbox of msg.ToAgent.
func (q *Queue) SendToAgent(msg Message) error {
	q.mu.Lock()
	mbox, ok := q.mailboxes[msg.ToAgent]
	q.mu.Unlock()
	if !ok {
		return fmt.Errorf("handoffqueue: no mailbox registered for %q", msg.ToAgent)
	}

	if msg.Type == MessageResponse {
		q.mu.Lock()
		w, waiting := q.waiters[msg.ID]
		q.mu.Unlock()
		if waiting {
			w.ch <- msg
			return nil
		}
	}

	mbox <- msg
	return nil
}

// Receive blocks until a message arrives in name's mailbox, or ctx is
// cancelled.
func (q *Queue) Receive(ctx context.Context, name string) (Message, error) {
	q.mu.Lock()
	mbox, ok := q.mailboxes[name]
	q.mu.Unlock()
	if !ok {
		return Message{}, fmt.Errorf("handoffqueue: no mailbox registered for %q", name)
	}
	select {
	case msg := <-mbox:
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// RegisterResponseWaiter opens a single-shot slot for messageID so a
// later SendToAgent of a matching response message is routed straight
// to WaitForResponse instead of sitting in a mailbox.
func (q *Queue) RegisterResponseWaiter(messageID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.waiters[messageID] = &waiter{ch: make(chan Message, 1)}
}

// WaitForResponse blocks until a response keyed by messageID arrives or
// timeout elapses; the coordinator-side half of the thread-pool
// round-trip (spec §6, §7 "thread-pool mode").
func (q *Queue) WaitForResponse(messageID string, timeout time.Duration) (*Message, error) {
	q.mu.Lock()
	w, ok := q.waiters[messageID]
	q.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("handoffqueue: no waiter registered for %q", messageID)
	}
	defer func() {
		q.mu.Lock()
		delete(q.waiters, messageID)
		q.mu.Unlock()
	}()

	select {
	case msg := <-w.ch:
		return &msg, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("handoffqueue: timed out waiting for response to %q", messageID)
	}
}
