package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type TaskKind string

const (
	TaskReview TaskKind = "review"
	TaskChat   TaskKind = "chat"
)

// Task is one unit of background work: a review run or a chat reply.
type Task struct {
	ID            uuid.UUID
	Kind          TaskKind
	RunID         int64
	PullRequestID int64
	ChatMessageID int64
}

// NewReviewTask returns a task that executes the given run.
func NewReviewTask(runID int64) *Task {
	return &Task{ID: uuid.New(), Kind: TaskReview, RunID: runID}
}

// NewChatTask returns a task that answers the given chat message.
func NewChatTask(pullRequestID, chatMessageID int64) *Task {
	return &Task{ID: uuid.New(), Kind: TaskChat, PullRequestID: pullRequestID, ChatMessageID: chatMessageID}
}

func (t *Task) String() string {
	switch t.Kind {
	case TaskReview:
		return fmt.Sprintf("review run=%d", t.RunID)
	case TaskChat:
		return fmt.Sprintf("chat pr=%d message=%d", t.PullRequestID, t.ChatMessageID)
	default:
		return string(t.Kind)
	}
}

// JobDispatcher accepts tasks for asynchronous processing. Dispatch must not
// block: a full queue is reported as an error so the caller can record the
// rejection.
type JobDispatcher interface {
	Dispatch(ctx context.Context, task *Task) error
	Stop()
}

// Job executes a single task.
type Job interface {
	Run(ctx context.Context, task *Task) error
}
