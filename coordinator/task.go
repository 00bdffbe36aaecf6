package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/b00t-dev/acs/acserr"
	"github.com/b00t-dev/acs/envelope"
	"github.com/b00t-dev/acs/router"
)

// SendMessage publishes a DirectMessage, at-most-once, returning the
// generated message id (spec §4.5 item 4, send_message).
func (c *Coordinator) SendMessage(ctx context.Context, to, subject, content string, requiresAck bool) (string, error) {
	messageID := envelope.NewMessageID()
	dm := envelope.DirectMessage{
		From: c.selfID, To: to, Subject: subject, Content: content,
		MessageID: messageID, RequiresAck: requiresAck,
	}
	env, err := envelope.New(envelope.KindDirectMessage, c.selfID, dm)
	if err != nil {
		return "", err
	}
	if err := c.rt.Route(ctx, env, router.Agent(to)); err != nil {
		return "", err
	}
	return messageID, nil
}

// DelegateTask publishes a TaskDelegation to worker_id. If blocking, it
// inserts a pending-task slot BEFORE publishing, then waits up to deadline
// for a matching TaskCompletion (spec §4.5 item 4, delegate_task). A
// negative deadline selects the 1h default; a zero deadline times out at
// once. Timeouts remove the slot and return acserr.ErrTaskTimedOut.
func (c *Coordinator) DelegateTask(ctx context.Context, workerID, taskID, description string, priority envelope.TaskPriority, deadline time.Duration, requiredCaps []string, blocking bool) (*envelope.TaskCompletion, error) {
	timeout := deadline
	if timeout < 0 {
		timeout = defaultDelegationTimeout
	}

	var slot chan envelope.TaskCompletion
	if blocking {
		slot = make(chan envelope.TaskCompletion, 1)
		c.mu.Lock()
		c.pendingTasks[taskID] = slot
		c.mu.Unlock()
	}

	td := envelope.TaskDelegation{
		CaptainID: c.selfID, WorkerID: workerID, TaskID: taskID,
		Description: description, Priority: priority,
		RequiredCapabilities: requiredCaps, Blocking: blocking,
	}
	env, err := envelope.New(envelope.KindTaskDelegation, c.selfID, td)
	if err != nil {
		c.removePendingTask(taskID)
		return nil, err
	}
	if err := c.rt.Route(ctx, env, router.Agent(workerID)); err != nil {
		c.removePendingTask(taskID)
		return nil, err
	}

	if !blocking {
		return nil, nil
	}

	if timeout == 0 {
		// Boundary behavior (spec §8): deadline zero resolves immediately
		// with TaskTimedOut.
		c.removePendingTask(taskID)
		return nil, acserr.New(acserr.Coordination, "coordinator.DelegateTask", fmt.Errorf("%w: task %s", acserr.ErrTaskTimedOut, taskID))
	}

	select {
	case tc := <-slot:
		return &tc, nil
	case <-time.After(timeout):
		c.removePendingTask(taskID)
		return nil, acserr.New(acserr.Coordination, "coordinator.DelegateTask", fmt.Errorf("%w: task %s", acserr.ErrTaskTimedOut, taskID))
	case <-ctx.Done():
		c.removePendingTask(taskID)
		return nil, ctx.Err()
	}
}

func (c *Coordinator) removePendingTask(taskID string) {
	c.mu.Lock()
	delete(c.pendingTasks, taskID)
	c.mu.Unlock()
}

// resolveTask completes the pending-task slot for tc.TaskID, if one exists.
// Resolving a slot more than once is suppressed (spec §3, pending-task
// invariant iii): the slot is removed before the send so a second arrival
// is treated as unsolicited and just logged.
func (c *Coordinator) resolveTask(tc envelope.TaskCompletion) {
	c.mu.Lock()
	slot, ok := c.pendingTasks[tc.TaskID]
	if ok {
		delete(c.pendingTasks, tc.TaskID)
	}
	c.mu.Unlock()

	if !ok {
		c.log.Debug().Str("task_id", tc.TaskID).Msg("unsolicited task completion")
		return
	}
	select {
	case slot <- tc:
	default:
		// slot already resolved/dropped; nothing to do.
	}
}

// CompleteTask publishes a TaskCompletion back to the captain (spec §4.5
// item 4, complete_task — worker-side).
func (c *Coordinator) CompleteTask(ctx context.Context, tc envelope.TaskCompletion) error {
	env, err := envelope.New(envelope.KindTaskCompletion, c.selfID, tc)
	if err != nil {
		return err
	}
	return c.rt.Route(ctx, env, router.Agent(tc.CaptainID))
}

// ReportProgress is a best-effort broadcast of a ProgressUpdate (spec §4.5
// item 4, report_progress). It goes through router.Broadcast, which delivers
// it to each discovered agent's inbox; nothing is published on the
// b00t:progress:updates channel itself.
func (c *Coordinator) ReportProgress(ctx context.Context, taskID string, percent int, statusMessage string, eta int64) error {
	pu := envelope.ProgressUpdate{
		AgentID: c.selfID, TaskID: taskID, Percent: percent,
		StatusMessage: statusMessage, EstimatedCompletion: eta,
	}
	env, err := envelope.New(envelope.KindProgressUpdate, c.selfID, pu)
	if err != nil {
		return err
	}
	return c.rt.Route(ctx, env, router.Broadcast())
}

// NotifyEvent broadcasts an EventNotification (spec §4.5 item 4,
// notify_event). It goes through router.Broadcast, which delivers it to each
// discovered agent's inbox; nothing is published on the
// b00t:events:notifications channel itself.
func (c *Coordinator) NotifyEvent(ctx context.Context, eventType, source string, details []byte, affected []string) error {
	en := envelope.EventNotification{
		EventType: eventType, Source: source, Details: details,
		Timestamp: time.Now().UTC().Unix(), AffectedAgents: affected,
	}
	env, err := envelope.New(envelope.KindEventNotification, c.selfID, en)
	if err != nil {
		return err
	}
	return c.rt.Route(ctx, env, router.Broadcast())
}
