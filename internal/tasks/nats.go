package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"datalab-service/internal/progress"
)

const (
	StreamName       = "DATALAB"
	TaskSubject      = "datalab.tasks.initialize"
	progressPrefix   = "datalab.progress."
	workerConsumer   = "datalabWorker"
	workerAckTimeout = 2 * time.Hour
)

// TaskMessage is published on TaskSubject for a worker to run.
type TaskMessage struct {
	TaskID  string            `json:"task_id"`
	Request InitializeRequest `json:"request"`
}

// JetStream is the subset of nats.JetStreamContext used here.
type JetStream interface {
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
	Subscribe(subj string, cb nats.MsgHandler, opts ...nats.SubOpt) (*nats.Subscription, error)
}

// Conn is the subset of *nats.Conn used for progress messages.
type Conn interface {
	Publish(subj string, data []byte) error
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// EnsureStream creates the task stream when it does not exist yet.
func EnsureStream(js JetStream, log logrus.FieldLogger) error {
	if _, err := js.StreamInfo(StreamName); err == nil {
		return nil
	}
	log.WithField("stream", StreamName).Info("Stream not found, creating it")
	_, err := js.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{"datalab.tasks.>"},
		Storage:  nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create NATS stream %s: %w", StreamName, err)
	}
	return nil
}

// progressMessage is published on datalab.progress.<task id>.
type progressMessage struct {
	Status  string  `json:"status"`
	Current float64 `json:"current"`
}

// NATSSink publishes a task's progress reports.
type NATSSink struct {
	Conn   Conn
	TaskID string
	Log    logrus.FieldLogger
}

func (s NATSSink) Report(status string, ratio float64) {
	payload, err := json.Marshal(progressMessage{Status: status, Current: ratio})
	if err == nil {
		err = s.Conn.Publish(progressPrefix+s.TaskID, payload)
	}
	if err != nil && s.Log != nil {
		s.Log.WithError(err).WithField("task_id", s.TaskID).Warn("Failed to publish progress")
	}
}

// NATSQueue publishes tasks to JetStream for a Worker and follows their
// progress over core NATS.
type NATSQueue struct {
	tasks *Registry
	js    JetStream
	conn  Conn
	board *progressBoard
	log   logrus.FieldLogger
	sub   *nats.Subscription
}

func NewNATSQueue(tasks *Registry, js JetStream, conn Conn, log logrus.FieldLogger) *NATSQueue {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &NATSQueue{tasks: tasks, js: js, conn: conn, board: newProgressBoard(), log: log}
}

// Start ensures the stream and subscribes to progress messages.
func (q *NATSQueue) Start() error {
	if err := EnsureStream(q.js, q.log); err != nil {
		return err
	}
	sub, err := q.conn.Subscribe(progressPrefix+"*", q.onProgress)
	if err != nil {
		return fmt.Errorf("failed to subscribe to progress: %w", err)
	}
	q.sub = sub
	return nil
}

func (q *NATSQueue) onProgress(msg *nats.Msg) {
	id := strings.TrimPrefix(msg.Subject, progressPrefix)
	var pm progressMessage
	if err := json.Unmarshal(msg.Data, &pm); err != nil {
		q.log.WithError(err).WithField("subject", msg.Subject).Warn("Malformed progress message")
		return
	}
	q.board.set(id, progress.Update{Status: pm.Status, Current: pm.Current})
}

func (q *NATSQueue) Submit(ctx context.Context, req InitializeRequest) (string, error) {
	task, err := q.tasks.Begin(ctx, "initialize_dataset", SlotInitialize)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(TaskMessage{TaskID: task.ID, Request: req})
	if err == nil {
		var ack *nats.PubAck
		ack, err = q.js.Publish(TaskSubject, payload)
		if err == nil {
			q.log.WithFields(logrus.Fields{"task_id": task.ID, "stream": ack.Stream, "sequence": ack.Sequence}).Info("Published import task")
			return task.ID, nil
		}
	}
	if ferr := q.tasks.Finish(ctx, task.ID, nil, err); ferr != nil {
		q.log.WithError(ferr).WithField("task_id", task.ID).Error("Failed to release task slot")
	}
	return "", fmt.Errorf("failed to publish task %s: %w", task.ID, err)
}

func (q *NATSQueue) Poll(ctx context.Context, id string) (*Status, error) {
	task, err := q.tasks.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !task.IsActive {
		q.board.drop(id)
	}
	return statusOf(task, q.board), nil
}

// Close stops following progress.
func (q *NATSQueue) Close() error {
	if q.sub == nil {
		return nil
	}
	return q.sub.Unsubscribe()
}

// Worker consumes import tasks from JetStream and runs them one at a time.
type Worker struct {
	tasks  *Registry
	runner Runner
	js     JetStream
	conn   Conn
	log    logrus.FieldLogger
}

func NewWorker(tasks *Registry, runner Runner, js JetStream, conn Conn, log logrus.FieldLogger) *Worker {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Worker{tasks: tasks, runner: runner, js: js, conn: conn, log: log}
}

// Start subscribes with a durable consumer. It returns once subscribed.
func (w *Worker) Start() (*nats.Subscription, error) {
	if err := EnsureStream(w.js, w.log); err != nil {
		return nil, err
	}
	sub, err := w.js.Subscribe(TaskSubject, w.handle,
		nats.Durable(workerConsumer), nats.ManualAck(), nats.AckWait(workerAckTimeout), nats.MaxAckPending(1))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s with durable consumer %s: %w", TaskSubject, workerConsumer, err)
	}
	w.log.WithFields(logrus.Fields{"subject": TaskSubject, "consumer": workerConsumer}).Info("Waiting for import tasks")
	return sub, nil
}

func (w *Worker) handle(msg *nats.Msg) {
	var task TaskMessage
	if err := json.Unmarshal(msg.Data, &task); err != nil || task.TaskID == "" {
		w.log.WithError(err).Error("Malformed task message, terminating it")
		if err := msg.Term(); err != nil {
			w.log.WithError(err).Warn("Failed to terminate message")
		}
		return
	}
	if t, err := w.tasks.Get(context.Background(), task.TaskID); err == nil && !t.IsActive {
		w.log.WithField("task_id", task.TaskID).Info("Task already finished, acknowledging redelivery")
		_ = msg.Ack()
		return
	}
	sink := NATSSink{Conn: w.conn, TaskID: task.TaskID, Log: w.log}
	run(context.Background(), w.tasks, w.runner, task.TaskID, task.Request, sink, w.log)
	if err := msg.Ack(); err != nil {
		w.log.WithError(err).WithField("task_id", task.TaskID).Warn("Failed to acknowledge task")
	}
}
