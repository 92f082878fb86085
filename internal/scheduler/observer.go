package scheduler

import (
	"github.com/sirupsen/logrus"
)

// Observer receives task lifecycle notifications. Calls are synchronous, made
// from the scheduling goroutine in registration order, and receive a snapshot
// of the task taken right after the transition. Returned errors and panics are
// logged and never affect scheduling.
type Observer interface {
	OnStart(task *Task) error
	OnSkip(task *Task) error
	OnSuccess(task *Task) error
	OnFailure(task *Task) error
	OnCancel(task *Task) error
}

type event int

const (
	eventStart event = iota
	eventSkip
	eventSuccess
	eventFailure
	eventCancel
)

func (e event) String() string {
	switch e {
	case eventStart:
		return "start"
	case eventSkip:
		return "skip"
	case eventSuccess:
		return "success"
	case eventFailure:
		return "failure"
	case eventCancel:
		return "cancel"
	}
	return "unknown"
}

func dispatch(o Observer, e event, task *Task) error {
	switch e {
	case eventStart:
		return o.OnStart(task)
	case eventSkip:
		return o.OnSkip(task)
	case eventSuccess:
		return o.OnSuccess(task)
	case eventFailure:
		return o.OnFailure(task)
	case eventCancel:
		return o.OnCancel(task)
	}
	return nil
}

// notify invokes every observer for the event, isolating each call.
func notify(log logrus.FieldLogger, observers []Observer, e event, task *Task) {
	for i, o := range observers {
		func() {
			fields := logrus.Fields{"task": task.ID, "event": e.String(), "observer": i}
			defer func() {
				if r := recover(); r != nil {
					log.WithFields(fields).Errorf("observer panicked: %v", r)
				}
			}()
			if err := dispatch(o, e, cloneTask(task)); err != nil {
				log.WithFields(fields).WithError(err).Warn("observer failed")
			}
		}()
	}
}
