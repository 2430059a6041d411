package dispatch

import (
	"context"
	"fmt"

	"github.com/endorses/notibridge/internal/pkg/classifier"
	"github.com/endorses/notibridge/internal/pkg/logger"
	"github.com/endorses/notibridge/internal/pkg/types"
)

// Classifier decides what a record becomes
type Classifier interface {
	Classify(rec *types.ActivityRecord) classifier.Result
}

// Sender delivers a notification or reports it dropped
type Sender interface {
	Send(n *types.Notification) error
}

// Metrics records the outcome of each dispatch. reason is
// classifier.ReasonNone for records that produced a notification.
type Metrics interface {
	ActivityClassified(reason classifier.Reason)
}

type nopMetrics struct{}

func (nopMetrics) ActivityClassified(classifier.Reason) {}

// Dispatcher runs classify-and-send cycles one at a time
type Dispatcher struct {
	serializer *Serializer
	classifier Classifier
	sender     Sender
	metrics    Metrics
}

// NewDispatcher wires a dispatcher. A nil metrics records nothing.
func NewDispatcher(s *Serializer, c Classifier, sender Sender, metrics Metrics) *Dispatcher {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Dispatcher{
		serializer: s,
		classifier: c,
		sender:     sender,
		metrics:    metrics,
	}
}

// Dispatch classifies rec and sends the resulting notification while token
// holds the serializer. A drop decision is not an error. A notification
// the sender could not deliver is returned together with the send error;
// it is never retried.
func (d *Dispatcher) Dispatch(ctx context.Context, token Token, rec *types.ActivityRecord) (classifier.Result, error) {
	if err := d.serializer.Acquire(ctx, token); err != nil {
		return classifier.Result{}, fmt.Errorf("failed to acquire dispatch: %w", err)
	}
	defer func() {
		if err := d.serializer.Release(token); err != nil {
			logger.Error("Dispatch release failed", "token", token, "error", err)
		}
	}()

	res := d.classifier.Classify(rec)
	d.metrics.ActivityClassified(res.Reason)
	if res.Drop {
		return res, nil
	}

	return res, d.sender.Send(res.Notification)
}
