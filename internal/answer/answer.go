package answer

import (
	"context"
	"errors"
	"time"

	"github.com/xaenox/medichat/internal/models"
)

// Topic selects which prompt the answer generator runs.
type Topic string

const (
	TopicSymptomRisk Topic = "symptom_risk"
	TopicInformation Topic = "information"
)

// Answer is the generated reply.
type Answer struct {
	Text string `json:"text"`
}

type Answerer interface {
	GenerateAnswer(ctx context.Context, topic Topic, input string) (*Answer, error)
}

// TopicFor maps a quick reply context to a topic. Anything other than
// symptoms is treated as an information request.
func TopicFor(c models.QuickReplyContext) Topic {
	if c == models.ContextSymptoms {
		return TopicSymptomRisk
	}
	return TopicInformation
}

type timeoutAnswerer struct {
	next    Answerer
	timeout time.Duration
}

// WithTimeout bounds every call to next. A zero or negative timeout returns next unchanged.
func WithTimeout(next Answerer, timeout time.Duration) Answerer {
	if timeout <= 0 {
		return next
	}
	return &timeoutAnswerer{next: next, timeout: timeout}
}

func (a *timeoutAnswerer) GenerateAnswer(ctx context.Context, topic Topic, input string) (*Answer, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	type result struct {
		answer *Answer
		err    error
	}
	done := make(chan result, 1)
	go func() {
		ans, err := a.next.GenerateAnswer(ctx, topic, input)
		done <- result{ans, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, models.ExternalServiceError("answer.GenerateAnswer", "timeout", r.err)
		}
		return r.answer, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, models.ExternalServiceError("answer.GenerateAnswer", "timeout", ctx.Err())
		}
		return nil, models.ExternalServiceError("answer.GenerateAnswer", "request cancelled", ctx.Err())
	}
}
