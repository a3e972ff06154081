// Package queue exports reconciled usage events for downstream billing.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/felipepmaragno/chat-gateway/internal/domain"
)

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

type SQSPublisher struct {
	client   sqsAPI
	queueURL string
}

func NewSQSPublisher(cfg aws.Config, queueURL string) *SQSPublisher {
	return &SQSPublisher{
		client:   sqs.NewFromConfig(cfg),
		queueURL: queueURL,
	}
}

// PublishUsage sends one event. On a FIFO queue the event id doubles as the
// deduplication id, so a retried reconciliation is delivered once.
func (p *SQSPublisher) PublishUsage(ctx context.Context, event domain.UsageEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal usage event: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"UserID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.UserID),
			},
			"Model": {
				DataType:    aws.String("String"),
				StringValue: aws.String(event.Model),
			},
			"TotalTokens": {
				DataType:    aws.String("Number"),
				StringValue: aws.String(strconv.Itoa(event.TotalTokens)),
			},
		},
	}

	if strings.HasSuffix(p.queueURL, ".fifo") {
		input.MessageGroupId = aws.String(event.UserID)
		input.MessageDeduplicationId = aws.String(event.ID)
	}

	if _, err := p.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("send usage event: %w", err)
	}
	return nil
}

type InMemoryPublisher struct {
	mu     sync.Mutex
	events []domain.UsageEvent
}

func NewInMemoryPublisher() *InMemoryPublisher {
	return &InMemoryPublisher{}
}

func (p *InMemoryPublisher) PublishUsage(ctx context.Context, event domain.UsageEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *InMemoryPublisher) Events() []domain.UsageEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.UsageEvent, len(p.events))
	copy(out, p.events)
	return out
}
