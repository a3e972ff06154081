// Package notifications fans project budget alerts out to operators.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/felipepmaragno/chat-gateway/internal/budget"
)

type NotificationType string

const (
	NotificationBudgetWarning  NotificationType = "budget_warning"
	NotificationBudgetCritical NotificationType = "budget_critical"
	NotificationBudgetExceeded NotificationType = "budget_exceeded"
)

type Notification struct {
	Type      NotificationType `json:"type"`
	UserID    string           `json:"user_id,omitempty"`
	ProjectID string           `json:"project_id,omitempty"`
	Message   string           `json:"message"`
	Data      map[string]any   `json:"data,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

type Notifier interface {
	Send(ctx context.Context, notification Notification) error
}

// FromAlert converts a budget alert into the notification sent for it.
func FromAlert(a budget.Alert) Notification {
	typ := NotificationBudgetWarning
	switch a.Level {
	case budget.AlertLevelCritical:
		typ = NotificationBudgetCritical
	case budget.AlertLevelExceeded:
		typ = NotificationBudgetExceeded
	}

	return Notification{
		Type:      typ,
		UserID:    a.UserID,
		ProjectID: a.ProjectID,
		Message:   fmt.Sprintf("project %s has used %.1f%% of its budget", a.ProjectID, a.Percentage),
		Data: map[string]any{
			"level":        string(a.Level),
			"spend":        a.Spend,
			"budget_limit": a.Limit,
			"percentage":   a.Percentage,
		},
		Timestamp: a.Timestamp,
	}
}

// AlertHandler sends every alert through n. Delivery failures are logged.
func AlertHandler(n Notifier) budget.AlertHandler {
	return func(ctx context.Context, a budget.Alert) {
		if err := n.Send(ctx, FromAlert(a)); err != nil {
			slog.WarnContext(ctx, "failed to send budget notification",
				"project_id", a.ProjectID,
				"level", a.Level,
				"error", err,
			)
		}
	}
}

type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type SNSNotifier struct {
	client   snsAPI
	topicArn string
}

func NewSNSNotifier(cfg aws.Config, topicArn string) *SNSNotifier {
	return &SNSNotifier{
		client:   sns.NewFromConfig(cfg),
		topicArn: topicArn,
	}
}

func (n *SNSNotifier) Send(ctx context.Context, notification Notification) error {
	message, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(n.topicArn),
		Message:  aws.String(string(message)),
		Subject:  aws.String("Project budget " + string(notification.Type)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"Type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(notification.Type)),
			},
		},
	}

	if notification.ProjectID != "" {
		input.MessageAttributes["ProjectID"] = snstypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(notification.ProjectID),
		}
	}

	if _, err := n.client.Publish(ctx, input); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}

	slog.InfoContext(ctx, "notification sent",
		"type", notification.Type,
		"project_id", notification.ProjectID,
	)

	return nil
}

type InMemoryNotifier struct {
	mu            sync.Mutex
	notifications []Notification
}

func NewInMemoryNotifier() *InMemoryNotifier {
	return &InMemoryNotifier{}
}

func (n *InMemoryNotifier) Send(ctx context.Context, notification Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.notifications = append(n.notifications, notification)
	return nil
}

func (n *InMemoryNotifier) GetNotifications() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	result := make([]Notification, len(n.notifications))
	copy(result, n.notifications)
	return result
}
