package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/rs/zerolog/log"

	"github.com/runledger/runledger/internal/model"
)

// eventSource is the EventBridge source attribute for all emitted events.
const eventSource = "runledger"

// EventBridgeSubscriber forwards events to an EventBridge bus, where
// downstream rules route them to notification, cache, and analytics targets.
type EventBridgeSubscriber struct {
	client  *eventbridge.Client
	busName string
}

var _ Subscriber = (*EventBridgeSubscriber)(nil)

// NewEventBridgeSubscriber creates a subscriber publishing to the named bus.
func NewEventBridgeSubscriber(client *eventbridge.Client, busName string) *EventBridgeSubscriber {
	return &EventBridgeSubscriber{client: client, busName: busName}
}

func (s *EventBridgeSubscriber) Name() string { return "eventbridge" }

func (s *EventBridgeSubscriber) Handle(ctx context.Context, event model.Event) error {
	detail, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	input := &eventbridge.PutEventsInput{
		Entries: []eventbridgetypes.PutEventsRequestEntry{
			{
				EventBusName: &s.busName,
				Source:       aws.String(eventSource),
				DetailType:   aws.String(event.Type),
				Detail:       aws.String(string(detail)),
			},
		},
	}

	result, err := s.client.PutEvents(ctx, input)
	if err != nil {
		return fmt.Errorf("PutEvents: %w", err)
	}

	if result.FailedEntryCount > 0 {
		for i, entry := range result.Entries {
			if entry.ErrorCode != nil || entry.ErrorMessage != nil {
				return fmt.Errorf("PutEvents entry %d failed: %s - %s", i, aws.ToString(entry.ErrorCode), aws.ToString(entry.ErrorMessage))
			}
		}
	}

	log.Debug().Str("eventType", event.Type).Str("runId", event.RunID).Msg("Event emitted to EventBridge")
	return nil
}
