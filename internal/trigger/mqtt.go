package trigger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nerrad567/gray-logic-drivers/internal/infrastructure/mqtt"
)

// Publisher is the part of mqtt.Client used by MQTTSink.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// MQTTSink publishes events as JSON, not retained.
type MQTTSink struct {
	pub    Publisher
	topics mqtt.Topics
	qos    byte
}

// NewMQTTSink creates a sink publishing under topics at the given QoS.
func NewMQTTSink(pub Publisher, topics mqtt.Topics, qos byte) *MQTTSink {
	return &MQTTSink{pub: pub, topics: topics, qos: qos}
}

// Deliver publishes ev on its trigger topic.
func (s *MQTTSink) Deliver(_ context.Context, ev Event) error {
	if s.pub == nil {
		return ErrNoPublisher
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshalling trigger: %w", err)
	}
	if err := s.pub.Publish(s.topics.Trigger(ev.Moniker, string(ev.Kind)), payload, s.qos, false); err != nil {
		return fmt.Errorf("publishing trigger: %w", err)
	}
	return nil
}
