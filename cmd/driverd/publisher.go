package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-drivers/internal/driver"
	"github.com/nerrad567/gray-logic-drivers/internal/field"
	"github.com/nerrad567/gray-logic-drivers/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-drivers/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-drivers/internal/infrastructure/mqtt"
)

// commandTimeout bounds a backdoor command received over MQTT.
const commandTimeout = 30 * time.Second

// messagePublisher is the part of mqtt.Client the publisher uses.
type messagePublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// telemetryWriter is the part of influxdb.Client the publisher uses.
type telemetryWriter interface {
	WriteFieldChange(moniker string, def field.Def, v field.Value, ts time.Time)
	WriteInstanceSample(s influxdb.InstanceSample, ts time.Time)
}

// instanceService is the part of driver.Manager the publisher uses.
type instanceService interface {
	Status(moniker string) (driver.Status, error)
	Command(ctx context.Context, moniker, cmd, arg string) (string, error)
}

// fieldMessage is the retained payload of a field state topic.
type fieldMessage struct {
	Value string    `json:"value"`
	Type  string    `json:"type"`
	Time  time.Time `json:"time"`
}

// commandMessage is the payload of a command topic. A payload that is not
// JSON is taken as the command text.
type commandMessage struct {
	Command string `json:"command"`
	Arg     string `json:"arg,omitempty"`
}

// replyMessage is published on the reply topic after a command.
type replyMessage struct {
	Command string `json:"command"`
	Reply   string `json:"reply,omitempty"`
	Error   string `json:"error,omitempty"`
}

// publisher fans manager notifications out to MQTT and InfluxDB, and runs
// commands that arrive over MQTT. Either sink may be nil.
type publisher struct {
	instances instanceService
	logger    *logging.Logger

	mqtt   messagePublisher
	topics mqtt.Topics
	qos    byte

	influx telemetryWriter

	now func() time.Time
	wg  sync.WaitGroup
}

func newPublisher(instances instanceService, logger *logging.Logger) *publisher {
	return &publisher{
		instances: instances,
		logger:    logger,
		now:       time.Now,
	}
}

// FieldChanged matches driver.FieldObserver.
func (p *publisher) FieldChanged(moniker string, ch field.Change) {
	if !ch.Changed {
		return
	}
	ts := p.now()
	if p.influx != nil {
		p.influx.WriteFieldChange(moniker, ch.Def, ch.New, ts)
	}
	if p.mqtt == nil {
		return
	}
	payload, err := json.Marshal(fieldMessage{Value: ch.New.Format(), Type: ch.Def.Type.String(), Time: ts.UTC()})
	if err != nil {
		p.logger.Error("encoding field state", "moniker", moniker, "field", ch.Name, "error", err)
		return
	}
	if err := p.mqtt.Publish(p.topics.FieldState(moniker, ch.Name), payload, p.qos, true); err != nil {
		p.logger.Warn("publishing field state", "moniker", moniker, "field", ch.Name, "error", err)
	}
}

// StateChanged matches driver.StateObserver.
func (p *publisher) StateChanged(moniker string, st driver.State) {
	status, err := p.instances.Status(moniker)
	if err != nil {
		// Removed instances still report their final state.
		status = driver.Status{Moniker: moniker, State: st}
	}
	status.State = st

	if p.influx != nil {
		p.influx.WriteInstanceSample(influxdb.InstanceSample{
			Moniker:    moniker,
			State:      st.String(),
			Polls:      status.Polls,
			Reconnects: status.Reconnects,
			Timeouts:   status.Timeouts,
		}, p.now())
	}
	if p.mqtt == nil {
		return
	}
	payload, err := json.Marshal(status)
	if err != nil {
		p.logger.Error("encoding instance status", "moniker", moniker, "error", err)
		return
	}
	if err := p.mqtt.Publish(p.topics.InstanceStatus(moniker), payload, p.qos, true); err != nil {
		p.logger.Warn("publishing instance status", "moniker", moniker, "error", err)
	}
}

// HandleCommand is the MQTT handler for command topics. The command runs on
// its own goroutine so a slow device does not stall the MQTT client.
func (p *publisher) HandleCommand(topic string, payload []byte) error {
	moniker, ok := p.topics.MonikerFromCommand(topic)
	if !ok {
		return fmt.Errorf("not a command topic: %s", topic)
	}
	msg, err := parseCommand(payload)
	if err != nil {
		return err
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runCommand(moniker, msg)
	}()
	return nil
}

// Wait blocks until every running command has replied. Used by tests.
func (p *publisher) Wait() {
	p.wg.Wait()
}

func (p *publisher) runCommand(moniker string, msg commandMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	out := replyMessage{Command: strings.TrimSpace(msg.Command + " " + msg.Arg)}
	reply, err := p.instances.Command(ctx, moniker, msg.Command, msg.Arg)
	if err != nil {
		out.Error = err.Error()
		p.logger.Debug("command failed", "moniker", moniker, "command", msg.Command, "error", err)
	} else {
		out.Reply = reply
	}

	if p.mqtt == nil {
		return
	}
	data, err := json.Marshal(out)
	if err != nil {
		return
	}
	if err := p.mqtt.Publish(p.topics.CommandReply(moniker), data, p.qos, false); err != nil {
		p.logger.Warn("publishing command reply", "moniker", moniker, "error", err)
	}
}

func parseCommand(payload []byte) (commandMessage, error) {
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return commandMessage{}, fmt.Errorf("empty command")
	}
	var msg commandMessage
	if strings.HasPrefix(text, "{") {
		if err := json.Unmarshal([]byte(text), &msg); err != nil {
			return commandMessage{}, fmt.Errorf("invalid command payload: %w", err)
		}
	} else {
		msg.Command = text
	}
	if strings.TrimSpace(msg.Command) == "" {
		return commandMessage{}, fmt.Errorf("empty command")
	}
	return msg, nil
}
