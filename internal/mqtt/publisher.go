package mqtt

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/unklstewy/skycapture/internal/capture"
)

// Broker is the subset of Client used by Publisher and Commands.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler MessageHandler) error
}

const publisherBuffer = 128

// Publisher is a capture.Notifier that forwards updates to MQTT from its
// own goroutine, so a slow broker never stalls the sequencer.
type Publisher struct {
	broker  Broker
	topics  Topics
	qos     byte
	log     *slog.Logger
	updates chan capture.Update
}

// NewPublisher creates a publisher. Call Run to start delivery.
func NewPublisher(broker Broker, topics Topics, qos int, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if qos < 0 || qos > maxQoS {
		qos = 0
	}
	return &Publisher{
		broker:  broker,
		topics:  topics,
		qos:     byte(qos),
		log:     logger.With("component", "mqtt"),
		updates: make(chan capture.Update, publisherBuffer),
	}
}

// Notify queues u, dropping it if the queue is full.
func (p *Publisher) Notify(u capture.Update) {
	select {
	case p.updates <- u:
	default:
		p.log.Debug("mqtt queue full, dropping update", "kind", u.Kind)
	}
}

// Run publishes queued updates until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-p.updates:
			p.publish(u)
		}
	}
}

func (p *Publisher) publish(u capture.Update) {
	payload, err := json.Marshal(u)
	if err != nil {
		p.log.Error("failed to encode update", "error", err)
		return
	}

	topic, retained := p.route(u)
	if err := p.broker.Publish(topic, payload, p.qos, retained); err != nil {
		p.log.Warn("failed to publish update", "topic", topic, "error", err)
	}
}

// route maps an update to its topic. State topics are retained so new
// subscribers see the current value.
func (p *Publisher) route(u capture.Update) (string, bool) {
	switch u.Kind {
	case capture.UpdateStatus:
		return p.topics.Status(), true
	case capture.UpdateJob:
		return p.topics.Job(u.JobID), true
	default:
		return p.topics.Event(string(u.Kind)), false
	}
}

// Controller is the part of the sequencer driven by MQTT commands.
type Controller interface {
	Start() error
	Stop()
	Abort()
	Pause()
}

// SubscribeCommands routes messages on the command topics to ctl. Payloads
// are ignored; the topic names the command.
func SubscribeCommands(broker Broker, topics Topics, qos int, ctl Controller, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "mqtt")

	return broker.Subscribe(topics.AllCommands(), byte(qos), func(topic string, _ []byte) error {
		name := strings.ToLower(topics.CommandName(topic))
		log.Info("mqtt command received", "command", name)
		switch name {
		case "start":
			if err := ctl.Start(); err != nil {
				log.Warn("mqtt start rejected", "error", err)
				return err
			}
		case "stop":
			ctl.Stop()
		case "abort":
			ctl.Abort()
		case "pause":
			ctl.Pause()
		default:
			log.Warn("unknown mqtt command", "topic", topic)
		}
		return nil
	})
}
