// Package kafka publishes case-triage events and consumes submitted
// complaints for best-effort automatic triage.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/civicgrid/case-triage/internal/config"
	"github.com/civicgrid/case-triage/internal/database"
	"github.com/civicgrid/case-triage/internal/metrics"
	"github.com/civicgrid/case-triage/internal/triage"
)

// ComplaintSubmittedEvent is consumed from the submission workflow.
type ComplaintSubmittedEvent struct {
	ComplaintID int       `json:"complaint_id"`
	Timestamp   time.Time `json:"timestamp"`
}

// ComplaintTriagedEvent is published after a triage result is persisted.
type ComplaintTriagedEvent struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	ComplaintID   int       `json:"complaint_id"`
	SeverityScore int       `json:"severity_score"`
	Priority      string    `json:"priority"`
	DepartmentID  *int      `json:"department_id,omitempty"`
	IsVulnerable  bool      `json:"is_vulnerable"`
	Timestamp     time.Time `json:"timestamp"`
}

// ComplaintLinkEvent is published when a link edge is created or a
// complaint is closed as a duplicate.
type ComplaintLinkEvent struct {
	EventID           string    `json:"event_id"`
	EventType         string    `json:"event_type"`
	LinkID            int       `json:"link_id"`
	SourceComplaintID int       `json:"source_complaint_id"`
	TargetComplaintID int       `json:"target_complaint_id"`
	LinkType          string    `json:"link_type"`
	SimilarityScore   *float64  `json:"similarity_score,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// NotificationEvent is published for every recorded notification.
type NotificationEvent struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	Message     string    `json:"message"`
	ComplaintID int       `json:"complaint_id"`
	CitizenID   *int      `json:"citizen_id,omitempty"`
	StaffID     *int      `json:"staff_id,omitempty"`
	AdminID     *int      `json:"admin_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Producer publishes case-triage events
type Producer struct {
	writer  *kafka.Writer
	config  config.KafkaConfig
	metrics *metrics.Collector
	logger  *slog.Logger
}

// NewProducer creates a new Kafka producer. The topic is set per message so
// one writer serves all event streams.
func NewProducer(cfg config.KafkaConfig, collector *metrics.Collector, logger *slog.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:  kafka.Snappy,
		Logger:       &kafkaLogger{logger: logger},
		ErrorLogger:  &kafkaErrorLogger{logger: logger},
	}

	return &Producer{
		writer:  writer,
		config:  cfg,
		metrics: collector,
		logger:  logger,
	}
}

// Close closes the Kafka writer
func (p *Producer) Close() error {
	return p.writer.Close()
}

// PublishComplaintTriaged publishes a complaint.triaged event
func (p *Producer) PublishComplaintTriaged(ctx context.Context, complaintID int, result *triage.Result) error {
	event := &ComplaintTriagedEvent{
		EventID:       uuid.New().String(),
		EventType:     "complaint.triaged",
		ComplaintID:   complaintID,
		SeverityScore: result.SeverityScore,
		Priority:      result.Priority,
		DepartmentID:  result.DepartmentID,
		IsVulnerable:  result.IsVulnerable,
		Timestamp:     time.Now(),
	}

	return p.publish(ctx, p.config.TriagedTopic, event.EventID, event)
}

// PublishComplaintLinked publishes a complaint.linked event
func (p *Producer) PublishComplaintLinked(ctx context.Context, link *database.ComplaintLink) error {
	return p.publishLinkEvent(ctx, "complaint.linked", link)
}

// PublishDuplicateClosed publishes a complaint.duplicate-closed event
func (p *Producer) PublishDuplicateClosed(ctx context.Context, link *database.ComplaintLink) error {
	return p.publishLinkEvent(ctx, "complaint.duplicate-closed", link)
}

func (p *Producer) publishLinkEvent(ctx context.Context, eventType string, link *database.ComplaintLink) error {
	event := &ComplaintLinkEvent{
		EventID:           uuid.New().String(),
		EventType:         eventType,
		LinkID:            link.ID,
		SourceComplaintID: link.SourceComplaintID,
		TargetComplaintID: link.TargetComplaintID,
		LinkType:          link.LinkType,
		SimilarityScore:   link.SimilarityScore,
		Timestamp:         time.Now(),
	}

	return p.publish(ctx, p.config.LinkTopic, event.EventID, event)
}

// PublishNotification publishes a notification.sent event
func (p *Producer) PublishNotification(ctx context.Context, n *database.Notification) error {
	event := &NotificationEvent{
		EventID:     uuid.New().String(),
		EventType:   "notification.sent",
		Message:     n.Message,
		ComplaintID: n.ComplaintID,
		CitizenID:   n.CitizenID,
		StaffID:     n.StaffID,
		AdminID:     n.AdminID,
		Timestamp:   time.Now(),
	}

	return p.publish(ctx, p.config.NotificationTopic, event.EventID, event)
}

func (p *Producer) publish(ctx context.Context, topic, key string, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	message := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
		Time:  time.Now(),
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		p.metrics.RecordKafkaError()
		return fmt.Errorf("failed to publish event to %s: %w", topic, err)
	}

	return nil
}

// TriagePersister persists triage results onto complaints.
type TriagePersister interface {
	UpdateComplaintTriage(ctx context.Context, id, severityScore int, priority string, departmentID *int, triageNotes string) error
}

// Consumer consumes complaint.submitted events and runs triage for each.
// Triage is advisory: assessment failures are logged and the message is
// committed anyway, so a failed assessment never blocks the stream and the
// complaint simply stays without triage metadata.
type Consumer struct {
	reader    *kafka.Reader
	engine    *triage.Engine
	persister TriagePersister
	producer  *Producer
	metrics   *metrics.Collector
	logger    *slog.Logger
}

// NewConsumer creates a new Kafka consumer for submitted complaints
func NewConsumer(
	cfg config.KafkaConfig,
	engine *triage.Engine,
	persister TriagePersister,
	producer *Producer,
	collector *metrics.Collector,
	logger *slog.Logger,
) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.ConsumerGroup,
		Topic:       cfg.SubmittedTopic,
		MinBytes:    1,
		MaxBytes:    1e6,
		MaxWait:     500 * time.Millisecond,
		Logger:      &kafkaLogger{logger: logger},
		ErrorLogger: &kafkaErrorLogger{logger: logger},
	})

	return &Consumer{
		reader:    reader,
		engine:    engine,
		persister: persister,
		producer:  producer,
		metrics:   collector,
		logger:    logger,
	}
}

// Close closes the Kafka reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// Run consumes submitted complaints until the context is cancelled
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Kafka consumer starting", "topic", c.reader.Config().Topic)

	for {
		message, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			c.metrics.RecordKafkaError()
			return fmt.Errorf("failed to read message: %w", err)
		}

		c.handleSubmitted(ctx, message.Value)
	}
}

func (c *Consumer) handleSubmitted(ctx context.Context, payload []byte) {
	var event ComplaintSubmittedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		c.metrics.RecordKafkaError()
		c.logger.Error("Failed to unmarshal submitted event", "error", err)
		return
	}

	result, err := c.engine.AssessComplaint(ctx, event.ComplaintID)
	if err != nil {
		c.logger.Warn("Triage assessment failed, leaving complaint untriaged",
			"complaint_id", event.ComplaintID, "error", err)
		return
	}

	if err := c.persister.UpdateComplaintTriage(ctx,
		event.ComplaintID, result.SeverityScore, result.Priority,
		result.DepartmentID, result.TriageNotes); err != nil {
		c.metrics.RecordDatabaseError()
		c.logger.Error("Failed to persist triage result",
			"complaint_id", event.ComplaintID, "error", err)
		return
	}

	if err := c.producer.PublishComplaintTriaged(ctx, event.ComplaintID, result); err != nil {
		c.logger.Error("Failed to publish triaged event",
			"complaint_id", event.ComplaintID, "error", err)
	}
}

// kafkaLogger adapts slog to the kafka-go logger interface
type kafkaLogger struct {
	logger *slog.Logger
}

func (l *kafkaLogger) Printf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// kafkaErrorLogger adapts slog to the kafka-go error logger interface
type kafkaErrorLogger struct {
	logger *slog.Logger
}

func (l *kafkaErrorLogger) Printf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}
