package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"callqa-server/pkg/analysis"
	"callqa-server/pkg/metrics"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// ReportMessage is the envelope published to the report queue for each
// completed analysis.
type ReportMessage struct {
	ReportID  string                     `json:"report_id"`
	Timestamp time.Time                  `json:"timestamp"`
	Report    *analysis.AnalysisResponse `json:"report"`
}

// AMQPConfig holds AMQP client configuration
type AMQPConfig struct {
	URL        string
	QueueName  string
	Exchange   string
	RoutingKey string
}

// AMQPClient publishes completed analysis reports to an AMQP queue.
// All operations are best effort: a broker outage must never fail or
// block an analysis, so publishes carry short timeouts and the client
// reconnects in the background.
type AMQPClient struct {
	logger    *logrus.Logger
	config    AMQPConfig
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool
	connMutex sync.RWMutex
	stopChan  chan struct{}
}

// NewAMQPClient creates a report publisher client.
func NewAMQPClient(logger *logrus.Logger, config AMQPConfig) *AMQPClient {
	if config.RoutingKey == "" {
		config.RoutingKey = config.QueueName
	}
	return &AMQPClient{
		logger:   logger,
		config:   config,
		stopChan: make(chan struct{}),
	}
}

// Connect establishes the broker connection and declares the report
// queue. It is safe to call again after a disconnect.
func (c *AMQPClient) Connect() error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if c.connected {
		return nil
	}

	if c.config.URL == "" || c.config.QueueName == "" {
		return fmt.Errorf("AMQP URL or queue name not configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connChan := make(chan struct {
		conn *amqp.Connection
		err  error
	}, 1)

	go func() {
		conn, err := amqp.Dial(c.config.URL)
		select {
		case <-ctx.Done():
			if conn != nil {
				conn.Close()
			}
		case connChan <- struct {
			conn *amqp.Connection
			err  error
		}{conn, err}:
		}
	}()

	var conn *amqp.Connection
	var err error
	select {
	case result := <-connChan:
		conn = result.conn
		err = result.err
	case <-ctx.Done():
		return fmt.Errorf("connection to AMQP server timed out after 5 seconds")
	}
	if err != nil {
		return fmt.Errorf("failed to connect to AMQP server: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	_, err = channel.QueueDeclare(
		c.config.QueueName,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare report queue: %w", err)
	}

	c.conn = conn
	c.channel = channel
	c.connected = true
	c.stopChan = make(chan struct{})
	metrics.SetAMQPConnectionStatus(true)

	c.logger.WithFields(logrus.Fields{
		"queue": c.config.QueueName,
	}).Info("Connected to AMQP server")

	go c.monitorConnection()

	return nil
}

// Disconnect closes the broker connection.
func (c *AMQPClient) Disconnect() {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if !c.connected {
		return
	}

	close(c.stopChan)

	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}

	c.connected = false
	metrics.SetAMQPConnectionStatus(false)
	c.logger.Info("Disconnected from AMQP server")
}

// IsConnected returns the connection status.
func (c *AMQPClient) IsConnected() bool {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.connected
}

// PublishReport publishes a completed analysis report. The publish has
// a short deadline: the caller has already finished the analysis and
// only waits here as a courtesy.
func (c *AMQPClient) PublishReport(ctx context.Context, report *analysis.AnalysisResponse) error {
	if !c.IsConnected() {
		metrics.RecordAMQPPublish(c.config.QueueName, "not_connected")
		return fmt.Errorf("not connected to AMQP server")
	}

	message := ReportMessage{
		ReportID:  uuid.New().String(),
		Timestamp: time.Now(),
		Report:    report,
	}

	body, err := json.Marshal(message)
	if err != nil {
		metrics.RecordAMQPPublish(c.config.QueueName, "marshal_error")
		return fmt.Errorf("failed to marshal report message: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	publishChan := make(chan error, 1)
	go func() {
		c.connMutex.RLock()
		defer c.connMutex.RUnlock()

		if !c.connected || c.channel == nil {
			select {
			case publishChan <- fmt.Errorf("lost AMQP connection before publishing"):
			case <-pubCtx.Done():
			}
			return
		}

		err := c.channel.Publish(
			c.config.Exchange,
			c.config.RoutingKey,
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				Body:         body,
				DeliveryMode: amqp.Persistent,
				Timestamp:    time.Now(),
				MessageId:    message.ReportID,
			},
		)

		select {
		case publishChan <- err:
		case <-pubCtx.Done():
		}
	}()

	select {
	case err := <-publishChan:
		if err != nil {
			metrics.RecordAMQPPublish(c.config.QueueName, "error")
			return fmt.Errorf("failed to publish report: %w", err)
		}
	case <-pubCtx.Done():
		metrics.RecordAMQPPublish(c.config.QueueName, "timeout")
		return fmt.Errorf("publishing report timed out")
	}

	metrics.RecordAMQPPublish(c.config.QueueName, "ok")
	c.logger.WithField("report_id", message.ReportID).Debug("Published analysis report")
	return nil
}

// monitorConnection watches for broker-side closes and reconnects with
// exponential backoff.
func (c *AMQPClient) monitorConnection() {
	closeChan := make(chan *amqp.Error)

	c.connMutex.RLock()
	if c.conn != nil {
		c.conn.NotifyClose(closeChan)
	}
	c.connMutex.RUnlock()

	for {
		select {
		case <-c.stopChan:
			return
		case closeErr := <-closeChan:
			c.connMutex.Lock()
			c.connected = false
			c.connMutex.Unlock()
			metrics.SetAMQPConnectionStatus(false)

			c.logger.WithError(closeErr).Warn("AMQP connection closed, attempting to reconnect")

			for attempt := 1; attempt <= 10; attempt++ {
				err := c.Connect()
				if err == nil {
					c.logger.Info("Reconnected to AMQP server")
					return
				}
				c.logger.WithError(err).WithField("attempt", attempt).Error("Failed to reconnect to AMQP server")

				backoff := time.Duration(1<<uint(attempt-1)) * time.Second
				if backoff > 30*time.Second {
					backoff = 30 * time.Second
				}

				select {
				case <-c.stopChan:
					return
				case <-time.After(backoff):
				}
			}
			return
		}
	}
}
