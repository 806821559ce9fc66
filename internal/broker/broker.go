package broker

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
)

// Queues maps the logical queue names to their broker names
type Queues struct {
	MatchCreate      string
	MatchCreated     string
	MatchResult      string
	MatchAbruptClose string
	GameCreate       string
	HealthCheck      string
	AITask           string
	AIRegister       string
}

// DefaultQueues returns the queue names used when no overrides are configured
func DefaultQueues() Queues {
	return Queues{
		MatchCreate:      "match-create-request",
		MatchCreated:     "match-created",
		MatchResult:      "match-result",
		MatchAbruptClose: "match-abrupt-close",
		GameCreate:       "game-created",
		HealthCheck:      "health-check",
		AITask:           "ai-task-generate-request",
		AIRegister:       "ai-register",
	}
}

// Communicator is the AMQP transport between the matchmaking services, the
// game servers and the AI service. One channel carries all queues.
type Communicator struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	queues Queues
	uuid   string
}

// Connect dials the broker, retrying with a fixed 5 second backoff until the
// connection is established
func Connect(url string, queues Queues) (*Communicator, error) {
	var conn *amqp.Connection
	for {
		var err error
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		log.Printf("[BROKER] Could not connect to broker: %v, retrying in 5s", err)
		time.Sleep(5 * time.Second)
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	log.Printf("[BROKER] Connected")

	return &Communicator{
		conn:   conn,
		ch:     ch,
		queues: queues,
		uuid:   uuid.New().String(),
	}, nil
}

// Close shuts down the channel and connection
func (c *Communicator) Close() error {
	if err := c.ch.Close(); err != nil {
		return err
	}
	return c.conn.Close()
}

// consume declares the queue and feeds every delivery to fn in its own
// goroutine. Deliveries are acked on receipt.
func (c *Communicator) consume(queue string, fn func(amqp.Delivery)) error {
	if _, err := c.ch.QueueDeclare(queue, false, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}

	deliveries, err := c.ch.Consume(queue, "communicator-"+queue, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume queue %s: %w", queue, err)
	}

	log.Printf("[BROKER] Listening on queue: %s", queue)
	go func() {
		for d := range deliveries {
			d.Ack(false)
			go fn(d)
		}
	}()
	return nil
}

func (c *Communicator) publish(queue string, body []byte, props amqp.Publishing) error {
	props.Body = body
	if props.ContentType == "" {
		props.ContentType = "application/json"
	}
	return c.ch.Publish("", queue, false, false, props)
}

func (c *Communicator) publishJSON(queue string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal for queue %s: %w", queue, err)
	}
	return c.publish(queue, body, amqp.Publishing{})
}

// OnMatchCreate registers a consumer for match creation requests
func (c *Communicator) OnMatchCreate(fn func(CreateMatch)) error {
	return consumeJSON(c, c.queues.MatchCreate, fn)
}

// OnMatchCreated registers a consumer for game-server match confirmations
func (c *Communicator) OnMatchCreated(fn func(CreatedMatch)) error {
	return consumeJSON(c, c.queues.MatchCreated, fn)
}

// OnMatchResult registers a consumer for match results
func (c *Communicator) OnMatchResult(fn func(MatchResult)) error {
	return consumeJSON(c, c.queues.MatchResult, fn)
}

// OnMatchAbruptClose registers a consumer for abrupt match closures
func (c *Communicator) OnMatchAbruptClose(fn func(MatchAbruptClose)) error {
	return consumeJSON(c, c.queues.MatchAbruptClose, fn)
}

// OnAIRegister registers a consumer for AI player registrations
func (c *Communicator) OnAIRegister(fn func(AIPlayerRegister)) error {
	return consumeJSON(c, c.queues.AIRegister, fn)
}

// OnHealthCheck registers a consumer for game-server heartbeats. The payload
// is the raw client id.
func (c *Communicator) OnHealthCheck(fn func(clientID string)) error {
	return c.consume(c.queues.HealthCheck, func(d amqp.Delivery) {
		fn(string(d.Body))
	})
}

// OnGameCreate registers a consumer for game-server registrations. The
// handler's return value is published back on the delivery's reply-to queue.
func (c *Communicator) OnGameCreate(fn func(GameServerCreate) string) error {
	return c.consume(c.queues.GameCreate, func(d amqp.Delivery) {
		if d.ReplyTo == "" {
			log.Printf("[BROKER] Dropping game registration without reply-to")
			return
		}

		var create GameServerCreate
		if err := json.Unmarshal(d.Body, &create); err != nil {
			log.Printf("[BROKER] Bad game registration payload: %v", err)
			return
		}

		serverID := fn(create)
		err := c.publish(d.ReplyTo, []byte(serverID), amqp.Publishing{
			ContentType:   "text/plain",
			CorrelationId: d.CorrelationId,
		})
		if err != nil {
			log.Printf("[BROKER] Failed to reply to game registration: %v", err)
		}
	})
}

func consumeJSON[T any](c *Communicator, queue string, fn func(T)) error {
	return c.consume(queue, func(d amqp.Delivery) {
		var v T
		if err := json.Unmarshal(d.Body, &v); err != nil {
			log.Printf("[BROKER] Bad payload on queue %s: %v", queue, err)
			return
		}
		fn(v)
	})
}

// CreateMatch publishes a match creation request
func (c *Communicator) CreateMatch(m CreateMatch) error {
	return c.publishJSON(c.queues.MatchCreate, m)
}

// ReportMatchCreated publishes a match confirmation
func (c *Communicator) ReportMatchCreated(m CreatedMatch) error {
	return c.publishJSON(c.queues.MatchCreated, m)
}

// ReportMatchResult publishes a match result
func (c *Communicator) ReportMatchResult(r MatchResult) error {
	return c.publishJSON(c.queues.MatchResult, r)
}

// ReportMatchAbruptClose publishes an abrupt closure
func (c *Communicator) ReportMatchAbruptClose(m MatchAbruptClose) error {
	return c.publishJSON(c.queues.MatchAbruptClose, m)
}

// CreateAITask publishes a task for the AI service
func (c *Communicator) CreateAITask(t Task) error {
	return c.publishJSON(c.queues.AITask, t)
}

// RegisterAIPlayer publishes an AI player registration
func (c *Communicator) RegisterAIPlayer(p AIPlayerRegister) error {
	return c.publishJSON(c.queues.AIRegister, p)
}

// SendHealthCheck publishes a heartbeat for the given client id
func (c *Communicator) SendHealthCheck(clientID string) error {
	return c.publish(c.queues.HealthCheck, []byte(clientID), amqp.Publishing{ContentType: "text/plain"})
}

// CreateGame registers a game server and waits for the assigned server id on
// an exclusive reply queue
func (c *Communicator) CreateGame(gs GameServerCreate) (string, error) {
	replyTo, err := c.ch.QueueDeclare("", false, false, true, false, nil)
	if err != nil {
		return "", fmt.Errorf("declare reply queue: %w", err)
	}

	deliveries, err := c.ch.Consume(replyTo.Name, c.uuid+"@create_game", false, false, false, false, nil)
	if err != nil {
		return "", fmt.Errorf("consume reply queue: %w", err)
	}

	body, err := json.Marshal(gs)
	if err != nil {
		return "", err
	}

	err = c.publish(c.queues.GameCreate, body, amqp.Publishing{
		ReplyTo:       replyTo.Name,
		CorrelationId: uuid.New().String(),
	})
	if err != nil {
		return "", fmt.Errorf("publish game registration: %w", err)
	}

	for d := range deliveries {
		d.Ack(false)
		return string(d.Body), nil
	}
	return "", fmt.Errorf("reply channel closed before game was created")
}
