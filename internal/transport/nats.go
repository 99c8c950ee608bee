package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/avvvet/brain/internal/config"
	"github.com/avvvet/brain/internal/handlers"
)

type NATSTransport struct {
	conn    *nats.Conn
	sub     *nats.Subscription
	config  *config.Config
	handler *handlers.DecisionHandler
	timeout time.Duration
	logger  *slog.Logger

	// inflight bounds concurrent decisions; wg tracks them for Close.
	inflight chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	closed   bool
}

func NewNATSTransport(cfg *config.Config, handler *handlers.DecisionHandler, logger *slog.Logger) (*NATSTransport, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// Connect to NATS
	conn, err := nats.Connect(cfg.NatsURL,
		nats.Name(cfg.ServiceName),
		nats.Timeout(cfg.NatsTimeout),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1), // Infinite reconnects
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats_reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("nats_connected", "url", cfg.NatsURL)

	return &NATSTransport{
		conn:    conn,
		config:  cfg,
		handler: handler,
		timeout:  requestTimeout(cfg),
		logger:   logger,
		inflight: make(chan struct{}, max(cfg.NatsMaxInFlight, 1)),
	}, nil
}

// requestTimeout bounds a whole decision: every commit attempt may load, call
// the policy module and commit once.
func requestTimeout(cfg *config.Config) time.Duration {
	perCycle := 2*cfg.StoreTimeout + cfg.PolicyTimeout
	return time.Duration(cfg.MaxCommitRetries+1)*perCycle + time.Second
}

func (nt *NATSTransport) Start() error {
	// Queue group so replicas share the subject
	sub, err := nt.conn.QueueSubscribe(nt.config.NatsRequestSubject, nt.config.NatsQueueGroup, nt.handleDecisionRequest)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", nt.config.NatsRequestSubject, err)
	}
	nt.sub = sub

	nt.logger.Info("nats_subscribed",
		"subject", nt.config.NatsRequestSubject,
		"queue", nt.config.NatsQueueGroup,
		"max_in_flight", cap(nt.inflight),
	)
	return nil
}

func (nt *NATSTransport) handleDecisionRequest(msg *nats.Msg) {
	nt.dispatch(msg.Data, msg.Respond)
}

// dispatch serves one request on its own goroutine; nats.go delivers a
// subscription's messages from a single goroutine. It blocks while every
// in-flight slot is taken.
func (nt *NATSTransport) dispatch(data []byte, respond func([]byte) error) {
	nt.mu.Lock()
	if nt.closed {
		nt.mu.Unlock()
		nt.logger.Warn("decision_request_dropped", "reason", "transport closed")
		return
	}
	nt.wg.Add(1)
	nt.mu.Unlock()

	nt.inflight <- struct{}{}
	go func() {
		defer nt.wg.Done()
		defer func() { <-nt.inflight }()
		nt.serve(data, respond)
	}()
}

func (nt *NATSTransport) serve(data []byte, respond func([]byte) error) {
	ctx, cancel := context.WithTimeout(context.Background(), nt.timeout)
	defer cancel()

	response, err := nt.handler.HandleRaw(ctx, data)
	if err != nil {
		nt.logger.Error("decision_response_encode_failed", "error", err)
		return
	}

	if err := respond(response); err != nil {
		nt.logger.Error("decision_response_send_failed", "error", err)
	}
}

// Close stops taking requests, waits for in-flight decisions to reply and
// then closes the connection.
func (nt *NATSTransport) Close() error {
	if nt.sub != nil {
		if err := nt.sub.Drain(); err != nil {
			nt.logger.Warn("nats_drain_failed", "error", err)
		}
		nt.sub = nil
	}

	nt.mu.Lock()
	nt.closed = true
	nt.mu.Unlock()
	nt.wg.Wait()
	if nt.conn != nil {
		nt.conn.Close()
		nt.conn = nil
		nt.logger.Info("nats_connection_closed")
	}
	return nil
}
