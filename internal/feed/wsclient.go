package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"optionflow/config"
	"optionflow/internal/channel"
	"optionflow/logger"
)

const (
	defaultReconnectDelay = 5 * time.Second
	defaultKeepAlive      = 20 * time.Second
	authReadTimeout       = 10 * time.Second
)

// WSClient streams ticks from the OpenAlgo websocket into the tick
// channel. It authenticates on connect, replays every subscription
// after a reconnect and never blocks on a full channel.
type WSClient struct {
	config   *config.Config
	channels *channel.Channels
	log      *logger.Log

	mu            sync.RWMutex
	running       bool
	subscriptions map[string][]Instrument

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWSClient(cfg *config.Config, ch *channel.Channels) *WSClient {
	return &WSClient{
		config:        cfg,
		channels:      ch,
		log:           logger.GetLogger(),
		subscriptions: make(map[string][]Instrument),
	}
}

// Subscribe registers instruments on a stream (ltp, quote or depth).
// Registrations made before Start are sent on the first connect;
// registrations made while connected apply on the next reconnect.
func (c *WSClient) Subscribe(stream string, instruments []Instrument) {
	c.mu.Lock()
	c.subscriptions[stream] = append(c.subscriptions[stream], instruments...)
	c.mu.Unlock()
}

// Start launches the connect/read loop.
func (c *WSClient) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("websocket client already running")
	}
	c.running = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run()

	c.log.WithComponent("ws_client").WithFields(logger.Fields{
		"url": c.config.Feed.WS.URL,
	}).Info("websocket client started")
	return nil
}

// Stop cancels the read loop and waits for it to exit.
func (c *WSClient) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	c.log.WithComponent("ws_client").Info("websocket client stopped")
}

func (c *WSClient) run() {
	defer c.wg.Done()

	log := c.log.WithComponent("ws_client")
	reconnectDelay := c.config.Feed.WS.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = defaultReconnectDelay
	}

	for {
		if c.ctx.Err() != nil {
			return
		}

		conn, err := c.connect()
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{
				"url": c.config.Feed.WS.URL,
			}).Warn("failed to connect to websocket")
			if waitForReconnect(c.ctx, reconnectDelay) {
				return
			}
			continue
		}

		if err := c.resubscribe(conn); err != nil {
			log.WithError(err).Warn("failed to subscribe streams")
			conn.Close()
			if waitForReconnect(c.ctx, reconnectDelay) {
				return
			}
			continue
		}

		pingCancel := c.startPingLoop(conn)

		// A blocked ReadMessage only returns on a frame or a transport
		// error, so close the connection when the client is stopped.
		readDone := make(chan struct{})
		go func() {
			select {
			case <-c.ctx.Done():
				conn.Close()
			case <-readDone:
			}
		}()

		err = c.readMessages(conn)
		close(readDone)
		pingCancel()
		conn.Close()

		if c.ctx.Err() != nil {
			return
		}
		if err != nil {
			log.WithError(err).Warn("websocket read loop ended, reconnecting")
		}
		if waitForReconnect(c.ctx, reconnectDelay) {
			return
		}
	}
}

func (c *WSClient) connect() (*websocket.Conn, error) {
	dialer := websocket.DefaultDialer
	if c.config.Feed.WS.Timeout > 0 {
		dialer = &websocket.Dialer{HandshakeTimeout: c.config.Feed.WS.Timeout}
	}

	conn, _, err := dialer.DialContext(c.ctx, c.config.Feed.WS.URL, nil)
	if err != nil {
		return nil, err
	}

	if err := conn.WriteJSON(authMessage{Type: "auth", APIKey: c.config.Feed.APIKey}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send auth: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(authReadTimeout))
	var resp authResponse
	if err := conn.ReadJSON(&resp); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read auth response: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	if resp.Status != "authenticated" && resp.Status != "success" {
		conn.Close()
		return nil, fmt.Errorf("authentication rejected: %s", resp.Message)
	}
	return conn, nil
}

func (c *WSClient) resubscribe(conn *websocket.Conn) error {
	c.mu.RLock()
	subs := make(map[string][]Instrument, len(c.subscriptions))
	for stream, instruments := range c.subscriptions {
		subs[stream] = instruments
	}
	c.mu.RUnlock()

	for stream, instruments := range subs {
		if len(instruments) == 0 {
			continue
		}
		msg := subscribeMessage{Type: "subscribe", Stream: stream, Instruments: instruments}
		if err := conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("subscribe %s: %w", stream, err)
		}
		c.log.WithComponent("ws_client").WithFields(logger.Fields{
			"stream":      stream,
			"instruments": len(instruments),
		}).Info("subscribed stream")
	}
	return nil
}

func (c *WSClient) readMessages(conn *websocket.Conn) error {
	log := c.log.WithComponent("ws_client")

	for {
		if c.ctx.Err() != nil {
			return c.ctx.Err()
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		tick, ok, err := decodeTick(raw)
		if err != nil {
			log.WithError(err).Debug("failed to decode stream message")
			continue
		}
		if !ok {
			continue
		}
		if !c.channels.PublishTick(tick) {
			log.WithFields(logger.Fields{
				"symbol": tick.Symbol,
				"kind":   string(tick.Kind),
			}).Debug("tick dropped, channel full")
		}
	}
}

func (c *WSClient) startPingLoop(conn *websocket.Conn) context.CancelFunc {
	pingCtx, cancel := context.WithCancel(c.ctx)
	ticker := time.NewTicker(defaultKeepAlive)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				deadline := time.Now().Add(time.Second)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					c.log.WithComponent("ws_client").WithError(err).Warn("failed to send websocket ping")
					cancel()
					return
				}
			}
		}
	}()
	return cancel
}

func waitForReconnect(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}
