// Package rabbitmq manages the AMQP connection shared by a service's
// publisher and consumer sides, declares the event topology, and provides a
// confirming publisher and an acknowledging consumer loop.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"

	"time"

	"github.com/Gwatamalou/orderprocessor/internal/pkg/backoff"
	"github.com/Gwatamalou/orderprocessor/internal/pkg/log"
	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	// ErrNilConnection is returned when a method is called on a nil Connection.
	ErrNilConnection = errors.New("rabbitmq connection is nil")
	// ErrChannelRequired is returned when an operation needs a channel and none is available.
	ErrChannelRequired = errors.New("rabbitmq channel is required")
)

// Connection is a hub which deals with a rabbitmq connection and the channels
// opened on it.
type Connection struct {
	ConnectionString string `json:"-"`
	Logger           log.Logger

	mu         sync.Mutex
	connection *amqp.Connection
	channel    *amqp.Channel
	connected  bool

	dialer         func(string) (*amqp.Connection, error)
	channelFactory func(*amqp.Connection) (*amqp.Channel, error)
}

func (rc *Connection) applyDefaults() {
	if rc.dialer == nil {
		rc.dialer = amqp.Dial
	}

	if rc.channelFactory == nil {
		rc.channelFactory = func(conn *amqp.Connection) (*amqp.Channel, error) {
			if conn == nil {
				return nil, errors.New("cannot create channel: connection is nil")
			}

			return conn.Channel()
		}
	}
}

// Connect establishes the broker connection and opens the shared channel.
func (rc *Connection) Connect(ctx context.Context) error {
	if rc == nil {
		return ErrNilConnection
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("rabbitmq connect: %w", err)
	}

	rc.mu.Lock()
	rc.applyDefaults()
	dialer := rc.dialer
	channelFactory := rc.channelFactory
	connStr := rc.ConnectionString
	logger := rc.logger()
	rc.mu.Unlock()

	logger.Log(ctx, log.LevelInfo, "connecting to rabbitmq")

	conn, err := dialer(connStr)
	if err != nil {
		logger.Log(ctx, log.LevelError, "failed to connect to rabbitmq", log.String("error_detail", sanitizeAMQPErr(err, connStr)))

		return fmt.Errorf("failed to connect to rabbitmq: %s", sanitizeAMQPErr(err, connStr))
	}

	ch, err := channelFactory(conn)
	if err != nil {
		_ = conn.Close()

		logger.Log(ctx, log.LevelError, "failed to open channel on rabbitmq", log.Err(err))

		return fmt.Errorf("failed to open channel on rabbitmq: %w", err)
	}

	rc.mu.Lock()
	rc.connection = conn
	rc.channel = ch
	rc.connected = true
	rc.mu.Unlock()

	logger.Log(ctx, log.LevelInfo, "connected to rabbitmq")

	return nil
}

const (
	// DefaultConnectAttempts bounds startup connection retries.
	DefaultConnectAttempts = 5

	connectRetryBase = 500 * time.Millisecond
)

// ConnectWithRetry establishes the broker connection, retrying with jittered
// exponential backoff. The broker usually comes up later than the services
// that depend on it, so startup tolerates a window of refused connections.
func (rc *Connection) ConnectWithRetry(ctx context.Context, attempts int) error {
	if rc == nil {
		return ErrNilConnection
	}

	if attempts <= 0 {
		attempts = DefaultConnectAttempts
	}

	var err error

	for attempt := range attempts {
		err = rc.Connect(ctx)
		if err == nil {
			return nil
		}

		if attempt == attempts-1 {
			break
		}

		delay := backoff.ExponentialWithJitter(connectRetryBase, attempt)

		rc.logger().Log(ctx, log.LevelWarn, "retrying rabbitmq connection",
			log.Int("attempt", attempt+1),
			log.String("delay", delay.String()),
		)

		if sleepErr := backoff.Sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}

	return fmt.Errorf("rabbitmq connect after %d attempts: %w", attempts, err)
}

// GetChannel returns the shared channel, reconnecting if the connection or
// channel has been closed underneath us.
func (rc *Connection) GetChannel(ctx context.Context) (*amqp.Channel, error) {
	if rc == nil {
		return nil, ErrNilConnection
	}

	rc.mu.Lock()

	if rc.connected && rc.channel != nil && !rc.channel.IsClosed() {
		ch := rc.channel
		rc.mu.Unlock()

		return ch, nil
	}
	rc.mu.Unlock()

	if err := rc.Connect(ctx); err != nil {
		return nil, err
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.channel == nil {
		rc.connected = false

		return nil, ErrChannelRequired
	}

	return rc.channel, nil
}

// NewChannel opens a dedicated channel on the underlying connection.
// Publishers and consumers must not share one channel because confirm mode
// and Qos are channel-scoped.
func (rc *Connection) NewChannel(ctx context.Context) (*amqp.Channel, error) {
	if rc == nil {
		return nil, ErrNilConnection
	}

	if _, err := rc.GetChannel(ctx); err != nil {
		return nil, err
	}

	rc.mu.Lock()
	conn := rc.connection
	channelFactory := rc.channelFactory
	rc.mu.Unlock()

	ch, err := channelFactory(conn)
	if err != nil {
		return nil, fmt.Errorf("failed to open channel on rabbitmq: %w", err)
	}

	return ch, nil
}

// Healthy reports whether the broker connection is established and open.
func (rc *Connection) Healthy() bool {
	if rc == nil {
		return false
	}

	rc.mu.Lock()
	defer rc.mu.Unlock()

	return rc.connected && rc.connection != nil && !rc.connection.IsClosed()
}

// Close closes the shared channel and the connection.
func (rc *Connection) Close() error {
	if rc == nil {
		return ErrNilConnection
	}

	rc.mu.Lock()
	channel := rc.channel
	connection := rc.connection
	rc.channel = nil
	rc.connection = nil
	rc.connected = false
	logger := rc.logger()
	rc.mu.Unlock()

	var closeErr error

	if channel != nil && !channel.IsClosed() {
		if err := channel.Close(); err != nil {
			closeErr = fmt.Errorf("failed to close rabbitmq channel: %w", err)
			logger.Log(context.Background(), log.LevelWarn, "failed to close rabbitmq channel", log.Err(err))
		}
	}

	if connection != nil && !connection.IsClosed() {
		if err := connection.Close(); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("failed to close rabbitmq connection: %w", err))
			logger.Log(context.Background(), log.LevelWarn, "failed to close rabbitmq connection", log.Err(err))
		}
	}

	return closeErr
}

func (rc *Connection) logger() log.Logger {
	if rc == nil || rc.Logger == nil {
		return log.NewNop()
	}

	return rc.Logger
}

// BuildConnectionString constructs an AMQP connection string. Special
// characters in user and password are URL-encoded automatically.
func BuildConnectionString(protocol, user, pass, host, port, vhost string) string {
	u := &url.URL{Scheme: protocol}
	if user != "" || pass != "" {
		u.User = url.UserPassword(user, pass)
	}

	if port != "" {
		u.Host = net.JoinHostPort(host, port)
	} else {
		u.Host = host
	}

	if vhost != "" {
		u.Path = "/" + vhost
	}

	return u.String()
}

func sanitizeAMQPErr(err error, connectionString string) string {
	if err == nil {
		return ""
	}

	if connectionString == "" {
		return err.Error()
	}

	referenceURL, parseErr := url.Parse(connectionString)
	if parseErr != nil {
		return err.Error()
	}

	errMsg := strings.ReplaceAll(err.Error(), connectionString, referenceURL.Redacted())

	if referenceURL.User != nil {
		if pass, ok := referenceURL.User.Password(); ok && pass != "" {
			errMsg = strings.ReplaceAll(errMsg, pass, "xxxxx")
		}
	}

	return errMsg
}
