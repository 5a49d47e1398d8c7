package client

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/KevoDB/bpt/pkg/grpc/service"
	"github.com/KevoDB/bpt/pkg/grpc/transport"
)

// ClientOptions configures an index service client
type ClientOptions struct {
	// Connection options
	Endpoint       string        // Server address
	ConnectTimeout time.Duration // Timeout for connection attempts
	RequestTimeout time.Duration // Default timeout for requests

	// Security options
	TLSEnabled bool                 // Enable TLS
	TLS        *transport.TLSConfig // Certificates and verification, nil for system roots

	// Retry options
	MaxRetries     int           // Maximum number of retries
	InitialBackoff time.Duration // Initial retry backoff
	MaxBackoff     time.Duration // Maximum retry backoff
	BackoffFactor  float64       // Backoff multiplier
	RetryJitter    float64       // Random jitter factor

	MaxMessageSize int // Maximum message size

	// DialOptions are appended to the options built from the fields above
	DialOptions []grpc.DialOption
}

// DefaultClientOptions returns sensible default client options
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		Endpoint:       "localhost:50051",
		ConnectTimeout: time.Second * 5,
		RequestTimeout: time.Second * 10,
		MaxRetries:     3,
		InitialBackoff: time.Millisecond * 100,
		MaxBackoff:     time.Second * 2,
		BackoffFactor:  1.5,
		RetryJitter:    0.2,
		MaxMessageSize: 16 * 1024 * 1024, // 16MB
	}
}

// Client talks to a remote index service
type Client struct {
	options ClientOptions
	retry   retryPolicy
	conn    *grpc.ClientConn
	stub    service.IndexServiceClient
}

// NewClient creates a client. No connection is made until the first request or Connect.
func NewClient(options ClientOptions) (*Client, error) {
	if options.Endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint is required", ErrInvalidOptions)
	}
	if options.RequestTimeout <= 0 {
		return nil, fmt.Errorf("%w: request timeout must be positive", ErrInvalidOptions)
	}

	creds := insecure.NewCredentials()
	if options.TLSEnabled {
		tlsConfig, err := transport.LoadClientTLSConfigFromStruct(options.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS config: %w", err)
		}
		creds = credentials.NewTLS(tlsConfig)
	}

	dialOpts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if options.MaxMessageSize > 0 {
		dialOpts = append(dialOpts, grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(options.MaxMessageSize)))
	}
	dialOpts = append(dialOpts, options.DialOptions...)

	conn, err := grpc.NewClient(options.Endpoint, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection: %w", err)
	}

	return &Client{
		options: options,
		retry:   newRetryPolicy(options),
		conn:    conn,
		stub:    service.NewIndexServiceClient(conn),
	}, nil
}

// Connect waits until the connection is ready or ConnectTimeout passes
func (c *Client) Connect(ctx context.Context) error {
	if c.options.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.options.ConnectTimeout)
		defer cancel()
	}

	c.conn.Connect()
	for state := c.conn.GetState(); state != connectivity.Ready; state = c.conn.GetState() {
		if state == connectivity.Shutdown {
			return ErrNotConnected
		}
		if !c.conn.WaitForStateChange(ctx, state) {
			return fmt.Errorf("%w: %s", ErrTimeout, state)
		}
	}
	return nil
}

// Close closes the connection to the server
func (c *Client) Close() error {
	return c.conn.Close()
}

// IsConnected returns whether the connection is ready
func (c *Client) IsConnected() bool {
	return c.conn.GetState() == connectivity.Ready
}

// Find retrieves the value stored under key
func (c *Client) Find(ctx context.Context, key []byte) ([]byte, bool, error) {
	var resp *wrapperspb.BytesValue
	err := c.call(ctx, func(ctx context.Context) error {
		var err error
		resp, err = c.stub.Find(ctx, wrapperspb.Bytes(key))
		return err
	})

	if status.Code(err) == codes.NotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return resp.GetValue(), true, nil
}

// FindMultiple retrieves every value stored under key
func (c *Client) FindMultiple(ctx context.Context, key []byte) ([][]byte, error) {
	var vals [][]byte
	err := c.call(ctx, func(ctx context.Context) error {
		list, err := c.stub.FindMultiple(ctx, wrapperspb.Bytes(key))
		if err != nil {
			return err
		}

		vals = make([][]byte, 0, len(list.GetValues()))
		for _, v := range list.GetValues() {
			raw, err := base64.StdEncoding.DecodeString(v.GetStringValue())
			if err != nil {
				return fmt.Errorf("invalid value in response: %w", err)
			}
			vals = append(vals, raw)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vals, nil
}

// Info returns the server's description of its index
func (c *Client) Info(ctx context.Context) (map[string]interface{}, error) {
	var info map[string]interface{}
	err := c.call(ctx, func(ctx context.Context) error {
		resp, err := c.stub.Info(ctx, &emptypb.Empty{})
		if err != nil {
			return err
		}
		info = resp.AsMap()
		return nil
	})
	return info, err
}

// call runs fn with the request timeout, retrying transient failures
func (c *Client) call(ctx context.Context, fn func(context.Context) error) error {
	return c.retry.do(ctx, func() error {
		timeoutCtx, cancel := context.WithTimeout(ctx, c.options.RequestTimeout)
		defer cancel()

		err := fn(timeoutCtx)
		if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return err
	})
}
