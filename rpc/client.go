package rpc

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/pilosa/erpdk"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// Client is an erpdk.Resolver which talks to a resolution engine over gRPC.
// It is safe for concurrent use.
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration
	tls     *tls.Config
	dialOps []grpc.DialOption
	log     erpdk.Logger
}

// ClientOption is a functional option for NewClient.
type ClientOption func(c *Client)

// OptClientTimeout bounds every call made by the client. Zero means no
// timeout.
func OptClientTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// OptClientTLS makes the client connect using TLS.
func OptClientTLS(cfg *tls.Config) ClientOption {
	return func(c *Client) {
		c.tls = cfg
	}
}

// OptClientDialOptions adds extra grpc.DialOptions.
func OptClientDialOptions(opts ...grpc.DialOption) ClientOption {
	return func(c *Client) {
		c.dialOps = append(c.dialOps, opts...)
	}
}

// OptClientLogger sets the logger.
func OptClientLogger(log erpdk.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// NewClient returns a Client for the engine at addr. No connection is made
// until the first call.
func NewClient(addr string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		log: erpdk.NopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	creds := insecure.NewCredentials()
	if c.tls != nil {
		creds = credentials.NewTLS(c.tls)
	}
	dialOps := append([]grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}, c.dialOps...)
	conn, err := grpc.NewClient(addr, dialOps...)
	if err != nil {
		return nil, errors.Wrapf(err, "creating client for %s", addr)
	}
	c.conn = conn
	return c, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) invoke(ctx context.Context, method string, req, resp interface{}) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	err := c.conn.Invoke(ctx, method, req, resp)
	if err != nil {
		c.log.Debugf("%s: %v", method, err)
		return classify(err)
	}
	return nil
}

// classify maps gRPC status codes onto erpdk error kinds.
func classify(err error) error {
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.InvalidArgument, codes.NotFound, codes.FailedPrecondition, codes.OutOfRange:
		return errors.Wrapf(erpdk.ErrInvalidRecord, "%s: %s", st.Code(), st.Message())
	default:
		return errors.Wrapf(erpdk.ErrServiceUnavailable, "%s: %s", st.Code(), st.Message())
	}
}

// AddRecord implements erpdk.Resolver.
func (c *Client) AddRecord(ctx context.Context, dataSource, recordID string, rec erpdk.Record, withInfo bool) (*erpdk.Result, error) {
	req := &AddRecordRequest{
		DataSource: dataSource,
		RecordID:   recordID,
		Record:     rec,
		Flags:      flags(withInfo),
	}
	resp := &InfoResponse{}
	if err := c.invoke(ctx, MethodAddRecord, req, resp); err != nil {
		return nil, err
	}
	return parseInfo(resp.Result)
}

// GetRedoRecord implements erpdk.Resolver.
func (c *Client) GetRedoRecord(ctx context.Context) (erpdk.RedoUnit, error) {
	resp := &GetRedoRecordResponse{}
	if err := c.invoke(ctx, MethodGetRedoRecord, &GetRedoRecordRequest{}, resp); err != nil {
		return "", err
	}
	return erpdk.RedoUnit(resp.RedoRecord), nil
}

// ProcessRedoRecord implements erpdk.Resolver.
func (c *Client) ProcessRedoRecord(ctx context.Context, unit erpdk.RedoUnit, withInfo bool) (*erpdk.Result, error) {
	req := &ProcessRedoRecordRequest{
		RedoRecord: string(unit),
		Flags:      flags(withInfo),
	}
	resp := &InfoResponse{}
	if err := c.invoke(ctx, MethodProcessRedoRecord, req, resp); err != nil {
		return nil, err
	}
	return parseInfo(resp.Result)
}

// parseInfo decodes an info document. An engine which answers with a
// document we cannot read is misbehaving, not rejecting the record.
func parseInfo(info string) (*erpdk.Result, error) {
	res, err := erpdk.ParseResult([]byte(info))
	if err != nil {
		return nil, errors.Wrapf(erpdk.ErrServiceUnavailable, "%v", err)
	}
	return res, nil
}
