package transport

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/quantum-shield/internal/orchestrator"
	"github.com/danielpatrickdp/quantum-shield/internal/superposition"
)

// #region client-struct
// Client calls a remote qshield.v1.Shield service.
type Client struct {
	conn *grpc.ClientConn
	cc   grpc.ClientConnInterface
}

// #endregion client-struct

// #region constructor
// NewClient connects to the Shield service at addr without transport security.
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{conn: conn, cc: conn}, nil
}

// NewClientWithConn creates a Client over an existing connection, which the
// caller keeps ownership of.
func NewClientWithConn(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// #endregion constructor

// #region close
// Close shuts down a connection opened by NewClient.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion close

// #region calls
// Protect stores data under policy on the remote service.
func (c *Client) Protect(ctx context.Context, req ProtectRequest) (orchestrator.ProtectResult, error) {
	var out orchestrator.ProtectResult
	err := c.call(ctx, "Protect", req, &out)
	return out, err
}

// Observe reads an item. A refused read is a result with Success=false.
func (c *Client) Observe(ctx context.Context, req ObserveRequest) (orchestrator.ObserveResult, error) {
	var out orchestrator.ObserveResult
	err := c.call(ctx, "Observe", req, &out)
	return out, err
}

// Metrics returns the health summary of item id.
func (c *Client) Metrics(ctx context.Context, id string) (superposition.Metrics, error) {
	var out superposition.Metrics
	err := c.call(ctx, "Metrics", IDRequest{ID: id}, &out)
	return out, err
}

// Restore reloads item id from the service's storage.
func (c *Client) Restore(ctx context.Context, id string) (superposition.Metrics, error) {
	var out superposition.Metrics
	err := c.call(ctx, "Restore", IDRequest{ID: id}, &out)
	return out, err
}

// Destroy discards item id.
func (c *Client) Destroy(ctx context.Context, id string) error {
	var out map[string]any
	return c.call(ctx, "Destroy", IDRequest{ID: id}, &out)
}

func (c *Client) call(ctx context.Context, method string, req, out any) error {
	in, err := toStruct(req)
	if err != nil {
		return err
	}
	resp := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, resp); err != nil {
		return fromStatus(method, err)
	}
	return fromStruct(resp, out)
}

// #endregion calls
