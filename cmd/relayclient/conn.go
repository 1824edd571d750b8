package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	grpcapi "meeting-translation-relay/internal/api/grpc"
)

// relayConn is one ingest connection regardless of transport.
type relayConn interface {
	Send(v any) error
	Recv() (map[string]any, error)
	Close() error
}

func dial(ctx context.Context, f connFlags) (relayConn, error) {
	switch f.transport {
	case "websocket":
		return dialWebSocket(ctx, f)
	case "grpc":
		return dialGRPC(ctx, f)
	default:
		return nil, fmt.Errorf("unknown transport %q", f.transport)
	}
}

type wsConn struct {
	conn *websocket.Conn
}

func dialWebSocket(ctx context.Context, f connFlags) (*wsConn, error) {
	u := url.URL{Scheme: "ws", Host: f.server, Path: "/v1/relay"}
	header := http.Header{}
	if f.token != "" {
		header.Set("Authorization", "Bearer "+f.token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.String(), err)
	}
	return &wsConn{conn: conn}, nil
}

func (c *wsConn) Send(v any) error { return c.conn.WriteJSON(v) }

func (c *wsConn) Recv() (map[string]any, error) {
	var ev map[string]any
	err := c.conn.ReadJSON(&ev)
	return ev, err
}

func (c *wsConn) Close() error {
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}

type grpcConn struct {
	cc     *grpc.ClientConn
	stream grpc.ClientStream
}

func dialGRPC(ctx context.Context, f connFlags) (*grpcConn, error) {
	cc, err := grpc.NewClient(f.server,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(grpcapi.CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", f.server, err)
	}
	desc := &grpc.StreamDesc{StreamName: "Relay", ServerStreams: true, ClientStreams: true}
	stream, err := cc.NewStream(ctx, desc, grpcapi.RelayMethod)
	if err != nil {
		cc.Close()
		return nil, fmt.Errorf("open relay stream: %w", err)
	}
	return &grpcConn{cc: cc, stream: stream}, nil
}

func (c *grpcConn) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.stream.SendMsg(&grpcapi.Frame{Data: data})
}

func (c *grpcConn) Recv() (map[string]any, error) {
	var f grpcapi.Frame
	if err := c.stream.RecvMsg(&f); err != nil {
		return nil, err
	}
	var ev map[string]any
	err := json.Unmarshal(f.Data, &ev)
	return ev, err
}

func (c *grpcConn) Close() error {
	_ = c.stream.CloseSend()
	return c.cc.Close()
}

// printEvents logs every relay event until the connection ends. Audio deltas
// are summarised by size.
func printEvents(c relayConn, done chan<- struct{}) {
	defer close(done)
	for {
		ev, err := c.Recv()
		if err != nil {
			return
		}
		logEvent(ev)
	}
}
