// Package grpcapi serves the relay over a bidirectional gRPC stream for
// backend callers that prefer gRPC to websockets.
package grpcapi

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"meeting-translation-relay/internal/service/relay"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "relay.v1.TranslationRelay"

// RelayMethod is the full method name of the bidirectional relay stream.
const RelayMethod = "/" + ServiceName + "/Relay"

// RelayServer is the server API of the TranslationRelay service.
type RelayServer interface {
	Relay(stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RelayServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Relay",
			Handler:       relayHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "relay/v1/relay.json",
}

func relayHandler(srv any, stream grpc.ServerStream) error {
	return srv.(RelayServer).Relay(stream)
}

type Server struct {
	manager *relay.Manager
	base    context.Context
}

// Register adds the TranslationRelay service to g. Streams stop when base
// is cancelled, which lets GracefulStop finish.
func Register(g *grpc.Server, m *relay.Manager, base context.Context) *Server {
	if base == nil {
		base = context.Background()
	}
	s := &Server{manager: m, base: base}
	g.RegisterService(&serviceDesc, s)
	return s
}

func (s *Server) Relay(stream grpc.ServerStream) error {
	ctx, cancel := context.WithCancel(stream.Context())
	defer cancel()
	stop := context.AfterFunc(s.base, cancel)
	defer stop()

	ch := newStreamChannel(stream)
	err := s.manager.Serve(ctx, ch, "grpc")
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Msg("gRPC relay stream ended with error")
		return status.Error(codes.Internal, err.Error())
	}
	return nil
}

type received struct {
	data []byte
	err  error
}

// streamChannel adapts a server stream to relay.Channel. RecvMsg cannot be
// interrupted before the handler returns, so a pump goroutine reads ahead
// and Close unblocks Receive instead.
type streamChannel struct {
	stream grpc.ServerStream
	recv   chan received
	closed chan struct{}
	once   sync.Once
}

func newStreamChannel(stream grpc.ServerStream) *streamChannel {
	c := &streamChannel{
		stream: stream,
		recv:   make(chan received),
		closed: make(chan struct{}),
	}
	go c.pump()
	return c
}

func (c *streamChannel) pump() {
	for {
		var f Frame
		err := c.stream.RecvMsg(&f)
		select {
		case c.recv <- received{data: f.Data, err: err}:
		case <-c.closed:
			return
		}
		if err != nil {
			return
		}
	}
}

func (c *streamChannel) Receive(ctx context.Context) ([]byte, error) {
	select {
	case r := <-c.recv:
		return r.data, r.err
	case <-c.closed:
		return nil, errors.New("stream closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *streamChannel) Send(ctx context.Context, data []byte) error {
	select {
	case <-c.closed:
		return errors.New("stream closed")
	default:
	}
	return c.stream.SendMsg(&Frame{Data: data})
}

func (c *streamChannel) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}
