package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"

	"crypto-terminal/internal/common"
	"crypto-terminal/internal/util"
)

const (
	FeedServiceName     = "terminal.v1.FeedService"
	subscribeMethodPath = "/" + FeedServiceName + "/Subscribe"
)

// FeedServiceServer streams terminal events. Requests and events are
// google.protobuf.Struct messages so no generated code is needed.
type FeedServiceServer interface {
	Subscribe(req *structpb.Struct, stream grpc.ServerStream) error
}

func subscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(FeedServiceServer).Subscribe(req, stream)
}

var FeedServiceDesc = grpc.ServiceDesc{
	ServiceName: FeedServiceName,
	HandlerType: (*FeedServiceServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "terminal/v1/feed.proto",
}

// ToStruct converts an event into its wire form.
func ToStruct(ev Event) (*structpb.Struct, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	return structpb.NewStruct(fields)
}

// FromStruct is the inverse of ToStruct.
func FromStruct(s *structpb.Struct) (Event, error) {
	raw, err := s.MarshalJSON()
	if err != nil {
		return Event{}, fmt.Errorf("marshal struct: %w", err)
	}
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}

func kindsOf(req *structpb.Struct) []string {
	var kinds []string
	if req == nil {
		return kinds
	}
	list := req.GetFields()["kinds"].GetListValue()
	for _, v := range list.GetValues() {
		if k := v.GetStringValue(); k != "" {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// GRPCServer serves the hub over gRPC together with the standard health service.
type GRPCServer struct {
	hub    *Hub
	server *grpc.Server
	health *health.Server
	logger *util.Logger

	quit     chan struct{}
	quitOnce sync.Once
}

func NewGRPCServer(hub *Hub) *GRPCServer {
	g := &GRPCServer{
		hub: hub,
		server: grpc.NewServer(
			grpc.MaxRecvMsgSize(common.MaxGRPCMessageSize),
			grpc.MaxSendMsgSize(common.MaxGRPCMessageSize),
		),
		health: health.NewServer(),
		logger: util.NewLogger("feed-grpc"),
		quit:   make(chan struct{}),
	}
	g.server.RegisterService(&FeedServiceDesc, g)
	grpc_health_v1.RegisterHealthServer(g.server, g.health)
	g.health.SetServingStatus(FeedServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	return g
}

// Subscribe sends the latest event of each requested kind, then live events
// until the client goes away.
func (g *GRPCServer) Subscribe(req *structpb.Struct, stream grpc.ServerStream) error {
	kinds := kindsOf(req)
	ch, cancel := g.hub.Subscribe(kinds...)
	defer cancel()

	wanted := &listenerEntry{}
	if len(kinds) > 0 {
		wanted.kinds = make(map[string]bool, len(kinds))
		for _, k := range kinds {
			wanted.kinds[k] = true
		}
	}
	for _, ev := range g.hub.Snapshot() {
		if wanted.wants(ev.Kind) {
			if err := g.send(stream, ev); err != nil {
				return err
			}
		}
	}

	g.logger.Debug("Feed subscriber attached", "kinds", kinds)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if err := g.send(stream, ev); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		case <-g.quit:
			return nil
		}
	}
}

func (g *GRPCServer) send(stream grpc.ServerStream, ev Event) error {
	msg, err := ToStruct(ev)
	if err != nil {
		g.logger.Debug("Skipping unencodable event", "kind", ev.Kind, "err", err.Error())
		return nil
	}
	if err := stream.SendMsg(msg); err != nil {
		g.logger.Error(err, common.ErrCodeStreamClosed, common.ErrMsgStreamClosed,
			"Failed to send event to stream", "kind", ev.Kind)
		return err
	}
	return nil
}

// Serve blocks until the listener fails or the server stops.
func (g *GRPCServer) Serve(lis net.Listener) error {
	g.logger.Info("Starting gRPC feed", "address", lis.Addr().String())
	if err := g.server.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

// Stop ends open subscriptions, then waits for in-flight calls.
func (g *GRPCServer) Stop() {
	g.quitOnce.Do(func() { close(g.quit) })
	g.health.Shutdown()
	g.server.GracefulStop()
}

// FeedStream is the client side of a Subscribe call.
type FeedStream struct {
	stream grpc.ClientStream
}

// Subscribe opens a feed stream on conn for the given kinds, or all kinds.
func Subscribe(ctx context.Context, conn grpc.ClientConnInterface, kinds []string) (*FeedStream, error) {
	stream, err := conn.NewStream(ctx, &FeedServiceDesc.Streams[0], subscribeMethodPath)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}

	list := make([]interface{}, len(kinds))
	for i, k := range kinds {
		list[i] = k
	}
	req, err := structpb.NewStruct(map[string]interface{}{"kinds": list})
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, fmt.Errorf("send subscribe request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("close send: %w", err)
	}
	return &FeedStream{stream: stream}, nil
}

// Recv blocks for the next event. io.EOF marks a clean end of stream.
func (f *FeedStream) Recv() (Event, error) {
	msg := new(structpb.Struct)
	if err := f.stream.RecvMsg(msg); err != nil {
		return Event{}, err
	}
	ev, err := FromStruct(msg)
	if err != nil {
		return Event{}, err
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	return ev, nil
}
