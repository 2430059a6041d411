package notifyclient

import (
	"errors"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Receiver is a minimal daemon endpoint: it accepts event streams, acks
// every event and hands it to Events. The bridge itself never runs one;
// it exists for integration tests and local debugging.
type Receiver struct {
	server *grpc.Server
	events chan *Event

	mu      sync.Mutex
	kicks   map[chan struct{}]struct{}
	reject  bool
	streams int
}

// NewReceiver creates a receiver buffering up to buffer events
func NewReceiver(buffer int, opts ...grpc.ServerOption) *Receiver {
	r := &Receiver{
		events: make(chan *Event, buffer),
		kicks:  make(map[chan struct{}]struct{}),
	}
	opts = append(opts,
		grpc.ForceServerCodec(jsonCodec{}),
		grpc.UnknownServiceHandler(r.handle),
	)
	r.server = grpc.NewServer(opts...)
	return r
}

// Serve accepts connections on lis until Stop
func (r *Receiver) Serve(lis net.Listener) error {
	err := r.server.Serve(lis)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// Events delivers every event received, in order
func (r *Receiver) Events() <-chan *Event {
	return r.events
}

// Streams returns the number of open event streams
func (r *Receiver) Streams() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streams
}

// SetReject makes new streams fail immediately with Unavailable
func (r *Receiver) SetReject(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reject = on
}

// DropClients ends every open stream with an orderly close
func (r *Receiver) DropClients() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for kick := range r.kicks {
		close(kick)
		delete(r.kicks, kick)
	}
}

// Stop closes the listener and every stream
func (r *Receiver) Stop() {
	r.DropClients()
	r.server.Stop()
}

func (r *Receiver) handle(_ any, stream grpc.ServerStream) error {
	method, _ := grpc.MethodFromServerStream(stream)
	if method != EventsMethod {
		return status.Errorf(codes.Unimplemented, "unknown method %s", method)
	}

	kick := make(chan struct{})
	r.mu.Lock()
	if r.reject {
		r.mu.Unlock()
		return status.Error(codes.Unavailable, "receiver rejecting streams")
	}
	r.kicks[kick] = struct{}{}
	r.streams++
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.kicks, kick)
		r.streams--
		r.mu.Unlock()
	}()

	recvErr := make(chan error, 1)
	go func() {
		for {
			ev := &Event{}
			if err := stream.RecvMsg(ev); err != nil {
				recvErr <- err
				return
			}
			select {
			case r.events <- ev:
			default:
				// buffer full, drop
			}
			if err := stream.SendMsg(&Ack{ID: ev.ID}); err != nil {
				recvErr <- err
				return
			}
		}
	}()

	select {
	case <-kick:
		return nil
	case <-recvErr:
		return nil
	case <-stream.Context().Done():
		return nil
	}
}
