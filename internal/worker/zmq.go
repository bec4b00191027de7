package worker

import (
	"context"
	"sync"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/bardlex/oreminer/internal/ledger"
	"github.com/bardlex/oreminer/internal/search"
	"github.com/bardlex/oreminer/pkg/errors"
	"github.com/bardlex/oreminer/pkg/log"
)

// pollTimeout bounds how long a socket loop waits before checking its channels
const pollTimeout = 50 * time.Millisecond

// Remote is a Channel to a worker hosted in another process over a ZMQ PAIR
// socket. The socket is owned by one goroutine; Send hands it encoded frames.
//
// The wire schema carries no request identifier, so a response that raced a
// newer request is recognised by re-verifying it against the latest Mine and
// dropped if it does not match.
type Remote struct {
	endpoint string
	socket   *zmq.Socket
	logger   *log.Logger

	outbound  chan outbound
	responses chan ledger.MineResponse
	done      chan struct{}
	closeOnce sync.Once
}

type outbound struct {
	frame []byte
	req   Request
}

// Dial connects to a worker server at endpoint (for example tcp://10.0.0.5:5557)
func Dial(endpoint string, logger *log.Logger) (*Remote, error) {
	socket, err := zmq.NewSocket(zmq.PAIR)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeNetwork, "zmq_socket",
			"failed to create ZMQ socket")
	}
	if err := socket.SetLinger(0); err != nil {
		socket.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeNetwork, "zmq_socket",
			"failed to set linger")
	}
	if err := socket.Connect(endpoint); err != nil {
		socket.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeNetwork, "zmq_connect",
			"failed to connect to worker endpoint").
			WithContext("endpoint", endpoint)
	}

	logger = logger.WithComponent("worker_remote").WithFields("endpoint", endpoint)
	logger.Info("connected to remote worker")

	return &Remote{
		endpoint:  endpoint,
		socket:    socket,
		logger:    logger,
		outbound:  make(chan outbound),
		responses: make(chan ledger.MineResponse),
		done:      make(chan struct{}),
	}, nil
}

// Start runs the socket loop until ctx is cancelled or Close is called
func (r *Remote) Start(ctx context.Context) {
	go r.run(ctx)
}

// Send encodes and forwards a message to the remote worker
func (r *Remote) Send(ctx context.Context, req Request) error {
	frame, err := EncodeRequest(req)
	if err != nil {
		return err
	}

	select {
	case <-r.done:
		return ErrClosed
	default:
	}

	select {
	case r.outbound <- outbound{frame: frame, req: req}:
		return nil
	case <-r.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Responses delivers verified results for the latest Mine
func (r *Remote) Responses() <-chan ledger.MineResponse {
	return r.responses
}

// Close stops the loop; the socket is closed by the loop on exit
func (r *Remote) Close() {
	r.closeOnce.Do(func() { close(r.done) })
}

func (r *Remote) run(ctx context.Context) {
	defer r.Close()
	defer r.socket.Close()

	poller := zmq.NewPoller()
	poller.Add(r.socket, zmq.POLLIN)

	var (
		latest  *ledger.MineRequest
		pending ledger.MineResponse
		out     chan<- ledger.MineResponse
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return

		case msg := <-r.outbound:
			if _, err := r.socket.SendBytes(msg.frame, 0); err != nil {
				r.logger.WithError(err).Error("failed to send worker request", "kind", msg.req.Kind.String())
				continue
			}
			out = nil
			latest = nil
			if msg.req.Kind == KindMine {
				mine := msg.req.Mine
				latest = &mine
			}
			continue

		case out <- pending:
			out = nil
			continue

		default:
		}

		polled, err := poller.Poll(pollTimeout)
		if err != nil {
			r.logger.WithError(err).Warn("worker socket poll failed")
			continue
		}
		if len(polled) == 0 {
			continue
		}

		frame, err := r.socket.RecvBytes(0)
		if err != nil {
			r.logger.WithError(err).Warn("failed to receive worker response")
			continue
		}

		resp, err := DecodeResponse(frame)
		if err != nil {
			r.logger.WithError(err).Warn("dropping malformed worker response")
			continue
		}

		if latest == nil || !search.Verify(*latest, resp) {
			r.logger.Debug("dropping stale worker response", "nonce", resp.Nonce)
			continue
		}

		pending = resp
		out = r.responses
		latest = nil
	}
}

// Server hosts a Worker behind a ZMQ PAIR socket for a Remote peer
type Server struct {
	endpoint string
	worker   *Worker
	logger   *log.Logger
}

// NewServer creates a server that relays messages to w
func NewServer(endpoint string, w *Worker, logger *log.Logger) *Server {
	return &Server{
		endpoint: endpoint,
		worker:   w,
		logger:   logger.WithComponent("worker_server").WithFields("endpoint", endpoint),
	}
}

// Serve binds the endpoint and relays until ctx is cancelled
func (s *Server) Serve(ctx context.Context) error {
	socket, err := zmq.NewSocket(zmq.PAIR)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeNetwork, "zmq_socket",
			"failed to create ZMQ socket")
	}
	defer socket.Close()

	if err := socket.SetLinger(0); err != nil {
		return errors.Wrap(err, errors.ErrorTypeNetwork, "zmq_socket", "failed to set linger")
	}
	if err := socket.Bind(s.endpoint); err != nil {
		return errors.Wrap(err, errors.ErrorTypeNetwork, "zmq_bind",
			"failed to bind worker endpoint").
			WithContext("endpoint", s.endpoint)
	}
	s.logger.Info("worker server listening")

	poller := zmq.NewPoller()
	poller.Add(socket, zmq.POLLIN)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("worker server stopping")
			return ctx.Err()
		case resp := <-s.worker.Responses():
			if _, err := socket.SendBytes(EncodeResponse(resp), 0); err != nil {
				s.logger.WithError(err).Error("failed to send worker response", "nonce", resp.Nonce)
			}
			continue
		default:
		}

		polled, err := poller.Poll(pollTimeout)
		if err != nil {
			s.logger.WithError(err).Warn("worker socket poll failed")
			continue
		}
		if len(polled) == 0 {
			continue
		}

		frame, err := socket.RecvBytes(0)
		if err != nil {
			s.logger.WithError(err).Warn("failed to receive worker request")
			continue
		}

		req, err := DecodeRequest(frame)
		if err != nil {
			s.logger.WithError(err).Warn("dropping malformed worker request")
			continue
		}

		if err := s.worker.Send(ctx, req); err != nil {
			return err
		}
	}
}

var _ Channel = (*Remote)(nil)
