package websocket

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/cocoa-fruit/primeworks/domain"
	"github.com/satriahrh/cocoa-fruit/primeworks/usecase"
	"github.com/satriahrh/cocoa-fruit/primeworks/utils/log"
)

// JobReply answers watch, generate and cancel requests with the job's
// current state.
type JobReply struct {
	Type string     `json:"type"`
	Job  domain.Job `json:"job"`
}

type Server struct {
	upgrader websocket.Upgrader
	primes   *usecase.PrimeService
	broker   domain.MessageBroker
	hub      *Hub
}

func NewServer(primes *usecase.PrimeService, broker domain.MessageBroker) *Server {
	return &Server{
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		primes:   primes,
		broker:   broker,
		hub:      NewHub(),
	}
}

func (s *Server) GetHub() *Hub {
	return s.hub
}

// Run forwards job events from the broker to watching clients until ctx is
// done, then closes every client.
func (s *Server) Run(ctx context.Context) error {
	messages, err := s.broker.Subscribe(ctx, domain.JobsTopic, "")
	if err != nil {
		log.WithCtx(ctx).Error("Failed to subscribe to job events", zap.Error(err))
		return err
	}
	defer s.hub.CloseAll()

	log.WithCtx(ctx).Info("🎧 WebSocket server listening to job events")
	for msg := range messages {
		n := s.hub.Dispatch(msg.RoutingKey, msg.Payload)
		log.WithCtx(ctx).Debug("Forwarded job event", zap.String("job_id", msg.RoutingKey), zap.Int("clients", n))
	}
	log.WithCtx(ctx).Info("Job event listener stopped")
	return nil
}

func (s *Server) handleMessage(c *Client, in Inbound) {
	ctx := c.Context()
	switch in.Type {
	case "watch":
		if in.JobID == "" {
			c.SendError("invalid_argument", "job_id is required")
			return
		}
		// Unknown ids must not narrow the watch set.
		if _, err := s.primes.Get(ctx, in.JobID, false); err != nil {
			s.sendDomainError(c, err)
			return
		}
		c.Watch(in.JobID)
		s.reply(c, in.JobID)

	case "generate":
		bound, chunkSize, err := parseGenerate(in)
		if err != nil {
			c.SendError("invalid_argument", err.Error())
			return
		}
		job, err := s.primes.Start(ctx, bound, chunkSize)
		if err != nil {
			s.sendDomainError(c, err)
			return
		}
		c.Watch(job.ID)
		// Re-read after watching so a job that already finished is reported.
		s.reply(c, job.ID)

	case "cancel":
		if in.JobID == "" {
			c.SendError("invalid_argument", "job_id is required")
			return
		}
		if err := s.primes.Cancel(ctx, in.JobID); err != nil {
			s.sendDomainError(c, err)
			return
		}
		s.reply(c, in.JobID)

	default:
		c.SendError("invalid_argument", "unknown message type "+strconv.Quote(in.Type))
	}
}

func (s *Server) reply(c *Client, jobID string) {
	job, err := s.primes.Get(c.Context(), jobID, false)
	if err != nil {
		s.sendDomainError(c, err)
		return
	}
	c.SendJSON(JobReply{Type: "job", Job: job})
}

func (s *Server) sendDomainError(c *Client, err error) {
	code := "internal"
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		code = "invalid_argument"
	case errors.Is(err, domain.ErrJobNotFound):
		code = "not_found"
	case errors.Is(err, domain.ErrCancelled):
		code = "cancelled"
	case errors.Is(err, domain.ErrResourceExhausted):
		code = "resource_exhausted"
	}
	c.SendError(code, err.Error())
}

func parseGenerate(in Inbound) (bound, chunkSize int, err error) {
	if in.Bound == "" {
		return 0, 0, errors.New("bound is required")
	}
	bound, err = strconv.Atoi(in.Bound.String())
	if err != nil {
		return 0, 0, errors.New("bound must be an integer")
	}
	if in.ChunkSize != "" {
		chunkSize, err = strconv.Atoi(in.ChunkSize.String())
		if err != nil || chunkSize < 1 {
			return 0, 0, errors.New("chunk_size must be a positive integer")
		}
	}
	return bound, chunkSize, nil
}
