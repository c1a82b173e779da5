// Package chat runs a question through a session: it keeps the conversation
// window, prefers the cloud answerer when one is configured, and falls back
// to the local knowledge engine.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/studypilot/backend/internal/conversation"
	"github.com/studypilot/backend/internal/metrics"
	"github.com/studypilot/backend/internal/query"
	"github.com/studypilot/backend/internal/stats"
	"github.com/studypilot/backend/internal/storage/models"
	"github.com/studypilot/backend/pkg/logger"
)

// UnexpectedMessage is the only failure text shown to students.
const UnexpectedMessage = "Something unexpected happened. Please try rephrasing your question."

var ErrUnexpected = errors.New(UnexpectedMessage)

type CloudAnswerer interface {
	Answer(ctx context.Context, question string, history []conversation.Message) (query.Response, error)
}

type Options struct {
	// Cloud is optional; nil answers everything locally.
	Cloud            CloudAnswerer
	AllowedMIMETypes []string
}

type Service struct {
	engine   *query.Engine
	sessions *SessionStore
	recorder *stats.Recorder
	cloud    CloudAnswerer
	allowed  map[string]struct{}
	// writes tracks statistics writes still in flight.
	writes sync.WaitGroup
}

type Request struct {
	SessionID string
	Query     string
	Files     []query.Attachment
}

type Reply struct {
	SessionID string
	Response  query.Response
	// Discarded is set when the session was reset while the answer was
	// pending; the answer was not added to the conversation.
	Discarded bool
	Rejected  []string
}

func NewService(engine *query.Engine, sessions *SessionStore, recorder *stats.Recorder, opts Options) *Service {
	allowed := make(map[string]struct{}, len(opts.AllowedMIMETypes))
	for _, m := range opts.AllowedMIMETypes {
		allowed[strings.ToLower(m)] = struct{}{}
	}
	if recorder == nil {
		recorder = stats.NewRecorder("none", nil)
	}

	return &Service{
		engine:   engine,
		sessions: sessions,
		recorder: recorder,
		cloud:    opts.Cloud,
		allowed:  allowed,
	}
}

func (s *Service) NewSession() (string, error) {
	sess, err := s.sessions.Create()
	if err != nil {
		return "", err
	}
	return sess.ID, nil
}

func (s *Service) History(sessionID string) ([]conversation.Message, error) {
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	msgs, _ := sess.Buffer.Snapshot()
	return msgs, nil
}

// Reset clears the conversation. Answers still pending for it are dropped
// when they arrive.
func (s *Service) Reset(sessionID string) error {
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	sess.Buffer.Reset()
	logger.Info("Conversation reset", zap.String("session_id", sessionID))
	return nil
}

func (s *Service) DeleteSession(sessionID string) error {
	if !s.sessions.Delete(sessionID) {
		return ErrSessionNotFound
	}
	return nil
}

// Ask answers one question within a session, creating the session when
// req.SessionID is empty. Failures other than a missing session or a
// cancelled ctx surface as ErrUnexpected.
func (s *Service) Ask(ctx context.Context, req Request) (reply *Reply, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Recovered from panic while answering",
				zap.String("session_id", req.SessionID),
				zap.Any("panic", r),
			)
			reply, err = nil, ErrUnexpected
		}
	}()

	start := time.Now()

	sess, err := s.sessions.Resolve(req.SessionID)
	if err != nil {
		return nil, err
	}

	history, generation := sess.Buffer.Snapshot()

	accepted, rejected := s.filterAttachments(req.Files)
	names := make([]string, 0, len(accepted))
	for _, f := range accepted {
		names = append(names, f.Name)
	}
	sess.Buffer.Append(conversation.NewUserMessage(req.Query, names))

	resp, err := s.answer(ctx, req.Query, accepted, history)
	if err != nil {
		return nil, err
	}

	reply = &Reply{SessionID: sess.ID, Response: resp, Rejected: rejected}

	if !sess.Buffer.AppendIfCurrent(generation, conversation.NewAIMessage(resp.Text, resp.Confidence, resp.Topic)) {
		reply.Discarded = true
		metrics.ResponsesDiscarded.Inc()
		logger.Info("Discarded answer for reset conversation",
			zap.String("session_id", sess.ID),
			zap.String("response_id", resp.ID),
		)
	}

	stage := string(resp.Stage)
	metrics.QueryTotal.WithLabelValues(stage).Inc()
	metrics.ConfidenceScore.WithLabelValues(stage).Observe(resp.Confidence)
	metrics.QueryDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())

	s.record(context.WithoutCancel(ctx), models.MatchOutcome{
		ResponseID: resp.ID,
		Stage:      stage,
		Topic:      resp.Topic,
		Confidence: resp.Confidence,
		IsLocal:    resp.IsLocal,
		CreatedAt:  time.Now(),
	})

	logger.Info("Query answered",
		zap.String("session_id", sess.ID),
		zap.String("response_id", resp.ID),
		zap.String("stage", stage),
		zap.String("topic", resp.Topic),
		zap.Float64("confidence", resp.Confidence),
		zap.Duration("latency", time.Since(start)),
	)

	return reply, nil
}

// record stores the outcome off the answer path; a slow statistics backend
// never delays the reply.
func (s *Service) record(ctx context.Context, outcome models.MatchOutcome) {
	s.writes.Add(1)
	go func() {
		defer s.writes.Done()
		_ = s.recorder.Record(ctx, outcome)
	}()
}

// Flush waits for pending statistics writes. Call it before closing the
// recorder.
func (s *Service) Flush() {
	s.writes.Wait()
}

func (s *Service) answer(ctx context.Context, text string, files []query.Attachment, history []conversation.Message) (query.Response, error) {
	if s.cloud != nil && strings.TrimSpace(text) != "" {
		resp, err := s.cloud.Answer(ctx, text, history)
		if err == nil {
			metrics.CloudRequests.WithLabelValues("success").Inc()
			return resp, nil
		}
		metrics.CloudRequests.WithLabelValues("error").Inc()
		if ctx.Err() != nil {
			return query.Response{}, ctx.Err()
		}
		logger.Warn("Cloud answer failed, using local engine", zap.Error(err))
	}

	p := s.engine.Match(ctx, query.Query{Text: text, Files: files}, history)
	metrics.ThinkingDelay.Observe(p.Delay().Seconds())

	resp, err := p.Wait(ctx)
	if err != nil {
		p.Cancel()
		metrics.PendingCancelled.Inc()
		return query.Response{}, fmt.Errorf("answer abandoned: %w", err)
	}
	return resp, nil
}

func (s *Service) filterAttachments(files []query.Attachment) (accepted []query.Attachment, rejected []string) {
	for _, f := range files {
		if _, ok := s.allowed[strings.ToLower(f.MIMEType)]; ok || len(s.allowed) == 0 {
			accepted = append(accepted, f)
			continue
		}
		rejected = append(rejected, f.Name)
	}
	return accepted, rejected
}

func (s *Service) Sessions() int {
	return s.sessions.Count()
}
