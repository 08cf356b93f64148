// Package natsrpc answers execution requests published on NATS.
package natsrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Wangjien/snippetsHub/internal/model"
)

// Subject is the request/reply subject executions are served on.
const Subject = "snippetrun.execute"

// QueueGroup load-balances requests across every responder sharing it.
const QueueGroup = "snippetrun"

// Executor runs one snippet to completion.
type Executor interface {
	Execute(ctx context.Context, code, language string, opts model.ExecutionOptions) (model.ExecutionResult, error)
}

// Reply is the JSON body sent back to the requester. Result is nil when the
// execution failed before a process started.
type Reply struct {
	Result *model.ExecutionResult `json:"result,omitempty"`
	Error  string                 `json:"error,omitempty"`
	Kind   model.ErrorKind        `json:"kind,omitempty"`
}

// Responder executes snippets on behalf of NATS requesters.
type Responder struct {
	exec   Executor
	logger *slog.Logger
}

// NewResponder creates a responder backed by exec.
func NewResponder(exec Executor, logger *slog.Logger) *Responder {
	return &Responder{exec: exec, logger: logger}
}

// Handle decodes one request body, executes it and encodes the reply.
func (r *Responder) Handle(ctx context.Context, data []byte) []byte {
	var req model.ExecuteRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return encodeReply(Reply{
			Error: fmt.Sprintf("decode request: %v", err),
			Kind:  model.KindInvalidRequest,
		})
	}

	result, err := r.exec.Execute(ctx, req.Code, req.Language, req.Options())
	reply := Reply{}
	kind := model.KindOf(err)
	switch kind {
	case "", model.KindTimedOut, model.KindCancelled:
		reply.Result = &result
	}
	if err != nil {
		reply.Error = err.Error()
		reply.Kind = kind
	}
	return encodeReply(reply)
}

// Serve polls the draining subscription every drainPoll and gives up after
// drainTimeout, matching the nats.go default for connection drains.
const (
	drainPoll    = 20 * time.Millisecond
	drainTimeout = 30 * time.Second
)

// Serve subscribes to Subject in QueueGroup and answers requests until ctx
// is cancelled. It then drains the subscription, answers every message that
// was already delivered, and waits for those replies to be sent.
func (r *Responder) Serve(ctx context.Context, nc *nats.Conn) error {
	var fl inflight
	sub, err := nc.QueueSubscribe(Subject, QueueGroup, func(msg *nats.Msg) {
		if msg.Reply == "" {
			r.logger.Warn("nats request without reply subject", "subject", msg.Subject)
			return
		}
		if !fl.enter() {
			r.respond(msg, encodeReply(Reply{
				Error: "responder is shutting down",
				Kind:  model.KindCancelled,
			}))
			return
		}
		go func() {
			defer fl.leave()
			r.respond(msg, r.Handle(ctx, msg.Data))
		}()
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", Subject, err)
	}
	r.logger.Info("nats responder listening", "subject", Subject, "queue", QueueGroup)

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		r.logger.Error("drain nats subscription", "error", err)
	}
	if !waitDrained(sub, drainPoll, drainTimeout) {
		r.logger.Warn("nats subscription still draining, stopping anyway", "timeout", drainTimeout)
	}
	fl.closeAndWait()
	return nil
}

func (r *Responder) respond(msg *nats.Msg, data []byte) {
	if err := msg.Respond(data); err != nil {
		r.logger.Error("nats respond", "error", err)
	}
}

// waitDrained blocks until sub stops being valid, which nats.go signals once
// an asynchronous Drain has delivered every pending message. It reports false
// if that takes longer than limit.
func waitDrained(sub interface{ IsValid() bool }, every, limit time.Duration) bool {
	deadline := time.Now().Add(limit)
	for sub.IsValid() {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(every)
	}
	return true
}

// inflight counts reply goroutines. Once closed it admits no more, so Add
// never races the final Wait.
type inflight struct {
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func (f *inflight) enter() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.wg.Add(1)
	return true
}

func (f *inflight) leave() {
	f.wg.Done()
}

func (f *inflight) closeAndWait() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.wg.Wait()
}

func encodeReply(r Reply) []byte {
	b, err := json.Marshal(r)
	if err != nil {
		// Reply only holds strings and numbers.
		panic(fmt.Sprintf("marshal nats reply: %v", err))
	}
	return b
}
