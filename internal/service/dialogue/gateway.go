// Package dialogue is the boundary to the external conversational engine.
package dialogue

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var ErrDialogueUnavailable = errors.New("dialogue unavailable")

// Engine answers a prompt within a conversation it keeps history for.
type Engine interface {
	Converse(ctx context.Context, conversationID, prompt string) (string, error)
}

// Forgetter is implemented by engines that can drop a conversation's history.
type Forgetter interface {
	Forget(conversationID string)
}

// gate admits one caller at a time. Blocked senders on a buffered channel
// are woken in arrival order, which keeps conversational turns ordered.
type gate struct {
	slot    chan struct{}
	waiters int
}

// Gateway serializes engine calls per conversation.
type Gateway struct {
	engine Engine

	mu    sync.Mutex
	gates map[string]*gate
}

// NewGateway wraps engine.
func NewGateway(engine Engine) *Gateway {
	return &Gateway{
		engine: engine,
		gates:  make(map[string]*gate),
	}
}

// Converse sends prompt to the engine. Calls for the same conversation run
// one at a time in arrival order. Once a call has started it runs to
// completion even if ctx is cancelled.
func (g *Gateway) Converse(ctx context.Context, conversationID, prompt string) (string, error) {
	gt := g.acquireRef(conversationID)
	defer g.releaseRef(conversationID, gt)

	select {
	case gt.slot <- struct{}{}:
	case <-ctx.Done():
		return "", errors.Wrap(ctx.Err(), "waiting for conversation turn")
	}
	defer func() { <-gt.slot }()

	started := time.Now()
	reply, err := g.engine.Converse(context.WithoutCancel(ctx), conversationID, prompt)
	if err != nil {
		log.Error().Err(err).Str("component", "dialogue").Str("conversation_id", conversationID).Msg("engine call failed")
		return "", errors.Wrapf(ErrDialogueUnavailable, "conversation %s: %v", conversationID, err)
	}
	if strings.TrimSpace(reply) == "" {
		return "", errors.Wrapf(ErrDialogueUnavailable, "conversation %s: empty reply", conversationID)
	}

	log.Debug().Str("component", "dialogue").Str("conversation_id", conversationID).
		Dur("elapsed", time.Since(started)).Int("length", len(reply)).Msg("engine replied")
	return reply, nil
}

// Forget drops engine-side history for a discarded conversation.
func (g *Gateway) Forget(conversationID string) {
	if conversationID == "" {
		return
	}
	if f, ok := g.engine.(Forgetter); ok {
		f.Forget(conversationID)
	}
}

func (g *Gateway) acquireRef(conversationID string) *gate {
	g.mu.Lock()
	defer g.mu.Unlock()
	gt, ok := g.gates[conversationID]
	if !ok {
		gt = &gate{slot: make(chan struct{}, 1)}
		g.gates[conversationID] = gt
	}
	gt.waiters++
	return gt
}

func (g *Gateway) releaseRef(conversationID string, gt *gate) {
	g.mu.Lock()
	defer g.mu.Unlock()
	gt.waiters--
	if gt.waiters == 0 {
		delete(g.gates, conversationID)
	}
}

// pending reports how many callers hold or wait for a conversation's gate.
func (g *Gateway) pending(conversationID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if gt, ok := g.gates[conversationID]; ok {
		return gt.waiters
	}
	return 0
}
