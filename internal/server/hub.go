// Package server coordinates history persistence, session admission and
// message fan-out via the Hub type.
package server

import (
	"context"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/Tyrowin/cipherchat/internal/chat"
	"github.com/Tyrowin/cipherchat/internal/protocol"
	"github.com/Tyrowin/cipherchat/internal/secure"
	"github.com/Tyrowin/cipherchat/internal/store"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// BroadcastResult summarizes one Broadcast call.
type BroadcastResult struct {
	// Seq is the history sequence id, or zero if persistence failed or no
	// history store is configured.
	Seq       int64
	Delivered int
	Failed    int
	// Evicted counts recipients dropped because their queue was full.
	Evicted int
}

// Hub persists accepted messages and fans them out to every session except
// the sender's.
type Hub struct {
	registry *Registry
	history  store.HistoryStore
	cipher   *secure.Cipher
	maxFrame uint32
	log      logrus.FieldLogger

	// Broadcasts hold mu for reading; Admit holds it for writing so a
	// joining session sees history and live traffic without a gap.
	mu sync.RWMutex
}

// NewHub builds a broadcast engine. history may be nil. Relayed frames
// never exceed maxFrame bytes; zero selects protocol.DefaultMaxFrameSize.
func NewHub(registry *Registry, history store.HistoryStore, cipher *secure.Cipher, maxFrame uint32, log logrus.FieldLogger) *Hub {
	if maxFrame == 0 {
		maxFrame = protocol.DefaultMaxFrameSize
	}
	return &Hub{registry: registry, history: history, cipher: cipher, maxFrame: maxFrame, log: log}
}

// Broadcast stores msg and queues a sealed copy for every other live
// session. A history failure is logged and delivery proceeds. Broadcast
// never blocks on a recipient: a closed session counts as a failed
// delivery and a session whose queue is full is evicted.
//
// A message whose relayed frame would exceed the frame limit is neither
// stored nor delivered; Broadcast returns ErrMessageTooLarge.
func (h *Hub) Broadcast(ctx context.Context, msg chat.Message) (BroadcastResult, error) {
	var result BroadcastResult

	msg.Room = chat.NormalizeRoom(msg.Room)
	if err := h.checkSize(msg); err != nil {
		return result, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.history != nil {
		seq, err := h.history.Append(ctx, msg)
		if err != nil {
			h.log.WithError(err).WithFields(logrus.Fields{
				"identity": msg.Sender,
				"room":     msg.Room,
			}).Error("failed to store message")
		} else {
			msg = msg.WithID(seq)
			result.Seq = seq
		}
	}

	recipients := h.registry.SnapshotExcept(msg.Sender)
	h.log.WithFields(logrus.Fields{
		"identity":   msg.Sender,
		"room":       msg.Room,
		"recipients": len(recipients),
	}).Debug("broadcasting message")

	plaintext, err := envelopeFor(msg).Encode()
	if err != nil {
		h.log.WithError(err).Error("failed to encode message")
		result.Failed = len(recipients)
		return result, nil
	}

	for _, s := range recipients {
		frame, err := h.cipher.Encrypt(plaintext)
		if err != nil {
			h.log.WithError(err).Error("failed to encrypt message")
			result.Failed++
			continue
		}
		switch err := s.Enqueue(frame); {
		case err == nil:
			result.Delivered++
		case errors.Is(err, errQueueFull):
			s.log.Warn("send queue full; evicting slow session")
			h.registry.Release(s)
			s.Close()
			result.Evicted++
			result.Failed++
		default:
			result.Failed++
		}
	}
	return result, nil
}

// checkSize reports whether msg, relayed with the widest sequence id the
// history store can assign, fits in one frame.
func (h *Hub) checkSize(msg chat.Message) error {
	plaintext, err := envelopeFor(msg.WithID(math.MaxInt64)).Encode()
	if err != nil {
		return err
	}
	if size := h.cipher.SealedSize(len(plaintext)); size > int(h.maxFrame) {
		return errors.Wrapf(ErrMessageTooLarge, "relayed frame would be %d > %d bytes", size, h.maxFrame)
	}
	return nil
}

// Admit registers s under policy and queues the last replay messages of
// the default room ahead of any live broadcast. It reports the session s
// replaced, if any, and false when policy refused the registration.
func (h *Hub) Admit(ctx context.Context, s *Session, policy DuplicatePolicy, replay int) (*Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	evicted, ok := h.registry.Register(s, policy)
	if !ok || replay <= 0 || h.history == nil {
		return evicted, ok
	}

	recent, err := h.history.Recent(ctx, chat.DefaultRoom, replay)
	if err != nil {
		s.log.WithError(err).Warn("history replay failed")
		return evicted, ok
	}
	slices.Reverse(recent)
	for _, msg := range recent {
		frame, err := h.seal(msg)
		if err != nil {
			s.log.WithError(err).Warn("history replay failed")
			break
		}
		if err := s.Enqueue(frame); err != nil {
			s.log.WithError(err).Warn("history replay truncated")
			break
		}
	}
	return evicted, ok
}

// seal encrypts msg for a single session queue.
func (h *Hub) seal(msg chat.Message) ([]byte, error) {
	plaintext, err := envelopeFor(msg).Encode()
	if err != nil {
		return nil, err
	}
	frame, err := h.cipher.Encrypt(plaintext)
	if err != nil {
		return nil, errors.Wrap(err, "encrypt failed")
	}
	return frame, nil
}

func envelopeFor(msg chat.Message) protocol.Envelope {
	env := protocol.Envelope{
		Sender:  msg.Sender,
		Message: msg.Content,
		Room:    msg.Room,
		ID:      msg.ID,
	}
	if !msg.Timestamp.IsZero() {
		ts := msg.Timestamp.UTC().Truncate(time.Millisecond)
		env.Timestamp = &ts
	}
	return env
}
