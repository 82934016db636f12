// Package pcscreader is the reference downward reader driver: it satisfies
// transport.RawSender over a real PC/SC reader via github.com/ebfe/scard,
// and exposes the connect/disconnect/list-readers primitives the core's
// external interface (spec §6, "downward — reader driver") expects from
// whatever drives it.
//
// Adapted from the teacher's nfc/device_pcsc.go: the connect/ATR/transmit
// shape is kept, trimmed of the teacher's MIFARE/DESFire/NTAG tag-type
// auto-detection (that belongs to handlers/mifare and handlers/desfire now,
// not the reader driver) and of the teacher's own card-insert/remove event
// surface (the registry/reducer layer owns card lifecycle here, not the
// driver).
package pcscreader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ebfe/scard"
)

// Reader owns a PC/SC resource manager context and lists/opens card
// sessions against physical readers.
type Reader struct {
	ctx *scard.Context
}

// New establishes a PC/SC resource manager context.
func New() (*Reader, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("pcscreader: establish context: %w", err)
	}
	return &Reader{ctx: ctx}, nil
}

// Close releases the resource manager context.
func (r *Reader) Close() error {
	return r.ctx.Release()
}

// ListReaders returns the names of every PC/SC reader currently attached,
// matching the teacher's device-listing contract (one name per physical
// slot, no manager-name prefixing at this layer — that is the registry's
// job when more than one driver is in play).
func (r *Reader) ListReaders() ([]string, error) {
	names, err := r.ctx.ListReaders()
	if err != nil {
		return nil, fmt.Errorf("pcscreader: list readers: %w", err)
	}
	return names, nil
}

// Connect opens a card session against the named reader under whichever
// protocol (T=0 or T=1) the card negotiates, and returns a Card wrapping
// it. The card's ATR is read immediately so callers never need a second
// round trip just to learn it.
func (r *Reader) Connect(readerName string) (*Card, error) {
	card, err := r.ctx.Connect(readerName, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		return nil, fmt.Errorf("pcscreader: connect %s: %w", readerName, err)
	}

	proto := card.ActiveProtocol()
	if proto != scard.ProtocolT0 && proto != scard.ProtocolT1 {
		_ = card.Disconnect(scard.LeaveCard)
		return nil, fmt.Errorf("pcscreader: unsupported protocol on %s: %d", readerName, proto)
	}

	status, err := card.Status()
	if err != nil {
		_ = card.Disconnect(scard.LeaveCard)
		return nil, fmt.Errorf("pcscreader: card status: %w", err)
	}

	return &Card{card: card, readerName: readerName, atr: status.Atr}, nil
}

// Card is one connected card session. It implements transport.RawSender so
// a transport.Session can be built directly on top of it.
type Card struct {
	card       *scard.Card
	readerName string
	atr        []byte
	mu         sync.Mutex
}

// ATR returns the card's answer-to-reset bytes, captured at connect time.
func (c *Card) ATR() []byte { return append([]byte{}, c.atr...) }

// String returns the owning reader's name.
func (c *Card) String() string { return c.readerName }

// Present reports whether the card still responds to a status query,
// mirroring the teacher's reliance on scard.Card.Status() (see Connect)
// as the only reliable way PC/SC exposes removal short of a failed
// Transmit.
func (c *Card) Present() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.card == nil {
		return false
	}
	_, err := c.card.Status()
	return err == nil
}

// Close disconnects the card session, leaving the card powered for any
// subsequent reconnection by another session.
func (c *Card) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.card == nil {
		return nil
	}
	err := c.card.Disconnect(scard.LeaveCard)
	c.card = nil
	return err
}

// Transmit implements transport.RawSender: one APDU in, the card's raw
// bytes (data plus trailing SW1 SW2) out. Context cancellation is checked
// before the call since scard.Card.Transmit has no native deadline/cancel
// support; a cancelled context short-circuits rather than blocking on a
// wedged reader.
func (c *Card) Transmit(ctx context.Context, apdu []byte) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.card == nil {
		return nil, errors.New("pcscreader: card session closed")
	}

	resp, err := c.card.Transmit(apdu)
	if err != nil {
		if isCardRemovedError(err) {
			return nil, fmt.Errorf("pcscreader: card removed: %w", err)
		}
		return nil, fmt.Errorf("pcscreader: transmit: %w", err)
	}
	return resp, nil
}

// isCardRemovedError reports whether err indicates the card is no longer
// present, following the teacher's typed-error-first, string-match-fallback
// classification in nfc/device_pcsc.go.
func isCardRemovedError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, scard.ErrRemovedCard) || errors.Is(err, scard.ErrResetCard) ||
		errors.Is(err, scard.ErrNoSmartcard) || errors.Is(err, scard.ErrUnpoweredCard) {
		return true
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "removed") ||
		strings.Contains(lower, "reset") ||
		strings.Contains(lower, "unpowered") ||
		strings.Contains(lower, "no smart card")
}
