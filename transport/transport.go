// Package transport turns a reader's raw byte-in/byte-out contract into a
// command/response pipeline: APDU construction helpers, GET RESPONSE and
// 6Cxx Le-correction chaining, DESFire multi-frame continuation, and a
// per-reader Session that keeps a correlation ID on every exchange.
//
// Nothing here knows about any specific reader hardware; that lives in
// transport/pcscreader. A Session is driven by anything satisfying
// RawSender, generalized from the teacher's APDUResponse/BuildAPDU pair in
// nfc/apdu.go and its pcscDevice.Transceive in nfc/device_pcsc.go.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/tomkp/card-spy-core/model"
)

// Standard ISO 7816-4 status word families the chaining logic reacts to.
const (
	sw1MoreData    = 0x61
	sw1WrongLength = 0x6C
)

// claSim is the SIM/USIM class byte. SIM-class commands signal "more data
// available" with SW1 9F as well as the standard 61, per ETSI TS 102 221's
// GET RESPONSE procedure.
const claSim = 0xA0

// sw1SimMoreData is the SIM-specific "more data" status, in addition to the
// standard sw1MoreData (61) SIM cards also use.
const sw1SimMoreData = 0x9F

// DESFire class byte and continuation instruction, per nfc/apdu.go's
// CLADESFire/DFCmdAdditionalFrame constants.
const (
	claDESFire          = 0x90
	desfireAdditionalFrame = 0xAF
)

// RawSender is the minimal contract a reader driver must satisfy: send one
// APDU, get back the raw bytes the card returned (data plus trailing SW1
// SW2). Implementations do not retry or chain; that is this package's job.
type RawSender interface {
	Transmit(ctx context.Context, apdu []byte) ([]byte, error)
}

// TransportErrorCode enumerates the closed set of transport failure kinds.
type TransportErrorCode int

const (
	ErrShortResponse TransportErrorCode = iota + 1
	ErrSendFailed
	ErrChainLimitExceeded
)

// TransportError is the transport-layer error taxonomy, grounded on
// nfc/errors.go's NFCError shape.
type TransportError struct {
	Code    TransportErrorCode
	Op      string
	Message string
	Cause   error
}

func (e *TransportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *TransportError) Unwrap() error { return e.Cause }

func (e *TransportError) Is(target error) bool {
	var t *TransportError
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// maxChainFrames bounds GET RESPONSE / 6Cxx / DESFire chaining loops so a
// misbehaving card cannot hang a session forever.
const maxChainFrames = 64

// Session is a single reader's command/response pipeline. It is not safe
// for concurrent use by multiple goroutines issuing commands at once and
// holds no lock of its own; pcscreader.Card serializes each individual
// Transmit, not a whole chained exchange.
type Session struct {
	DeviceName string
	sender     RawSender
}

// NewSession wraps a RawSender with chaining logic for a named device.
func NewSession(deviceName string, sender RawSender) *Session {
	return &Session{DeviceName: deviceName, sender: sender}
}

// Exchange sends one logical command and returns its fully chained
// response: GET RESPONSE chaining on 61xx (and 9Fxx for SIM class A0) and a
// single retry with the corrected Le on 6Cxx. A DESFire 91AF response is
// returned as is; DESFire additional-frame continuation is done by
// ExchangeDesfire. The returned model.Command/Response pair share a
// freshly generated correlation ID.
func (s *Session) Exchange(ctx context.Context, apdu []byte) (model.Command, model.Response, error) {
	id := uuid.NewString()
	cmd := model.Command{ID: id, APDU: apdu}

	raw, err := s.sender.Transmit(ctx, apdu)
	if err != nil {
		return cmd, model.Response{}, &TransportError{Code: ErrSendFailed, Op: "Exchange", Message: "transmit failed", Cause: err}
	}

	resp, err := s.chase(ctx, apdu, raw)
	if err != nil {
		return cmd, model.Response{}, err
	}
	resp.ID = id
	return cmd, resp, nil
}

// chase follows 61xx/6Cxx chaining for a single exchange's first response.
// For a SIM-class command (CLA A0), SW1 9F is an additional "more data"
// signal alongside the standard 61, and the GET RESPONSE that follows it
// carries the SIM class byte (A0 C0 00 00 sw2) rather than 00.
func (s *Session) chase(ctx context.Context, originalApdu []byte, raw []byte) (model.Response, error) {
	resp, err := parseResponse(raw)
	if err != nil {
		return model.Response{}, err
	}

	if resp.SW1 == sw1WrongLength {
		// 6Cxx: resend with the corrected Le, exactly once.
		corrected := withLe(originalApdu, resp.SW2)
		raw2, err := s.sender.Transmit(ctx, corrected)
		if err != nil {
			return model.Response{}, &TransportError{Code: ErrSendFailed, Op: "chase", Message: "retransmit with corrected Le failed", Cause: err}
		}
		resp, err = parseResponse(raw2)
		if err != nil {
			return model.Response{}, err
		}
	}

	var data []byte
	data = append(data, resp.Data...)

	cla := byte(0x00)
	if len(originalApdu) > 0 {
		cla = originalApdu[0]
	}
	isSimClass := cla == claSim
	getResponseCla := byte(0x00)
	if isSimClass {
		getResponseCla = claSim
	}

	frames := 0
	for resp.SW1 == sw1MoreData || (isSimClass && resp.SW1 == sw1SimMoreData) {
		frames++
		if frames > maxChainFrames {
			return model.Response{}, &TransportError{Code: ErrChainLimitExceeded, Op: "chase", Message: "GET RESPONSE chain exceeded frame limit"}
		}
		getResponse := BuildApdu(getResponseCla, 0xC0, 0x00, 0x00, nil, &resp.SW2)
		raw, err := s.sender.Transmit(ctx, getResponse)
		if err != nil {
			return model.Response{}, &TransportError{Code: ErrSendFailed, Op: "chase", Message: "GET RESPONSE failed", Cause: err}
		}
		next, err := parseResponse(raw)
		if err != nil {
			return model.Response{}, err
		}
		data = append(data, next.Data...)
		resp = next
	}
	resp.Data = data
	return resp, nil
}

// withLe rewrites the trailing Le byte of a 7816-4 command APDU for the
// 6Cxx retry. A 6Cxx response only ever occurs when the original command
// carried an Le, so apdu's final byte is always that Le; a bare 4-byte
// header (no Le at all) gets one appended.
func withLe(apdu []byte, le byte) []byte {
	if len(apdu) <= 4 {
		return append(append([]byte{}, apdu...), le)
	}
	out := append([]byte{}, apdu[:len(apdu)-1]...)
	return append(out, le)
}

// parseResponse splits a raw reader response into data and status word,
// failing only when the response is shorter than the two mandatory SW
// bytes.
func parseResponse(raw []byte) (model.Response, error) {
	if len(raw) < 2 {
		return model.Response{}, &TransportError{Code: ErrShortResponse, Op: "parseResponse", Message: "response shorter than 2 bytes"}
	}
	return model.Response{
		Data: append([]byte(nil), raw[:len(raw)-2]...),
		SW1:  raw[len(raw)-2],
		SW2:  raw[len(raw)-1],
	}, nil
}

// BuildApdu constructs a standard APDU: CLA INS P1 P2 [Lc data] [Le].
func BuildApdu(cla, ins, p1, p2 byte, data []byte, le *byte) []byte {
	cmd := []byte{cla, ins, p1, p2}
	if len(data) > 0 {
		cmd = append(cmd, byte(len(data)))
		cmd = append(cmd, data...)
	}
	if le != nil {
		cmd = append(cmd, *le)
	}
	return cmd
}

// sw1DesfireNative is the status byte DESFire native responses carry in
// SW1, with the native status code itself in SW2 (AF = more frames, 00 =
// success, anything else terminal).
const sw1DesfireNative = 0x91

// IsDesfireFrame reports whether raw looks like an in-progress DESFire
// native response: SW1=0x91 with SW2=0xAF (additional frame).
func IsDesfireFrame(raw []byte) bool {
	return len(raw) >= 2 && raw[len(raw)-2] == sw1DesfireNative && raw[len(raw)-1] == desfireAdditionalFrame
}

// DESFireResponse is the result of a fully chained DESFire native command:
// all data accumulated across 91AF continuation frames, plus the final
// native status byte carried in SW2 (0x00 on success).
type DESFireResponse struct {
	Data   []byte
	Status byte
}

// ExchangeDesfire sends a DESFire-wrapped native command and follows 91AF
// additional-frame continuation until the card's SW2 transitions away from
// 0xAF. Continuation requests are the wrapped "additional frame" command
// with no data, per nfc/apdu.go's DESFireAdditionalFrameAPDU.
func (s *Session) ExchangeDesfire(ctx context.Context, cmd byte, data []byte) (DESFireResponse, error) {
	le := byte(0x00)
	apdu := BuildApdu(claDESFire, cmd, 0x00, 0x00, data, &le)

	raw, err := s.sender.Transmit(ctx, apdu)
	if err != nil {
		return DESFireResponse{}, &TransportError{Code: ErrSendFailed, Op: "ExchangeDesfire", Message: "transmit failed", Cause: err}
	}

	var accumulated []byte
	frames := 0
	for {
		resp, err := parseResponse(raw)
		if err != nil {
			return DESFireResponse{}, err
		}
		accumulated = append(accumulated, resp.Data...)

		if resp.SW2 != desfireAdditionalFrame {
			return DESFireResponse{Data: accumulated, Status: resp.SW2}, nil
		}

		frames++
		if frames > maxChainFrames {
			return DESFireResponse{}, &TransportError{Code: ErrChainLimitExceeded, Op: "ExchangeDesfire", Message: "DESFire continuation chain exceeded frame limit"}
		}

		next := BuildApdu(claDESFire, desfireAdditionalFrame, 0x00, 0x00, nil, &le)
		raw, err = s.sender.Transmit(ctx, next)
		if err != nil {
			return DESFireResponse{}, &TransportError{Code: ErrSendFailed, Op: "ExchangeDesfire", Message: "additional frame transmit failed", Cause: err}
		}
	}
}
