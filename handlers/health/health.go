// Package health implements a generic health insurance card handler
// (modeled on the German eGK / European EHIC family): AID selection, a
// public EF read, and an optional NDEF unwrap when the EF's content is
// NDEF-TLV-framed rather than a bare data structure.
package health

import (
	"github.com/tomkp/card-spy-core/codec"
	"github.com/tomkp/card-spy-core/handler"
	"github.com/tomkp/card-spy-core/model"
)

const (
	id   = "health"
	name = "Health Insurance Card"
	aid  = "D27600000102"

	fidPublicData = 0xD001
)

// Handler implements handler.Handler for generic health insurance cards.
type Handler struct{}

func New() *Handler { return &Handler{} }

func (h *Handler) ID() string   { return id }
func (h *Handler) Name() string { return name }

func selectAidApdu(aid []byte) []byte {
	cmd := []byte{0x00, 0xA4, 0x04, 0x00, byte(len(aid))}
	cmd = append(cmd, aid...)
	return append(cmd, 0x00)
}

func selectFileApdu(fid uint16) []byte {
	return []byte{0x00, 0xA4, 0x02, 0x0C, 0x02, byte(fid >> 8), byte(fid)}
}

func readBinaryApdu(length byte) []byte {
	return []byte{0x00, 0xB0, 0x00, 0x00, length}
}

func (h *Handler) Detect(ctx handler.CommandContext) (handler.DetectionResult, error) {
	aidBytes, _ := codec.HexToBytes(aid)
	_, resp, err := ctx.Sender.Exchange(ctx.Context, selectAidApdu(aidBytes))
	if err != nil || !codec.IsSwSuccess(resp.SW1) {
		return handler.DetectionResult{Matched: false}, nil
	}
	return handler.DetectionResult{Matched: true, Confidence: 75, CardType: "health", Description: "Health insurance card AID selected"}, nil
}

func (h *Handler) Commands() []model.CommandDescriptor {
	return []model.CommandDescriptor{
		{ID: "select", Name: "Select Application", Description: "SELECT by AID", Category: "discovery"},
		{ID: "read-public-data", Name: "Read Public Insurance Data", Description: "SELECT public EF, READ BINARY, unwrap NDEF if present", Category: "data"},
	}
}

func (h *Handler) Execute(ctx handler.CommandContext, commandID string, params map[string]any) (map[string]any, error) {
	switch commandID {
	case "select":
		aidBytes, _ := codec.HexToBytes(aid)
		return h.exchangeOne(ctx, selectAidApdu(aidBytes))
	case "read-public-data":
		return h.readPublicData(ctx)
	default:
		return nil, &handler.HandlerError{Code: handler.ErrUnknownCommand, HandlerID: id, Op: "Execute", Message: "unknown command " + commandID}
	}
}

func (h *Handler) readPublicData(ctx handler.CommandContext) (map[string]any, error) {
	_, selResp, err := ctx.Sender.Exchange(ctx.Context, selectFileApdu(fidPublicData))
	if err != nil || !codec.IsSwSuccess(selResp.SW1) {
		return nil, &handler.HandlerError{Code: handler.ErrCardRejected, HandlerID: id, Op: "read-public-data", Message: "SELECT public EF failed"}
	}
	_, resp, err := ctx.Sender.Exchange(ctx.Context, readBinaryApdu(0xFF))
	if err != nil {
		return nil, err
	}
	fields := map[string]any{"data": codec.BytesToHex(resp.Data), "sw1": resp.SW1, "sw2": resp.SW2}
	if msg, ok := codec.FindNdefMessage(resp.Data); ok {
		fields["ndefMessage"] = codec.BytesToHex(msg)
	}
	return fields, nil
}

func (h *Handler) exchangeOne(ctx handler.CommandContext, apdu []byte) (map[string]any, error) {
	_, resp, err := ctx.Sender.Exchange(ctx.Context, apdu)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"data": codec.BytesToHex(resp.Data),
		"sw1":  resp.SW1,
		"sw2":  resp.SW2,
		"sw":   codec.DescribeSw(resp.SW1, resp.SW2),
	}, nil
}

// Interrogate selects the application and reads the public EF, unwrapping
// an NDEF message if the data is NDEF-TLV framed.
func (h *Handler) Interrogate(ctx handler.CommandContext) (handler.InterrogationResult, error) {
	aidBytes, _ := codec.HexToBytes(aid)
	_, selResp, err := ctx.Sender.Exchange(ctx.Context, selectAidApdu(aidBytes))
	if err != nil || !codec.IsSwSuccess(selResp.SW1) {
		return handler.InterrogationResult{}, &handler.HandlerError{Code: handler.ErrCardRejected, HandlerID: id, Op: "Interrogate", Message: "SELECT health AID failed"}
	}

	fields, err := h.readPublicData(ctx)
	if err != nil {
		return handler.InterrogationResult{Summary: "Health card AID selected; public EF unreadable"}, nil
	}

	out := map[string]string{"public_data": fields["data"].(string)}
	if msg, ok := fields["ndefMessage"]; ok {
		out["ndef_message"] = msg.(string)
	}
	return handler.InterrogationResult{Summary: "Health card public data read", Fields: out}, nil
}
