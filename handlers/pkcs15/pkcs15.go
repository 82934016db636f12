// Package pkcs15 implements a PKCS#15 card handler: MF/EF(DIR)/EF(ODF)
// discovery and BER-TLV-pointer-driven traversal of the object directory.
package pkcs15

import (
	"fmt"

	"github.com/tomkp/card-spy-core/codec"
	"github.com/tomkp/card-spy-core/handler"
	"github.com/tomkp/card-spy-core/model"
)

const (
	id   = "pkcs15"
	name = "PKCS#15"

	fidMF  = 0x3F00
	fidDIR = 0x2F00
	fidODF = 0x5031
)

// odfTagLabels maps an ODF BER-TLV tag to the PKCS#15 object class it
// points at, per ISO 7816-15.
var odfTagLabels = map[uint32]string{
	0xA0: "private keys",
	0xA4: "certificates",
	0xA5: "data objects",
	0xA7: "auth objects",
}

// Handler implements handler.Handler for PKCS#15 cards.
type Handler struct{}

func New() *Handler { return &Handler{} }

func (h *Handler) ID() string   { return id }
func (h *Handler) Name() string { return name }

func selectFileApdu(fid uint16) []byte {
	return []byte{0x00, 0xA4, 0x00, 0x00, 0x02, byte(fid >> 8), byte(fid)}
}

func readBinaryApdu(length byte) []byte {
	return []byte{0x00, 0xB0, 0x00, 0x00, length}
}

// Detect selects MF, then EF(DIR); PKCS#15's EF(DIR) presence (even if
// empty) is the standard discovery signal for this card family.
func (h *Handler) Detect(ctx handler.CommandContext) (handler.DetectionResult, error) {
	_, mfResp, err := ctx.Sender.Exchange(ctx.Context, selectFileApdu(fidMF))
	if err != nil || !codec.IsSwSuccess(mfResp.SW1) {
		return handler.DetectionResult{Matched: false}, nil
	}
	_, dirResp, err := ctx.Sender.Exchange(ctx.Context, selectFileApdu(fidDIR))
	if err != nil || !codec.IsSwSuccess(dirResp.SW1) {
		return handler.DetectionResult{Matched: false}, nil
	}
	return handler.DetectionResult{Matched: true, Confidence: 75, CardType: "pkcs15", Description: "EF(DIR) selected"}, nil
}

func (h *Handler) Commands() []model.CommandDescriptor {
	return []model.CommandDescriptor{
		{ID: "select-mf", Name: "Select MF", Description: "SELECT 3F00", Category: "discovery"},
		{ID: "select-dir", Name: "Select EF(DIR)", Description: "SELECT 2F00", Category: "discovery"},
		{ID: "select-odf", Name: "Select EF(ODF)", Description: "SELECT 5031", Category: "discovery"},
		{ID: "read-odf", Name: "Read EF(ODF)", Description: "READ BINARY on the selected ODF", Category: "data"},
		{ID: "select-by-aid", Name: "Select Application", Description: "SELECT by AID, fallback when EF(DIR) is absent", Category: "discovery",
			Parameters: []model.Parameter{{Name: "aid", Kind: model.ParamHex, Required: true}}},
	}
}

func (h *Handler) Execute(ctx handler.CommandContext, commandID string, params map[string]any) (map[string]any, error) {
	switch commandID {
	case "select-mf":
		return h.exchangeOne(ctx, selectFileApdu(fidMF))
	case "select-dir":
		return h.exchangeOne(ctx, selectFileApdu(fidDIR))
	case "select-odf":
		return h.exchangeOne(ctx, selectFileApdu(fidODF))
	case "read-odf":
		return h.exchangeOne(ctx, readBinaryApdu(0xFF))
	case "select-by-aid":
		aid, err := handler.ParamHexBytes(id, commandID, params, "aid", codec.ParseHexInput)
		if err != nil {
			return nil, err
		}
		cmd := []byte{0x00, 0xA4, 0x04, 0x00, byte(len(aid))}
		cmd = append(cmd, aid...)
		return h.exchangeOne(ctx, append(cmd, 0x00))
	default:
		return nil, &handler.HandlerError{Code: handler.ErrUnknownCommand, HandlerID: id, Op: "Execute", Message: fmt.Sprintf("unknown command %q", commandID)}
	}
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

// Interrogate selects MF, then EF(DIR) (whose presence only affects the
// summary), then EF(ODF); it reads the ODF and records one field per
// recognised BER-TLV pointer tag. There is no fallback to selecting an
// application by AID, and the EFs the pointers reference are not selected or
// read. A missing or unreadable EF(ODF) is reported as a successful partial
// interrogation.
func (h *Handler) Interrogate(ctx handler.CommandContext) (handler.InterrogationResult, error) {
	_, mfResp, err := ctx.Sender.Exchange(ctx.Context, selectFileApdu(fidMF))
	if err != nil || !codec.IsSwSuccess(mfResp.SW1) {
		return handler.InterrogationResult{}, &handler.HandlerError{Code: handler.ErrCardRejected, HandlerID: id, Op: "Interrogate", Message: "SELECT MF failed"}
	}

	_, dirResp, err := ctx.Sender.Exchange(ctx.Context, selectFileApdu(fidDIR))
	haveDir := err == nil && codec.IsSwSuccess(dirResp.SW1)

	_, odfSelResp, err := ctx.Sender.Exchange(ctx.Context, selectFileApdu(fidODF))
	if err != nil || !codec.IsSwSuccess(odfSelResp.SW1) {
		summary := "MF selected"
		if haveDir {
			summary += ", EF(DIR) present, no EF(ODF)"
		}
		return handler.InterrogationResult{Summary: summary}, nil
	}

	_, odfResp, err := ctx.Sender.Exchange(ctx.Context, readBinaryApdu(0xFF))
	if err != nil || !codec.IsSwSuccess(odfResp.SW1) {
		return handler.InterrogationResult{Summary: "EF(ODF) selected but unreadable"}, nil
	}

	nodes := codec.ParseTlv(odfResp.Data)
	fields := map[string]string{}
	for _, n := range nodes {
		label, ok := odfTagLabels[n.Tag]
		if !ok {
			continue
		}
		fields[label] = codec.BytesToHex(n.Value)
	}

	return handler.InterrogationResult{
		Summary: fmt.Sprintf("EF(ODF) parsed, %d object classes referenced", len(fields)),
		Fields:  fields,
		Tlv:     nodes,
	}, nil
}
