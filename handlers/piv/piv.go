// Package piv implements the PIV (Personal Identity Verification, NIST
// SP 800-73) handler: object GET DATA, PIN verification, and the empty-
// witness GENERAL AUTHENTICATE probe.
package piv

import (
	"fmt"

	"github.com/tomkp/card-spy-core/codec"
	"github.com/tomkp/card-spy-core/handler"
	"github.com/tomkp/card-spy-core/model"
)

const (
	id   = "piv"
	name = "PIV"
	aid  = "A000000308000010000100"
)

// objects is the well-known PIV data object catalogue, each addressed by
// its GET DATA tag list (always wrapped under tag 0x5C for this command).
var objects = []struct {
	commandID string
	label     string
	tagList   []byte
}{
	{"get-ccc", "Card Capability Container", []byte{0x5F, 0xC1, 0x07}},
	{"get-chuid", "Cardholder Unique Identifier", []byte{0x5F, 0xC1, 0x02}},
	{"get-discovery", "Discovery Object", []byte{0x7E}},
	{"get-printed-info", "Printed Information", []byte{0x5F, 0xC1, 0x09}},
	{"get-cert-piv-auth", "X.509 Certificate (PIV Authentication)", []byte{0x5F, 0xC1, 0x05}},
	{"get-cert-signature", "X.509 Certificate (Digital Signature)", []byte{0x5F, 0xC1, 0x0A}},
	{"get-cert-key-mgmt", "X.509 Certificate (Key Management)", []byte{0x5F, 0xC1, 0x0B}},
	{"get-cert-card-auth", "X.509 Certificate (Card Authentication)", []byte{0x5F, 0xC1, 0x01}},
}

// Handler implements handler.Handler for PIV cards.
type Handler struct{}

func New() *Handler { return &Handler{} }

func (h *Handler) ID() string   { return id }
func (h *Handler) Name() string { return name }

func (h *Handler) Detect(ctx handler.CommandContext) (handler.DetectionResult, error) {
	aidBytes, _ := codec.HexToBytes(aid)
	_, resp, err := ctx.Sender.Exchange(ctx.Context, selectApdu(aidBytes))
	if err != nil || !codec.IsSwSuccess(resp.SW1) {
		return handler.DetectionResult{Matched: false}, nil
	}
	return handler.DetectionResult{Matched: true, Confidence: 90, CardType: "piv", Description: "PIV application selected"}, nil
}

func selectApdu(aid []byte) []byte {
	cmd := []byte{0x00, 0xA4, 0x04, 0x00, byte(len(aid))}
	cmd = append(cmd, aid...)
	return append(cmd, 0x00)
}

// getDataApdu builds GET DATA 00 CB 3F FF with the tag list wrapped under
// tag 0x5C, matching scenario 5's exact byte sequence for CHUID.
func getDataApdu(tagList []byte) []byte {
	data := append([]byte{0x5C, byte(len(tagList))}, tagList...)
	cmd := []byte{0x00, 0xCB, 0x3F, 0xFF, byte(len(data))}
	cmd = append(cmd, data...)
	return append(cmd, 0x00)
}

func (h *Handler) Commands() []model.CommandDescriptor {
	cmds := []model.CommandDescriptor{
		{ID: "select", Name: "Select PIV Application", Description: "SELECT by AID", Category: "discovery"},
		{ID: "verify-pin", Name: "Verify PIN", Description: "VERIFY PIN, ASCII padded to 8 bytes", Category: "auth", RequiresConfirmation: true,
			Parameters: []model.Parameter{{Name: "pin", Kind: model.ParamString, Required: true, Validation: `^\d{4,8}$`}}},
		{ID: "general-authenticate", Name: "General Authenticate", Description: "Empty-witness GENERAL AUTHENTICATE probe", Category: "auth",
			Parameters: []model.Parameter{
				{Name: "algorithm", Kind: model.ParamHex, Required: true, Description: "P1 algorithm reference"},
				{Name: "keyRef", Kind: model.ParamHex, Required: true, Description: "P2 key reference"},
			}},
	}
	for _, o := range objects {
		cmds = append(cmds, model.CommandDescriptor{ID: o.commandID, Name: "Get " + o.label, Description: "GET DATA " + o.label, Category: "data"})
	}
	return cmds
}

func (h *Handler) Execute(ctx handler.CommandContext, commandID string, params map[string]any) (map[string]any, error) {
	switch commandID {
	case "select":
		aidBytes, _ := codec.HexToBytes(aid)
		return h.exchangeOne(ctx, selectApdu(aidBytes))
	case "verify-pin":
		pinV, err := handler.RequireParam(id, commandID, params, "pin")
		if err != nil {
			return nil, err
		}
		pin, ok := pinV.(string)
		if !ok {
			return nil, &handler.HandlerError{Code: handler.ErrInvalidParameter, HandlerID: id, Op: commandID, Message: "pin must be a string"}
		}
		return h.exchangeOne(ctx, verifyPinApdu(pin))
	case "general-authenticate":
		algV, err := handler.ParamHexBytes(id, commandID, params, "algorithm", codec.ParseHexInput)
		if err != nil {
			return nil, err
		}
		keyV, err := handler.ParamHexBytes(id, commandID, params, "keyRef", codec.ParseHexInput)
		if err != nil {
			return nil, err
		}
		return h.exchangeOne(ctx, generalAuthenticateApdu(algV[0], keyV[0]))
	default:
		for _, o := range objects {
			if o.commandID == commandID {
				return h.exchangeOne(ctx, getDataApdu(o.tagList))
			}
		}
		return nil, &handler.HandlerError{Code: handler.ErrUnknownCommand, HandlerID: id, Op: "Execute", Message: fmt.Sprintf("unknown command %q", commandID)}
	}
}

// verifyPinApdu encodes pin as ASCII padded with 0xFF to 8 bytes, P2=0x80
// (the global PIV application PIN reference).
func verifyPinApdu(pin string) []byte {
	data := make([]byte, 8)
	for i := 0; i < 8; i++ {
		if i < len(pin) {
			data[i] = pin[i]
		} else {
			data[i] = 0xFF
		}
	}
	return []byte{0x00, 0x20, 0x00, 0x80, 0x08, data[0], data[1], data[2], data[3], data[4], data[5], data[6], data[7]}
}

// generalAuthenticateApdu issues the empty-witness dynamic authentication
// template 7C 02 81 00, a probe that asks the card to start a challenge
// without committing to a key operation.
func generalAuthenticateApdu(algorithm, keyRef byte) []byte {
	data := []byte{0x7C, 0x02, 0x81, 0x00}
	return []byte{0x00, 0x87, algorithm, keyRef, byte(len(data)), 0x7C, 0x02, 0x81, 0x00, 0x00}
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

// Interrogate selects the application, then reads every object in the
// catalogue, tolerating individual GET DATA failures (a real card only
// populates the objects relevant to its issued credential set).
func (h *Handler) Interrogate(ctx handler.CommandContext) (handler.InterrogationResult, error) {
	aidBytes, _ := codec.HexToBytes(aid)
	_, selResp, err := ctx.Sender.Exchange(ctx.Context, selectApdu(aidBytes))
	if err != nil || !codec.IsSwSuccess(selResp.SW1) {
		return handler.InterrogationResult{}, &handler.HandlerError{Code: handler.ErrCardRejected, HandlerID: id, Op: "Interrogate", Message: "SELECT PIV application failed"}
	}

	fields := map[string]string{}
	var tlv []model.TlvNode
	for _, o := range objects {
		_, resp, err := ctx.Sender.Exchange(ctx.Context, getDataApdu(o.tagList))
		if err != nil || !codec.IsSwSuccess(resp.SW1) {
			continue
		}
		fields[o.label] = codec.BytesToHex(resp.Data)
		tlv = append(tlv, codec.ParseTlv(resp.Data)...)
	}

	summary := "PIV application selected"
	if len(fields) > 0 {
		summary = fmt.Sprintf("PIV application selected, %d objects read", len(fields))
	}
	return handler.InterrogationResult{Summary: summary, Fields: fields, Tlv: tlv}, nil
}
