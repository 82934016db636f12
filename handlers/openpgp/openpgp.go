// Package openpgp implements the OpenPGP Card (RFC 4880 adjacent) handler:
// the full data-object catalogue, three VERIFY variants, INTERNAL
// AUTHENTICATE, and GET CHALLENGE.
package openpgp

import (
	"fmt"

	"github.com/tomkp/card-spy-core/codec"
	"github.com/tomkp/card-spy-core/handler"
	"github.com/tomkp/card-spy-core/model"
)

const (
	id   = "openpgp"
	name = "OpenPGP Card"
	aid  = "D27600012401"
)

// dataObject is one entry in the OpenPGP Card DO table: a GET DATA target
// addressed by a 1- or 2-byte tag.
type dataObject struct {
	commandID   string
	description string
	tag         uint32
	constructed bool
}

// catalogue is the OpenPGP Card application's well-known data objects.
var catalogue = []dataObject{
	{"get-aid", "Application Identifier", 0x4F, false},
	{"get-login-data", "Login Data", 0x5E, false},
	{"get-url", "URL", 0x5F50, false},
	{"get-historical-bytes", "Historical Bytes", 0x5F52, false},
	{"get-cardholder-related-data", "Cardholder Related Data", 0x65, true},
	{"get-cardholder-name", "Cardholder Name", 0x5B, false},
	{"get-application-related-data", "Application Related Data", 0x6E, true},
	{"get-discretionary-data-objects", "Discretionary Data Objects", 0x73, true},
	{"get-extended-capabilities", "Extended Capabilities", 0xC0, false},
	{"get-algorithm-attributes-sig", "Algorithm Attributes (Signature)", 0xC1, false},
	{"get-algorithm-attributes-dec", "Algorithm Attributes (Decryption)", 0xC2, false},
	{"get-algorithm-attributes-auth", "Algorithm Attributes (Authentication)", 0xC3, false},
	{"get-pw-status", "PW Status Bytes", 0xC4, false},
	{"get-fingerprints", "Fingerprints", 0xC5, false},
	{"get-ca-fingerprints", "CA Fingerprints", 0xC6, false},
	{"get-generation-dates", "Key Generation Dates", 0xCD, false},
	{"get-security-support-template", "Security Support Template", 0x7A, true},
	{"get-digital-signature-counter", "Digital Signature Counter", 0x93, false},
	{"get-cardholder-certificate", "Cardholder Certificate", 0x7F21, false},
	{"get-private-do-1", "Private DO 1", 0x0101, false},
	{"get-private-do-2", "Private DO 2", 0x0102, false},
	{"get-private-do-3", "Private DO 3", 0x0103, false},
	{"get-private-do-4", "Private DO 4", 0x0104, false},
	{"get-general-feature-management", "General Feature Management", 0x7F74, false},
	{"get-aes-key-data", "AES Key Data", 0xD5, false},
	{"get-uif-sig", "User Interaction Flag (Signature)", 0xD6, false},
	{"get-uif-dec", "User Interaction Flag (Decryption)", 0xD7, false},
	{"get-uif-auth", "User Interaction Flag (Authentication)", 0xD8, false},
	{"get-kdf-do", "KDF Data Object", 0xF9, false},
	{"get-algorithm-information", "Algorithm Information", 0xFA, false},
}

// Handler implements handler.Handler for OpenPGP cards.
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
	return handler.DetectionResult{Matched: true, Confidence: 95, CardType: "openpgp", Description: "OpenPGP Card AID selected"}, nil
}

func selectApdu(aid []byte) []byte {
	cmd := []byte{0x00, 0xA4, 0x04, 0x00, byte(len(aid))}
	cmd = append(cmd, aid...)
	return append(cmd, 0x00)
}

// getDataApdu splits a 2-byte tag into P1/P2; a 1-byte tag uses P1=0.
func getDataApdu(tag uint32) []byte {
	var p1, p2 byte
	if tag > 0xFF {
		p1 = byte(tag >> 8)
		p2 = byte(tag)
	} else {
		p1 = 0x00
		p2 = byte(tag)
	}
	return []byte{0x00, 0xCA, p1, p2, 0x00}
}

func (h *Handler) Commands() []model.CommandDescriptor {
	cmds := []model.CommandDescriptor{
		{ID: "select", Name: "Select OpenPGP Application", Description: "SELECT by AID", Category: "discovery"},
		{ID: "verify-pw1-sign", Name: "Verify PW1 (Sign)", Description: "VERIFY reference 81", Category: "auth", RequiresConfirmation: true,
			Parameters: []model.Parameter{{Name: "pin", Kind: model.ParamString, Required: true}}},
		{ID: "verify-pw1-decrypt", Name: "Verify PW1 (Decrypt)", Description: "VERIFY reference 82", Category: "auth", RequiresConfirmation: true,
			Parameters: []model.Parameter{{Name: "pin", Kind: model.ParamString, Required: true}}},
		{ID: "verify-pw3-admin", Name: "Verify PW3 (Admin)", Description: "VERIFY reference 83", Category: "auth", RequiresConfirmation: true,
			Parameters: []model.Parameter{{Name: "pin", Kind: model.ParamString, Required: true}}},
		{ID: "internal-authenticate", Name: "Internal Authenticate", Description: "INS 88", Category: "auth",
			Parameters: []model.Parameter{{Name: "data", Kind: model.ParamHex, Required: true}}},
		{ID: "get-challenge", Name: "Get Challenge", Description: "INS 84", Category: "auth",
			Parameters: []model.Parameter{{Name: "length", Kind: model.ParamNumber, Required: true, DefaultValue: float64(8)}}},
	}
	for _, o := range catalogue {
		cmds = append(cmds, model.CommandDescriptor{ID: o.commandID, Name: "Get " + o.description, Description: "GET DATA " + o.description, Category: "data"})
	}
	return cmds
}

func (h *Handler) Execute(ctx handler.CommandContext, commandID string, params map[string]any) (map[string]any, error) {
	switch commandID {
	case "select":
		aidBytes, _ := codec.HexToBytes(aid)
		return h.exchangeOne(ctx, selectApdu(aidBytes))
	case "verify-pw1-sign":
		return h.verify(ctx, params, 0x81)
	case "verify-pw1-decrypt":
		return h.verify(ctx, params, 0x82)
	case "verify-pw3-admin":
		return h.verify(ctx, params, 0x83)
	case "internal-authenticate":
		data, err := handler.ParamHexBytes(id, commandID, params, "data", codec.ParseHexInput)
		if err != nil {
			return nil, err
		}
		cmd := []byte{0x00, 0x88, 0x00, 0x00, byte(len(data))}
		cmd = append(cmd, data...)
		cmd = append(cmd, 0x00)
		return h.exchangeOne(ctx, cmd)
	case "get-challenge":
		lenV, err := handler.RequireParam(id, commandID, params, "length")
		if err != nil {
			return nil, err
		}
		le, _ := lenV.(float64)
		return h.exchangeOne(ctx, []byte{0x00, 0x84, 0x00, 0x00, byte(le)})
	default:
		for _, o := range catalogue {
			if o.commandID == commandID {
				return h.exchangeOne(ctx, getDataApdu(o.tag))
			}
		}
		return nil, &handler.HandlerError{Code: handler.ErrUnknownCommand, HandlerID: id, Op: "Execute", Message: fmt.Sprintf("unknown command %q", commandID)}
	}
}

func (h *Handler) verify(ctx handler.CommandContext, params map[string]any, p2 byte) (map[string]any, error) {
	pinV, err := handler.RequireParam(id, "verify", params, "pin")
	if err != nil {
		return nil, err
	}
	pin, ok := pinV.(string)
	if !ok {
		return nil, &handler.HandlerError{Code: handler.ErrInvalidParameter, HandlerID: id, Op: "verify", Message: "pin must be a string"}
	}
	cmd := []byte{0x00, 0x20, 0x00, p2, byte(len(pin))}
	cmd = append(cmd, []byte(pin)...)
	return h.exchangeOne(ctx, cmd)
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

// Interrogate selects the application and reads the full DO catalogue,
// tolerating individual failures.
func (h *Handler) Interrogate(ctx handler.CommandContext) (handler.InterrogationResult, error) {
	aidBytes, _ := codec.HexToBytes(aid)
	_, selResp, err := ctx.Sender.Exchange(ctx.Context, selectApdu(aidBytes))
	if err != nil || !codec.IsSwSuccess(selResp.SW1) {
		return handler.InterrogationResult{}, &handler.HandlerError{Code: handler.ErrCardRejected, HandlerID: id, Op: "Interrogate", Message: "SELECT OpenPGP AID failed"}
	}

	fields := map[string]string{}
	var tlv []model.TlvNode
	for _, o := range catalogue {
		_, resp, err := ctx.Sender.Exchange(ctx.Context, getDataApdu(o.tag))
		if err != nil || !codec.IsSwSuccess(resp.SW1) {
			continue
		}
		fields[o.description] = codec.BytesToHex(resp.Data)
		if o.constructed {
			tlv = append(tlv, codec.ParseTlv(resp.Data)...)
		}
	}

	return handler.InterrogationResult{
		Summary: fmt.Sprintf("OpenPGP Card selected, %d data objects read", len(fields)),
		Fields:  fields,
		Tlv:     tlv,
	}, nil
}
