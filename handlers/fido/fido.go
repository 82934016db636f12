// Package fido implements the FIDO U2F/CTAP2 handler: SELECT, GET_VERSION,
// CTAP2_CBOR, and the U2F REGISTER/AUTHENTICATE command pair.
//
// CTAP2 CBOR encoding is a minimal hand-rolled encoder (see cbor.go)
// limited to the fixed-shape maps this handler's commands send, not a
// general CBOR codec.
package fido

import (
	"fmt"

	"github.com/tomkp/card-spy-core/codec"
	"github.com/tomkp/card-spy-core/handler"
	"github.com/tomkp/card-spy-core/model"
)

const (
	id   = "fido"
	name = "FIDO U2F/CTAP2"
	aid  = "A0000006472F0001"
)

const (
	insGetVersion    = 0x03
	insCtap2Cbor     = 0x11
	insU2fRegister   = 0x01
	insU2fAuthenticate = 0x02
)

// Handler implements handler.Handler for FIDO authenticators.
type Handler struct{}

func New() *Handler { return &Handler{} }

func (h *Handler) ID() string   { return id }
func (h *Handler) Name() string { return name }

func (h *Handler) Detect(ctx handler.CommandContext) (handler.DetectionResult, error) {
	aidBytes, _ := codec.HexToBytes(aid)
	_, selResp, err := ctx.Sender.Exchange(ctx.Context, selectApdu(aidBytes))
	if err != nil || !codec.IsSwSuccess(selResp.SW1) {
		return handler.DetectionResult{Matched: false}, nil
	}
	_, verResp, err := ctx.Sender.Exchange(ctx.Context, getVersionApdu())
	if err != nil || !codec.IsSwSuccess(verResp.SW1) {
		return handler.DetectionResult{Matched: true, Confidence: 70, CardType: "fido", Description: "FIDO AID selected, version probe failed"}, nil
	}
	return handler.DetectionResult{Matched: true, Confidence: 95, CardType: "fido", Description: "FIDO authenticator detected", Metadata: map[string]any{"version": string(verResp.Data)}}, nil
}

func selectApdu(aid []byte) []byte {
	cmd := []byte{0x00, 0xA4, 0x04, 0x00, byte(len(aid))}
	cmd = append(cmd, aid...)
	return append(cmd, 0x00)
}

func getVersionApdu() []byte {
	return []byte{0x00, insGetVersion, 0x00, 0x00, 0x00}
}

func (h *Handler) Commands() []model.CommandDescriptor {
	return []model.CommandDescriptor{
		{ID: "select", Name: "Select FIDO Application", Description: "SELECT by AID", Category: "discovery"},
		{ID: "get-version", Name: "Get Version", Description: "U2F GET_VERSION", Category: "discovery"},
		{ID: "register", Name: "U2F Register", Description: "U2F_REGISTER", Category: "auth", RequiresConfirmation: true,
			Parameters: []model.Parameter{
				{Name: "challenge", Kind: model.ParamHex, Required: true, Description: "32-byte challenge parameter"},
				{Name: "application", Kind: model.ParamHex, Required: true, Description: "32-byte application parameter"},
			}},
		{ID: "authenticate", Name: "U2F Authenticate", Description: "U2F_AUTHENTICATE", Category: "auth", RequiresConfirmation: true,
			Parameters: []model.Parameter{
				{Name: "challenge", Kind: model.ParamHex, Required: true},
				{Name: "application", Kind: model.ParamHex, Required: true},
				{Name: "keyHandle", Kind: model.ParamHex, Required: true},
				{Name: "checkOnly", Kind: model.ParamBoolean, Required: false, DefaultValue: false},
			}},
		{ID: "ctap2-make-credential", Name: "CTAP2 MakeCredential", Description: "CTAP2_CBOR authenticatorMakeCredential", Category: "auth", RequiresConfirmation: true,
			Parameters: []model.Parameter{
				{Name: "clientDataHash", Kind: model.ParamHex, Required: true},
				{Name: "rpId", Kind: model.ParamString, Required: true},
				{Name: "userId", Kind: model.ParamHex, Required: true},
				{Name: "userName", Kind: model.ParamString, Required: true},
			}},
	}
}

func (h *Handler) Execute(ctx handler.CommandContext, commandID string, params map[string]any) (map[string]any, error) {
	switch commandID {
	case "select":
		aidBytes, _ := codec.HexToBytes(aid)
		return h.exchangeOne(ctx, selectApdu(aidBytes))
	case "get-version":
		return h.exchangeOne(ctx, getVersionApdu())
	case "register":
		challenge, err := handler.ParamHexBytes(id, commandID, params, "challenge", codec.ParseHexInput)
		if err != nil {
			return nil, err
		}
		application, err := handler.ParamHexBytes(id, commandID, params, "application", codec.ParseHexInput)
		if err != nil {
			return nil, err
		}
		return h.exchangeOne(ctx, u2fRegisterApdu(challenge, application))
	case "authenticate":
		challenge, err := handler.ParamHexBytes(id, commandID, params, "challenge", codec.ParseHexInput)
		if err != nil {
			return nil, err
		}
		application, err := handler.ParamHexBytes(id, commandID, params, "application", codec.ParseHexInput)
		if err != nil {
			return nil, err
		}
		keyHandle, err := handler.ParamHexBytes(id, commandID, params, "keyHandle", codec.ParseHexInput)
		if err != nil {
			return nil, err
		}
		checkOnly, _ := params["checkOnly"].(bool)
		return h.exchangeOne(ctx, u2fAuthenticateApdu(challenge, application, keyHandle, checkOnly))
	case "ctap2-make-credential":
		return h.ctap2MakeCredential(ctx, params)
	default:
		return nil, &handler.HandlerError{Code: handler.ErrUnknownCommand, HandlerID: id, Op: "Execute", Message: fmt.Sprintf("unknown command %q", commandID)}
	}
}

// u2fRegisterApdu builds U2F_REGISTER: CLA=00, INS=01, Le-only response
// expected, data is the 32-byte challenge followed by the 32-byte
// application parameter.
func u2fRegisterApdu(challenge, application []byte) []byte {
	data := append(append([]byte{}, challenge...), application...)
	cmd := []byte{0x00, insU2fRegister, 0x00, 0x00, byte(len(data))}
	cmd = append(cmd, data...)
	return append(cmd, 0x00)
}

// u2fAuthenticateApdu: P1=0x07 check-only (does this key handle belong to
// this application, without user presence) vs P1=0x03 enforce presence.
func u2fAuthenticateApdu(challenge, application, keyHandle []byte, checkOnly bool) []byte {
	p1 := byte(0x03)
	if checkOnly {
		p1 = 0x07
	}
	data := append(append([]byte{}, challenge...), application...)
	data = append(data, byte(len(keyHandle)))
	data = append(data, keyHandle...)
	cmd := []byte{0x00, insU2fAuthenticate, p1, 0x00, byte(len(data))}
	cmd = append(cmd, data...)
	return append(cmd, 0x00)
}

// ctap2CborApdu wraps one CBOR command byte plus payload under INS=0x11.
func ctap2CborApdu(cmdByte byte, payload []byte) []byte {
	data := append([]byte{cmdByte}, payload...)
	cmd := []byte{0x80, insCtap2Cbor, 0x00, 0x00, byte(len(data))}
	cmd = append(cmd, data...)
	return append(cmd, 0x00)
}

const ctap2CmdMakeCredential = 0x01

func (h *Handler) ctap2MakeCredential(ctx handler.CommandContext, params map[string]any) (map[string]any, error) {
	clientDataHash, err := handler.ParamHexBytes(id, "ctap2-make-credential", params, "clientDataHash", codec.ParseHexInput)
	if err != nil {
		return nil, err
	}
	rpIDV, err := handler.RequireParam(id, "ctap2-make-credential", params, "rpId")
	if err != nil {
		return nil, err
	}
	userID, err := handler.ParamHexBytes(id, "ctap2-make-credential", params, "userId", codec.ParseHexInput)
	if err != nil {
		return nil, err
	}
	userNameV, err := handler.RequireParam(id, "ctap2-make-credential", params, "userName")
	if err != nil {
		return nil, err
	}
	rpID, _ := rpIDV.(string)
	userName, _ := userNameV.(string)

	payload := Map([]Field{
		{Key: "1", Value: Bytes(clientDataHash)},
		{Key: "2", Value: Map([]Field{{Key: "id", Value: Text(rpID)}})},
		{Key: "3", Value: Map([]Field{{Key: "id", Value: Bytes(userID)}, {Key: "name", Value: Text(userName)}})},
		{Key: "4", Value: Array([]cborValue{Map([]Field{{Key: "alg", Value: UInt(0xFFFFFFF7)}, {Key: "type", Value: Text("public-key")}})})},
	})
	return h.exchangeOne(ctx, ctap2CborApdu(ctap2CmdMakeCredential, payload))
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

// Interrogate selects the application and reads the U2F version string.
func (h *Handler) Interrogate(ctx handler.CommandContext) (handler.InterrogationResult, error) {
	aidBytes, _ := codec.HexToBytes(aid)
	_, selResp, err := ctx.Sender.Exchange(ctx.Context, selectApdu(aidBytes))
	if err != nil || !codec.IsSwSuccess(selResp.SW1) {
		return handler.InterrogationResult{}, &handler.HandlerError{Code: handler.ErrCardRejected, HandlerID: id, Op: "Interrogate", Message: "SELECT FIDO AID failed"}
	}

	_, verResp, err := ctx.Sender.Exchange(ctx.Context, getVersionApdu())
	fields := map[string]string{}
	if err == nil && codec.IsSwSuccess(verResp.SW1) {
		fields["version"] = string(verResp.Data)
	}
	return handler.InterrogationResult{Summary: "FIDO authenticator selected", Fields: fields}, nil
}
