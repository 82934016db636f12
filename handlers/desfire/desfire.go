// Package desfire implements the NXP DESFire native-command handler:
// GetVersion (spanning three continuation frames), UID read via the PC/SC
// pseudo-APDU, and native command wrapping. Multi-frame aggregation is the
// transport layer's job (transport.Session.ExchangeDesfire); this package
// only knows the command bytes.
package desfire

import (
	"fmt"

	"github.com/tomkp/card-spy-core/codec"
	"github.com/tomkp/card-spy-core/handler"
	"github.com/tomkp/card-spy-core/model"
)

const (
	id   = "desfire"
	name = "DESFire"

	cmdGetVersion   = 0x60
	cmdGetApplIDs   = 0x6A
	cmdSelectAppl   = 0x5A
	cmdGetFileIDs   = 0x6F
	cmdReadData     = 0xBD
)

// Handler implements handler.Handler for DESFire cards. It requires its
// CommandContext.Sender to also satisfy handler.DesfireSender; Detect and
// Interrogate fail gracefully (unmatched / error) if it doesn't.
type Handler struct{}

func New() *Handler { return &Handler{} }

func (h *Handler) ID() string   { return id }
func (h *Handler) Name() string { return name }

func getUidApdu() []byte {
	return []byte{0xFF, 0xCA, 0x00, 0x00, 0x00}
}

func desfireSender(ctx handler.CommandContext) (handler.DesfireSender, bool) {
	ds, ok := ctx.Sender.(handler.DesfireSender)
	return ds, ok
}

// Detect issues GetVersion; success (regardless of final status byte,
// since even an error status is only returned by a DESFire chip) is a
// strong signal once the transport confirms frame chaining occurred.
func (h *Handler) Detect(ctx handler.CommandContext) (handler.DetectionResult, error) {
	ds, ok := desfireSender(ctx)
	if !ok {
		return handler.DetectionResult{Matched: false}, nil
	}
	resp, err := ds.ExchangeDesfire(ctx.Context, cmdGetVersion, nil)
	if err != nil {
		return handler.DetectionResult{Matched: false}, nil
	}
	return handler.DetectionResult{Matched: true, Confidence: 90, CardType: "desfire", Description: "DESFire GetVersion answered", Metadata: map[string]any{"status": fmt.Sprintf("%02X", resp.Status)}}, nil
}

func (h *Handler) Commands() []model.CommandDescriptor {
	return []model.CommandDescriptor{
		{ID: "get-uid", Name: "Get UID", Description: "PC/SC pseudo-APDU FF CA 00 00 00", Category: "discovery"},
		{ID: "get-version", Name: "Get Version", Description: "DESFire native GetVersion (3-frame hardware/software/production info)", Category: "discovery"},
		{ID: "get-application-ids", Name: "Get Application IDs", Description: "DESFire native GetApplicationIDs", Category: "discovery"},
		{ID: "select-application", Name: "Select Application", Description: "DESFire native SelectApplication", Category: "discovery",
			Parameters: []model.Parameter{{Name: "aid", Kind: model.ParamHex, Required: true, Validation: "^[0-9A-Fa-f]{6}$"}}},
		{ID: "get-file-ids", Name: "Get File IDs", Description: "DESFire native GetFileIDs", Category: "data"},
		{ID: "read-data", Name: "Read Data", Description: "DESFire native ReadData", Category: "data",
			Parameters: []model.Parameter{
				{Name: "fileId", Kind: model.ParamHex, Required: true},
				{Name: "offset", Kind: model.ParamNumber, Required: false, DefaultValue: float64(0)},
				{Name: "length", Kind: model.ParamNumber, Required: false, DefaultValue: float64(0)},
			}},
	}
}

func (h *Handler) Execute(ctx handler.CommandContext, commandID string, params map[string]any) (map[string]any, error) {
	if commandID == "get-uid" {
		_, resp, err := ctx.Sender.Exchange(ctx.Context, getUidApdu())
		if err != nil {
			return nil, err
		}
		return map[string]any{"data": codec.BytesToHex(resp.Data), "sw1": resp.SW1, "sw2": resp.SW2}, nil
	}

	ds, ok := desfireSender(ctx)
	if !ok {
		return nil, &handler.HandlerError{Code: handler.ErrCardRejected, HandlerID: id, Op: "Execute", Message: "transport does not support DESFire native commands"}
	}

	switch commandID {
	case "get-version":
		return h.exchangeOne(ctx, ds, cmdGetVersion, nil)
	case "get-application-ids":
		return h.exchangeOne(ctx, ds, cmdGetApplIDs, nil)
	case "select-application":
		aid, err := handler.ParamHexBytes(id, commandID, params, "aid", codec.ParseHexInput)
		if err != nil {
			return nil, err
		}
		return h.exchangeOne(ctx, ds, cmdSelectAppl, aid)
	case "get-file-ids":
		return h.exchangeOne(ctx, ds, cmdGetFileIDs, nil)
	case "read-data":
		fileID, err := handler.ParamHexBytes(id, commandID, params, "fileId", codec.ParseHexInput)
		if err != nil {
			return nil, err
		}
		offset, _ := params["offset"].(float64)
		length, _ := params["length"].(float64)
		data := append([]byte{fileID[0]}, threeByteLE(uint32(offset))...)
		data = append(data, threeByteLE(uint32(length))...)
		return h.exchangeOne(ctx, ds, cmdReadData, data)
	default:
		return nil, &handler.HandlerError{Code: handler.ErrUnknownCommand, HandlerID: id, Op: "Execute", Message: fmt.Sprintf("unknown command %q", commandID)}
	}
}

// threeByteLE encodes n as a 3-byte little-endian field, DESFire's native
// byte order for offset/length parameters.
func threeByteLE(n uint32) []byte {
	return []byte{byte(n), byte(n >> 8), byte(n >> 16)}
}

func (h *Handler) exchangeOne(ctx handler.CommandContext, ds handler.DesfireSender, cmd byte, data []byte) (map[string]any, error) {
	resp, err := ds.ExchangeDesfire(ctx.Context, cmd, data)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"data":   codec.BytesToHex(resp.Data),
		"status": fmt.Sprintf("%02X", resp.Status),
	}, nil
}

// Interrogate reads the UID and the three-frame GetVersion info set.
func (h *Handler) Interrogate(ctx handler.CommandContext) (handler.InterrogationResult, error) {
	fields := map[string]string{}

	_, uidResp, err := ctx.Sender.Exchange(ctx.Context, getUidApdu())
	if err == nil && codec.IsSwSuccess(uidResp.SW1) {
		fields["uid"] = codec.BytesToHex(uidResp.Data)
	}

	ds, ok := desfireSender(ctx)
	if !ok {
		if len(fields) == 0 {
			return handler.InterrogationResult{}, &handler.HandlerError{Code: handler.ErrCardRejected, HandlerID: id, Op: "Interrogate", Message: "no DESFire native transport and UID read failed"}
		}
		return handler.InterrogationResult{Summary: "DESFire UID read (native commands unavailable)", Fields: fields}, nil
	}

	versionResp, err := ds.ExchangeDesfire(ctx.Context, cmdGetVersion, nil)
	if err == nil {
		fields["version"] = codec.BytesToHex(versionResp.Data)
	}

	return handler.InterrogationResult{Summary: "DESFire UID and version info read", Fields: fields}, nil
}
