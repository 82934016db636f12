// Package sim implements the SIM/USIM handler: file selection by address,
// READ BINARY/READ RECORD, CHV1 verification, and BCD-swapped ICCID
// decoding.
package sim

import (
	"fmt"

	"github.com/tomkp/card-spy-core/codec"
	"github.com/tomkp/card-spy-core/handler"
	"github.com/tomkp/card-spy-core/model"
)

const (
	id   = "sim"
	name = "SIM/USIM"

	claSim  = 0xA0
	claUsim = 0x00
)

// wellKnownFiles addresses the standard GSM/USIM file layout by path from
// MF; selection walks the path components with one SELECT per component.
var wellKnownFiles = map[string][]uint16{
	"mf":       {0x3F00},
	"iccid":    {0x3F00, 0x2FE2},
	"imsi":     {0x3F00, 0x7F20, 0x6F07},
	"spn":      {0x3F00, 0x7F20, 0x6F46},
	"msisdn":   {0x3F00, 0x7F20, 0x6F40},
	"loci":     {0x3F00, 0x7F20, 0x6F7E},
}

// Handler implements handler.Handler for SIM/USIM cards.
type Handler struct{}

func New() *Handler { return &Handler{} }

func (h *Handler) ID() string   { return id }
func (h *Handler) Name() string { return name }

// Detect tries USIM class byte first (newer cards reject SIM-class
// commands outright), falling back to SIM class.
func (h *Handler) Detect(ctx handler.CommandContext) (handler.DetectionResult, error) {
	for _, cla := range []byte{claUsim, claSim} {
		_, resp, err := ctx.Sender.Exchange(ctx.Context, selectFileApdu(cla, 0x3F00))
		if err == nil && codec.IsSwSuccess(resp.SW1) {
			return handler.DetectionResult{Matched: true, Confidence: 85, CardType: "sim", Description: "MF selected", Metadata: map[string]any{"class": fmt.Sprintf("%02X", cla)}}, nil
		}
	}
	return handler.DetectionResult{Matched: false}, nil
}

func selectFileApdu(cla byte, fid uint16) []byte {
	return []byte{cla, 0xA4, 0x00, 0x00, 0x02, byte(fid >> 8), byte(fid)}
}

func readBinaryApdu(cla byte, offset uint16, length byte) []byte {
	return []byte{cla, 0xB0, byte(offset >> 8), byte(offset), length}
}

func readRecordApdu(cla byte, record byte, length byte) []byte {
	// P2=0x04: read the given absolute record number.
	return []byte{cla, 0xB2, record, 0x04, length}
}

// verifyChv1Apdu ASCII-shifts each PIN digit (0x30 + digit) and pads with
// 0xFF to 8 bytes.
func verifyChv1Apdu(cla byte, pin string) []byte {
	data := make([]byte, 8)
	for i := 0; i < 8; i++ {
		if i < len(pin) {
			data[i] = 0x30 + (pin[i] - '0')
		} else {
			data[i] = 0xFF
		}
	}
	cmd := []byte{cla, 0x20, 0x00, 0x01, 0x08}
	return append(cmd, data...)
}

func (h *Handler) Commands() []model.CommandDescriptor {
	return []model.CommandDescriptor{
		{ID: "select-mf", Name: "Select MF", Description: "SELECT 3F00", Category: "discovery"},
		{ID: "read-iccid", Name: "Read ICCID", Description: "SELECT EF_ICCID then READ BINARY", Category: "data"},
		{ID: "read-imsi", Name: "Read IMSI", Description: "SELECT EF_IMSI then READ BINARY", Category: "data"},
		{ID: "read-spn", Name: "Read Service Provider Name", Description: "SELECT EF_SPN then READ BINARY", Category: "data"},
		{ID: "read-msisdn", Name: "Read MSISDN", Description: "SELECT EF_MSISDN then READ RECORD", Category: "data"},
		{ID: "verify-chv1", Name: "Verify CHV1", Description: "VERIFY CHV1, ASCII-shifted", Category: "auth", RequiresConfirmation: true,
			Parameters: []model.Parameter{{Name: "pin", Kind: model.ParamString, Required: true, Validation: `^\d{4,8}$`}}},
	}
}

func (h *Handler) Execute(ctx handler.CommandContext, commandID string, params map[string]any) (map[string]any, error) {
	cla := claClassFor(ctx)
	switch commandID {
	case "select-mf":
		return h.exchangeOne(ctx, selectFileApdu(cla, 0x3F00))
	case "read-iccid":
		return h.readTransparent(ctx, cla, "iccid", 10)
	case "read-imsi":
		return h.readTransparent(ctx, cla, "imsi", 9)
	case "read-spn":
		return h.readTransparent(ctx, cla, "spn", 17)
	case "read-msisdn":
		return h.readLinearFixed(ctx, cla, "msisdn", 1, 0x20)
	case "verify-chv1":
		pinV, err := handler.RequireParam(id, commandID, params, "pin")
		if err != nil {
			return nil, err
		}
		pin, ok := pinV.(string)
		if !ok {
			return nil, &handler.HandlerError{Code: handler.ErrInvalidParameter, HandlerID: id, Op: commandID, Message: "pin must be a string"}
		}
		return h.exchangeOne(ctx, verifyChv1Apdu(cla, pin))
	default:
		return nil, &handler.HandlerError{Code: handler.ErrUnknownCommand, HandlerID: id, Op: "Execute", Message: fmt.Sprintf("unknown command %q", commandID)}
	}
}

// claClassFor prefers the class byte Detect last confirmed working, via
// CommandContext metadata; defaults to USIM class when unset.
func claClassFor(ctx handler.CommandContext) byte {
	if ctx.Previous != nil && ctx.Previous.Metadata != nil {
		if v, ok := ctx.Previous.Metadata["class"].(string); ok {
			if v == "A0" {
				return claSim
			}
		}
	}
	return claUsim
}

func (h *Handler) selectPath(ctx handler.CommandContext, cla byte, path []uint16) bool {
	for _, fid := range path {
		_, resp, err := ctx.Sender.Exchange(ctx.Context, selectFileApdu(cla, fid))
		if err != nil || !codec.IsSwSuccess(resp.SW1) {
			return false
		}
	}
	return true
}

func (h *Handler) readTransparent(ctx handler.CommandContext, cla byte, fileKey string, length byte) (map[string]any, error) {
	path, ok := wellKnownFiles[fileKey]
	if !ok {
		return nil, &handler.HandlerError{Code: handler.ErrInvalidParameter, HandlerID: id, Op: "readTransparent", Message: "unknown file " + fileKey}
	}
	if !h.selectPath(ctx, cla, path) {
		return nil, &handler.HandlerError{Code: handler.ErrCardRejected, HandlerID: id, Op: "readTransparent", Message: "SELECT failed for " + fileKey}
	}
	_, resp, err := ctx.Sender.Exchange(ctx.Context, readBinaryApdu(cla, 0, length))
	if err != nil {
		return nil, err
	}
	fields := map[string]any{"data": codec.BytesToHex(resp.Data), "sw1": resp.SW1, "sw2": resp.SW2}
	if fileKey == "iccid" {
		fields["iccid"] = decodeIccid(resp.Data)
	}
	return fields, nil
}

func (h *Handler) readLinearFixed(ctx handler.CommandContext, cla byte, fileKey string, record byte, length byte) (map[string]any, error) {
	path, ok := wellKnownFiles[fileKey]
	if !ok {
		return nil, &handler.HandlerError{Code: handler.ErrInvalidParameter, HandlerID: id, Op: "readLinearFixed", Message: "unknown file " + fileKey}
	}
	if !h.selectPath(ctx, cla, path) {
		return nil, &handler.HandlerError{Code: handler.ErrCardRejected, HandlerID: id, Op: "readLinearFixed", Message: "SELECT failed for " + fileKey}
	}
	_, resp, err := ctx.Sender.Exchange(ctx.Context, readRecordApdu(cla, record, length))
	if err != nil {
		return nil, err
	}
	return map[string]any{"data": codec.BytesToHex(resp.Data), "sw1": resp.SW1, "sw2": resp.SW2}, nil
}

// decodeIccid swaps each byte's nibbles (ICCID is BCD with swapped
// nibbles, low nibble first) and renders the resulting digit string,
// dropping a trailing pad nibble ('F').
func decodeIccid(data []byte) string {
	digits := make([]byte, 0, len(data)*2)
	for _, b := range data {
		lo := b & 0x0F
		hi := b >> 4
		digits = append(digits, nibbleToDigit(lo), nibbleToDigit(hi))
	}
	for len(digits) > 0 && digits[len(digits)-1] == 'F' {
		digits = digits[:len(digits)-1]
	}
	return string(digits)
}

func nibbleToDigit(n byte) byte {
	if n == 0x0F {
		return 'F'
	}
	return '0' + n
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

// Interrogate selects MF and reads ICCID and IMSI, tolerating failures on
// either (USIM apps without a GSM DF_GSM path, for instance).
func (h *Handler) Interrogate(ctx handler.CommandContext) (handler.InterrogationResult, error) {
	cla := claClassFor(ctx)
	if !h.selectPath(ctx, cla, wellKnownFiles["mf"]) {
		return handler.InterrogationResult{}, &handler.HandlerError{Code: handler.ErrCardRejected, HandlerID: id, Op: "Interrogate", Message: "SELECT MF failed"}
	}

	fields := map[string]string{}
	if r, err := h.readTransparent(ctx, cla, "iccid", 10); err == nil {
		fields["iccid"] = fmt.Sprintf("%v", r["iccid"])
	}
	if r, err := h.readTransparent(ctx, cla, "imsi", 9); err == nil {
		fields["imsi_raw"] = fmt.Sprintf("%v", r["data"])
	}

	return handler.InterrogationResult{Summary: "SIM/USIM file system read", Fields: fields}, nil
}
