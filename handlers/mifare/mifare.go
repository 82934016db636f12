// Package mifare implements the MIFARE Classic handler over the PC/SC
// pseudo-APDU set: LOAD KEY, GENERAL AUTHENTICATE, and READ BINARY by
// block, plus value-block recognition.
package mifare

import (
	"fmt"

	"github.com/tomkp/card-spy-core/codec"
	"github.com/tomkp/card-spy-core/handler"
	"github.com/tomkp/card-spy-core/model"
)

const (
	id   = "mifare"
	name = "MIFARE Classic"

	blocksPerSectorLow  = 4  // sectors 0-31: 4 blocks/sector
	blocksPerSectorHigh = 16 // sectors 32+ (4K cards): 16 blocks/sector
	highSectorStart     = 32
	lowSectorBlocks     = 128 // 32 sectors * 4 blocks
)

// KeyType selects which of a sector's two keys LOAD KEY/AUTHENTICATE use.
type KeyType byte

const (
	KeyTypeA KeyType = 0x60
	KeyTypeB KeyType = 0x61
)

// Handler implements handler.Handler for MIFARE Classic cards accessed
// through a PC/SC reader's pseudo-APDU interface.
type Handler struct{}

func New() *Handler { return &Handler{} }

func (h *Handler) ID() string   { return id }
func (h *Handler) Name() string { return name }

// Detect issues GET UID (FF CA 00 00 00); any success with a 4- or 7-byte
// UID is treated as a plausible MIFARE Classic card. Definitive family
// identification needs the ATR's historical bytes, which the registry
// supplies via ctx.ATR.
func (h *Handler) Detect(ctx handler.CommandContext) (handler.DetectionResult, error) {
	_, resp, err := ctx.Sender.Exchange(ctx.Context, getUidApdu())
	if err != nil || !codec.IsSwSuccess(resp.SW1) {
		return handler.DetectionResult{Matched: false}, nil
	}
	if len(resp.Data) != 4 && len(resp.Data) != 7 {
		return handler.DetectionResult{Matched: false}, nil
	}
	return handler.DetectionResult{Matched: true, Confidence: 60, CardType: "mifare", Description: "UID read via PC/SC pseudo-APDU", Metadata: map[string]any{"uid": codec.BytesToHex(resp.Data)}}, nil
}

func getUidApdu() []byte {
	return []byte{0xFF, 0xCA, 0x00, 0x00, 0x00}
}

// loadKeyApdu stores a 6-byte key in the reader's volatile key slot 0.
func loadKeyApdu(key []byte) []byte {
	cmd := []byte{0xFF, 0x82, 0x00, 0x00, byte(len(key))}
	return append(cmd, key...)
}

// authenticateApdu runs GENERAL AUTHENTICATE against the given block
// using the key previously loaded into slot 0.
func authenticateApdu(block byte, keyType KeyType) []byte {
	data := []byte{0x01, 0x00, block, byte(keyType), 0x00}
	cmd := []byte{0xFF, 0x86, 0x00, 0x00, byte(len(data))}
	return append(cmd, data...)
}

func readBinaryApdu(block byte) []byte {
	return []byte{0xFF, 0xB0, 0x00, block, 0x10}
}

// BlockForSectorOffset returns the absolute block number for sector/offset,
// accounting for the switch from 4-block to 16-block sectors at sector 32.
func BlockForSectorOffset(sector, offset byte) byte {
	if sector < highSectorStart {
		return sector*blocksPerSectorLow + offset
	}
	return lowSectorBlocks + (sector-highSectorStart)*blocksPerSectorHigh + offset
}

// IsValueBlock reports whether a 16-byte block follows the MIFARE value
// block layout: value stored twice direct and once inverted.
func IsValueBlock(block []byte) bool {
	if len(block) != 16 {
		return false
	}
	for i := 0; i < 4; i++ {
		if block[i] != block[8+i] {
			return false
		}
		if block[i] != ^block[4+i] {
			return false
		}
	}
	return true
}

func (h *Handler) Commands() []model.CommandDescriptor {
	return []model.CommandDescriptor{
		{ID: "get-uid", Name: "Get UID", Description: "PC/SC pseudo-APDU FF CA 00 00 00", Category: "discovery"},
		{ID: "load-key", Name: "Load Key", Description: "LOAD KEY FF 82", Category: "auth",
			Parameters: []model.Parameter{{Name: "key", Kind: model.ParamHex, Required: true, Validation: "^[0-9A-Fa-f]{12}$"}}},
		{ID: "authenticate", Name: "Authenticate Block", Description: "GENERAL AUTHENTICATE FF 86", Category: "auth",
			Parameters: []model.Parameter{
				{Name: "block", Kind: model.ParamNumber, Required: true},
				{Name: "keyType", Kind: model.ParamSelect, Required: true, Options: []string{"A", "B"}, DefaultValue: "A"},
			}},
		{ID: "read-block", Name: "Read Block", Description: "READ BINARY FF B0", Category: "data",
			Parameters: []model.Parameter{{Name: "block", Kind: model.ParamNumber, Required: true}}},
	}
}

func (h *Handler) Execute(ctx handler.CommandContext, commandID string, params map[string]any) (map[string]any, error) {
	switch commandID {
	case "get-uid":
		return h.exchangeOne(ctx, getUidApdu())
	case "load-key":
		key, err := handler.ParamHexBytes(id, commandID, params, "key", codec.ParseHexInput)
		if err != nil {
			return nil, err
		}
		return h.exchangeOne(ctx, loadKeyApdu(key))
	case "authenticate":
		blockV, err := handler.RequireParam(id, commandID, params, "block")
		if err != nil {
			return nil, err
		}
		blockN, ok := blockV.(float64)
		if !ok {
			return nil, &handler.HandlerError{Code: handler.ErrInvalidParameter, HandlerID: id, Op: commandID, Message: "block must be a number"}
		}
		keyTypeV, _ := params["keyType"].(string)
		kt := KeyTypeA
		if keyTypeV == "B" {
			kt = KeyTypeB
		}
		return h.exchangeOne(ctx, authenticateApdu(byte(blockN), kt))
	case "read-block":
		blockV, err := handler.RequireParam(id, commandID, params, "block")
		if err != nil {
			return nil, err
		}
		blockN, ok := blockV.(float64)
		if !ok {
			return nil, &handler.HandlerError{Code: handler.ErrInvalidParameter, HandlerID: id, Op: commandID, Message: "block must be a number"}
		}
		return h.readBlock(ctx, byte(blockN))
	default:
		return nil, &handler.HandlerError{Code: handler.ErrUnknownCommand, HandlerID: id, Op: "Execute", Message: fmt.Sprintf("unknown command %q", commandID)}
	}
}

func (h *Handler) readBlock(ctx handler.CommandContext, block byte) (map[string]any, error) {
	_, resp, err := ctx.Sender.Exchange(ctx.Context, readBinaryApdu(block))
	if err != nil {
		return nil, err
	}
	fields := map[string]any{"data": codec.BytesToHex(resp.Data), "sw1": resp.SW1, "sw2": resp.SW2}
	if IsValueBlock(resp.Data) {
		fields["isValueBlock"] = true
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

// Interrogate reads the UID and, since key material isn't known a priori,
// stops there: reading sector data requires an operator-supplied key.
func (h *Handler) Interrogate(ctx handler.CommandContext) (handler.InterrogationResult, error) {
	_, resp, err := ctx.Sender.Exchange(ctx.Context, getUidApdu())
	if err != nil || !codec.IsSwSuccess(resp.SW1) {
		return handler.InterrogationResult{}, &handler.HandlerError{Code: handler.ErrCardRejected, HandlerID: id, Op: "Interrogate", Message: "GET UID failed"}
	}
	return handler.InterrogationResult{
		Summary: "MIFARE Classic UID read; sector contents require a supplied key",
		Fields:  map[string]string{"uid": codec.BytesToHex(resp.Data)},
	}, nil
}
