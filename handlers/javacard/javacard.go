// Package javacard implements a generic JavaCard/GlobalPlatform card-manager
// handler: Issuer Security Domain selection, GET STATUS enumeration with its
// chained-block protocol, and GET DATA for the Card Production Life Cycle
// and Key Information Template.
package javacard

import (
	"github.com/tomkp/card-spy-core/codec"
	"github.com/tomkp/card-spy-core/handler"
	"github.com/tomkp/card-spy-core/model"
)

const (
	id   = "javacard"
	name = "JavaCard/GlobalPlatform"
	isd  = "A000000151000000"

	tagCplc = 0x9F7F
	tagKit  = 0x00E0

	// GET STATUS P1 subject types.
	p1IssuerSecurityDomain = 0x80
	p1Applications         = 0x40
	p1ExecLoadFiles        = 0x20

	swMoreDataHigh = 0x63
	swMoreDataLow  = 0x10
)

// Handler implements handler.Handler for generic GlobalPlatform card
// managers.
type Handler struct{}

func New() *Handler { return &Handler{} }

func (h *Handler) ID() string   { return id }
func (h *Handler) Name() string { return name }

func selectApdu(aid []byte) []byte {
	cmd := []byte{0x00, 0xA4, 0x04, 0x00, byte(len(aid))}
	cmd = append(cmd, aid...)
	return append(cmd, 0x00)
}

// getStatusApdu builds GET STATUS for the given subject type (P1) and GET
// format (P2 bit 0x02 = "GET constructed data"). more requests the next
// block of a chained response (P2 |= 0x01).
func getStatusApdu(p1 byte, more bool) []byte {
	p2 := byte(0x02)
	if more {
		p2 |= 0x01
	}
	data := []byte{0x4F, 0x00}
	cmd := []byte{0x80, 0xF2, p1, p2, byte(len(data))}
	cmd = append(cmd, data...)
	return append(cmd, 0x00)
}

func getDataApdu(tag uint16) []byte {
	return []byte{0x80, 0xCA, byte(tag >> 8), byte(tag), 0x00}
}

func (h *Handler) Detect(ctx handler.CommandContext) (handler.DetectionResult, error) {
	aidBytes, _ := codec.HexToBytes(isd)
	_, resp, err := ctx.Sender.Exchange(ctx.Context, selectApdu(aidBytes))
	if err != nil || !codec.IsSwSuccess(resp.SW1) {
		return handler.DetectionResult{Matched: false}, nil
	}
	return handler.DetectionResult{Matched: true, Confidence: 70, CardType: "javacard", Description: "Issuer Security Domain selected"}, nil
}

func (h *Handler) Commands() []model.CommandDescriptor {
	return []model.CommandDescriptor{
		{ID: "select-isd", Name: "Select Issuer Security Domain", Description: "SELECT by AID " + isd, Category: "discovery"},
		{ID: "get-status-isd", Name: "GET STATUS (Security Domains)", Description: "Enumerate the ISD and any supplementary security domains", Category: "data"},
		{ID: "get-status-applications", Name: "GET STATUS (Applications)", Description: "Enumerate installed applications", Category: "data"},
		{ID: "get-status-load-files", Name: "GET STATUS (Executable Load Files)", Description: "Enumerate loaded packages", Category: "data"},
		{ID: "get-cplc", Name: "GET DATA (CPLC)", Description: "Card Production Life Cycle data, tag 9F7F", Category: "data"},
		{ID: "get-key-info", Name: "GET DATA (Key Information Template)", Description: "Key Information Template, tag 00E0", Category: "data"},
	}
}

func (h *Handler) Execute(ctx handler.CommandContext, commandID string, params map[string]any) (map[string]any, error) {
	switch commandID {
	case "select-isd":
		aidBytes, _ := codec.HexToBytes(isd)
		return h.exchangeOne(ctx, selectApdu(aidBytes))
	case "get-status-isd":
		return h.getStatusAll(ctx, p1IssuerSecurityDomain)
	case "get-status-applications":
		return h.getStatusAll(ctx, p1Applications)
	case "get-status-load-files":
		return h.getStatusAll(ctx, p1ExecLoadFiles)
	case "get-cplc":
		return h.exchangeOne(ctx, getDataApdu(tagCplc))
	case "get-key-info":
		return h.exchangeOne(ctx, getDataApdu(tagKit))
	default:
		return nil, &handler.HandlerError{Code: handler.ErrUnknownCommand, HandlerID: id, Op: "Execute", Message: "unknown command " + commandID}
	}
}

// getStatusAll drives the chained-block GET STATUS protocol: as long as the
// card returns SW 6310, re-issue with P2's "next" bit set and append the
// data.
func (h *Handler) getStatusAll(ctx handler.CommandContext, p1 byte) (map[string]any, error) {
	var all []byte
	more := false
	for {
		_, resp, err := ctx.Sender.Exchange(ctx.Context, getStatusApdu(p1, more))
		if err != nil {
			return nil, err
		}
		all = append(all, resp.Data...)
		if resp.SW1 == swMoreDataHigh && resp.SW2 == swMoreDataLow {
			more = true
			continue
		}
		if !codec.IsSwSuccess(resp.SW1) {
			return map[string]any{"data": codec.BytesToHex(all), "sw1": resp.SW1, "sw2": resp.SW2, "sw": codec.DescribeSw(resp.SW1, resp.SW2)}, nil
		}
		return map[string]any{"data": codec.BytesToHex(all), "sw1": resp.SW1, "sw2": resp.SW2}, nil
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

// Interrogate selects the ISD, enumerates all three GET STATUS subject
// types, and reads the CPLC and Key Information Template.
func (h *Handler) Interrogate(ctx handler.CommandContext) (handler.InterrogationResult, error) {
	aidBytes, _ := codec.HexToBytes(isd)
	_, selResp, err := ctx.Sender.Exchange(ctx.Context, selectApdu(aidBytes))
	if err != nil || !codec.IsSwSuccess(selResp.SW1) {
		return handler.InterrogationResult{}, &handler.HandlerError{Code: handler.ErrCardRejected, HandlerID: id, Op: "Interrogate", Message: "SELECT Issuer Security Domain failed"}
	}

	fields := map[string]string{}
	for name, p1 := range map[string]byte{
		"security_domains": p1IssuerSecurityDomain,
		"applications":     p1Applications,
		"load_files":       p1ExecLoadFiles,
	} {
		result, err := h.getStatusAll(ctx, p1)
		if err != nil {
			fields[name] = "unreadable"
			continue
		}
		fields[name] = result["data"].(string)
	}

	if result, err := h.exchangeOne(ctx, getDataApdu(tagCplc)); err == nil && codec.IsSwSuccess(result["sw1"].(byte)) {
		fields["cplc"] = result["data"].(string)
	}
	if result, err := h.exchangeOne(ctx, getDataApdu(tagKit)); err == nil && codec.IsSwSuccess(result["sw1"].(byte)) {
		fields["key_info_template"] = result["data"].(string)
	}

	return handler.InterrogationResult{Summary: "Issuer Security Domain selected", Fields: fields}, nil
}
