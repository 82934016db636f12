// Package eid implements a generic electronic-ID card handler: a small
// per-country AID list, each mapped to a known-file table read via
// SELECT+READ BINARY. No BAC/PACE session establishment is attempted, so
// protected files surface as a correctly-modeled partial result rather
// than an error.
package eid

import (
	"fmt"

	"github.com/tomkp/card-spy-core/codec"
	"github.com/tomkp/card-spy-core/handler"
	"github.com/tomkp/card-spy-core/model"
)

const (
	id   = "eid"
	name = "Electronic ID"
)

type knownFile struct {
	key  string
	fid  uint16
	name string
}

type scheme struct {
	name  string
	aid   string
	files []knownFile
}

// schemes is a generic placeholder catalogue of national eID/eMRTD
// application identifiers; real deployments differ by issuing country.
var schemes = []scheme{
	{
		name: "Belgian eID",
		aid:  "A000000177504944",
		files: []knownFile{
			{"card-access", 0x011C, "CardAccess"},
			{"identity", 0x4031, "Identity File"},
			{"address", 0x4033, "Address File"},
		},
	},
	{
		name: "German nPA-style eID",
		aid:  "E80704007F00070302",
		files: []knownFile{
			{"card-access", 0x011C, "EF.CardAccess"},
			{"dg1", 0x0101, "DG1 (Document Type)"},
		},
	},
	{
		name: "ICAO 9303 eMRTD",
		aid:  "A0000002471001",
		files: []knownFile{
			{"card-access", 0x011C, "EF.CardAccess"},
			{"com", 0x011E, "EF.COM"},
			{"dg1", 0x0101, "EF.DG1"},
		},
	},
}

// Handler implements handler.Handler for generic eID cards.
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

// Detect tries each known scheme's AID in turn; the first SELECT success
// wins.
func (h *Handler) Detect(ctx handler.CommandContext) (handler.DetectionResult, error) {
	for _, sc := range schemes {
		aidBytes, err := codec.HexToBytes(sc.aid)
		if err != nil {
			continue
		}
		_, resp, err := ctx.Sender.Exchange(ctx.Context, selectAidApdu(aidBytes))
		if err == nil && codec.IsSwSuccess(resp.SW1) {
			return handler.DetectionResult{Matched: true, Confidence: 80, CardType: "eid", Description: sc.name + " AID selected", Metadata: map[string]any{"scheme": sc.name}}, nil
		}
	}
	return handler.DetectionResult{Matched: false}, nil
}

func (h *Handler) Commands() []model.CommandDescriptor {
	cmds := []model.CommandDescriptor{}
	for _, sc := range schemes {
		cmds = append(cmds, model.CommandDescriptor{
			ID: "select-" + sc.aid, Name: "Select " + sc.name, Description: "SELECT by AID " + sc.aid, Category: "discovery",
		})
		for _, f := range sc.files {
			cmds = append(cmds, model.CommandDescriptor{
				ID: "read-" + sc.aid + "-" + f.key, Name: "Read " + f.name, Description: fmt.Sprintf("SELECT %04X then READ BINARY", f.fid), Category: "data",
			})
		}
	}
	return cmds
}

func (h *Handler) Execute(ctx handler.CommandContext, commandID string, params map[string]any) (map[string]any, error) {
	for _, sc := range schemes {
		if commandID == "select-"+sc.aid {
			aidBytes, err := codec.HexToBytes(sc.aid)
			if err != nil {
				return nil, err
			}
			return h.exchangeOne(ctx, selectAidApdu(aidBytes))
		}
		for _, f := range sc.files {
			if commandID == "read-"+sc.aid+"-"+f.key {
				return h.readFile(ctx, f.fid)
			}
		}
	}
	return nil, &handler.HandlerError{Code: handler.ErrUnknownCommand, HandlerID: id, Op: "Execute", Message: fmt.Sprintf("unknown command %q", commandID)}
}

func (h *Handler) readFile(ctx handler.CommandContext, fid uint16) (map[string]any, error) {
	_, selResp, err := ctx.Sender.Exchange(ctx.Context, selectFileApdu(fid))
	if err != nil {
		return nil, err
	}
	if !codec.IsSwSuccess(selResp.SW1) {
		return map[string]any{"sw1": selResp.SW1, "sw2": selResp.SW2, "sw": codec.DescribeSw(selResp.SW1, selResp.SW2)}, nil
	}
	_, resp, err := ctx.Sender.Exchange(ctx.Context, readBinaryApdu(0xFF))
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

// Interrogate selects the first matching scheme, then tries every known
// file in turn. A file whose SELECT or READ BINARY fails (by transport error
// or non-success status) is recorded as security-status-not-satisfied and the
// walk goes on; the result is still reported as success. No BAC/PACE is
// attempted.
func (h *Handler) Interrogate(ctx handler.CommandContext) (handler.InterrogationResult, error) {
	var matched *scheme
	for i := range schemes {
		aidBytes, err := codec.HexToBytes(schemes[i].aid)
		if err != nil {
			continue
		}
		_, resp, err := ctx.Sender.Exchange(ctx.Context, selectAidApdu(aidBytes))
		if err == nil && codec.IsSwSuccess(resp.SW1) {
			matched = &schemes[i]
			break
		}
	}
	if matched == nil {
		return handler.InterrogationResult{}, &handler.HandlerError{Code: handler.ErrCardRejected, HandlerID: id, Op: "Interrogate", Message: "no known eID AID selected"}
	}

	fields := map[string]string{}
	for _, f := range matched.files {
		_, selResp, err := ctx.Sender.Exchange(ctx.Context, selectFileApdu(f.fid))
		if err != nil || !codec.IsSwSuccess(selResp.SW1) {
			fields[f.name] = "security status not satisfied (no BAC/PACE attempted)"
			continue
		}
		_, resp, err := ctx.Sender.Exchange(ctx.Context, readBinaryApdu(0xFF))
		if err != nil || !codec.IsSwSuccess(resp.SW1) {
			fields[f.name] = "security status not satisfied (no BAC/PACE attempted)"
			continue
		}
		fields[f.name] = codec.BytesToHex(resp.Data)
	}

	return handler.InterrogationResult{
		Summary: matched.name + " selected",
		Fields:  fields,
	}, nil
}
