package emv

import (
	"github.com/tomkp/card-spy-core/codec"
	"github.com/tomkp/card-spy-core/handler"
	"github.com/tomkp/card-spy-core/model"
)

const maxPseRecords = 10

// Interrogate runs the full PSE/PPSE discovery and per-application AFL
// read pipeline.
func (h *Handler) Interrogate(ctx handler.CommandContext) (handler.InterrogationResult, error) {
	fci, sfi, ok := h.selectEnvironment(ctx)
	if !ok {
		return handler.InterrogationResult{}, &handler.HandlerError{Code: handler.ErrCardRejected, HandlerID: id, Op: "Interrogate", Message: "neither PSE nor PPSE selected"}
	}

	apps := h.discoverApplications(ctx, sfi)

	var allTlv []model.TlvNode
	allTlv = append(allTlv, fci...)

	for i := range apps {
		appTlv, ok := h.readApplication(ctx, apps[i].AID)
		if ok {
			allTlv = append(allTlv, appTlv...)
		}
	}

	return handler.InterrogationResult{
		Summary:  summarize(apps),
		Apps:     apps,
		Tlv:      allTlv,
		Metadata: map[string]any{"stage": Stage(ctx)},
	}, nil
}

func summarize(apps []model.DiscoveredApp) string {
	if len(apps) == 0 {
		return "no EMV applications discovered"
	}
	if len(apps) == 1 {
		return apps[0].Name
	}
	return apps[0].Name + " and others"
}

// selectEnvironment selects PSE, falling back to PPSE, parses the FCI and
// returns its tag-0x88 SFI (default 1 when absent).
func (h *Handler) selectEnvironment(ctx handler.CommandContext) (fci []model.TlvNode, sfi byte, ok bool) {
	resp, matched := trySelectByName(ctx, pse)
	if !matched {
		resp, matched = trySelectByName(ctx, ppse)
	}
	if !matched {
		return nil, 0, false
	}
	fci = codec.ParseTlv(resp.Data)
	sfi = byte(1)
	if n, found := codec.Find(fci, 0x88); found && len(n.Value) == 1 {
		sfi = n.Value[0]
	}
	return fci, sfi, true
}

// discoverApplications reads records 1..maxPseRecords of sfi until a
// non-success status word, collecting every Application Template (tag
// 0x61) it finds.
func (h *Handler) discoverApplications(ctx handler.CommandContext, sfi byte) []model.DiscoveredApp {
	var apps []model.DiscoveredApp
	for record := byte(1); record <= maxPseRecords; record++ {
		_, resp, err := ctx.Sender.Exchange(ctx.Context, readRecordApdu(sfi, record))
		if err != nil || !codec.IsSwSuccess(resp.SW1) {
			break
		}
		nodes := codec.ParseTlv(resp.Data)
		for _, tmpl := range codec.FindAll(nodes, 0x61) {
			app, ok := appFromTemplate(tmpl)
			if ok {
				apps = append(apps, app)
			}
		}
	}
	return apps
}

func appFromTemplate(tmpl model.TlvNode) (model.DiscoveredApp, bool) {
	aidNode, ok := codec.Find(tmpl.Children, 0x4F)
	if !ok {
		return model.DiscoveredApp{}, false
	}
	aidHex := codec.BytesToHex(aidNode.Value)
	app := model.DiscoveredApp{AID: aidHex, HandlerID: id, Name: LookupAid(aidHex)}
	if labelNode, ok := codec.Find(tmpl.Children, 0x50); ok {
		app.Label = string(labelNode.Value)
	}
	if prioNode, ok := codec.Find(tmpl.Children, 0x87); ok && len(prioNode.Value) == 1 {
		app.Priority = int(prioNode.Value[0])
	}
	return app, true
}

// readApplication selects aid, issues GPO with an empty PDOL, and reads
// every record named by the resulting AFL (or, absent an AFL, SFI 1..3
// records 1..5 as a fallback).
func (h *Handler) readApplication(ctx handler.CommandContext, aidHex string) ([]model.TlvNode, bool) {
	aid, err := codec.HexToBytes(aidHex)
	if err != nil {
		return nil, false
	}
	_, selResp, err := ctx.Sender.Exchange(ctx.Context, selectByAidApdu(aid))
	if err != nil || !codec.IsSwSuccess(selResp.SW1) {
		return nil, false
	}

	_, gpoResp, err := ctx.Sender.Exchange(ctx.Context, gpoApdu(nil))
	if err != nil || !codec.IsSwSuccess(gpoResp.SW1) {
		return nil, false
	}
	gpoTlv := codec.ParseTlv(gpoResp.Data)

	afl := aflFromGpo(gpoTlv)
	var allTlv []model.TlvNode
	allTlv = append(allTlv, gpoTlv...)

	if len(afl) == 0 {
		for sfi := byte(1); sfi <= 3; sfi++ {
			for record := byte(1); record <= 5; record++ {
				if tlv, ok := h.readOneRecord(ctx, sfi, record); ok {
					allTlv = append(allTlv, tlv...)
				}
			}
		}
		return allTlv, true
	}

	for _, entry := range afl {
		for _, record := range entry.Records() {
			if tlv, ok := h.readOneRecord(ctx, entry.SFI, record); ok {
				allTlv = append(allTlv, tlv...)
			}
		}
	}
	return allTlv, true
}

func (h *Handler) readOneRecord(ctx handler.CommandContext, sfi, record byte) ([]model.TlvNode, bool) {
	_, resp, err := ctx.Sender.Exchange(ctx.Context, readRecordApdu(sfi, record))
	if err != nil || !codec.IsSwSuccess(resp.SW1) {
		return nil, false
	}
	return codec.ParseTlv(resp.Data), true
}

// aflFromGpo extracts the AFL from a GPO response: tag 0x94 directly
// (format 2), or bytes 3 onward of tag 0x80 (format 1, the first two
// bytes being AIP).
func aflFromGpo(nodes []model.TlvNode) []codec.AflEntry {
	if n, ok := codec.Find(nodes, 0x94); ok {
		return codec.ParseAfl(n.Value)
	}
	if n, ok := codec.Find(nodes, 0x80); ok && len(n.Value) > 2 {
		return codec.ParseAfl(n.Value[2:])
	}
	return nil
}
