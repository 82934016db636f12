// Package emv implements the EMV contact/contactless payment handler:
// PSE/PPSE discovery, FCI/AFL-driven application interrogation, GPO,
// GENERATE AC, and CVM-aware PIN verification command descriptors.
package emv

import (
	"fmt"

	"github.com/tomkp/card-spy-core/codec"
	"github.com/tomkp/card-spy-core/handler"
	"github.com/tomkp/card-spy-core/model"
)

const (
	id   = "emv"
	name = "EMV Payment"

	pse  = "1PAY.SYS.DDF01"
	ppse = "2PAY.SYS.DDF01"
)

// Handler implements handler.Handler for EMV payment applications.
type Handler struct{}

// New returns a stateless EMV handler instance.
func New() *Handler { return &Handler{} }

func (h *Handler) ID() string   { return id }
func (h *Handler) Name() string { return name }

// Detect tries PSE then PPSE selection; either success is a strong signal.
// A bare ATR with no PSE/PPSE response is a weak fallback signal only.
func (h *Handler) Detect(ctx handler.CommandContext) (handler.DetectionResult, error) {
	if resp, ok := trySelectByName(ctx, pse); ok {
		return handler.DetectionResult{Matched: true, Confidence: 95, CardType: "emv", Description: "PSE (contact) discovered", Metadata: map[string]any{"environment": "pse", "fci": codec.BytesToHex(resp.Data)}}, nil
	}
	if resp, ok := trySelectByName(ctx, ppse); ok {
		return handler.DetectionResult{Matched: true, Confidence: 95, CardType: "emv", Description: "PPSE (contactless) discovered", Metadata: map[string]any{"environment": "ppse", "fci": codec.BytesToHex(resp.Data)}}, nil
	}
	if ctx.ATR != "" {
		return handler.DetectionResult{Matched: true, Confidence: 30, CardType: "emv", Description: "ATR present, no PSE/PPSE response", Metadata: map[string]any{"environment": "unknown"}}, nil
	}
	return handler.DetectionResult{Matched: false}, nil
}

func trySelectByName(ctx handler.CommandContext, dfName string) (model.Response, bool) {
	apdu := selectByNameApdu([]byte(dfName))
	_, resp, err := ctx.Sender.Exchange(ctx.Context, apdu)
	if err != nil || !codec.IsSwSuccess(resp.SW1) {
		return model.Response{}, false
	}
	return resp, true
}

func selectByNameApdu(name []byte) []byte {
	le := byte(0x00)
	cmd := []byte{0x00, 0xA4, 0x04, 0x00, byte(len(name))}
	cmd = append(cmd, name...)
	cmd = append(cmd, le)
	return cmd
}

func selectByAidApdu(aid []byte) []byte {
	le := byte(0x00)
	cmd := []byte{0x00, 0xA4, 0x04, 0x00, byte(len(aid))}
	cmd = append(cmd, aid...)
	cmd = append(cmd, le)
	return cmd
}

func readRecordApdu(sfi, record byte) []byte {
	p2 := codec.CalculateReadRecordP2(sfi)
	return []byte{0x00, 0xB2, record, p2, 0x00}
}

// Commands returns the static EMV command catalogue.
func (h *Handler) Commands() []model.CommandDescriptor {
	return []model.CommandDescriptor{
		{ID: "select-pse", Name: "Select PSE", Description: "SELECT 1PAY.SYS.DDF01", Category: "discovery"},
		{ID: "select-ppse", Name: "Select PPSE", Description: "SELECT 2PAY.SYS.DDF01", Category: "discovery"},
		{ID: "select-application", Name: "Select Application", Description: "SELECT by AID", Category: "discovery",
			Parameters: []model.Parameter{{Name: "aid", Kind: model.ParamHex, Required: true, Description: "Application AID"}}},
		{ID: "get-processing-options", Name: "Get Processing Options", Description: "GPO with empty PDOL", Category: "transaction"},
		{ID: "get-processing-options-with-amount", Name: "Get Processing Options (amount)", Description: "GPO with populated PDOL", Category: "transaction",
			Parameters: []model.Parameter{
				{Name: "amount", Kind: model.ParamNumber, Required: true, Description: "Transaction amount, minor units"},
				{Name: "currency", Kind: model.ParamString, Required: true, DefaultValue: "0978", Description: "ISO 4217 numeric currency code"},
			}},
		{ID: "read-record", Name: "Read Record", Description: "READ RECORD sfi/record", Category: "data",
			Parameters: []model.Parameter{
				{Name: "sfi", Kind: model.ParamNumber, Required: true},
				{Name: "record", Kind: model.ParamNumber, Required: true},
			}},
		{ID: "get-data", Name: "Get Data", Description: "GET DATA by tag", Category: "data",
			Parameters: []model.Parameter{{Name: "tag", Kind: model.ParamHex, Required: true}}},
		{ID: "verify-pin", Name: "Verify PIN", Description: "VERIFY with Format 2 PIN block", Category: "auth", RequiresConfirmation: true,
			Parameters: []model.Parameter{{Name: "pin", Kind: model.ParamString, Required: true, Validation: `^\d{4,12}$`}}},
		{ID: "change-pin", Name: "Change PIN", Description: "CHANGE/UNBLOCK PIN", Category: "auth", RequiresConfirmation: true, IsDestructive: true,
			Parameters: []model.Parameter{
				{Name: "oldPin", Kind: model.ParamString, Required: true},
				{Name: "newPin", Kind: model.ParamString, Required: true},
			}},
		{ID: "generate-ac", Name: "Generate Application Cryptogram", Description: "GENERATE AC", Category: "transaction", RequiresConfirmation: true,
			Parameters: []model.Parameter{
				{Name: "type", Kind: model.ParamSelect, Required: true, Options: []string{"AAC", "TC", "ARQC"}},
				{Name: "amount", Kind: model.ParamNumber, Required: true},
				{Name: "currency", Kind: model.ParamString, Required: true, DefaultValue: "0978"},
				{Name: "cdol", Kind: model.ParamHex, Required: false, Description: "Override CDOL1 payload (raw hex)"},
			}},
		{ID: "internal-authenticate", Name: "Internal Authenticate", Description: "INTERNAL AUTHENTICATE", Category: "auth",
			Parameters: []model.Parameter{{Name: "data", Kind: model.ParamHex, Required: true}}},
		{ID: "evaluate-cvm", Name: "Evaluate CVM Requirement", Description: "Resolve the CVM method for a transaction amount against tag 8E", Category: "transaction",
			Parameters: []model.Parameter{{Name: "amount", Kind: model.ParamNumber, Required: true, Description: "Transaction amount, minor units"}}},
	}
}

// Execute dispatches one EMV command by ID.
func (h *Handler) Execute(ctx handler.CommandContext, commandID string, params map[string]any) (map[string]any, error) {
	switch commandID {
	case "select-pse":
		return h.exchangeOne(ctx, selectByNameApdu([]byte(pse)))
	case "select-ppse":
		return h.exchangeOne(ctx, selectByNameApdu([]byte(ppse)))
	case "select-application":
		aid, err := handler.ParamHexBytes(id, commandID, params, "aid", codec.ParseHexInput)
		if err != nil {
			return nil, err
		}
		return h.exchangeOne(ctx, selectByAidApdu(aid))
	case "get-processing-options":
		return h.exchangeOne(ctx, gpoApdu(nil))
	case "get-processing-options-with-amount":
		return h.gpoWithAmount(ctx, params)
	case "read-record":
		sfi, record, err := readRecordParams(params)
		if err != nil {
			return nil, err
		}
		return h.exchangeOne(ctx, readRecordApdu(sfi, record))
	case "get-data":
		tag, err := handler.ParamHexBytes(id, commandID, params, "tag", codec.ParseHexInput)
		if err != nil {
			return nil, err
		}
		return h.exchangeOne(ctx, getDataApdu(tag))
	case "verify-pin":
		return h.verifyPin(ctx, params, "pin")
	case "change-pin":
		return h.changePin(ctx, params)
	case "generate-ac":
		return h.generateAc(ctx, params)
	case "internal-authenticate":
		data, err := handler.ParamHexBytes(id, commandID, params, "data", codec.ParseHexInput)
		if err != nil {
			return nil, err
		}
		return h.exchangeOne(ctx, []byte{0x00, 0x88, 0x00, 0x00, byte(len(data))}, data...)
	case "evaluate-cvm":
		return h.evaluateCvm(ctx, params)
	default:
		return nil, &handler.HandlerError{Code: handler.ErrUnknownCommand, HandlerID: id, Op: "Execute", Message: fmt.Sprintf("unknown command %q", commandID)}
	}
}

func (h *Handler) exchangeOne(ctx handler.CommandContext, apdu ...[]byte) (map[string]any, error) {
	full := concatApdu(apdu)
	_, resp, err := ctx.Sender.Exchange(ctx.Context, full)
	if err != nil {
		return nil, err
	}
	return responseFields(resp), nil
}

func concatApdu(parts [][]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func responseFields(resp model.Response) map[string]any {
	return map[string]any{
		"data": codec.BytesToHex(resp.Data),
		"sw1":  resp.SW1,
		"sw2":  resp.SW2,
		"sw":   codec.DescribeSw(resp.SW1, resp.SW2),
	}
}

func readRecordParams(params map[string]any) (sfi, record byte, err error) {
	sfiV, err := handler.RequireParam(id, "read-record", params, "sfi")
	if err != nil {
		return 0, 0, err
	}
	recV, err := handler.RequireParam(id, "read-record", params, "record")
	if err != nil {
		return 0, 0, err
	}
	sfiN, ok := sfiV.(float64)
	if !ok {
		return 0, 0, &handler.HandlerError{Code: handler.ErrInvalidParameter, HandlerID: id, Op: "read-record", Message: "sfi must be a number"}
	}
	recN, ok := recV.(float64)
	if !ok {
		return 0, 0, &handler.HandlerError{Code: handler.ErrInvalidParameter, HandlerID: id, Op: "read-record", Message: "record must be a number"}
	}
	return byte(sfiN), byte(recN), nil
}

func getDataApdu(tag []byte) []byte {
	le := byte(0x00)
	if len(tag) == 1 {
		return []byte{0x80, 0xCA, 0x00, tag[0], le}
	}
	return []byte{0x80, 0xCA, tag[0], tag[1], le}
}

func gpoApdu(pdolData []byte) []byte {
	data := append([]byte{0x83, byte(len(pdolData))}, pdolData...)
	le := byte(0x00)
	cmd := []byte{0x80, 0xA8, 0x00, 0x00, byte(len(data))}
	cmd = append(cmd, data...)
	cmd = append(cmd, le)
	return cmd
}

// standardPdol is the fixed PDOL entry set GPO-with-amount populates, per
// the known shape terminals fall back to when no card-specific PDOL is
// being modeled explicitly.
var standardPdol = []codec.DolEntry{
	{Tag: 0x9F02, Length: 6},
	{Tag: 0x9F03, Length: 6},
	{Tag: 0x9F1A, Length: 2},
	{Tag: 0x5F2A, Length: 2},
	{Tag: 0x9A, Length: 3},
	{Tag: 0x9C, Length: 1},
	{Tag: 0x9F37, Length: 4},
}

func (h *Handler) gpoWithAmount(ctx handler.CommandContext, params map[string]any) (map[string]any, error) {
	amountV, err := handler.RequireParam(id, "get-processing-options-with-amount", params, "amount")
	if err != nil {
		return nil, err
	}
	currencyV, err := handler.RequireParam(id, "get-processing-options-with-amount", params, "currency")
	if err != nil {
		return nil, err
	}
	amount, ok := amountV.(float64)
	if !ok {
		return nil, &handler.HandlerError{Code: handler.ErrInvalidParameter, HandlerID: id, Op: "get-processing-options-with-amount", Message: "amount must be a number"}
	}
	currency, ok := currencyV.(string)
	if !ok {
		return nil, &handler.HandlerError{Code: handler.ErrInvalidParameter, HandlerID: id, Op: "get-processing-options-with-amount", Message: "currency must be a string"}
	}

	values := map[uint32][]byte{
		0x9F02: codec.DigitsToBcd(fmt.Sprintf("%012d", int64(amount)))[:6],
		0x9F03: codec.DigitsToBcd("000000000000")[:6],
		0x9F1A: codec.DigitsToBcd(currency)[:2],
		0x5F2A: codec.DigitsToBcd(currency)[:2],
		0x9A:   todayBcd(),
		0x9C:   {0x00}, // purchase
		0x9F37: unpredictableNumber(),
	}
	pdolData := codec.BuildDol(standardPdol, values)
	return h.exchangeOne(ctx, gpoApdu(pdolData))
}

// tagCvmList is the BER-TLV tag for the CVM List, read from the prior
// interrogation's TLV tree (tag 8E, typically inside record data returned
// during GPO/READ RECORD).
const tagCvmList = 0x8E

// evaluateCvm resolves which CVM rule applies to a transaction amount by
// reading the card's own tag-8E CVM list from the prior interrogation and
// comparing amount against its AmountX/AmountY thresholds, per the CVM
// evaluation scenario: amount=50 against CVM list "00 00 00 64 00 00 00 00
// 1F 06 01 00" selects no_cvm, amount=150 selects plaintext_pin_icc.
func (h *Handler) evaluateCvm(ctx handler.CommandContext, params map[string]any) (map[string]any, error) {
	amountV, err := handler.RequireParam(id, "evaluate-cvm", params, "amount")
	if err != nil {
		return nil, err
	}
	amount, ok := amountV.(float64)
	if !ok {
		return nil, &handler.HandlerError{Code: handler.ErrInvalidParameter, HandlerID: id, Op: "evaluate-cvm", Message: "amount must be a number"}
	}
	if ctx.Previous == nil {
		return nil, &handler.HandlerError{Code: handler.ErrCardRejected, HandlerID: id, Op: "evaluate-cvm", Message: "no prior interrogation data to read the CVM list from"}
	}
	node, ok := findTag(ctx.Previous.Tlv, tagCvmList)
	if !ok {
		return nil, &handler.HandlerError{Code: handler.ErrCardRejected, HandlerID: id, Op: "evaluate-cvm", Message: "CVM list (tag 8E) not present in prior interrogation"}
	}
	list := codec.ParseCvmList(node.Value)
	rule, matched := codec.EvaluateCvmForAmount(list, uint64(amount))
	return map[string]any{
		"matched":             matched,
		"method":              rule.Method,
		"condition":           rule.Condition,
		"applyIfUnsuccessful": rule.ApplyIfUnsuccessful,
	}, nil
}

// todayBcd and unpredictableNumber are injected via package-level vars so
// tests can make GPO-with-amount output deterministic.
var (
	todayBcd             = defaultTodayBcd
	unpredictableNumber  = defaultUnpredictableNumber
)

func defaultTodayBcd() []byte {
	// No wall-clock access in this handler package; callers supplying a
	// transaction date override it via the "date" metadata on CommandContext
	// in a future extension. For now issue a zero date, matching cards that
	// tolerate a best-effort PDOL fill.
	return []byte{0x00, 0x00, 0x00}
}

func defaultUnpredictableNumber() []byte {
	return []byte{0x00, 0x00, 0x00, 0x00}
}

// cdol1Canonical is the standard 29-byte CDOL1 layout used when the card's
// own tag 8C entry list isn't available from a prior interrogation.
var cdol1Canonical = []codec.DolEntry{
	{Tag: 0x9F02, Length: 6},
	{Tag: 0x9F03, Length: 6},
	{Tag: 0x9F1A, Length: 2},
	{Tag: 0x95, Length: 5},
	{Tag: 0x5F2A, Length: 2},
	{Tag: 0x9A, Length: 3},
	{Tag: 0x9C, Length: 1},
	{Tag: 0x9F37, Length: 4},
}

func (h *Handler) generateAc(ctx handler.CommandContext, params map[string]any) (map[string]any, error) {
	typeV, err := handler.RequireParam(id, "generate-ac", params, "type")
	if err != nil {
		return nil, err
	}
	cryptoType, ok := typeV.(string)
	if !ok {
		return nil, &handler.HandlerError{Code: handler.ErrInvalidParameter, HandlerID: id, Op: "generate-ac", Message: "type must be a string"}
	}
	var p1 byte
	switch cryptoType {
	case "AAC":
		p1 = 0x00
	case "TC":
		p1 = 0x40
	case "ARQC":
		p1 = 0x80
	default:
		return nil, &handler.HandlerError{Code: handler.ErrInvalidParameter, HandlerID: id, Op: "generate-ac", Message: fmt.Sprintf("unknown cryptogram type %q", cryptoType)}
	}

	var payload []byte
	if override, ok := params["cdol"]; ok {
		s, _ := override.(string)
		b, err := codec.ParseHexInput(s)
		if err != nil {
			return nil, &handler.HandlerError{Code: handler.ErrInvalidParameter, HandlerID: id, Op: "generate-ac", Message: "cdol override is not valid hex", Cause: err}
		}
		payload = b
	} else {
		entries := cdol1Canonical
		if ctx.Previous != nil {
			if cdolNode, ok := findTag(ctx.Previous.Tlv, 0x8C); ok {
				if parsed, err := codec.ParseDol(cdolNode.Value); err == nil && len(parsed) > 0 {
					entries = parsed
				}
			}
		}
		amount, _ := params["amount"].(float64)
		currency, _ := params["currency"].(string)
		values := map[uint32][]byte{
			0x9F02: codec.DigitsToBcd(fmt.Sprintf("%012d", int64(amount)))[:6],
			0x9F03: codec.DigitsToBcd("000000000000")[:6],
			0x9F1A: codec.DigitsToBcd(currency)[:2],
			0x95:   make([]byte, 5),
			0x5F2A: codec.DigitsToBcd(currency)[:2],
			0x9A:   todayBcd(),
			0x9C:   {0x00},
			0x9F37: unpredictableNumber(),
		}
		payload = codec.BuildDol(entries, values)
	}

	le := byte(0x00)
	cmd := []byte{0x80, 0xAE, p1, 0x00, byte(len(payload))}
	cmd = append(cmd, payload...)
	cmd = append(cmd, le)
	return h.exchangeOne(ctx, cmd)
}

func findTag(nodes []model.TlvNode, tag uint32) (model.TlvNode, bool) {
	for _, n := range nodes {
		if n.Tag == tag {
			return n, true
		}
		if n.IsConstructed {
			if found, ok := findTag(n.Children, tag); ok {
				return found, true
			}
		}
	}
	return model.TlvNode{}, false
}

func buildPinBlockFormat2(pin string) []byte {
	block := make([]byte, 8)
	block[0] = 0x20 | byte(len(pin))
	digits := pin
	if len(digits)%2 != 0 {
		digits += "F"
	}
	packed := codec.DigitsToBcd(digits)
	copy(block[1:], packed)
	for i := 1 + (len(pin)+1)/2; i < 8; i++ {
		block[i] = 0xFF
	}
	return block
}

func (h *Handler) verifyPin(ctx handler.CommandContext, params map[string]any, field string) (map[string]any, error) {
	pinV, err := handler.RequireParam(id, "verify-pin", params, field)
	if err != nil {
		return nil, err
	}
	pin, ok := pinV.(string)
	if !ok {
		return nil, &handler.HandlerError{Code: handler.ErrInvalidParameter, HandlerID: id, Op: "verify-pin", Message: "pin must be a string"}
	}
	block := buildPinBlockFormat2(pin)
	cmd := []byte{0x00, 0x20, 0x00, 0x80, byte(len(block))}
	cmd = append(cmd, block...)
	return h.exchangeOne(ctx, cmd)
}

func (h *Handler) changePin(ctx handler.CommandContext, params map[string]any) (map[string]any, error) {
	oldPinV, err := handler.RequireParam(id, "change-pin", params, "oldPin")
	if err != nil {
		return nil, err
	}
	newPinV, err := handler.RequireParam(id, "change-pin", params, "newPin")
	if err != nil {
		return nil, err
	}
	oldPin, _ := oldPinV.(string)
	newPin, _ := newPinV.(string)
	data := append(buildPinBlockFormat2(oldPin), buildPinBlockFormat2(newPin)...)
	cmd := []byte{0x00, 0x24, 0x00, 0x80, byte(len(data))}
	cmd = append(cmd, data...)
	return h.exchangeOne(ctx, cmd)
}

// Stage reports the EMV workflow stage implied by ctx: discovery, apps, or
// selected; an action stage is not reported. Stage is purely advisory (UI display); it is
// derived each call from CommandContext rather than stored.
func Stage(ctx handler.CommandContext) string {
	switch {
	case ctx.AID != "":
		return "selected"
	case ctx.Previous != nil && len(ctx.Previous.Apps) > 0:
		return "apps"
	default:
		return "discovery"
	}
}
