package bot

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Action is the banking operation the model recognised in a user message.
type Action string

const (
	ActionRegister Action = "REGISTER"
	ActionBalance  Action = "BALANCE"
	ActionDeposit  Action = "DEPOSIT"
	ActionWithdraw Action = "WITHDRAW"
	ActionTransfer Action = "TRANSFER"
	ActionUnknown  Action = "UNKNOWN"
)

func (a Action) known() bool {
	switch a {
	case ActionRegister, ActionBalance, ActionDeposit, ActionWithdraw, ActionTransfer:
		return true
	}
	return false
}

// Amount accepts both JSON numbers and numeric strings ("1500", "1,500.50").
// Anything unparsable decodes to zero.
type Amount float64

func (a *Amount) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*a = 0
		return nil
	}
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = unquoted
	}
	raw = strings.NewReplacer(",", "", " ", "").Replace(raw)

	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*a = 0
		return nil
	}
	*a = Amount(val)
	return nil
}

// Extraction is the structured reading of one user message.
type Extraction struct {
	UserName string `json:"user_name,omitempty"`
	Action   Action `json:"action"`
	IBAN     string `json:"iban,omitempty"`
	Amount   Amount `json:"amount,omitempty"`
}

// ParseExtraction decodes the model output. Output that is not a JSON object,
// or that names no known action, yields ActionUnknown.
func ParseExtraction(content string) Extraction {
	content = stripCodeFence(content)

	var extraction Extraction
	if err := json.Unmarshal([]byte(content), &extraction); err != nil {
		return Extraction{Action: ActionUnknown}
	}

	extraction.Action = Action(strings.ToUpper(strings.TrimSpace(string(extraction.Action))))
	if !extraction.Action.known() {
		extraction.Action = ActionUnknown
	}
	extraction.UserName = strings.TrimSpace(extraction.UserName)
	extraction.IBAN = strings.ToUpper(strings.ReplaceAll(extraction.IBAN, " ", ""))
	return extraction
}

// stripCodeFence unwraps ```json ... ``` blocks that chat models like to emit.
func stripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```")
	if nl := strings.IndexByte(content, '\n'); nl >= 0 {
		content = content[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(content), "```"))
}
