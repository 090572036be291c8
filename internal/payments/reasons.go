package payments

// ISO status reason codes the gateway emits on rejection reports. The
// set is closed; downstream participants key their own handling off
// these exact values.
const (
	ReasonAbortedTimeout         = "AB03"
	ReasonQuoteBinding           = "AB04"
	ReasonInvalidCutoff          = "TM01"
	ReasonIncorrectAccount       = "AC01"
	ReasonClosedAccount          = "AC04"
	ReasonAmountAboveLimit       = "AM02"
	ReasonInsufficientFunds      = "AM04"
	ReasonDuplicate              = "DUPL"
	ReasonNotSpecified           = "MS02"
	ReasonRegulatoryBlock        = "RR04"
	ReasonInvalidProxy           = "BE23"
	ReasonInvalidSettlementAgent = "RC11"
	ReasonNarrative              = "NARR"
)

var reasonDescriptions = map[string]string{
	ReasonAbortedTimeout:         "Transaction aborted due to timeout",
	ReasonQuoteBinding:           "Quote expired or rate mismatch",
	ReasonInvalidCutoff:          "Invalid cut-off time",
	ReasonIncorrectAccount:       "Incorrect account number",
	ReasonClosedAccount:          "Closed account number",
	ReasonAmountAboveLimit:       "Amount above limit",
	ReasonInsufficientFunds:      "Insufficient funds",
	ReasonDuplicate:              "Duplicate payment",
	ReasonNotSpecified:           "Reason not specified by customer",
	ReasonRegulatoryBlock:        "Regulatory block",
	ReasonInvalidProxy:           "Invalid or unresolvable proxy",
	ReasonInvalidSettlementAgent: "Invalid settlement agent",
	ReasonNarrative:              "See narrative information",
}

// ReasonDescription returns the human text for a reason code, or the
// code itself when it is not one the gateway knows.
func ReasonDescription(code string) string {
	if d, ok := reasonDescriptions[code]; ok {
		return d
	}
	return code
}

// KnownReason reports whether code belongs to the closed reason set.
func KnownReason(code string) bool {
	_, ok := reasonDescriptions[code]
	return ok
}
