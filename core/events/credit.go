package events

import (
	"math/big"
	"strconv"
	"strings"

	"creditline/core/types"
	"creditline/crypto"
)

const (
	// TypeCreditDefaultStarted is emitted exactly once when a borrower
	// crosses the delinquency boundary into default. The timestamp carries
	// the computed boundary, not the observation time.
	TypeCreditDefaultStarted = "credit.default.started"
	// TypeCreditDefaultCleared is emitted when a borrower fully repays an
	// open obligation or is settled, restoring Current status.
	TypeCreditDefaultCleared = "credit.default.cleared"
	// TypeCreditMarkdownUpdated is emitted whenever the stored markdown for
	// a borrower changes.
	TypeCreditMarkdownUpdated = "credit.markdown.updated"
	// TypeCreditObligationPosted is emitted when a repayment obligation is
	// recorded against a payment cycle.
	TypeCreditObligationPosted = "credit.obligation.posted"
	// TypeCreditAccountSettled is emitted when the authority settles a
	// borrower's account, writing off any uncovered remainder.
	TypeCreditAccountSettled = "credit.account.settled"
	// TypeCreditLineUpdated is emitted when the authority grants or
	// re-rates a borrower's credit line.
	TypeCreditLineUpdated = "credit.line.updated"
)

// CreditDefaultStarted records a borrower entering default.
type CreditDefaultStarted struct {
	Market    string
	Borrower  crypto.Address
	StartedAt uint64
}

func (CreditDefaultStarted) EventType() string { return TypeCreditDefaultStarted }

func (e CreditDefaultStarted) Event() *types.Event {
	return &types.Event{
		Type: TypeCreditDefaultStarted,
		Attributes: map[string]string{
			"market":    strings.TrimSpace(e.Market),
			"borrower":  formatAddress(e.Borrower),
			"startedAt": strconv.FormatUint(e.StartedAt, 10),
		},
	}
}

// CreditDefaultCleared records a borrower returning to Current status.
type CreditDefaultCleared struct {
	Market    string
	Borrower  crypto.Address
	ClearedAt uint64
}

func (CreditDefaultCleared) EventType() string { return TypeCreditDefaultCleared }

func (e CreditDefaultCleared) Event() *types.Event {
	return &types.Event{
		Type: TypeCreditDefaultCleared,
		Attributes: map[string]string{
			"market":    strings.TrimSpace(e.Market),
			"borrower":  formatAddress(e.Borrower),
			"clearedAt": strconv.FormatUint(e.ClearedAt, 10),
		},
	}
}

// CreditMarkdownUpdated records a change to a borrower's stored markdown.
type CreditMarkdownUpdated struct {
	Market   string
	Borrower crypto.Address
	Old      *big.Int
	New      *big.Int
}

func (CreditMarkdownUpdated) EventType() string { return TypeCreditMarkdownUpdated }

func (e CreditMarkdownUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeCreditMarkdownUpdated,
		Attributes: map[string]string{
			"market":   strings.TrimSpace(e.Market),
			"borrower": formatAddress(e.Borrower),
			"old":      formatAmount(e.Old),
			"new":      formatAmount(e.New),
		},
	}
}

// CreditObligationPosted records a required partial payment posted at cycle
// close or via mid-cycle enrollment.
type CreditObligationPosted struct {
	Market        string
	Borrower      crypto.Address
	CycleID       uint64
	AmountDue     *big.Int
	EndingBalance *big.Int
}

func (CreditObligationPosted) EventType() string { return TypeCreditObligationPosted }

func (e CreditObligationPosted) Event() *types.Event {
	return &types.Event{
		Type: TypeCreditObligationPosted,
		Attributes: map[string]string{
			"market":        strings.TrimSpace(e.Market),
			"borrower":      formatAddress(e.Borrower),
			"cycleId":       strconv.FormatUint(e.CycleID, 10),
			"amountDue":     formatAmount(e.AmountDue),
			"endingBalance": formatAmount(e.EndingBalance),
		},
	}
}

// CreditAccountSettled records a terminal settlement and write-off.
type CreditAccountSettled struct {
	Market     string
	Borrower   crypto.Address
	Repaid     *big.Int
	WrittenOff *big.Int
}

func (CreditAccountSettled) EventType() string { return TypeCreditAccountSettled }

func (e CreditAccountSettled) Event() *types.Event {
	return &types.Event{
		Type: TypeCreditAccountSettled,
		Attributes: map[string]string{
			"market":     strings.TrimSpace(e.Market),
			"borrower":   formatAddress(e.Borrower),
			"repaid":     formatAmount(e.Repaid),
			"writtenOff": formatAmount(e.WrittenOff),
		},
	}
}

// CreditLineUpdated records an authority change to a borrower's credit limit
// or risk premium.
type CreditLineUpdated struct {
	Market      string
	Borrower    crypto.Address
	Limit       *big.Int
	PremiumRate *big.Int
}

func (CreditLineUpdated) EventType() string { return TypeCreditLineUpdated }

func (e CreditLineUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeCreditLineUpdated,
		Attributes: map[string]string{
			"market":      strings.TrimSpace(e.Market),
			"borrower":    formatAddress(e.Borrower),
			"limit":       formatAmount(e.Limit),
			"premiumRate": formatAmount(e.PremiumRate),
		},
	}
}

func formatAddress(addr crypto.Address) string {
	if addr.IsZero() {
		return ""
	}
	return addr.String()
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
