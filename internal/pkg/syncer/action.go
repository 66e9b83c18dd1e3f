package syncer

import "github.com/mhenrichs/notisync/internal/pkg/notionapi"

// ActionType says what the reconciler decided to do with the Notion page.
type ActionType int

const (
	ActionNone ActionType = iota
	ActionCreate
	ActionUpdate
)

func (t ActionType) String() string {
	switch t {
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	default:
		return "none"
	}
}

// MemoPush carries a Stripe-ward memo write: the operator changed the
// billing period in Notion and the Stripe memo must be rewritten to match.
type MemoPush struct {
	InvoiceID string
	Memo      string
}

// Action is the reconciler's plan for one invoice. Props holds only the
// properties that actually differ, so updates patch the minimum set.
type Action struct {
	Type     ActionType
	PageID   string
	Props    notionapi.Properties
	MemoPush *MemoPush
}
