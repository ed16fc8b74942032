package services

import (
	"context"
	"fmt"

	"github.com/diewo77/go-brokerage/internal/models"
	"github.com/diewo77/go-brokerage/internal/notify"
	"github.com/diewo77/go-brokerage/internal/reporting"
)

// outbox collects the side effects of a transition. It is drained after the
// transaction commits, and a failing effect is logged without undoing the
// transition.
type outbox struct {
	messages  []notify.Message
	entries   []reporting.Entry
	followups []followup
}

type followup struct {
	name string
	fn   func(ctx context.Context) error
}

func (o *outbox) notify(m notify.Message) {
	o.messages = append(o.messages, m)
}

// notifyContract queues the same message to several users about one contract.
func (o *outbox) notifyContract(c models.Contract, typ models.NotificationType, title, msg string, extra map[string]any, userIDs ...uint) {
	seen := make(map[uint]bool, len(userIDs))
	for _, uid := range userIDs {
		if uid == 0 || seen[uid] {
			continue
		}
		seen[uid] = true
		o.notify(notify.Message{
			UserID:            uid,
			Type:              typ,
			Title:             title,
			Message:           msg,
			RelatedEntityType: c.Kind().Resource(),
			RelatedEntityID:   c.Base().ID,
			Extra:             extra,
		})
	}
}

func (o *outbox) record(e reporting.Entry) {
	o.entries = append(o.entries, e)
}

func (o *outbox) after(name string, fn func(ctx context.Context) error) {
	o.followups = append(o.followups, followup{name: name, fn: fn})
}

func (o *outbox) drain(ctx context.Context, d *Deps) {
	for _, m := range o.messages {
		if err := d.Notifier.Dispatch(ctx, m); err != nil {
			d.Logger.Warn("notification failed", "user_id", m.UserID, "type", m.Type, "err", err)
		}
	}
	for _, e := range o.entries {
		if err := d.Reports.RecordTransaction(ctx, e); err != nil {
			d.Logger.Error("commission record failed",
				"kind", e.ContractKind, "contract_id", e.ContractID, "commission", e.Commission.String(), "err", err)
		}
	}
	for _, f := range o.followups {
		if err := f.fn(ctx); err != nil {
			d.Logger.Error("follow-up failed", "step", f.name, "err", err)
		}
	}
}

func uidOf(id *uint) uint {
	if id == nil {
		return 0
	}
	return *id
}

func amountExtra(amount fmt.Stringer) map[string]any {
	return map[string]any{"amount": amount.String()}
}
