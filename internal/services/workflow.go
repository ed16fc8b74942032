package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/diewo77/go-brokerage/auth"
	"github.com/diewo77/go-brokerage/gate"
	"github.com/diewo77/go-brokerage/internal/apperr"
	"github.com/diewo77/go-brokerage/internal/lock"
	"github.com/diewo77/go-brokerage/internal/lookup"
	"github.com/diewo77/go-brokerage/internal/models"
	"github.com/diewo77/go-brokerage/internal/policy"
	"gorm.io/gorm"
)

// contractPtr is a pointer to a contract model, so the engine can allocate
// and load any of the three kinds.
type contractPtr[T any] interface {
	*T
	models.Contract
}

// workflow runs the steps shared by every contract kind: loading under a
// lock, access checks, status bookkeeping and the after-commit effects.
type workflow[T any, C contractPtr[T]] struct {
	deps    *Deps
	kind    models.ContractKind
	ledger  *Ledger
	payouts *Payouts
}

// step is the state of one transition, valid inside its transaction only.
type step struct {
	ctx      context.Context
	tx       *gorm.DB
	actor    auth.Actor
	property *models.Property
	catalog  lookup.Catalog
	out      *outbox
	now      time.Time
}

func (w *workflow[T, C]) label() string {
	k := string(w.kind)
	return k[:1] + strings.ToLower(k[1:]) + " contract"
}

func (w *workflow[T, C]) notFound() error {
	return apperr.NotFound(w.label() + " not found")
}

func (w *workflow[T, C]) load(tx *gorm.DB, id uint, locked bool) (C, error) {
	c := C(new(T))
	q := tx
	if locked {
		q = forUpdate(tx)
	}
	if err := q.First(c, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, w.notFound()
		}
		return nil, fmt.Errorf("load %s: %w", strings.ToLower(w.label()), err)
	}
	return c, nil
}

func partiesOf(base *models.ContractBase, property *models.Property) *policy.Parties {
	return &policy.Parties{AgentID: base.AgentID, CustomerID: base.CustomerID, OwnerID: property.OwnerID}
}

func (w *workflow[T, C]) newStep(ctx context.Context, tx *gorm.DB, actor auth.Actor, ob *outbox) *step {
	return &step{
		ctx:     ctx,
		tx:      tx,
		actor:   actor,
		catalog: lookup.NewGormCatalog(tx),
		out:     ob,
		now:     w.deps.Now(),
	}
}

// authorize checks actor against c. A nil actor is the system acting on a
// gateway confirmation or a linked contract, and is always allowed.
func (w *workflow[T, C]) authorize(ctx context.Context, actor *auth.Actor, action gate.Action, c C, property *models.Property) error {
	if actor == nil {
		return nil
	}
	return w.deps.Gate.Authorize(ctx, *actor, action, w.kind.Resource(), partiesOf(c.Base(), property))
}

// mutate applies fn to contract id under the contract lock and inside one
// transaction. The contract is saved and a status change audited when fn
// succeeds. Queued effects run after commit.
func (w *workflow[T, C]) mutate(ctx context.Context, id uint, actor *auth.Actor, action gate.Action, fn func(s *step, c C) error) (C, error) {
	unlock, err := w.deps.Locker.Lock(ctx, lock.ContractKey(w.kind, id))
	if err != nil {
		return nil, err
	}
	defer unlock()

	ob := &outbox{}
	var result C
	err = w.deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := w.load(tx, id, true)
		if err != nil {
			return err
		}
		var by auth.Actor
		if actor != nil {
			by = *actor
		}
		s := w.newStep(ctx, tx, by, ob)
		if s.property, err = s.catalog.FindProperty(ctx, c.Base().PropertyID); err != nil {
			return err
		}
		if err := w.authorize(ctx, actor, action, c, s.property); err != nil {
			return err
		}
		before := c.Base().Status
		if err := fn(s, c); err != nil {
			return err
		}
		if after := c.Base().Status; after != before {
			if err := audit(tx, by.UserID, w.kind, id, "status_change", "status", string(before), string(after), c.Base().CancellationReason); err != nil {
				return err
			}
		}
		if err := tx.Save(c).Error; err != nil {
			return fmt.Errorf("save %s: %w", strings.ToLower(w.label()), err)
		}
		result = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	ob.drain(ctx, w.deps)
	return result, nil
}

// createKey serializes creations and approvals of one kind, so the
// live-contract check and number generation see each other's writes.
func (w *workflow[T, C]) createKey() string {
	return "contracts:" + string(w.kind) + ":create"
}

func (w *workflow[T, C]) withCreateLock(ctx context.Context, fn func() error) error {
	unlock, err := w.deps.Locker.Lock(ctx, w.createKey())
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

// create authorizes the actor's role, lets fill populate and validate a new
// contract, and inserts it as DRAFT with the next contract number.
func (w *workflow[T, C]) create(ctx context.Context, actor auth.Actor, fill func(s *step, c C) error) (C, error) {
	if err := w.deps.Gate.Authorize(ctx, actor, gate.ActionCreate, w.kind.Resource(), nil); err != nil {
		return nil, err
	}
	ob := &outbox{}
	var result C
	err := w.withCreateLock(ctx, func() error {
		return w.deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			s := w.newStep(ctx, tx, actor, ob)
			c := C(new(T))
			if err := fill(s, c); err != nil {
				return err
			}
			base := c.Base()
			if err := w.checkConflict(tx, c); err != nil {
				return err
			}
			number, err := models.GenerateContractNumber(tx, c, s.now.Year())
			if err != nil {
				return err
			}
			base.ContractNumber = number
			base.Status = models.ContractStatusDraft
			if err := tx.Create(c).Error; err != nil {
				return fmt.Errorf("create %s: %w", strings.ToLower(w.label()), err)
			}
			if err := audit(tx, actor.UserID, w.kind, base.ID, "create", "status", "", string(base.Status), number); err != nil {
				return err
			}
			result = c
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	ob.drain(ctx, w.deps)
	return result, nil
}

// assignAgent sets the sales agent of a new contract. An agent is assigned
// to what they create. An admin must name an agent.
func (w *workflow[T, C]) assignAgent(s *step, base *models.ContractBase, requested *uint) error {
	if s.actor.IsAgent() && !w.deps.Gate.IsAdmin(s.ctx, s.actor) {
		id := s.actor.UserID
		base.AgentID = &id
		return nil
	}
	if requested == nil || *requested == 0 {
		return apperr.BadRequest("Agent id is required when an admin creates a contract")
	}
	agent, err := s.catalog.FindAgent(s.ctx, *requested)
	if err != nil {
		return err
	}
	base.AgentID = &agent.ID
	return nil
}

// resolveParties loads the property and customer of a new or edited contract.
func (w *workflow[T, C]) resolveParties(s *step, base *models.ContractBase, propertyID, customerID uint) error {
	property, err := s.catalog.FindProperty(s.ctx, propertyID)
	if err != nil {
		return err
	}
	customer, err := s.catalog.FindCustomer(s.ctx, customerID)
	if err != nil {
		return err
	}
	if customer.ID == property.OwnerID {
		return apperr.BadRequest("The property owner cannot be the customer of their own property")
	}
	s.property = property
	base.PropertyID = property.ID
	base.CustomerID = customer.ID
	return nil
}

// checkConflict refuses a second live contract of this kind on the same property.
func (w *workflow[T, C]) checkConflict(tx *gorm.DB, c C) error {
	base := c.Base()
	var n int64
	err := tx.Model(C(new(T))).
		Where("property_id = ? AND status IN ? AND id <> ?", base.PropertyID, models.LiveStatuses, base.ID).
		Count(&n).Error
	if err != nil {
		return fmt.Errorf("check live contracts: %w", err)
	}
	if n > 0 {
		return apperr.BadRequestf("Property already has an active %s", strings.ToLower(w.label()))
	}
	return nil
}

// approve moves a DRAFT to WAITING_OFFICIAL after re-checking for a live
// contract on the property. then runs inside the same transition.
func (w *workflow[T, C]) approve(ctx context.Context, actor auth.Actor, id uint, then func(s *step, c C) error) (C, error) {
	var result C
	err := w.withCreateLock(ctx, func() error {
		c, err := w.mutate(ctx, id, &actor, gate.ActionTransition, func(s *step, c C) error {
			if err := requireStatus(c, models.ContractStatusDraft); err != nil {
				return err
			}
			if err := w.checkConflict(s.tx, c); err != nil {
				return err
			}
			c.Base().Status = models.ContractStatusWaitingOfficial
			s.out.notifyContract(c, models.NotificationContractUpdate, "Contract approved",
				fmt.Sprintf("%s %s is approved and waiting for official paperwork", w.label(), c.Base().ContractNumber),
				nil, c.Base().CustomerID, s.property.OwnerID)
			if then != nil {
				return then(s, c)
			}
			return nil
		})
		result = c
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// get returns a contract the actor may view.
func (w *workflow[T, C]) get(ctx context.Context, actor auth.Actor, id uint) (C, error) {
	db := w.deps.DB.WithContext(ctx)
	c, err := w.load(db, id, false)
	if err != nil {
		return nil, err
	}
	property, err := lookup.NewGormCatalog(db).FindProperty(ctx, c.Base().PropertyID)
	if err != nil {
		return nil, err
	}
	if err := w.authorize(ctx, &actor, gate.ActionView, c, property); err != nil {
		return nil, err
	}
	return c, nil
}

// payments lists the payments of a contract the actor may view.
func (w *workflow[T, C]) payments(ctx context.Context, actor auth.Actor, id uint) ([]models.Payment, error) {
	c, err := w.get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return paymentsOf(w.deps.DB.WithContext(ctx), c)
}

// update edits a DRAFT contract.
func (w *workflow[T, C]) update(ctx context.Context, actor auth.Actor, id uint, fn func(s *step, c C) error) (C, error) {
	return w.mutate(ctx, id, &actor, gate.ActionUpdate, func(s *step, c C) error {
		if !c.Base().CanEdit() {
			return apperr.BadRequestf("%s can only be edited in DRAFT status", w.label())
		}
		return fn(s, c)
	})
}

// remove hard-deletes a DRAFT contract. release undoes what the draft holds.
func (w *workflow[T, C]) remove(ctx context.Context, actor auth.Actor, id uint, release func(s *step, c C) error) error {
	unlock, err := w.deps.Locker.Lock(ctx, lock.ContractKey(w.kind, id))
	if err != nil {
		return err
	}
	defer unlock()
	return w.deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := w.load(tx, id, true)
		if err != nil {
			return err
		}
		s := w.newStep(ctx, tx, actor, &outbox{})
		if s.property, err = s.catalog.FindProperty(ctx, c.Base().PropertyID); err != nil {
			return err
		}
		if err := w.authorize(ctx, &actor, gate.ActionDelete, c, s.property); err != nil {
			return err
		}
		if !c.Base().CanEdit() {
			return apperr.BadRequestf("%s can only be deleted in DRAFT status", w.label())
		}
		if release != nil {
			if err := release(s, c); err != nil {
				return err
			}
		}
		if err := tx.Delete(c).Error; err != nil {
			return fmt.Errorf("delete %s: %w", strings.ToLower(w.label()), err)
		}
		return audit(tx, actor.UserID, w.kind, id, "delete", "", "", "", c.Base().ContractNumber)
	})
}

// cancellerOf maps the acting user to the party recorded as canceller.
func (w *workflow[T, C]) cancellerOf(s *step, c C) models.CancelledBy {
	switch {
	case s.actor.UserID == c.Base().CustomerID:
		return models.CancelledByCustomer
	case s.actor.UserID == s.property.OwnerID:
		return models.CancelledByOwner
	case w.deps.Gate.IsAdmin(s.ctx, s.actor):
		return models.CancelledByAdmin
	default:
		return models.CancelledByAgent
	}
}

// void cancels a contract by admin decision. Pending payments are cancelled
// and then settles what the contract still holds. Admin only.
func (w *workflow[T, C]) void(ctx context.Context, actor auth.Actor, id uint, reason string, then func(s *step, c C) error) (C, error) {
	return w.mutate(ctx, id, &actor, gate.ActionVoid, func(s *step, c C) error {
		if err := requireNotTerminal(c); err != nil {
			return err
		}
		if strings.TrimSpace(reason) == "" {
			reason = "Voided by admin"
		}
		if err := w.ledger.cancelPending(s.tx, c); err != nil {
			return err
		}
		c.Base().MarkCancelled(reason, models.CancelledByAdmin, s.actor.UserID, s.now)
		s.out.notifyContract(c, models.NotificationContractUpdate, "Contract voided",
			fmt.Sprintf("%s %s was voided by an administrator: %s", w.label(), c.Base().ContractNumber, reason),
			nil, c.Base().CustomerID, s.property.OwnerID, uidOf(c.Base().AgentID))
		if then != nil {
			return then(s, c)
		}
		return nil
	})
}

func requireStatus(c models.Contract, allowed ...models.ContractStatus) error {
	st := c.Base().Status
	for _, a := range allowed {
		if st == a {
			return nil
		}
	}
	names := make([]string, len(allowed))
	for i, a := range allowed {
		names[i] = string(a)
	}
	return apperr.BadRequestf("Contract is %s; this operation requires %s", st, strings.Join(names, " or "))
}

func requireNotTerminal(c models.Contract) error {
	if st := c.Base().Status; st.IsTerminal() {
		return apperr.BadRequestf("Contract is already %s", st)
	}
	return nil
}
