// Package ownership implements two-step ownership handoff: the current owner
// nominates a successor, and control only moves once the successor confirms.
package ownership

import (
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/token_ledger/internal/errors"
)

// State is a plain copy of the ownership slots, used for persistence and
// rollback.
type State struct {
	Owner        util.Uint160
	PendingOwner util.Uint160
}

// Handoff describes a completed or started ownership change.
type Handoff struct {
	Previous util.Uint160
	Current  util.Uint160
}

// Ownable holds the owner and the optional pending owner. It is not safe for
// concurrent use.
type Ownable struct {
	owner   util.Uint160
	pending util.Uint160
}

// New returns an Ownable owned by owner with nothing pending.
func New(owner util.Uint160) *Ownable {
	return &Ownable{owner: owner}
}

// Restore loads persisted slots.
func (o *Ownable) Restore(s State) {
	o.owner = s.Owner
	o.pending = s.PendingOwner
}

// State returns a copy of the slots.
func (o *Ownable) State() State {
	return State{Owner: o.owner, PendingOwner: o.pending}
}

// Owner returns the current owner.
func (o *Ownable) Owner() util.Uint160 { return o.owner }

// PendingOwner returns the nominated successor, or the zero hash.
func (o *Ownable) PendingOwner() util.Uint160 { return o.pending }

// HasPending reports whether a handoff awaits confirmation.
func (o *Ownable) HasPending() bool {
	return !o.pending.Equals(util.Uint160{})
}

// IsOwner reports whether caller is the current owner.
func (o *Ownable) IsOwner(caller util.Uint160) bool {
	return !caller.Equals(util.Uint160{}) && caller.Equals(o.owner)
}

// RequireOwner fails with Unauthorized unless caller is the owner.
func (o *Ownable) RequireOwner(caller util.Uint160) error {
	if !o.IsOwner(caller) {
		return errors.Unauthorized("caller is not the owner")
	}
	return nil
}

// TransferOwnership nominates newOwner. The owner does not change until
// newOwner confirms. A second nomination replaces the first.
func (o *Ownable) TransferOwnership(caller, newOwner util.Uint160) (Handoff, error) {
	if err := o.RequireOwner(caller); err != nil {
		return Handoff{}, err
	}
	if newOwner.Equals(util.Uint160{}) {
		return Handoff{}, errors.InvalidAddress("new_owner")
	}
	o.pending = newOwner
	return Handoff{Previous: o.owner, Current: newOwner}, nil
}

// ConfirmOwnershipTransfer completes a handoff. Only the pending owner may
// call it.
func (o *Ownable) ConfirmOwnershipTransfer(caller util.Uint160) (Handoff, error) {
	if !o.HasPending() || !caller.Equals(o.pending) {
		return Handoff{}, errors.Unauthorized("caller is not the pending owner")
	}
	h := Handoff{Previous: o.owner, Current: o.pending}
	o.owner = o.pending
	o.pending = util.Uint160{}
	return h, nil
}

// CancelOwnershipTransfer withdraws an unconfirmed nomination.
func (o *Ownable) CancelOwnershipTransfer(caller util.Uint160) (Handoff, error) {
	if err := o.RequireOwner(caller); err != nil {
		return Handoff{}, err
	}
	if !o.HasPending() {
		return Handoff{}, errors.InvalidParameter("no ownership transfer is pending")
	}
	h := Handoff{Previous: o.owner, Current: o.pending}
	o.pending = util.Uint160{}
	return h, nil
}
