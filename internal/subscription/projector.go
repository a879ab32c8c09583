package subscription

import (
	"time"

	"github.com/Deathvks/AutoGest-sub000/internal/gateway"
	"github.com/Deathvks/AutoGest-sub000/internal/model"
)

// State is the projected triple cached on the account row. Every projection
// is a full recompute from a gateway snapshot plus the current account; no
// field is ever patched in isolation, which is what lets the webhook path
// and the manual sync path race each other safely.
type State struct {
	Status model.SubscriptionStatus
	Expiry *time.Time
	Role   model.Role
}

// defaultGrace is the defensive expiry used when the gateway omits a period
// end on an active subscription.
const defaultGrace = 30 * 24 * time.Hour

// ProjectActive maps an active or trialing gateway subscription, as seen in
// a payment-succeeded webhook, onto the account. Expiry prefers the trial
// end when one is set.
func ProjectActive(acct *model.Account, sub *gateway.Subscription, now time.Time) State {
	expiry := sub.CurrentPeriodEnd
	if !sub.TrialEnd.IsZero() {
		expiry = sub.TrialEnd
	}
	if expiry.IsZero() {
		expiry = now.UTC().Add(defaultGrace)
	}
	return State{
		Status: model.StatusActive,
		Expiry: &expiry,
		Role:   upgradeRole(acct.Role),
	}
}

// ProjectSynced maps the subscription found by a manual sync onto the
// account: active, expiring at the current period end.
func ProjectSynced(acct *model.Account, sub *gateway.Subscription, now time.Time) State {
	expiry := sub.CurrentPeriodEnd
	if expiry.IsZero() {
		expiry = now.UTC().Add(defaultGrace)
	}
	return State{
		Status: model.StatusActive,
		Expiry: &expiry,
		Role:   upgradeRole(acct.Role),
	}
}

// ProjectCancelled marks the subscription as ending at period end. The
// expiry is retained from the last known state, not recomputed; periodEnd is
// only used when no expiry was cached yet.
func ProjectCancelled(acct *model.Account, periodEnd time.Time) State {
	expiry := acct.SubscriptionExpiry
	if expiry == nil && !periodEnd.IsZero() {
		e := periodEnd.UTC()
		expiry = &e
	}
	return State{
		Status: model.StatusCancelled,
		Expiry: expiry,
		Role:   acct.Role,
	}
}

// ProjectPastDue marks a failed charge. Expiry and role are untouched.
func ProjectPastDue(acct *model.Account) State {
	return State{
		Status: model.StatusPastDue,
		Expiry: acct.SubscriptionExpiry,
		Role:   acct.Role,
	}
}

// ProjectDeleted resets the account after the gateway reports the
// subscription gone: inactive, no expiry, paid role revoked.
func ProjectDeleted(acct *model.Account) State {
	return State{
		Status: model.StatusInactive,
		Expiry: nil,
		Role:   downgradeRole(acct.Role),
	}
}

// upgradeRole grants the paid role, but only from the base user role. An
// admin or any other elevated role is never touched by this subsystem.
func upgradeRole(r model.Role) model.Role {
	if r == model.RoleUser {
		return model.RoleTechnician
	}
	return r
}

// downgradeRole revokes the paid role, and nothing else.
func downgradeRole(r model.Role) model.Role {
	if r == model.RoleTechnician {
		return model.RoleUser
	}
	return r
}
