package model

import "time"

// SubscriptionStatus is the locally cached view of the gateway subscription
// state. It is recomputed from a fresh gateway snapshot on every webhook or
// sync, never patched incrementally.
type SubscriptionStatus string

const (
	StatusInactive  SubscriptionStatus = "inactive"
	StatusActive    SubscriptionStatus = "active"
	StatusCancelled SubscriptionStatus = "cancelled"
	StatusPastDue   SubscriptionStatus = "past_due"
)

type Role string

const (
	RoleUser Role = "user"
	// RoleTechnician is the paid variant of RoleUser. It is only ever set by
	// the subscription subsystem when a payment activates, and only ever
	// reverts to RoleUser.
	RoleTechnician Role = "subscriber-technician"
	RoleAdmin      Role = "admin"
)

type Account struct {
	ID                 int64              `json:"id"`
	Email              string             `json:"email"`
	Name               string             `json:"name"`
	GatewayCustomerID  *string            `json:"gateway_customer_id"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status"`
	SubscriptionExpiry *time.Time         `json:"subscription_expiry"`
	Role               Role               `json:"role"`
	CompanyID          *int64             `json:"company_id"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

type Notification struct {
	ID        int64     `json:"id"`
	AccountID int64     `json:"account_id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Link      *string   `json:"link"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// PushSubscription is a browser push endpoint registered by a client.
type PushSubscription struct {
	ID        int64     `json:"id"`
	AccountID int64     `json:"account_id"`
	Endpoint  string    `json:"endpoint"`
	P256dh    string    `json:"p256dh"`
	Auth      string    `json:"auth"`
	CreatedAt time.Time `json:"created_at"`
}

type Session struct {
	ID        int64     `json:"id"`
	Token     string    `json:"token"`
	AccountID int64     `json:"account_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}
