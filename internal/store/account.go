package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/Deathvks/AutoGest-sub000/internal/model"
)

type AccountStore struct {
	db *sql.DB
}

func NewAccountStore(db *sql.DB) *AccountStore {
	return &AccountStore{db: db}
}

func scanAccount(scanner interface{ Scan(...any) error }) (*model.Account, error) {
	var a model.Account
	var custID sql.NullString
	var expiry sql.NullTime
	var companyID sql.NullInt64
	err := scanner.Scan(
		&a.ID, &a.Email, &a.Name, &custID, &a.SubscriptionStatus, &expiry,
		&a.Role, &companyID, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if custID.Valid {
		a.GatewayCustomerID = &custID.String
	}
	if expiry.Valid {
		t := expiry.Time.UTC()
		a.SubscriptionExpiry = &t
	}
	if companyID.Valid {
		a.CompanyID = &companyID.Int64
	}
	return &a, nil
}

const accountCols = `id, email, name, gateway_customer_id, subscription_status, subscription_expiry, role, company_id, created_at, updated_at`

func (s *AccountStore) Create(email, name string) (*model.Account, error) {
	result, err := s.db.Exec(
		`INSERT INTO accounts (email, name) VALUES (?, ?)`,
		email, name,
	)
	if err != nil {
		return nil, fmt.Errorf("insert account: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *AccountStore) GetByID(id int64) (*model.Account, error) {
	row := s.db.QueryRow(`SELECT `+accountCols+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (s *AccountStore) GetByEmail(email string) (*model.Account, error) {
	row := s.db.QueryRow(`SELECT `+accountCols+` FROM accounts WHERE email = ?`, email)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account by email: %w", err)
	}
	return a, nil
}

func (s *AccountStore) GetByGatewayCustomerID(customerID string) (*model.Account, error) {
	row := s.db.QueryRow(`SELECT `+accountCols+` FROM accounts WHERE gateway_customer_id = ?`, customerID)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get account by gateway customer id: %w", err)
	}
	return a, nil
}

func (s *AccountStore) UpdateGatewayCustomerID(id int64, customerID string) error {
	_, err := s.db.Exec(
		`UPDATE accounts SET gateway_customer_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		customerID, id,
	)
	if err != nil {
		return fmt.Errorf("update gateway customer id: %w", err)
	}
	return nil
}

// UpdateSubscriptionState writes the three projected fields in a single
// statement so a concurrent writer can never observe a partial snapshot.
func (s *AccountStore) UpdateSubscriptionState(id int64, status model.SubscriptionStatus, expiry *time.Time, role model.Role) error {
	var t sql.NullTime
	if expiry != nil {
		t = sql.NullTime{Time: expiry.UTC(), Valid: true}
	}
	_, err := s.db.Exec(
		`UPDATE accounts SET subscription_status = ?, subscription_expiry = ?, role = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		status, t, role, id,
	)
	if err != nil {
		return fmt.Errorf("update subscription state: %w", err)
	}
	return nil
}

func (s *AccountStore) SetCompany(id int64, companyID *int64) error {
	var v sql.NullInt64
	if companyID != nil {
		v = sql.NullInt64{Int64: *companyID, Valid: true}
	}
	_, err := s.db.Exec(
		`UPDATE accounts SET company_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		v, id,
	)
	if err != nil {
		return fmt.Errorf("set company: %w", err)
	}
	return nil
}

func (s *AccountStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return nil
}
