package store

import (
	"testing"

	"github.com/Deathvks/AutoGest-sub000/internal/database"
)

func setupSessionTestDB(t *testing.T) (*SessionStore, *AccountStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSessionStore(db), NewAccountStore(db)
}

func TestSessionCreate(t *testing.T) {
	ss, as := setupSessionTestDB(t)

	a, _ := as.Create("alice@example.com", "Alice")
	sess, err := ss.Create(a.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if len(sess.Token) != 64 { // 32 bytes hex-encoded
		t.Errorf("token length = %d, want 64", len(sess.Token))
	}
	if sess.AccountID != a.ID {
		t.Errorf("account_id = %d, want %d", sess.AccountID, a.ID)
	}
}

func TestSessionGetByToken(t *testing.T) {
	ss, as := setupSessionTestDB(t)

	a, _ := as.Create("alice@example.com", "Alice")
	created, _ := ss.Create(a.ID)

	sess, err := ss.GetByToken(created.Token)
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	if sess == nil {
		t.Fatal("expected session, got nil")
	}
	if sess.ID != created.ID {
		t.Errorf("id = %d, want %d", sess.ID, created.ID)
	}
}

func TestSessionGetByTokenNotFound(t *testing.T) {
	ss, _ := setupSessionTestDB(t)

	sess, err := ss.GetByToken("no-such-token")
	if err != nil {
		t.Fatalf("get by token: %v", err)
	}
	if sess != nil {
		t.Errorf("session = %v, want nil", sess)
	}
}

func TestSessionDelete(t *testing.T) {
	ss, as := setupSessionTestDB(t)

	a, _ := as.Create("alice@example.com", "Alice")
	created, _ := ss.Create(a.ID)

	if err := ss.Delete(created.ID); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	sess, _ := ss.GetByToken(created.Token)
	if sess != nil {
		t.Error("expected session gone after delete")
	}
}

func TestSessionDeleteExpired(t *testing.T) {
	ss, as := setupSessionTestDB(t)

	a, _ := as.Create("alice@example.com", "Alice")
	ss.Create(a.ID)

	count, err := ss.DeleteExpired()
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if count != 0 {
		t.Errorf("deleted = %d, fresh sessions must survive", count)
	}
}
