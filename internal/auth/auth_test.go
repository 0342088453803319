package auth

import (
	"context"
	"errors"
	"testing"

	chat "github.com/eugener/palantir/internal"
)

type fakeAccountStore struct {
	accounts map[string]string // token hash -> user ID
	lookups  int
	err      error
}

func (s *fakeAccountStore) GetAccountByToken(_ context.Context, hash string) (string, error) {
	s.lookups++
	if s.err != nil {
		return "", s.err
	}
	userID, ok := s.accounts[hash]
	if !ok {
		return "", chat.ErrNotFound
	}
	return userID, nil
}

func (s *fakeAccountStore) CreateAccount(_ context.Context, userID, hash string) error {
	s.accounts[hash] = userID
	return nil
}

func newAuth(t *testing.T, store *fakeAccountStore) *TokenAuth {
	t.Helper()
	a, err := New(store)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestIdentifyKnownToken(t *testing.T) {
	t.Parallel()
	store := &fakeAccountStore{accounts: map[string]string{
		chat.HashToken("tok_good"): "u42",
	}}
	a := newAuth(t, store)

	id, err := a.Identify(context.Background(), "tok_good", "")
	if err != nil {
		t.Fatal(err)
	}
	if id.UserID != "u42" || !id.Authenticated {
		t.Errorf("identity = %+v, want authenticated u42", id)
	}
}

func TestIdentifyCachesToken(t *testing.T) {
	t.Parallel()
	store := &fakeAccountStore{accounts: map[string]string{
		chat.HashToken("tok_good"): "u42",
	}}
	a := newAuth(t, store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := a.Identify(ctx, "tok_good", ""); err != nil {
			t.Fatal(err)
		}
	}
	if store.lookups != 1 {
		t.Errorf("store lookups = %d, want 1 (cached)", store.lookups)
	}
}

func TestIdentifyUnknownTokenFallsBackToDevice(t *testing.T) {
	t.Parallel()
	a := newAuth(t, &fakeAccountStore{accounts: map[string]string{}})

	id, err := a.Identify(context.Background(), "tok_bogus", "dev123")
	if err != nil {
		t.Fatal(err)
	}
	if id.UserID != "dev123" || id.Authenticated {
		t.Errorf("identity = %+v, want anonymous dev123", id)
	}
}

func TestIdentifyNoCredentialNoDevice(t *testing.T) {
	t.Parallel()
	a := newAuth(t, &fakeAccountStore{accounts: map[string]string{}})

	if _, err := a.Identify(context.Background(), "", ""); !errors.Is(err, chat.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestIdentifyStoreFailure(t *testing.T) {
	t.Parallel()
	a := newAuth(t, &fakeAccountStore{err: errors.New("db down")})

	if _, err := a.Identify(context.Background(), "tok_any", "dev123"); err == nil {
		t.Error("store failure must surface, not silently downgrade to anonymous")
	}
}
