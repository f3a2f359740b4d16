package server

import (
	"testing"

	"github.com/danmuck/minijira/internal/auth"
	"github.com/danmuck/minijira/internal/permission"
	"github.com/danmuck/minijira/internal/store"
)

func fastKDF() auth.Params {
	return auth.Params{KDF: auth.KDFPBKDF2, Iterations: 1000}
}

func newTestServer(t *testing.T, requireAuth bool) (*Server, *store.Set) {
	t.Helper()
	stores := store.NewSet()
	return NewServer(stores, permission.Gate{RequireAuth: requireAuth}, fastKDF()), stores
}

func mustCreateUser(t *testing.T, stores *store.Set, name, password string) store.User {
	t.Helper()
	cred, err := auth.NewCredential(password, fastKDF())
	if err != nil {
		t.Fatalf("new credential: %v", err)
	}
	u, err := stores.Users.Create(name, cred)
	if err != nil {
		t.Fatalf("create user %q: %v", name, err)
	}
	return u
}
