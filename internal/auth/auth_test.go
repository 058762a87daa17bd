package auth_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kcmh-his/sql-copilot/internal/auth"
)

func writeRoster(t *testing.T, dir string) (csvPath, superUsersPath string) {
	t.Helper()
	csvPath = filepath.Join(dir, "ID.csv")
	content := "E-mail,NAME,ID,Department\n" +
		"Alice@Hospital.Org, Alice Somchai ,A1234,Cardiology\n" +
		"bob@hospital.org,Bob Suk,B5678,Radiology\n"
	if err := os.WriteFile(csvPath, []byte(content), 0o644); err != nil {
		t.Fatalf("writing roster CSV: %v", err)
	}

	superUsersPath = filepath.Join(dir, "super_users.json")
	if err := os.WriteFile(superUsersPath, []byte(`{"super_users": ["alice@hospital.org"]}`), 0o644); err != nil {
		t.Fatalf("writing super users file: %v", err)
	}
	return csvPath, superUsersPath
}

func TestVerifyAssignsSuperUserRole(t *testing.T) {
	dir := t.TempDir()
	csvPath, superUsersPath := writeRoster(t, dir)

	store, err := auth.LoadUserStore(csvPath, superUsersPath)
	if err != nil {
		t.Fatalf("LoadUserStore: %v", err)
	}

	user, ok := store.Verify("Alice@hospital.org", "A1234")
	if !ok {
		t.Fatal("expected Alice to authenticate")
	}
	if user.Role != auth.RoleSuperUser {
		t.Errorf("expected super_user role, got %q", user.Role)
	}
	if user.Name != "Alice Somchai" {
		t.Errorf("expected trimmed name, got %q", user.Name)
	}
}

func TestVerifyAssignsStandardUserRole(t *testing.T) {
	dir := t.TempDir()
	csvPath, superUsersPath := writeRoster(t, dir)
	store, _ := auth.LoadUserStore(csvPath, superUsersPath)

	user, ok := store.Verify("bob@hospital.org", "B5678")
	if !ok {
		t.Fatal("expected Bob to authenticate")
	}
	if user.Role != auth.RoleStandardUser {
		t.Errorf("expected standard_user role, got %q", user.Role)
	}
}

func TestVerifyRejectsWrongPassword(t *testing.T) {
	dir := t.TempDir()
	csvPath, superUsersPath := writeRoster(t, dir)
	store, _ := auth.LoadUserStore(csvPath, superUsersPath)

	if _, ok := store.Verify("bob@hospital.org", "wrong"); ok {
		t.Fatal("expected wrong password to be rejected")
	}
}

func TestVerifyRejectsUnknownEmail(t *testing.T) {
	dir := t.TempDir()
	csvPath, superUsersPath := writeRoster(t, dir)
	store, _ := auth.LoadUserStore(csvPath, superUsersPath)

	if _, ok := store.Verify("nobody@hospital.org", "X"); ok {
		t.Fatal("expected unknown email to be rejected")
	}
}

func TestLoadUserStoreMissingCSVYieldsEmptyStore(t *testing.T) {
	dir := t.TempDir()
	store, err := auth.LoadUserStore(filepath.Join(dir, "missing.csv"), filepath.Join(dir, "missing.json"))
	if err != nil {
		t.Fatalf("expected a missing roster to not error, got: %v", err)
	}
	if store.UserCount() != 0 {
		t.Errorf("expected 0 users, got %d", store.UserCount())
	}
}

func TestSessionTokenRoundTrip(t *testing.T) {
	user := auth.UserInfo{Email: "alice@hospital.org", Name: "Alice", Department: "Cardiology", Role: auth.RoleSuperUser}

	token, err := auth.CreateSessionToken("a-secret-key-that-is-long-enough", time.Hour, user)
	if err != nil {
		t.Fatalf("CreateSessionToken: %v", err)
	}

	decoded, ok := auth.DecodeSessionToken("a-secret-key-that-is-long-enough", token)
	if !ok {
		t.Fatal("expected the token to decode successfully")
	}
	if decoded != user {
		t.Errorf("expected round-tripped user %+v, got %+v", user, decoded)
	}
}

func TestDecodeSessionTokenRejectsExpired(t *testing.T) {
	user := auth.UserInfo{Email: "alice@hospital.org", Role: auth.RoleStandardUser}
	token, err := auth.CreateSessionToken("a-secret-key-that-is-long-enough", -time.Hour, user)
	if err != nil {
		t.Fatalf("CreateSessionToken: %v", err)
	}
	if _, ok := auth.DecodeSessionToken("a-secret-key-that-is-long-enough", token); ok {
		t.Fatal("expected an expired token to be rejected")
	}
}

func TestDecodeSessionTokenRejectsWrongSecret(t *testing.T) {
	user := auth.UserInfo{Email: "alice@hospital.org", Role: auth.RoleStandardUser}
	token, err := auth.CreateSessionToken("first-secret-key-long-enough-ok", time.Hour, user)
	if err != nil {
		t.Fatalf("CreateSessionToken: %v", err)
	}
	if _, ok := auth.DecodeSessionToken("second-secret-key-long-enough-ok", token); ok {
		t.Fatal("expected a token signed with a different secret to be rejected")
	}
}
