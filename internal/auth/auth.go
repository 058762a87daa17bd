// Package auth loads the hospital's user roster (a CSV export keyed
// by work e-mail, with the hospital ID number serving as the login
// password) plus a small super_user allow-list, and issues/verifies
// the signed session cookie that carries a verified identity between
// requests.
package auth

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role mirrors the two roles the roster can assign. It is a plain
// string (not internal/rolefilter's Role type) so this package stays
// free of a dependency on the HTTP-facing response shaping logic.
const (
	RoleSuperUser    = "super_user"
	RoleStandardUser = "standard_user"
)

// UserInfo is a verified identity, either freshly authenticated or
// decoded back out of a session cookie.
type UserInfo struct {
	Email      string
	Name       string
	Department string
	Role       string
}

type userRecord struct {
	name       string
	id         string // the hospital ID number, used as the password
	department string
}

// UserStore holds the roster loaded at startup. It is immutable after
// construction and safe for concurrent reads.
type UserStore struct {
	users      map[string]userRecord
	superUsers map[string]struct{}
}

// LoadUserStore reads the user CSV (columns E-mail, NAME, ID,
// Department) and the super-user JSON list ({"super_users": [...]}).
// A missing CSV yields an empty store rather than an error — matching
// the original, which logs and continues so the process can still
// start and serve a clear "no users loaded" state rather than crash.
// A missing super-users file likewise yields no super users.
func LoadUserStore(csvPath, superUsersPath string) (*UserStore, error) {
	users, err := loadUsersCSV(csvPath)
	if err != nil {
		return nil, err
	}
	superUsers, err := loadSuperUsers(superUsersPath)
	if err != nil {
		return nil, err
	}
	return &UserStore{users: users, superUsers: superUsers}, nil
}

func loadUsersCSV(path string) (map[string]userRecord, error) {
	users := map[string]userRecord{}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return users, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err == io.EOF {
		return users, nil
	}
	if err != nil {
		return nil, err
	}
	for i, h := range header {
		header[i] = strings.TrimPrefix(h, string(rune(0xFEFF)))
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[h] = i
	}

	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		email := strings.ToLower(strings.TrimSpace(field(rec, col, "E-mail")))
		if email == "" {
			continue
		}
		users[email] = userRecord{
			name:       strings.TrimSpace(field(rec, col, "NAME")),
			id:         strings.TrimSpace(field(rec, col, "ID")),
			department: strings.TrimSpace(field(rec, col, "Department")),
		}
	}
	return users, nil
}

func field(rec []string, col map[string]int, name string) string {
	i, ok := col[name]
	if !ok || i >= len(rec) {
		return ""
	}
	return rec[i]
}

type superUsersFile struct {
	SuperUsers []string `json:"super_users"`
}

func loadSuperUsers(path string) (map[string]struct{}, error) {
	superUsers := map[string]struct{}{}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return superUsers, nil
	}
	if err != nil {
		return nil, err
	}

	var parsed superUsersFile
	if err := json.Unmarshal(data, &parsed); err != nil {
		// Malformed super-user config degrades to "no super users"
		// rather than failing startup — the roster CSV is the load-
		// bearing input; this file only ever narrows privilege.
		return superUsers, nil
	}
	for _, e := range parsed.SuperUsers {
		superUsers[strings.ToLower(strings.TrimSpace(e))] = struct{}{}
	}
	return superUsers, nil
}

// Verify checks email/password against the roster and returns the
// resulting identity, with role assigned from the super-user list.
func (s *UserStore) Verify(email, password string) (UserInfo, bool) {
	emailLower := strings.ToLower(strings.TrimSpace(email))
	user, ok := s.users[emailLower]
	if !ok {
		return UserInfo{}, false
	}
	if user.id != strings.TrimSpace(password) {
		return UserInfo{}, false
	}

	role := RoleStandardUser
	if _, ok := s.superUsers[emailLower]; ok {
		role = RoleSuperUser
	}

	return UserInfo{Email: emailLower, Name: user.name, Department: user.department, Role: role}, true
}

// UserCount reports how many users were loaded from the roster.
func (s *UserStore) UserCount() int { return len(s.users) }

// sessionClaims is the payload embedded in the signed cookie.
type sessionClaims struct {
	Email      string `json:"email"`
	Name       string `json:"name"`
	Department string `json:"department"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}

// CreateSessionToken signs a JWT carrying user into a cookie-ready
// string, expiring after maxAge — the Go equivalent of itsdangerous's
// URLSafeTimedSerializer plus its max_age check at decode time.
func CreateSessionToken(secretKey string, maxAge time.Duration, user UserInfo) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		Email:      user.Email,
		Name:       user.Name,
		Department: user.Department,
		Role:       user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(maxAge)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secretKey))
}

// DecodeSessionToken verifies and decodes a session token, returning
// false for any invalid, expired, or malformed token rather than an
// error — callers only need to know whether to treat the request as
// authenticated.
func DecodeSessionToken(secretKey, tokenString string) (UserInfo, bool) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secretKey), nil
	})
	if err != nil {
		return UserInfo{}, false
	}
	if claims.Email == "" || claims.Role == "" {
		return UserInfo{}, false
	}
	return UserInfo{Email: claims.Email, Name: claims.Name, Department: claims.Department, Role: claims.Role}, true
}
