// Package auth handles password hashing, bearer tokens and the request
// middleware that turns a token into an account id.
package auth

import (
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// BcryptCost is the work factor for new hashes. Tests lower it.
var BcryptCost = bcrypt.DefaultCost

// HashPassword returns the bcrypt hash of p.
func HashPassword(p string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(p), BcryptCost)
	return string(bytes), err
}

// CheckPassword reports whether plain matches hashed.
func CheckPassword(hashed, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain)) == nil
}

var (
	decoyOnce sync.Once
	decoyHash []byte
)

// CheckDecoy costs the same as a failed CheckPassword and always reports
// false. Call it when the account does not exist so lookups of unknown
// usernames take as long as wrong passwords.
func CheckDecoy(plain string) bool {
	decoyOnce.Do(func() {
		decoyHash, _ = bcrypt.GenerateFromPassword([]byte("decoy-password"), BcryptCost)
	})
	bcrypt.CompareHashAndPassword(decoyHash, []byte(plain))
	return false
}
