package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	TokenLength = 64
	saltBytes   = 16
	digestTag   = "argon2id$"

	argonTime    = 2
	argonMemory  = 19 * 1024
	argonThreads = 1
	argonKeyLen  = 32
)

// dummySalt/dummyDigest let the unknown-user path cost the same as a real check.
var (
	dummySalt   = strings.Repeat("0", saltBytes*2)
	dummyDigest = HashPassword("not-a-real-password", dummySalt)
)

func GenerateSalt() (string, error) {
	return randomHex(saltBytes)
}

// GenerateToken returns TokenLength lowercase hex characters.
func GenerateToken() (string, error) {
	return randomHex(TokenLength / 2)
}

func HashPassword(password, salt string) string {
	key := argon2.IDKey([]byte(password), []byte(salt), argonTime, argonMemory, argonThreads, argonKeyLen)
	return digestTag + hex.EncodeToString(key)
}

// VerifyPassword compares in constant time. bcrypt digests from older
// accounts carry their own salt, so salt is ignored for them.
func VerifyPassword(password, digest, salt string) bool {
	if isBcrypt(digest) {
		return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
	}
	if !strings.HasPrefix(digest, digestTag) {
		return false
	}
	computed := HashPassword(password, salt)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(digest)) == 1
}

func burnVerification(password string) {
	_ = VerifyPassword(password, dummyDigest, dummySalt)
}

func isBcrypt(digest string) bool {
	return strings.HasPrefix(digest, "$2a$") || strings.HasPrefix(digest, "$2b$") || strings.HasPrefix(digest, "$2y$")
}

// WellFormedToken is the cheap shape check done before any storage call.
func WellFormedToken(token string) bool {
	if len(token) != TokenLength {
		return false
	}
	for i := 0; i < len(token); i++ {
		c := token[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func randomHex(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
