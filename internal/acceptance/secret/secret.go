// Package secret generates and verifies acceptance-token secrets. Only
// the salted Argon2id hash is stored; the raw secret is shown once.
package secret

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"golang.org/x/crypto/argon2"
)

const (
	argonTime    uint32 = 1
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 4
	argonKeyLen  uint32 = 32
	argonSaltLen        = 16

	rawSecretLen = 32
)

// Generate returns the raw secret handed to the customer and its encoded
// hash for storage. The token ID is embedded so redemption can look the
// record up without a deterministic hash index.
func Generate(tokenID snowflake.ID) (raw string, encodedHash string, err error) {
	buf := make([]byte, rawSecretLen)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	material := base64.RawURLEncoding.EncodeToString(buf)

	encodedHash, err = hash(material)
	if err != nil {
		return "", "", err
	}
	return fmt.Sprintf("%s.%s", tokenID.String(), material), encodedHash, nil
}

// Parse splits a raw secret into its token ID and secret material.
func Parse(raw string) (snowflake.ID, string, bool) {
	id, material, found := strings.Cut(strings.TrimSpace(raw), ".")
	if !found || material == "" {
		return 0, "", false
	}
	tokenID, err := snowflake.ParseString(id)
	if err != nil || tokenID == 0 {
		return 0, "", false
	}
	return tokenID, material, true
}

func hash(material string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	sum := argon2.IDKey([]byte(material), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	saltB64 := base64.RawStdEncoding.EncodeToString(salt)
	hashB64 := base64.RawStdEncoding.EncodeToString(sum)
	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s", argonMemory, argonTime, argonThreads, saltB64, hashB64), nil
}

// Verify checks whether secret material matches the encoded Argon2id hash.
func Verify(material, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" || parts[2] != "v=19" {
		return false
	}

	var memory uint32
	var timeCost uint32
	var threads uint8
	{
		params := strings.Split(parts[3], ",")
		if len(params) != 3 {
			return false
		}

		m, ok := strings.CutPrefix(params[0], "m=")
		if !ok {
			return false
		}
		t, ok := strings.CutPrefix(params[1], "t=")
		if !ok {
			return false
		}
		p, ok := strings.CutPrefix(params[2], "p=")
		if !ok {
			return false
		}

		mv, err := strconv.ParseUint(m, 10, 32)
		if err != nil {
			return false
		}
		tv, err := strconv.ParseUint(t, 10, 32)
		if err != nil {
			return false
		}
		pv, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return false
		}
		memory = uint32(mv)
		timeCost = uint32(tv)
		threads = uint8(pv)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}

	actual := argon2.IDKey([]byte(material), salt, timeCost, memory, threads, uint32(len(expected)))
	return subtle.ConstantTimeCompare(actual, expected) == 1
}
