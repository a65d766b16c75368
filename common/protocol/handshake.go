package protocol

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// The handshake is verifier-keyed: both sides compute
// hex(HMAC-SHA-256(key = argon2id verifier string, msg = nonce)). The agent
// holds the verifier at rest; the controller derives it from the plaintext
// password plus the hash_params prefix returned with the challenge, so the
// plaintext never crosses the wire.

// ComputeResponse calculates the challenge response for a verifier string.
func ComputeResponse(verifier, nonce string) string {
	mac := hmac.New(sha256.New, []byte(verifier))
	mac.Write([]byte(nonce))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyResponse compares a supplied response against the expected one in
// constant time.
func VerifyResponse(verifier, nonce, response string) bool {
	expected := ComputeResponse(verifier, nonce)
	return hmac.Equal([]byte(expected), []byte(response))
}

// DeriveVerifier rebuilds the full encoded verifier string from a plaintext
// password and the hash_params prefix "$argon2id$v=19$m=...,t=...,p=...$<salt_b64>".
func DeriveVerifier(password, hashParams string) (string, error) {
	parts := strings.Split(hashParams, "$")
	// ["", "argon2id", "v=19", "m=..,t=..,p=..", "<salt>"]
	if len(parts) != 5 || parts[1] != "argon2id" {
		return "", fmt.Errorf("bad hash params format")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return "", fmt.Errorf("bad hash params version: %w", err)
	}
	if version != argon2.Version {
		return "", fmt.Errorf("unsupported argon2 version %d", version)
	}

	var memory, iterations uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &threads); err != nil {
		return "", fmt.Errorf("bad hash params: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return "", fmt.Errorf("bad hash params salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, iterations, memory, threads, 32)
	return fmt.Sprintf("%s$%s", hashParams, base64.RawStdEncoding.EncodeToString(key)), nil
}
