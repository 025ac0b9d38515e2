package envelope

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

func signingPreimage(issuedAt, nonce int64, payload IntentPayload) ([]byte, error) {
	body, err := payload.CanonicalJSON()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, 16+len(body))
	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(issuedAt))
	buf = append(buf, tsBuf[:]...)

	var nonceBuf [8]byte
	binary.BigEndian.PutUint64(nonceBuf[:], uint64(nonce))
	buf = append(buf, nonceBuf[:]...)

	buf = append(buf, body...)
	return buf, nil
}

func operatorPreimage(timestamp int64, action OperatorAction, actorID, commandID string) []byte {
	return []byte(fmt.Sprintf("%d:%s:%s:%s", timestamp, action, actorID, commandID))
}

// SignIntent computes the HMAC-SHA256 signature over an Intent's preimage
// using the shared secret and returns it hex-encoded.
func SignIntent(secret []byte, i Intent) (string, error) {
	preimage, err := i.SigningPreimage()
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(preimage)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyIntent constant-time-compares i.Signature against the MAC computed
// over i's preimage with secret.
func VerifyIntent(secret []byte, i Intent) (bool, error) {
	expected, err := SignIntent(secret, i)
	if err != nil {
		return false, err
	}
	got, err := hex.DecodeString(i.Signature)
	if err != nil {
		return false, nil
	}
	want, err := hex.DecodeString(expected)
	if err != nil {
		return false, err
	}
	return hmac.Equal(got, want), nil
}

// SignOperatorCommand computes the HMAC-SHA256 signature over an operator
// command's preimage.
func SignOperatorCommand(secret []byte, c OperatorCommand) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(c.SigningPreimage())
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyOperatorCommand constant-time-compares c.Signature.
func VerifyOperatorCommand(secret []byte, c OperatorCommand) bool {
	expected := SignOperatorCommand(secret, c)
	got, err1 := hex.DecodeString(c.Signature)
	want, err2 := hex.DecodeString(expected)
	if err1 != nil || err2 != nil {
		return false
	}
	return hmac.Equal(got, want)
}

// HashPolicy returns the SHA-256 digest of a policy's canonical JSON
// serialization, hex-encoded, matching the 32-byte digest referenced by
// spec §3/§4.B.
func HashPolicy(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
