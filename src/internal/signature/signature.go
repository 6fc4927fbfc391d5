package signature

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Env names the environment variable holding the key of signed config files.
const Env = "VPNBOOK_SIGNATURE"

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrMissingSignature = errors.New("missing signature")
	ErrEmptyConfig      = errors.New("empty config")
)

const signPrefix = "sign="

func sum(body []byte, key string) string {
	h := sha256.New()
	h.Write(body)
	h.Write([]byte(key))
	return hex.EncodeToString(h.Sum(nil))
}

// Sign prepends a "sign=<hex>" line to buf.
func Sign(buf []byte, key string) []byte {
	out := make([]byte, 0, len(signPrefix)+sha256.Size*2+1+len(buf))
	out = append(out, signPrefix...)
	out = append(out, sum(buf, key)...)
	out = append(out, '\n')
	return append(out, buf...)
}

// UnSign checks the signature line of buf and returns the body. An empty
// key disables the check and buf is returned untouched.
func UnSign(buf []byte, key string) ([]byte, error) {
	if key == "" {
		return buf, nil
	}

	idx := bytes.IndexByte(buf, '\n')
	if idx < 0 {
		if bytes.HasPrefix(buf, []byte(signPrefix)) {
			return nil, ErrEmptyConfig
		}
		return nil, ErrMissingSignature
	}

	line, body := buf[:idx], buf[idx+1:]
	if !bytes.HasPrefix(line, []byte(signPrefix)) {
		return nil, ErrMissingSignature
	}
	if len(body) == 0 {
		return nil, ErrEmptyConfig
	}

	expected := sum(body, key)
	if !hmac.Equal([]byte(expected), bytes.TrimSpace(line[len(signPrefix):])) {
		return nil, ErrInvalidSignature
	}
	return body, nil
}
