package connreq

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// digestAuthorization builds an RFC 2617 Authorization header from a
// WWW-Authenticate challenge. CPE connection-request endpoints almost
// universally speak MD5 digest with or without qop=auth.
func digestAuthorization(challenge, method, uri, username, password string) (string, error) {
	params, err := parseDigestChallenge(challenge)
	if err != nil {
		return "", err
	}

	realm := params["realm"]
	nonce := params["nonce"]
	if nonce == "" {
		return "", fmt.Errorf("challenge has no nonce")
	}

	algorithm := params["algorithm"]
	if algorithm != "" && !strings.EqualFold(algorithm, "MD5") {
		return "", fmt.Errorf("unsupported digest algorithm %q", algorithm)
	}

	ha1 := md5Hex(username + ":" + realm + ":" + password)
	ha2 := md5Hex(method + ":" + uri)

	var response, cnonce string
	qop := selectQop(params["qop"])
	if qop == "auth" {
		cnonce = newCnonce()
		response = md5Hex(strings.Join([]string{ha1, nonce, "00000001", cnonce, qop, ha2}, ":"))
	} else {
		response = md5Hex(ha1 + ":" + nonce + ":" + ha2)
	}

	var b strings.Builder
	fmt.Fprintf(&b, `Digest username=%q, realm=%q, nonce=%q, uri=%q, response=%q`,
		username, realm, nonce, uri, response)
	if qop == "auth" {
		fmt.Fprintf(&b, `, qop=auth, nc=00000001, cnonce=%q`, cnonce)
	}
	if opaque := params["opaque"]; opaque != "" {
		fmt.Fprintf(&b, `, opaque=%q`, opaque)
	}
	fmt.Fprintf(&b, `, algorithm=MD5`)

	return b.String(), nil
}

// parseDigestChallenge extracts the key/value pairs from a
// WWW-Authenticate: Digest header value.
func parseDigestChallenge(challenge string) (map[string]string, error) {
	const prefix = "Digest "
	if !strings.HasPrefix(challenge, prefix) {
		return nil, fmt.Errorf("not a digest challenge")
	}

	params := make(map[string]string)
	for _, part := range splitChallenge(challenge[len(prefix):]) {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		value := strings.Trim(strings.TrimSpace(kv[1]), `"`)
		params[key] = value
	}

	return params, nil
}

// splitChallenge splits on commas outside quoted strings
func splitChallenge(s string) []string {
	var parts []string
	var current strings.Builder
	inQuotes := false

	for _, ch := range s {
		switch {
		case ch == '"':
			inQuotes = !inQuotes
			current.WriteRune(ch)
		case ch == ',' && !inQuotes:
			parts = append(parts, current.String())
			current.Reset()
		default:
			current.WriteRune(ch)
		}
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}

	return parts
}

// selectQop picks auth when the server offers it; auth-int is not
// meaningful for a bodyless connection request.
func selectQop(offered string) string {
	for _, qop := range strings.Split(offered, ",") {
		if strings.TrimSpace(qop) == "auth" {
			return "auth"
		}
	}
	return ""
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func newCnonce() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}
