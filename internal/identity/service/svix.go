package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/coursemart/internal/clock"
	"github.com/smallbiznis/coursemart/internal/identity/domain"
)

const (
	HeaderMessageID = "svix-id"
	HeaderTimestamp = "svix-timestamp"
	HeaderSignature = "svix-signature"

	secretPrefix     = "whsec_"
	signatureVersion = "v1"
)

// DecodeSecret strips the optional whsec_ prefix and base64-decodes the key.
func DecodeSecret(secret string) ([]byte, error) {
	secret = strings.TrimPrefix(strings.TrimSpace(secret), secretPrefix)
	if secret == "" {
		return nil, fmt.Errorf("identity webhook secret is empty")
	}
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("decode identity webhook secret: %w", err)
	}
	return key, nil
}

// Sign computes the base64 signature over "id.timestamp.body".
func Sign(key []byte, msgID string, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msgID))
	mac.Write([]byte("."))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// SignHeaders returns the headers a sender would attach to payload.
func SignHeaders(secret, msgID string, at time.Time, payload []byte) (http.Header, error) {
	key, err := DecodeSecret(secret)
	if err != nil {
		return nil, err
	}
	ts := strconv.FormatInt(at.Unix(), 10)
	h := http.Header{}
	h.Set(HeaderMessageID, msgID)
	h.Set(HeaderTimestamp, ts)
	h.Set(HeaderSignature, signatureVersion+","+Sign(key, msgID, ts, payload))
	return h, nil
}

type svixVerifier struct {
	key       []byte
	tolerance func() time.Duration
	clock     clock.Clock
}

// verify checks the signature first, then the timestamp window.
func (v *svixVerifier) verify(payload []byte, headers http.Header) (string, error) {
	if len(v.key) == 0 {
		return "", domain.ErrInvalidSignature
	}
	msgID := strings.TrimSpace(headers.Get(HeaderMessageID))
	rawTS := strings.TrimSpace(headers.Get(HeaderTimestamp))
	rawSig := strings.TrimSpace(headers.Get(HeaderSignature))
	if msgID == "" || rawTS == "" || rawSig == "" {
		return "", domain.ErrInvalidSignature
	}
	ts, err := strconv.ParseInt(rawTS, 10, 64)
	if err != nil {
		return "", domain.ErrInvalidSignature
	}

	expected := []byte(Sign(v.key, msgID, rawTS, payload))
	matched := false
	for _, candidate := range strings.Fields(rawSig) {
		version, sig, ok := strings.Cut(candidate, ",")
		if !ok || version != signatureVersion {
			continue
		}
		if hmac.Equal(expected, []byte(sig)) {
			matched = true
			break
		}
	}
	if !matched {
		return "", domain.ErrInvalidSignature
	}

	tolerance := 5 * time.Minute
	if v.tolerance != nil {
		if d := v.tolerance(); d > 0 {
			tolerance = d
		}
	}
	skew := v.clock.Now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > tolerance {
		return "", domain.ErrStaleTimestamp
	}
	return msgID, nil
}
