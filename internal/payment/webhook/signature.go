package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var errSignatureHeader = errors.New("invalid signature header")

// SignatureHeader is the parsed form of `t=<unix>,v1=<hex>[,v1=<hex>...]`.
type SignatureHeader struct {
	Timestamp  time.Time
	rawTime    string
	Signatures []string
}

func ParseSignatureHeader(header string) (SignatureHeader, error) {
	var parsed SignatureHeader
	for _, part := range strings.Split(header, ",") {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		key, value, ok := strings.Cut(piece, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		switch key {
		case "t":
			parsed.rawTime = value
		case "v1":
			if value != "" {
				parsed.Signatures = append(parsed.Signatures, value)
			}
		}
	}
	if parsed.rawTime == "" || len(parsed.Signatures) == 0 {
		return SignatureHeader{}, errSignatureHeader
	}
	unix, err := strconv.ParseInt(parsed.rawTime, 10, 64)
	if err != nil {
		return SignatureHeader{}, errSignatureHeader
	}
	parsed.Timestamp = time.Unix(unix, 0).UTC()
	return parsed, nil
}

// ComputeSignature returns the hex HMAC-SHA256 of "<timestamp>.<payload>".
func ComputeSignature(secret []byte, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignPayload builds a signature header for payload, as the processor would.
func SignPayload(secret string, payload []byte, at time.Time) string {
	timestamp := strconv.FormatInt(at.Unix(), 10)
	return fmt.Sprintf("t=%s,v1=%s", timestamp, ComputeSignature([]byte(secret), timestamp, payload))
}

func (h SignatureHeader) matches(secret []byte, payload []byte) bool {
	expected := []byte(ComputeSignature(secret, h.rawTime, payload))
	for _, candidate := range h.Signatures {
		if hmac.Equal([]byte(strings.ToLower(candidate)), expected) {
			return true
		}
	}
	return false
}
