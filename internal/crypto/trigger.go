package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"
)

// Headers set on signed scheduler triggers.
const (
	HeaderTimestamp = "X-Seer-Timestamp"
	HeaderSignature = "X-Seer-Signature"
)

// TriggerSigner signs outgoing scheduler requests with HMAC-SHA256 over
// timestamp, method, path and body, so the receiving function can reject
// calls that did not come from the scheduler.
type TriggerSigner struct {
	secret []byte
	now    func() time.Time
}

// NewTriggerSigner returns a signer for secret. A nil signer signs nothing.
func NewTriggerSigner(secret string) *TriggerSigner {
	if secret == "" {
		return nil
	}
	return &TriggerSigner{secret: []byte(secret), now: time.Now}
}

// Sign sets the timestamp and signature headers on req.
func (s *TriggerSigner) Sign(req *http.Request, body []byte) {
	if s == nil {
		return
	}
	ts := strconv.FormatInt(s.now().Unix(), 10)
	req.Header.Set(HeaderTimestamp, ts)
	req.Header.Set(HeaderSignature, s.signature(ts, req.Method, req.URL.Path, body))
}

// Verify checks the headers on req against body, rejecting timestamps older
// than maxAge.
func (s *TriggerSigner) Verify(req *http.Request, body []byte, maxAge time.Duration) bool {
	if s == nil {
		return false
	}
	ts := req.Header.Get(HeaderTimestamp)
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	if age := s.now().Sub(time.Unix(sec, 0)); age > maxAge || age < -maxAge {
		return false
	}
	want := s.signature(ts, req.Method, req.URL.Path, body)
	return hmac.Equal([]byte(want), []byte(req.Header.Get(HeaderSignature)))
}

func (s *TriggerSigner) signature(ts, method, path string, body []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(ts))
	mac.Write([]byte(method))
	mac.Write([]byte(path))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
