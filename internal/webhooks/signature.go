package webhooks

import (
    "crypto/hmac"
    "crypto/sha256"
    "encoding/hex"
    "errors"
    "strconv"
    "strings"
    "time"
)

// SignatureHeader carries "t=<unix seconds>,v1=<hex hmac>" on every delivery.
const SignatureHeader = "X-Signature"

var (
    ErrMalformedSignature = errors.New("malformed signature header")
    ErrSignatureMismatch  = errors.New("signature mismatch")
    ErrSignatureExpired   = errors.New("signature timestamp outside tolerance")
)

func mac(secret string, ts int64, body []byte) []byte {
    h := hmac.New(sha256.New, []byte(secret))
    h.Write([]byte(strconv.FormatInt(ts, 10)))
    h.Write([]byte{'.'})
    h.Write(body)
    return h.Sum(nil)
}

// Sign returns the header value for body signed at ts.
func Sign(secret string, body []byte, ts time.Time) string {
    unix := ts.Unix()
    return "t=" + strconv.FormatInt(unix, 10) + ",v1=" + hex.EncodeToString(mac(secret, unix, body))
}

// Verify checks header against body. A zero tolerance skips the timestamp check.
func Verify(secret string, body []byte, header string, now time.Time, tolerance time.Duration) error {
    var ts int64
    var sig []byte
    for _, part := range strings.Split(header, ",") {
        k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
        if !ok { return ErrMalformedSignature }
        switch k {
        case "t":
            n, err := strconv.ParseInt(v, 10, 64)
            if err != nil { return ErrMalformedSignature }
            ts = n
        case "v1":
            b, err := hex.DecodeString(v)
            if err != nil { return ErrMalformedSignature }
            sig = b
        }
    }
    if ts == 0 || sig == nil { return ErrMalformedSignature }
    if !hmac.Equal(mac(secret, ts, body), sig) { return ErrSignatureMismatch }
    if tolerance > 0 {
        d := now.Sub(time.Unix(ts, 0))
        if d < 0 { d = -d }
        if d > tolerance { return ErrSignatureExpired }
    }
    return nil
}
