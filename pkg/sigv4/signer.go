package sigv4

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
)

const (
	// Algorithm is the signing algorithm identifier embedded in the URL.
	Algorithm = "AWS4-HMAC-SHA256"
	// RequestType terminates every credential scope.
	RequestType = "aws4_request"
	// DefaultService is the service name used by the IoT device gateway.
	DefaultService = "iotdevicegateway"
	// DefaultPath is the WebSocket path of the MQTT endpoint.
	DefaultPath = "/mqtt"

	dateFormat      = "20060102"
	timestampFormat = "20060102T150405Z"

	// hex(sha256("")), the payload hash of a GET without body
	emptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
)

// ErrMissingCredentials is returned when the access key or secret is empty.
var ErrMissingCredentials = errors.New("sigv4: access key id and secret access key are required")

// Presigner builds signed WebSocket URLs for a fixed endpoint/region/service tuple.
type Presigner struct {
	Host    string
	Region  string
	Service string
	Path    string
}

// NewPresigner returns a Presigner for the given endpoint host and region using
// the IoT device gateway service name and the /mqtt path.
func NewPresigner(host, region string) *Presigner {
	return &Presigner{
		Host:    host,
		Region:  region,
		Service: DefaultService,
		Path:    DefaultPath,
	}
}

// PresignURL returns the signed wss:// URL for creds at time t.
// The session token, when present, is appended after the signature and is not
// part of the signed query.
func (p *Presigner) PresignURL(creds aws.Credentials, t time.Time) (string, error) {
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return "", ErrMissingCredentials
	}

	t = t.UTC()
	date := t.Format(dateFormat)
	timestamp := t.Format(timestampFormat)
	scope := CredentialScope(date, p.Region, p.service())

	query := map[string]string{
		"X-Amz-Algorithm":     Algorithm,
		"X-Amz-Credential":    creds.AccessKeyID + "/" + scope,
		"X-Amz-Date":          timestamp,
		"X-Amz-SignedHeaders": "host",
	}
	canonicalQuery := CanonicalQueryString(query)

	canonicalRequest := strings.Join([]string{
		"GET",
		p.path(),
		canonicalQuery,
		"host:" + p.Host + "\n",
		"host",
		emptyPayloadHash,
	}, "\n")

	stringToSign := StringToSign(timestamp, scope, HashCanonicalRequest(canonicalRequest))
	key := DeriveSigningKey(creds.SecretAccessKey, date, p.Region, p.service())
	signature := Sign(key, stringToSign)

	var b strings.Builder
	b.WriteString("wss://")
	b.WriteString(p.Host)
	b.WriteString(p.path())
	b.WriteString("?")
	b.WriteString(canonicalQuery)
	b.WriteString("&X-Amz-Signature=")
	b.WriteString(signature)
	if creds.SessionToken != "" {
		b.WriteString("&X-Amz-Security-Token=")
		b.WriteString(Escape(creds.SessionToken))
	}
	return b.String(), nil
}

func (p *Presigner) service() string {
	if p.Service == "" {
		return DefaultService
	}
	return p.Service
}

func (p *Presigner) path() string {
	if p.Path == "" {
		return DefaultPath
	}
	return p.Path
}

// CredentialScope returns date/region/service/aws4_request.
func CredentialScope(date, region, service string) string {
	return date + "/" + region + "/" + service + "/" + RequestType
}

// HashCanonicalRequest returns the lowercase hex SHA-256 of the canonical request.
func HashCanonicalRequest(canonicalRequest string) string {
	sum := sha256.Sum256([]byte(canonicalRequest))
	return hex.EncodeToString(sum[:])
}

// StringToSign joins the algorithm, timestamp, scope and hashed canonical request.
func StringToSign(timestamp, scope, hashedCanonicalRequest string) string {
	return strings.Join([]string{
		Algorithm,
		timestamp,
		scope,
		hashedCanonicalRequest,
	}, "\n")
}

// Sign returns the hex HMAC of stringToSign under the derived signing key.
func Sign(signingKey []byte, stringToSign string) string {
	return hex.EncodeToString(hmacSHA256(signingKey, stringToSign))
}

// DeriveSigningKey runs the four chained HMAC steps seeded from the secret key.
func DeriveSigningKey(secret, date, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), date)
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, service)
	return hmacSHA256(kService, RequestType)
}

// CanonicalQueryString encodes and sorts params by key.
func CanonicalQueryString(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, Escape(k)+"="+Escape(params[k]))
	}
	return strings.Join(pairs, "&")
}

// Escape percent-encodes everything outside the RFC 3986 unreserved set.
func Escape(s string) string {
	const hexDigits = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0F])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9':
		return true
	case c == '-', c == '_', c == '.', c == '~':
		return true
	}
	return false
}

func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}
