package partflow

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	SignatureAlgorithm = "AWS4-HMAC-SHA256"
	MaxExpiresSeconds  = 604800 // 7 days
	DateTimeFormat     = "20060102T150405Z"
	DateFormat         = "20060102"
)

// AuthConfig scopes signatures to a region and service, matching the
// AWS Signature V4 credential format.
type AuthConfig struct {
	Region  string `mapstructure:"region"`
	Service string `mapstructure:"service"`
}

// SecretStore resolves an access key to its secret key.
type SecretStore interface {
	Lookup(accessKey string) (secretKey string, err error)
}

// Signer produces AWS Signature V4 presigned URLs. Every call is a pure
// function of (url, method, expiry, credential, current time); no state
// is retained between calls.
type Signer struct {
	cfg       AuthConfig
	accessKey string
	secretKey string

	// Now overrides the time source; tests inject a fake here.
	Now func() time.Time
}

// NewSigner creates a signer for one credential pair.
func NewSigner(cfg AuthConfig, accessKey, secretKey string) *Signer {
	return &Signer{cfg: cfg, accessKey: accessKey, secretKey: secretKey}
}

// Presign signs the given URL for a single HTTP method, valid for the
// given expiry. The expiry must be between 1 second and 7 days. The
// returned URL grants exactly that method on exactly that URL path and
// nothing else.
func (s *Signer) Presign(method string, rawURL string, expiry time.Duration) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("presign: parse url: %w", err)
	}

	expires := int(expiry / time.Second)
	if expires <= 0 || expires > MaxExpiresSeconds {
		return "", fmt.Errorf("presign: expiry %s outside [1s, %ds]: %w", expiry, MaxExpiresSeconds, ErrInvalidExpiry)
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	requestTime := now().UTC()
	dateStamp := requestTime.Format(DateFormat)
	credential := fmt.Sprintf("%s/%s/%s/%s/aws4_request", s.accessKey, dateStamp, s.cfg.Region, s.cfg.Service)

	query := u.Query()
	query.Set("X-Amz-Algorithm", SignatureAlgorithm)
	query.Set("X-Amz-Credential", credential)
	query.Set("X-Amz-Date", requestTime.Format(DateTimeFormat))
	query.Set("X-Amz-Expires", strconv.Itoa(expires))
	query.Set("X-Amz-SignedHeaders", "host")

	headers := http.Header{}
	headers.Set("Host", u.Host)

	signature := calculateSignature(
		s.secretKey,
		method,
		u.EscapedPath(),
		query,
		headers,
		requestTime,
		dateStamp,
		s.cfg.Region,
		s.cfg.Service,
		"host",
	)

	query.Set("X-Amz-Signature", signature)
	u.RawQuery = query.Encode()

	return u.String(), nil
}

// SignRequest presigns an outgoing HTTP request in place, for clients
// talking to a coordinator API protected by signature auth.
func (s *Signer) SignRequest(r *http.Request, expiry time.Duration) error {
	signed, err := s.Presign(r.Method, r.URL.String(), expiry)
	if err != nil {
		return err
	}
	u, err := url.Parse(signed)
	if err != nil {
		return fmt.Errorf("presign: %w", err)
	}
	r.URL = u
	return nil
}

// SignatureVerifier verifies AWS Signature V4 presigned URLs.
type SignatureVerifier struct {
	cfg  AuthConfig
	keys SecretStore

	// Now overrides the time source; tests inject a fake here.
	Now func() time.Time
}

// NewSignatureVerifier creates a verifier that resolves secret keys
// through the given store.
func NewSignatureVerifier(cfg AuthConfig, keys SecretStore) *SignatureVerifier {
	return &SignatureVerifier{cfg: cfg, keys: keys}
}

// Verify verifies an AWS Signature V4 presigned URL.
//
// It validates the presence of all required query parameters, the
// algorithm, the timestamp format, the expiry range (1 second to 7
// days), that the grant has not expired, the credential scope (date,
// region, service), that the access key resolves, and finally the
// HMAC-SHA256 signature itself.
//
// Returns the access key of the signing principal on success; an error
// wrapping ErrUnauthorized otherwise.
func (v *SignatureVerifier) Verify(method, path string, query url.Values, headers http.Header) (string, error) {
	params, err := v.extractParams(query)
	if err != nil {
		return "", err
	}

	if err := v.validateParams(params); err != nil {
		return "", err
	}

	secretKey, err := v.keys.Lookup(params.accessKey)
	if err != nil {
		return "", fmt.Errorf("invalid access key: %w", ErrUnauthorized)
	}

	expectedSignature := calculateSignature(
		secretKey,
		method,
		path,
		query,
		headers,
		params.requestTime,
		params.dateStamp,
		params.region,
		params.service,
		params.signedHeaders,
	)

	if !hmac.Equal([]byte(expectedSignature), []byte(params.signature)) {
		return "", fmt.Errorf("signature mismatch: %w", ErrUnauthorized)
	}

	return params.accessKey, nil
}

type signatureParams struct {
	algorithm     string
	accessKey     string
	dateStamp     string
	region        string
	service       string
	requestTime   time.Time
	expires       int
	signedHeaders string
	signature     string
}

func (v *SignatureVerifier) extractParams(query url.Values) (*signatureParams, error) {
	amzAlgorithm := query.Get("X-Amz-Algorithm")
	amzCredential := query.Get("X-Amz-Credential")
	amzDate := query.Get("X-Amz-Date")
	amzExpires := query.Get("X-Amz-Expires")
	amzSignedHeaders := query.Get("X-Amz-SignedHeaders")
	amzSignature := query.Get("X-Amz-Signature")

	if amzAlgorithm == "" || amzCredential == "" || amzDate == "" ||
		amzExpires == "" || amzSignedHeaders == "" || amzSignature == "" {
		return nil, fmt.Errorf("missing required signature parameters: %w", ErrUnauthorized)
	}

	requestTime, err := time.Parse(DateTimeFormat, amzDate)
	if err != nil {
		return nil, fmt.Errorf("invalid X-Amz-Date format: %w", ErrUnauthorized)
	}

	expires, err := strconv.Atoi(amzExpires)
	if err != nil || expires <= 0 || expires > MaxExpiresSeconds {
		return nil, fmt.Errorf("invalid X-Amz-Expires: must be between 1 and %d: %w", MaxExpiresSeconds, ErrUnauthorized)
	}

	credParts := strings.Split(amzCredential, "/")
	if len(credParts) != 5 {
		return nil, fmt.Errorf("invalid X-Amz-Credential format: %w", ErrUnauthorized)
	}

	if credParts[4] != "aws4_request" {
		return nil, fmt.Errorf("invalid credential terminator: expected aws4_request: %w", ErrUnauthorized)
	}

	return &signatureParams{
		algorithm:     amzAlgorithm,
		accessKey:     credParts[0],
		dateStamp:     credParts[1],
		region:        credParts[2],
		service:       credParts[3],
		requestTime:   requestTime,
		expires:       expires,
		signedHeaders: amzSignedHeaders,
		signature:     amzSignature,
	}, nil
}

func (v *SignatureVerifier) validateParams(params *signatureParams) error {
	if params.algorithm != SignatureAlgorithm {
		return fmt.Errorf("invalid algorithm: expected %s, got %s: %w", SignatureAlgorithm, params.algorithm, ErrUnauthorized)
	}

	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	if now().After(params.requestTime.Add(time.Duration(params.expires) * time.Second)) {
		return fmt.Errorf("signature expired: %w", ErrUnauthorized)
	}

	expectedDate := params.requestTime.Format(DateFormat)
	if params.dateStamp != expectedDate {
		return fmt.Errorf("credential date mismatch: %w", ErrUnauthorized)
	}

	if params.region != v.cfg.Region {
		return fmt.Errorf("region mismatch: expected %s, got %s: %w", v.cfg.Region, params.region, ErrUnauthorized)
	}

	if params.service != v.cfg.Service {
		return fmt.Errorf("service mismatch: expected %s, got %s: %w", v.cfg.Service, params.service, ErrUnauthorized)
	}

	return nil
}

func calculateSignature(
	secretKey, method, path string,
	query url.Values,
	headers http.Header,
	requestTime time.Time,
	dateStamp, region, service, signedHeaders string,
) string {
	canonicalRequest := buildCanonicalRequest(method, path, query, headers, signedHeaders)

	credentialScope := fmt.Sprintf("%s/%s/%s/aws4_request", dateStamp, region, service)
	stringToSign := buildStringToSign(requestTime, credentialScope, canonicalRequest)

	signingKey := deriveSigningKey(secretKey, dateStamp, region, service)

	signature := hmacSHA256(signingKey, []byte(stringToSign))
	return hex.EncodeToString(signature)
}

func buildCanonicalRequest(method, path string, query url.Values, headers http.Header, signedHeaders string) string {
	canonicalQuery := buildCanonicalQueryString(query)
	canonicalHeaders := buildCanonicalHeaders(headers, signedHeaders)
	payloadHash := "UNSIGNED-PAYLOAD"

	return fmt.Sprintf("%s\n%s\n%s\n%s\n%s\n%s",
		method,
		path,
		canonicalQuery,
		canonicalHeaders,
		signedHeaders,
		payloadHash,
	)
}

// buildCanonicalHeaders builds the canonical headers string from the signed headers list.
// Headers are sorted alphabetically and formatted as "name:value\n".
func buildCanonicalHeaders(headers http.Header, signedHeaders string) string {
	headerNames := strings.Split(signedHeaders, ";")
	sort.Strings(headerNames)

	var result strings.Builder
	for _, name := range headerNames {
		// Header names in signedHeaders are lowercase
		value := headers.Get(name)
		value = strings.TrimSpace(value)
		result.WriteString(name)
		result.WriteString(":")
		result.WriteString(value)
		result.WriteString("\n")
	}
	return result.String()
}

func buildCanonicalQueryString(query url.Values) string {
	params := url.Values{}
	for k, v := range query {
		if k != "X-Amz-Signature" {
			params[k] = v
		}
	}
	return params.Encode()
}

func buildStringToSign(requestTime time.Time, credentialScope, canonicalRequest string) string {
	hashedCanonicalRequest := sha256Hash(canonicalRequest)
	return fmt.Sprintf("%s\n%s\n%s\n%s",
		SignatureAlgorithm,
		requestTime.Format(DateTimeFormat),
		credentialScope,
		hashedCanonicalRequest,
	)
}

func deriveSigningKey(secretKey, dateStamp, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secretKey), []byte(dateStamp))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte(service))
	kSigning := hmacSHA256(kService, []byte("aws4_request"))
	return kSigning
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func sha256Hash(data string) string {
	h := sha256.New()
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}
