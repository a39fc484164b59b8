package partflow_test

import (
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/partflow/partflow"
	"github.com/partflow/partflow/keybackend"
)

func TestSigner_Presign(t *testing.T) {
	cfg := partflow.AuthConfig{Region: "us-east-1", Service: "s3"}

	t.Run("sets all signature parameters", func(t *testing.T) {
		signer := partflow.NewSigner(cfg, "AKIATEST", "testsecret")
		signer.Now = func() time.Time {
			return time.Date(2026, 1, 12, 7, 0, 0, 0, time.UTC)
		}

		signed, err := signer.Presign("GET", "https://localhost:5708/a.bin", time.Hour)
		require.NoError(t, err)

		u, err := url.Parse(signed)
		require.NoError(t, err)

		query := u.Query()
		assert.Equal(t, partflow.SignatureAlgorithm, query.Get("X-Amz-Algorithm"))
		assert.Equal(t, "AKIATEST/20260112/us-east-1/s3/aws4_request", query.Get("X-Amz-Credential"))
		assert.Equal(t, "20260112T070000Z", query.Get("X-Amz-Date"))
		assert.Equal(t, "3600", query.Get("X-Amz-Expires"))
		assert.Equal(t, "host", query.Get("X-Amz-SignedHeaders"))
		assert.NotEmpty(t, query.Get("X-Amz-Signature"))
	})

	t.Run("rejects expiry outside range", func(t *testing.T) {
		signer := partflow.NewSigner(cfg, "AKIATEST", "testsecret")

		for _, expiry := range []time.Duration{0, -time.Second, 8 * 24 * time.Hour} {
			_, err := signer.Presign("GET", "https://localhost:5708/a.bin", expiry)
			assert.ErrorIs(t, err, partflow.ErrInvalidExpiry, "expiry %s", expiry)
		}
	})
}

func TestSigner_Verifier_Roundtrip(t *testing.T) {
	cfg := partflow.AuthConfig{Region: "us-east-1", Service: "s3"}
	store := keybackend.NewMapSecretStore(map[string]string{
		"AKIATEST": "testsecret",
	})

	base := time.Date(2026, 1, 12, 7, 0, 0, 0, time.UTC)
	clock := base
	now := func() time.Time { return clock }

	signer := partflow.NewSigner(cfg, "AKIATEST", "testsecret")
	signer.Now = now
	verifier := partflow.NewSignatureVerifier(cfg, store)
	verifier.Now = now

	verify := func(method, signed string) (string, error) {
		u, err := url.Parse(signed)
		require.NoError(t, err)
		headers := http.Header{}
		headers.Set("Host", u.Host)
		return verifier.Verify(method, u.EscapedPath(), u.Query(), headers)
	}

	t.Run("signed URL verifies and yields the principal", func(t *testing.T) {
		clock = base
		signed, err := signer.Presign("GET", "https://localhost:5708/a.bin", time.Hour)
		require.NoError(t, err)

		principal, err := verify("GET", signed)
		require.NoError(t, err)
		assert.Equal(t, "AKIATEST", principal)
	})

	t.Run("grant covers exactly one method", func(t *testing.T) {
		clock = base
		signed, err := signer.Presign("GET", "https://localhost:5708/a.bin", time.Hour)
		require.NoError(t, err)

		_, err = verify("PUT", signed)
		assert.ErrorIs(t, err, partflow.ErrUnauthorized)
	})

	t.Run("grant covers exactly one key", func(t *testing.T) {
		clock = base
		signed, err := signer.Presign("GET", "https://localhost:5708/a.bin", time.Hour)
		require.NoError(t, err)

		u, err := url.Parse(signed)
		require.NoError(t, err)
		headers := http.Header{}
		headers.Set("Host", u.Host)

		_, err = verifier.Verify("GET", "/b.bin", u.Query(), headers)
		assert.ErrorIs(t, err, partflow.ErrUnauthorized)
	})

	t.Run("valid until expiry, invalid after", func(t *testing.T) {
		clock = base
		signed, err := signer.Presign("GET", "https://localhost:5708/a.bin", time.Hour)
		require.NoError(t, err)

		clock = base.Add(time.Hour) // exactly at expiry
		_, err = verify("GET", signed)
		assert.NoError(t, err)

		clock = base.Add(time.Hour + time.Second)
		_, err = verify("GET", signed)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "signature expired")
	})

	t.Run("tampered signature is rejected", func(t *testing.T) {
		clock = base
		signed, err := signer.Presign("GET", "https://localhost:5708/a.bin", time.Hour)
		require.NoError(t, err)

		u, err := url.Parse(signed)
		require.NoError(t, err)
		query := u.Query()
		query.Set("X-Amz-Signature", "deadbeef"+query.Get("X-Amz-Signature")[8:])
		u.RawQuery = query.Encode()

		_, err = verify("GET", u.String())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "signature mismatch")
	})
}

func TestSignatureVerifier_Verify(t *testing.T) {
	store := keybackend.NewMapSecretStore(map[string]string{
		"AKIATEST": "testsecret",
	})

	verifier := partflow.NewSignatureVerifier(partflow.AuthConfig{Region: "us-east-1", Service: "s3"}, store)

	validTime := time.Now().UTC().Add(-30 * time.Minute)
	validDateStamp := validTime.Format(partflow.DateFormat)
	validAmzDate := validTime.Format(partflow.DateTimeFormat)

	oldTime := time.Now().Add(-2 * time.Hour)
	oldDateStamp := oldTime.Format(partflow.DateFormat)
	oldAmzDate := oldTime.Format(partflow.DateTimeFormat)

	tests := []struct {
		name      string
		query     url.Values
		wantError string
	}{
		{
			name:      "empty query",
			query:     url.Values{},
			wantError: "missing required signature parameters",
		},
		{
			name: "missing algorithm",
			query: url.Values{
				"X-Amz-Credential":    []string{"AKIATEST/20260112/us-east-1/s3/aws4_request"},
				"X-Amz-Date":          []string{"20260112T070000Z"},
				"X-Amz-Expires":       []string{"3600"},
				"X-Amz-SignedHeaders": []string{"host"},
				"X-Amz-Signature":     []string{"abc123"},
			},
			wantError: "missing required signature parameters",
		},
		{
			name: "invalid algorithm",
			query: url.Values{
				"X-Amz-Algorithm":     []string{"AWS4-HMAC-SHA1"},
				"X-Amz-Credential":    []string{"AKIATEST/20260112/us-east-1/s3/aws4_request"},
				"X-Amz-Date":          []string{"20260112T070000Z"},
				"X-Amz-Expires":       []string{"3600"},
				"X-Amz-SignedHeaders": []string{"host"},
				"X-Amz-Signature":     []string{"abc123"},
			},
			wantError: "invalid algorithm",
		},
		{
			name: "invalid date format",
			query: url.Values{
				"X-Amz-Algorithm":     []string{"AWS4-HMAC-SHA256"},
				"X-Amz-Credential":    []string{"AKIATEST/20260112/us-east-1/s3/aws4_request"},
				"X-Amz-Date":          []string{"invalid-date"},
				"X-Amz-Expires":       []string{"3600"},
				"X-Amz-SignedHeaders": []string{"host"},
				"X-Amz-Signature":     []string{"abc123"},
			},
			wantError: "invalid X-Amz-Date format",
		},
		{
			name: "expires zero",
			query: url.Values{
				"X-Amz-Algorithm":     []string{"AWS4-HMAC-SHA256"},
				"X-Amz-Credential":    []string{"AKIATEST/20260112/us-east-1/s3/aws4_request"},
				"X-Amz-Date":          []string{"20260112T070000Z"},
				"X-Amz-Expires":       []string{"0"},
				"X-Amz-SignedHeaders": []string{"host"},
				"X-Amz-Signature":     []string{"abc123"},
			},
			wantError: "invalid X-Amz-Expires",
		},
		{
			name: "expires too large",
			query: url.Values{
				"X-Amz-Algorithm":     []string{"AWS4-HMAC-SHA256"},
				"X-Amz-Credential":    []string{"AKIATEST/20260112/us-east-1/s3/aws4_request"},
				"X-Amz-Date":          []string{"20260112T070000Z"},
				"X-Amz-Expires":       []string{"604801"},
				"X-Amz-SignedHeaders": []string{"host"},
				"X-Amz-Signature":     []string{"abc123"},
			},
			wantError: "invalid X-Amz-Expires",
		},
		{
			name: "expired signature",
			query: url.Values{
				"X-Amz-Algorithm":     []string{"AWS4-HMAC-SHA256"},
				"X-Amz-Credential":    []string{fmt.Sprintf("AKIATEST/%s/us-east-1/s3/aws4_request", oldDateStamp)},
				"X-Amz-Date":          []string{oldAmzDate},
				"X-Amz-Expires":       []string{"3600"},
				"X-Amz-SignedHeaders": []string{"host"},
				"X-Amz-Signature":     []string{"abc123"},
			},
			wantError: "signature expired",
		},
		{
			name: "invalid credential format",
			query: url.Values{
				"X-Amz-Algorithm":     []string{"AWS4-HMAC-SHA256"},
				"X-Amz-Credential":    []string{"AKIATEST/invalid"},
				"X-Amz-Date":          []string{validAmzDate},
				"X-Amz-Expires":       []string{"3600"},
				"X-Amz-SignedHeaders": []string{"host"},
				"X-Amz-Signature":     []string{"abc123"},
			},
			wantError: "invalid X-Amz-Credential format",
		},
		{
			name: "invalid access key",
			query: url.Values{
				"X-Amz-Algorithm":     []string{"AWS4-HMAC-SHA256"},
				"X-Amz-Credential":    []string{fmt.Sprintf("WRONGKEY/%s/us-east-1/s3/aws4_request", validDateStamp)},
				"X-Amz-Date":          []string{validAmzDate},
				"X-Amz-Expires":       []string{"3600"},
				"X-Amz-SignedHeaders": []string{"host"},
				"X-Amz-Signature":     []string{"abc123"},
			},
			wantError: "invalid access key",
		},
		{
			name: "region mismatch",
			query: url.Values{
				"X-Amz-Algorithm":     []string{"AWS4-HMAC-SHA256"},
				"X-Amz-Credential":    []string{fmt.Sprintf("AKIATEST/%s/us-west-2/s3/aws4_request", validDateStamp)},
				"X-Amz-Date":          []string{validAmzDate},
				"X-Amz-Expires":       []string{"3600"},
				"X-Amz-SignedHeaders": []string{"host"},
				"X-Amz-Signature":     []string{"abc123"},
			},
			wantError: "region mismatch",
		},
		{
			name: "service mismatch",
			query: url.Values{
				"X-Amz-Algorithm":     []string{"AWS4-HMAC-SHA256"},
				"X-Amz-Credential":    []string{fmt.Sprintf("AKIATEST/%s/us-east-1/ec2/aws4_request", validDateStamp)},
				"X-Amz-Date":          []string{validAmzDate},
				"X-Amz-Expires":       []string{"3600"},
				"X-Amz-SignedHeaders": []string{"host"},
				"X-Amz-Signature":     []string{"abc123"},
			},
			wantError: "service mismatch",
		},
		{
			name: "invalid terminator",
			query: url.Values{
				"X-Amz-Algorithm":     []string{"AWS4-HMAC-SHA256"},
				"X-Amz-Credential":    []string{fmt.Sprintf("AKIATEST/%s/us-east-1/s3/wrong", validDateStamp)},
				"X-Amz-Date":          []string{validAmzDate},
				"X-Amz-Expires":       []string{"3600"},
				"X-Amz-SignedHeaders": []string{"host"},
				"X-Amz-Signature":     []string{"abc123"},
			},
			wantError: "invalid credential terminator",
		},
		{
			name: "credential date mismatch",
			query: url.Values{
				"X-Amz-Algorithm":     []string{"AWS4-HMAC-SHA256"},
				"X-Amz-Credential":    []string{"AKIATEST/20260101/us-east-1/s3/aws4_request"},
				"X-Amz-Date":          []string{validAmzDate},
				"X-Amz-Expires":       []string{"3600"},
				"X-Amz-SignedHeaders": []string{"host"},
				"X-Amz-Signature":     []string{"abc123"},
			},
			wantError: "credential date mismatch",
		},
		{
			name: "signature mismatch",
			query: url.Values{
				"X-Amz-Algorithm":     []string{"AWS4-HMAC-SHA256"},
				"X-Amz-Credential":    []string{fmt.Sprintf("AKIATEST/%s/us-east-1/s3/aws4_request", validDateStamp)},
				"X-Amz-Date":          []string{validAmzDate},
				"X-Amz-Expires":       []string{"3600"},
				"X-Amz-SignedHeaders": []string{"host"},
				"X-Amz-Signature":     []string{"wrongsignature123"},
			},
			wantError: "signature mismatch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := http.Header{}
			headers.Set("Host", "localhost:5708")

			_, err := verifier.Verify("GET", "/a.bin", tt.query, headers)

			assert.Error(t, err)
			assert.ErrorIs(t, err, partflow.ErrUnauthorized)
			assert.Contains(t, err.Error(), tt.wantError)
		})
	}
}
