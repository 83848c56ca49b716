package docsig

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsv4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/zeebo/assert"
)

const (
	testAccessKeyID     = "AKIDEXAMPLE"
	testSecretAccessKey = "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY"
	testAPIKey          = "apikey123"
)

func testCredentials() Credentials {
	return Credentials{
		AccessKeyID:     testAccessKeyID,
		SecretAccessKey: testSecretAccessKey,
		APIKey:          testAPIKey,
	}
}

func TestV4Sign(t *testing.T) {
	v4 := NewV4()
	ts := dummyNow(2024, time.January, 2, 3, 4, 5)()

	t.Run("POST with body", func(t *testing.T) {
		r, err := v4.Sign(SigningInput{
			Method:    http.MethodPost,
			URI:       "https://api.example.com/documents",
			Body:      []byte(`{"consentId":"abc"}`),
			Timestamp: ts,
		}, testCredentials())
		assert.NoError(t, err)

		assert.Equal(t, "20240102T030405Z", r.XAmzDate)
		assert.Equal(t, "x-api-key", r.KeyHeader)
		assert.Equal(t, testAPIKey, r.KeyValue)
		assert.Equal(t, "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/20240102/eu-west-1/execute-api/aws4_request, "+
			"SignedHeaders=host;x-amz-date;x-api-key, "+
			"Signature=e2c92cd3eb83ee587a04bab07e6dd4c362e4738846ec31e71e2439058c2f615e", r.Authorization)
	})
	t.Run("GET without body", func(t *testing.T) {
		r, err := v4.Sign(SigningInput{
			Method:    http.MethodGet,
			URI:       "https://api.example.com/models",
			Timestamp: ts,
		}, testCredentials())
		assert.NoError(t, err)

		assert.That(t, strings.HasSuffix(r.Authorization, "Signature=d3fb921c4d8d4d8d1c079f0b83df2123e80d1af742413a26a94df2c053b4029e"))
	})
	t.Run("bearer token", func(t *testing.T) {
		creds := testCredentials()
		creds.APIKey = ""
		creds.Token = "tok-1"

		r, err := v4.Sign(SigningInput{
			Method:    http.MethodGet,
			URI:       "https://api.example.com/models",
			Timestamp: ts,
		}, creds)
		assert.NoError(t, err)

		assert.Equal(t, "x-amz-security-token", r.KeyHeader)
		assert.Equal(t, "tok-1", r.KeyValue)
		assert.Equal(t, "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/20240102/eu-west-1/execute-api/aws4_request, "+
			"SignedHeaders=host;x-amz-date;x-amz-security-token, "+
			"Signature=5d6ef9511b8ca0d68e1498d2e318181b12d605d8a00e11bc4b100f329b4fa617", r.Authorization)
	})
	t.Run("non-UTC timestamp", func(t *testing.T) {
		cet := time.FixedZone("CET", 3600)

		a, err := v4.Sign(SigningInput{Method: http.MethodGet, URI: "https://api.example.com/models", Timestamp: ts}, testCredentials())
		assert.NoError(t, err)
		b, err := v4.Sign(SigningInput{Method: http.MethodGet, URI: "https://api.example.com/models", Timestamp: ts.In(cet)}, testCredentials())
		assert.NoError(t, err)

		assert.Equal(t, a, b)
	})
	t.Run("empty path", func(t *testing.T) {
		a, err := v4.Sign(SigningInput{Method: http.MethodGet, URI: "https://api.example.com", Timestamp: ts}, testCredentials())
		assert.NoError(t, err)
		b, err := v4.Sign(SigningInput{Method: http.MethodGet, URI: "https://api.example.com/", Timestamp: ts}, testCredentials())
		assert.NoError(t, err)

		assert.Equal(t, a, b)
	})
}

func TestV4SignDeterminism(t *testing.T) {
	v4 := NewV4()
	in := SigningInput{
		Method:    http.MethodPost,
		URI:       "https://api.example.com:8443/documents/abc",
		Body:      []byte(`{"content":"aGVsbG8="}`),
		Timestamp: time.Date(2024, time.March, 4, 5, 6, 7, 0, time.UTC),
	}

	first, err := v4.Sign(in, testCredentials())
	assert.NoError(t, err)

	t.Run("same second", func(t *testing.T) {
		in := in
		in.Timestamp = in.Timestamp.Add(999 * time.Millisecond)

		second, err := v4.Sign(in, testCredentials())
		assert.NoError(t, err)
		assert.Equal(t, first.Authorization, second.Authorization)
	})
	t.Run("one byte of body", func(t *testing.T) {
		for i := range in.Body {
			in := in
			in.Body = []byte(string(in.Body))
			in.Body[i] ^= 0x01

			other, err := v4.Sign(in, testCredentials())
			assert.NoError(t, err)
			assert.That(t, signatureOf(first.Authorization) != signatureOf(other.Authorization))
		}
	})
	t.Run("next second", func(t *testing.T) {
		in := in
		in.Timestamp = in.Timestamp.Add(time.Second)

		other, err := v4.Sign(in, testCredentials())
		assert.NoError(t, err)
		assert.That(t, first.Authorization != other.Authorization)
	})
	t.Run("host port is signed", func(t *testing.T) {
		in := in
		in.URI = "https://api.example.com/documents/abc"

		other, err := v4.Sign(in, testCredentials())
		assert.NoError(t, err)
		assert.That(t, first.Authorization != other.Authorization)
	})
}

func TestV4SignUnsupported(t *testing.T) {
	v4 := NewV4()
	now := time.Now()

	for _, uri := range []string{
		"https://api.example.com/documents?limit=10",
		"https://api.example.com/documents?a",
		"https://api.example.com/documents?",
		"/documents",
		"https://api.example.com/%zz",
	} {
		_, err := v4.Sign(SigningInput{Method: http.MethodGet, URI: uri, Timestamp: now}, testCredentials())
		assert.Error(t, err)
		assert.That(t, errors.Is(err, ErrSigningUnsupported))
	}
}

func TestV4SignInvalidCredentials(t *testing.T) {
	v4 := NewV4()
	in := SigningInput{Method: http.MethodGet, URI: "https://api.example.com/models?x=1", Timestamp: time.Now()}

	for name, mutate := range map[string]func(c *Credentials){
		"access key id":     func(c *Credentials) { c.AccessKeyID = "" },
		"secret access key": func(c *Credentials) { c.SecretAccessKey = "" },
		"api key":           func(c *Credentials) { c.APIKey = "" },
	} {
		t.Run(name, func(t *testing.T) {
			creds := testCredentials()
			mutate(&creds)

			_, err := v4.Sign(in, creds)
			assert.That(t, errors.Is(err, ErrInvalidCredentials))
			// credentials are checked before the uri is looked at
			assert.That(t, !errors.Is(err, ErrSigningUnsupported))
		})
	}
}

func TestV4SignMatchesAWSSDK(t *testing.T) {
	ts := dummyNow(2024, time.January, 2, 3, 4, 5)()

	req, err := http.NewRequest(http.MethodGet, "https://api.example.com/models", nil)
	assert.NoError(t, err)
	req.Header.Set(headerXAPIKey, testAPIKey)

	err = awsv4.NewSigner().SignHTTP(context.Background(), aws.Credentials{
		AccessKeyID:     testAccessKeyID,
		SecretAccessKey: testSecretAccessKey,
	}, req, hex.EncodeToString(sha256Hash(nil)), Service, Region, ts)
	assert.NoError(t, err)

	r, err := NewV4().Sign(SigningInput{
		Method:    http.MethodGet,
		URI:       "https://api.example.com/models",
		Timestamp: ts,
	}, testCredentials())
	assert.NoError(t, err)

	assert.Equal(t, req.Header.Get("X-Amz-Date"), r.XAmzDate)
	assert.Equal(t, req.Header.Get("Authorization"), r.Authorization)
}

func TestSignatureResultApply(t *testing.T) {
	h := make(http.Header)
	h.Set("Authorization", "stale")

	SignatureResult{
		Authorization: "AWS4-HMAC-SHA256 ...",
		XAmzDate:      "20240102T030405Z",
		KeyHeader:     "x-api-key",
		KeyValue:      testAPIKey,
	}.Apply(h)

	assert.Equal(t, "AWS4-HMAC-SHA256 ...", h.Get("Authorization"))
	assert.Equal(t, "20240102T030405Z", h.Get("X-Amz-Date"))
	assert.Equal(t, testAPIKey, h.Get("X-Api-Key"))
	assert.Equal(t, 1, len(h.Values("Authorization")))
}

func signatureOf(authorization string) string {
	_, sig, _ := strings.Cut(authorization, "Signature=")
	return sig
}

func dummyNow(year int, month time.Month, day, hour, min, sec int) func() time.Time {
	return func() time.Time {
		return time.Date(year, month, day, hour, min, sec, 0, time.UTC)
	}
}
