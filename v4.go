package docsig

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const (
	signingAlgorithm = "AWS4-HMAC-SHA256"

	// Region and Service are fixed for the API this client talks to.
	Region  = "eu-west-1"
	Service = "execute-api"

	headerHost              = "host"
	headerXAmzDate          = "x-amz-date"
	headerXAPIKey           = "x-api-key"
	headerXAmzSecurityToken = "x-amz-security-token"
	headerAuthorization     = "Authorization"
	headerContentType       = "Content-Type"
	headerXRequestID        = "x-request-id"
	contentTypeJSON         = "application/json"
)

// Credentials is the signing material for one request. Token selects the
// bearer variant; when it is empty APIKey is sent instead.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	APIKey          string
	Token           string
}

func (c Credentials) keyHeader() (name, value string) {
	if c.Token != "" {
		return headerXAmzSecurityToken, c.Token
	}
	return headerXAPIKey, c.APIKey
}

func (c Credentials) validate() error {
	switch {
	case c.AccessKeyID == "":
		return newError(KindInvalidCredentials, 0, nil, errors.New("empty access key id"))
	case c.SecretAccessKey == "":
		return newError(KindInvalidCredentials, 0, nil, errors.New("empty secret access key"))
	case c.APIKey == "" && c.Token == "":
		return newError(KindInvalidCredentials, 0, nil, errors.New("empty api key and token"))
	}
	return nil
}

// CredentialSource yields the credentials used to sign a single attempt.
type CredentialSource interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// StaticCredentials is a CredentialSource that never changes.
type StaticCredentials Credentials

func (c StaticCredentials) Credentials(context.Context) (Credentials, error) {
	return Credentials(c), nil
}

// SigningInput is built fresh for every physical attempt.
type SigningInput struct {
	Method    string
	URI       string
	Body      []byte
	Timestamp time.Time
}

// SignatureResult holds every header value the signer produces.
type SignatureResult struct {
	Authorization string
	XAmzDate      string
	KeyHeader     string
	KeyValue      string
}

// Apply sets the signed headers on h, replacing any previous values.
func (r SignatureResult) Apply(h http.Header) {
	h.Set(headerXAmzDate, r.XAmzDate)
	h.Set(r.KeyHeader, r.KeyValue)
	h.Set(headerAuthorization, r.Authorization)
}

// V4 signs requests with AWS Signature Version 4 for a fixed region and
// service. The zero value is not usable; use NewV4.
type V4 struct {
	region  string
	service string
}

func NewV4() *V4 {
	return &V4{
		region:  Region,
		service: Service,
	}
}

// Sign computes the authorization headers for in. URIs carrying a query
// component are rejected with ErrSigningUnsupported instead of being
// canonicalized. Sign holds no state and is safe for concurrent use.
func (v4 *V4) Sign(in SigningInput, creds Credentials) (SignatureResult, error) {
	if err := creds.validate(); err != nil {
		return SignatureResult{}, err
	}

	u, err := url.Parse(in.URI)
	if err != nil {
		return SignatureResult{}, newError(KindSigningUnsupported, 0, nil, fmt.Errorf("parsing uri: %w", err))
	}
	if u.RawQuery != "" || u.ForceQuery {
		return SignatureResult{}, newError(KindSigningUnsupported, 0, nil, fmt.Errorf("query component %q cannot be canonicalized", u.RawQuery))
	}
	if u.Host == "" || u.Opaque != "" {
		return SignatureResult{}, newError(KindSigningUnsupported, 0, nil, fmt.Errorf("uri %q is not absolute", in.URI))
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}

	ts := in.Timestamp.UTC()
	dateTime := ts.Format(awsISO8601Format)
	keyName, keyValue := creds.keyHeader()

	data := canonicalData{
		method: in.Method,
		path:   path,
		headers: []header{
			{name: headerHost, value: u.Host},
			{name: headerXAmzDate, value: dateTime},
			{name: keyName, value: keyValue},
		},
		payloadHash: sha256Hash(in.Body),
	}

	s := scope{
		date:    ts,
		region:  v4.region,
		service: v4.service,
	}

	signature := calculateSignature(s, stringToSign(dateTime, s, data.String()), creds.SecretAccessKey)

	return SignatureResult{
		Authorization: signingAlgorithm +
			" Credential=" + creds.AccessKeyID + "/" + s.String() +
			", SignedHeaders=" + data.signedHeaders() +
			", Signature=" + signature.String(),
		XAmzDate:  dateTime,
		KeyHeader: keyName,
		KeyValue:  keyValue,
	}, nil
}
