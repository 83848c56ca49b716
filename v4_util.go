package docsig

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

const (
	awsISO8601Format = "20060102T150405Z"
	awsDateFormat    = "20060102"
)

type signatureV4 []byte

func (s signatureV4) String() string {
	return hex.EncodeToString(s)
}

func sha256Hash(data []byte) []byte {
	h := sha256.New()
	h.Write(data)
	return h.Sum(nil)
}

func hmacSHA256(key []byte, s string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(s))
	return h.Sum(nil)
}

// HMACSHA256Hex returns the lowercase hex HMAC-SHA256 of msg keyed with key.
func HMACSHA256Hex(key, msg string) string {
	return hex.EncodeToString(hmacSHA256([]byte(key), msg))
}

func signingKeyHMACSHA256(key, date, region, service string) []byte {
	dateKey := hmacSHA256([]byte("AWS4"+key), date)
	dateRegionKey := hmacSHA256(dateKey, region)
	dateRegionServiceKey := hmacSHA256(dateRegionKey, service)
	return hmacSHA256(dateRegionServiceKey, "aws4_request")
}

type scope struct {
	date    time.Time
	region  string
	service string
}

func (s scope) String() string {
	return s.date.Format(awsDateFormat) + "/" + s.region + "/" + s.service + "/aws4_request"
}

type header struct {
	name, value string
}

type canonicalData struct {
	method      string
	path        string
	headers     []header
	payloadHash []byte
}

func (d canonicalData) signedHeaders() string {
	names := make([]string, 0, len(d.headers))
	for _, h := range d.headers {
		names = append(names, h.name)
	}
	return strings.Join(names, ";")
}

func (d canonicalData) String() string {
	b := new(strings.Builder)

	b.WriteString(d.method)
	b.WriteByte('\n')
	b.WriteString(d.path)
	b.WriteByte('\n')
	// query component is always empty
	b.WriteByte('\n')
	for _, h := range d.headers {
		b.WriteString(h.name)
		b.WriteByte(':')
		b.WriteString(h.value)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.WriteString(d.signedHeaders())
	b.WriteByte('\n')
	hex.NewEncoder(b).Write(d.payloadHash)

	return b.String()
}

func stringToSign(dateTime string, s scope, canonical string) string {
	b := new(strings.Builder)

	b.WriteString(signingAlgorithm)
	b.WriteByte('\n')
	b.WriteString(dateTime)
	b.WriteByte('\n')
	b.WriteString(s.String())
	b.WriteByte('\n')
	hex.NewEncoder(b).Write(sha256Hash([]byte(canonical)))

	return b.String()
}

func calculateSignature(s scope, toSign, secretAccessKey string) signatureV4 {
	key := signingKeyHMACSHA256(secretAccessKey, s.date.Format(awsDateFormat), s.region, s.service)
	return signatureV4(hmacSHA256(key, toSign))
}
