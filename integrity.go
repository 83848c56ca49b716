package docsig

import (
	"crypto/sha256"
	"encoding/base64"
	"hash"
	"strconv"

	"github.com/minio/crc64nvme"
)

type checksumAlgorithm int

const (
	algorithmCRC64NVME checksumAlgorithm = iota
	algorithmSHA256
)

func (a checksumAlgorithm) String() string {
	switch a {
	case algorithmCRC64NVME:
		return "crc64nvme"
	case algorithmSHA256:
		return "sha256"
	default:
		return strconv.Itoa(int(a))
	}
}

func (a checksumAlgorithm) new() hash.Hash {
	switch a {
	case algorithmCRC64NVME:
		return crc64nvme.New()
	default:
		return sha256.New()
	}
}

// payloadChecksums fingerprints a request body so that attempts of the same
// logical call can be correlated in logs without logging the body.
type payloadChecksums map[checksumAlgorithm][]byte

func newPayloadChecksums(body []byte, algorithms ...checksumAlgorithm) payloadChecksums {
	sums := make(payloadChecksums, len(algorithms))
	for _, a := range algorithms {
		h := a.new()
		h.Write(body)
		sums[a] = h.Sum(nil)
	}
	return sums
}

func (p payloadChecksums) encoded(a checksumAlgorithm) string {
	sum, ok := p[a]
	if !ok {
		return ""
	}
	return base64.StdEncoding.EncodeToString(sum)
}
