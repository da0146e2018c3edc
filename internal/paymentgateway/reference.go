package paymentgateway

import (
	"crypto/rand"
	"math/big"
	"strconv"
	"sync"
	"time"
)

// GatewayTimestampLayout is the only date format the gateway accepts. It
// carries no zone designator and is always rendered in local time.
const GatewayTimestampLayout = "2006-01-02 15:04:05"

const (
	referenceSuffixLen = 6
	referenceAlphabet  = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// ReferenceGenerator issues merchant reference numbers: a strictly
// increasing millisecond clock followed by a random base36 suffix. When
// several numbers are requested within one millisecond the clock is pushed
// forward, so numbers from one generator never repeat.
type ReferenceGenerator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

func NewReferenceGenerator(now func() time.Time) *ReferenceGenerator {
	if now == nil {
		now = time.Now
	}
	return &ReferenceGenerator{now: now}
}

func (g *ReferenceGenerator) Next() string {
	g.mu.Lock()
	ms := g.now().UnixMilli()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	g.mu.Unlock()

	return strconv.FormatInt(ms, 10) + randomSuffix(referenceSuffixLen)
}

var defaultReferences = NewReferenceGenerator(nil)

// GenerateReferenceNumber returns a new custRefNum from the process-wide
// generator.
func GenerateReferenceNumber() string {
	return defaultReferences.Next()
}

func randomSuffix(n int) string {
	max := big.NewInt(int64(len(referenceAlphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the OS entropy source is gone
			panic("paymentgateway: reading random suffix: " + err.Error())
		}
		out[i] = referenceAlphabet[idx.Int64()]
	}
	return string(out)
}

// FormatGatewayTimestamp renders t as YYYY-MM-DD HH:MM:SS in local time.
func FormatGatewayTimestamp(t time.Time) string {
	return t.In(time.Local).Format(GatewayTimestampLayout)
}

// ParseGatewayTimestamp reads a gateway date. The gateway format is tried
// first; RFC 3339 is accepted for callbacks that send ISO dates.
func ParseGatewayTimestamp(s string) (time.Time, error) {
	t, err := time.ParseInLocation(GatewayTimestampLayout, s, time.Local)
	if err == nil {
		return t, nil
	}
	if iso, isoErr := time.Parse(time.RFC3339, s); isoErr == nil {
		return iso, nil
	}
	return time.Time{}, err
}
