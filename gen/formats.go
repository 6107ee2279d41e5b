package gen

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/itchyny/timefmt-go"
)

// formatEpoch anchors temporal format generation so streams stay
// reproducible across runs.
var formatEpoch = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

// formatSample produces a string conforming to a named format. Unknown
// formats fall back to a plain word: they constrain nothing we can check.
func formatSample(rng *rand.Rand, format string) string {
	switch format {
	case "uuid":
		var b [16]byte
		for i := range b {
			b[i] = byte(rng.IntN(256))
		}
		id, err := uuid.FromBytes(b[:])
		if err != nil {
			return uuid.Nil.String()
		}
		// Stamp version/variant bits so the value is a valid v4 UUID.
		id[6] = (id[6] & 0x0f) | 0x40
		id[8] = (id[8] & 0x3f) | 0x80
		return id.String()
	case "date":
		return timefmt.Format(randomInstant(rng), "%Y-%m-%d")
	case "date-time":
		return timefmt.Format(randomInstant(rng), "%Y-%m-%dT%H:%M:%SZ")
	case "time":
		return timefmt.Format(randomInstant(rng), "%H:%M:%SZ")
	case "duration":
		return fmt.Sprintf("P%dDT%dH", rng.IntN(30), rng.IntN(24))
	case "email", "idn-email":
		return randomWord(rng, 5) + "@" + randomWord(rng, 5) + ".example"
	case "hostname", "idn-hostname":
		return randomWord(rng, 6) + ".example.com"
	case "ipv4":
		return fmt.Sprintf("%d.%d.%d.%d", 1+rng.IntN(223), rng.IntN(256), rng.IntN(256), 1+rng.IntN(254))
	case "ipv6":
		return fmt.Sprintf("2001:db8::%x:%x", rng.IntN(0xffff), rng.IntN(0xffff))
	case "uri", "url":
		return "https://" + randomWord(rng, 6) + ".example.com/" + randomWord(rng, 4)
	case "uri-reference":
		return "/" + randomWord(rng, 4) + "/" + randomWord(rng, 4)
	case "byte":
		return "aGVsbG8=" // any base64 text is conformant
	case "binary":
		return randomWord(rng, 8)
	case "password":
		return randomWord(rng, 12)
	case "int32":
		return fmt.Sprint(rng.Int32())
	case "int64":
		return fmt.Sprint(rng.Int64())
	default:
		return randomWord(rng, 8)
	}
}

func randomInstant(rng *rand.Rand) time.Time {
	return formatEpoch.Add(time.Duration(rng.Int64N(int64(time.Hour) * 24 * 365 * 10)))
}

// violatesFormat reports whether a string value genuinely fails the named
// format per the strfmt registry. Formats the registry does not know cannot
// be violated on purpose.
func violatesFormat(value, format string) bool {
	if !strfmt.Default.ContainsName(format) {
		return false
	}
	return !strfmt.Default.Validates(format, value)
}

// formatViolation returns a deterministic string that fails the named
// format, or ok=false when the format is unknown to the strfmt registry
// (in which case no value can be said to violate it).
func formatViolation(format string) (string, bool) {
	candidates := []string{"not-a-" + format, "!!!", "0"}
	for _, c := range candidates {
		if violatesFormat(c, format) {
			return c, true
		}
	}
	return "", false
}
