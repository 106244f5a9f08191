package scoring

import (
	"regexp"
	"strings"
	"unicode"

	"dealership_crm_backend/platform/phone"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var emailPattern = regexp.MustCompile(`^[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}$`)

// Keys are the normalized values used to compare leads.
type Keys struct {
	Phone string
	Email string
	Name  string
	City  string
	Zip   string
}

// MatchKeys normalizes contact details for duplicate and reuse detection.
func MatchKeys(firstName, lastName, phoneNumber, email, city, zip, region string) Keys {
	return Keys{
		Phone: phone.MatchKey(phoneNumber, region),
		Email: NormalizeEmail(email),
		Name:  FoldName(firstName + " " + lastName),
		City:  FoldName(city),
		Zip:   strings.ToUpper(strings.Join(strings.Fields(zip), "")),
	}
}

// NormalizeEmail lower-cases a well-formed address and strips "+tag" suffixes.
// Gmail addresses also lose dots in the local part. Malformed input yields "".
func NormalizeEmail(email string) string {
	e := strings.ToLower(strings.TrimSpace(email))
	if !IsWellFormedEmail(e) {
		return ""
	}
	local, domain, _ := strings.Cut(e, "@")
	if i := strings.IndexByte(local, '+'); i > 0 {
		local = local[:i]
	}
	if domain == "googlemail.com" {
		domain = "gmail.com"
	}
	if domain == "gmail.com" {
		local = strings.ReplaceAll(local, ".", "")
	}
	return local + "@" + domain
}

// IsWellFormedEmail reports whether email looks like a deliverable address.
func IsWellFormedEmail(email string) bool {
	e := strings.ToLower(strings.TrimSpace(email))
	if !emailPattern.MatchString(e) {
		return false
	}
	return !strings.Contains(e, "..") && !strings.HasPrefix(e, ".")
}

// EmailDomain returns the lower-cased domain part, or "".
func EmailDomain(email string) string {
	_, domain, ok := strings.Cut(strings.ToLower(strings.TrimSpace(email)), "@")
	if !ok {
		return ""
	}
	return domain
}

// FoldName removes diacritics, case and punctuation so "José  Núñez" equals "jose nunez".
func FoldName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	for _, r := range strings.ToLower(folded) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// NormalizeSource maps free-form source labels like "Walk-In" to "walk_in".
func NormalizeSource(source string) string {
	s := strings.ToLower(strings.TrimSpace(source))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	return s
}

// editDistance is the Levenshtein distance between a and b in runes.
func editDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

func containsDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}
