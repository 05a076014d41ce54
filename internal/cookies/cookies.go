// Package cookies loads and validates the cookie file holding the two
// secrets required for authenticated API calls. The file is compatible
// with the Netscape cookies.txt format; only the trailing "name value"
// columns of each line are consulted.
package cookies

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

// Value patterns for the required cookies. Both are lowercase hex,
// auth_token 40 chars and ct0 160 chars.
var validValues = map[string]*regexp.Regexp{
	"auth_token": regexp.MustCompile(`^(?:[0-9a-f]{2}){20}$`),
	"ct0":        regexp.MustCompile(`^(?:[0-9a-f]{2}){80}$`),
}

// Jar is the validated credential bag consumed by the API client.
type Jar struct {
	values map[string]string
}

// AuthToken returns the session auth token
func (j *Jar) AuthToken() string { return j.values["auth_token"] }

// CSRFToken returns the ct0 token sent as the x-csrf-token header
func (j *Jar) CSRFToken() string { return j.values["ct0"] }

// Map returns a copy of the cookie key/value pairs
func (j *Jar) Map() map[string]string {
	m := make(map[string]string, len(j.values))
	for k, v := range j.values {
		m[k] = v
	}
	return m
}

// Load reads the cookie file at path and validates its contents.
// Validation failures are reported before any authenticated call is made.
func Load(path string) (*Jar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot load cookies from file %s: %w", path, err)
	}
	defer f.Close()

	found := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		// Netscape format puts name and value in the last two columns
		name, value := fields[len(fields)-2], fields[len(fields)-1]
		if _, ok := validValues[name]; ok {
			found[name] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("cannot read cookies from file %s: %w", path, err)
	}

	if err := Validate(found); err != nil {
		return nil, err
	}
	return &Jar{values: found}, nil
}

// Validate checks that exactly the required cookies are present with
// well-formed values, naming every offender in the returned error.
func Validate(values map[string]string) error {
	var missing, invalid []string
	for name, pattern := range validValues {
		value, ok := values[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		if !pattern.MatchString(value) {
			invalid = append(invalid, name)
		}
	}
	var extra []string
	for name := range values {
		if _, ok := validValues[name]; !ok {
			extra = append(extra, name)
		}
	}
	sort.Strings(missing)
	sort.Strings(invalid)
	sort.Strings(extra)

	if len(missing) > 0 {
		return fmt.Errorf("missing required cookies: %s", strings.Join(missing, ", "))
	}
	if len(extra) > 0 {
		return fmt.Errorf("extra cookies: %s", strings.Join(extra, ", "))
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid cookies: %s", strings.Join(invalid, ", "))
	}
	return nil
}
