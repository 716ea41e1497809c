// Package privacy keeps credentials out of log output.
package privacy

import (
	"net/url"
	"regexp"
)

// credentialPatterns match password assignments in key=value DSNs.
var credentialPatterns = []*regexp.Regexp{
	// libpq keyword/value form: password=secret or password='se cret'
	regexp.MustCompile(`(?i)\b(password|passwd|pwd)\s*=\s*('[^']*'|[^\s]+)`),
	// go-sqlite3 options: _auth_pass=secret
	regexp.MustCompile(`(?i)\b(_auth_pass)=([^&\s]+)`),
}

// RedactDSN hides the password of a connection string so it can be logged.
// URL DSNs keep the user name; keyword/value DSNs keep the key.
func RedactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}

	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "REDACTED")
		}
		dsn = u.String()
	}

	for _, pattern := range credentialPatterns {
		dsn = pattern.ReplaceAllString(dsn, "${1}=REDACTED")
	}
	return dsn
}
