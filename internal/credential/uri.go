package credential

import (
	"fmt"
	"net/url"
	"strings"
)

// URIParams describes a single-node connection attempt.
type URIParams struct {
	Host       string
	Port       int
	Username   string
	Password   string
	AuthSource string
	TLS        bool
	TimeoutMS  int
}

// BuildURI constructs a MongoDB URI for a direct connection to one node.
// Uses manual string building (no url.Parse) to avoid query-param roundtrip issues.
func BuildURI(p URIParams) string {
	var b strings.Builder
	b.WriteString("mongodb://")

	// Credentials use url.UserPassword for RFC 3986 userinfo encoding.
	if p.Username != "" {
		if p.Password != "" {
			b.WriteString(url.UserPassword(p.Username, p.Password).String())
		} else {
			b.WriteString(url.User(p.Username).String())
		}
		b.WriteByte('@')
	}

	b.WriteString(formatHost(p.Host, p.Port))
	b.WriteByte('/')

	params := []string{"directConnection=true"}
	addParam := func(key, value string) {
		params = append(params, key+"="+value)
	}

	if p.TimeoutMS > 0 {
		ms := fmt.Sprintf("%d", p.TimeoutMS)
		addParam("connectTimeoutMS", ms)
		addParam("serverSelectionTimeoutMS", ms)
		addParam("socketTimeoutMS", ms)
	}
	if p.Username != "" && p.AuthSource != "" {
		addParam("authSource", url.PathEscape(p.AuthSource))
	}
	// Detection accepts any certificate; verification is not its concern.
	if p.TLS {
		addParam("tls", "true")
		addParam("tlsAllowInvalidCertificates", "true")
	}

	b.WriteByte('?')
	b.WriteString(strings.Join(params, "&"))
	return b.String()
}

// formatHost formats a host:port pair, handling IPv6 addresses.
func formatHost(host string, port int) string {
	if host == "" {
		host = "localhost"
	}
	// Wrap IPv6 in brackets if not already wrapped
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		host = "[" + host + "]"
	}
	if port == 0 {
		port = 27017
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// ExtractPasswordFromURI extracts and removes password from a MongoDB URI.
// Returns the clean URI (without password) and the extracted password.
func ExtractPasswordFromURI(uri string) (cleanURI, password string, err error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return uri, "", nil // Return original if parsing fails
	}

	if parsed.User == nil {
		return uri, "", nil // No credentials
	}

	password, hasPassword := parsed.User.Password()
	if !hasPassword || password == "" {
		return uri, "", nil // No password
	}

	username := parsed.User.Username()
	parsed.User = url.User(username)

	return parsed.String(), password, nil
}

// RedactURI returns uri with any password removed, safe for logging.
func RedactURI(uri string) string {
	clean, password, _ := ExtractPasswordFromURI(uri)
	if password == "" {
		return clean
	}
	return strings.Replace(clean, "@", ":xxxxx@", 1)
}
