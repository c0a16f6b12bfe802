package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
)

// DSN is a parsed Postgres connection string of the form
// [scheme://][user[:password]@]host[:port][/db][?options].
type DSN struct {
	Scheme   string
	User     string
	Password string
	Host     string
	Port     string
	Database string
	Options  url.Values
}

// ParseDSN parses raw into its parts. A missing scheme defaults to
// postgres; anything other than postgres/postgresql is rejected.
func ParseDSN(raw string) (DSN, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DSN{}, fmt.Errorf("empty connection string")
	}
	if !strings.Contains(raw, "://") {
		raw = "postgres://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return DSN{}, fmt.Errorf("parse connection string: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return DSN{}, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return DSN{}, fmt.Errorf("connection string %q: missing host", raw)
	}

	d := DSN{
		Scheme:   u.Scheme,
		Host:     u.Hostname(),
		Port:     u.Port(),
		Database: strings.TrimPrefix(u.Path, "/"),
		Options:  u.Query(),
	}
	if u.User != nil {
		d.User = u.User.Username()
		d.Password, _ = u.User.Password()
	}
	return d, nil
}

// URL renders the DSN as a connection URL accepted by pgx and lib/pq.
func (d DSN) URL() string {
	u := url.URL{Scheme: d.Scheme, Host: d.Host}
	if u.Scheme == "" {
		u.Scheme = "postgres"
	}
	if d.Port != "" {
		u.Host = net.JoinHostPort(d.Host, d.Port)
	}
	if d.User != "" {
		u.User = url.User(d.User)
		if d.Password != "" {
			u.User = url.UserPassword(d.User, d.Password)
		}
	}
	if d.Database != "" {
		u.Path = "/" + d.Database
	}
	if len(d.Options) > 0 {
		u.RawQuery = d.Options.Encode()
	}
	return u.String()
}

// Redacted is URL with the password masked, safe for logs.
func (d DSN) Redacted() string {
	if d.Password != "" {
		d.Password = "xxxxx"
	}
	return d.URL()
}

// WithDatabase returns a copy of d pointing at another database.
func (d DSN) WithDatabase(name string) DSN {
	d.Database = name
	return d
}

// WithPassword returns a copy of d with the password replaced.
func (d DSN) WithPassword(pw string) DSN {
	d.Password = pw
	return d
}

// ReadPasswordFile reads a password from a secret file, trimming
// surrounding whitespace and trailing newline.
func ReadPasswordFile(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read password file: %w", err)
	}
	pw := strings.TrimSpace(string(raw))
	if pw == "" {
		return "", fmt.Errorf("password file %s is empty", path)
	}
	return pw, nil
}
