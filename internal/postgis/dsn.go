// Package postgis builds and runs feature queries against a PostGIS
// database.
package postgis

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var ErrBadDSN = errors.New(`database must look like "user@host:port/database"`)

var dsnRe = regexp.MustCompile(`^([^@/:\s]+)@([^:/\s]+)(?::(\d+))?/([^/\s]+)$`)

type DSN struct {
	User     string
	Host     string
	Port     int
	Database string

	raw string // full postgres:// url when given
}

// ParseDSN accepts the short "user@host:port/database" form or a
// postgres:// URL. Passwords are left to PGPASSWORD or ~/.pgpass.
func ParseDSN(s string) (DSN, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "postgres://") || strings.HasPrefix(s, "postgresql://") {
		u, err := url.Parse(s)
		if err != nil {
			return DSN{}, fmt.Errorf("%w: %v", ErrBadDSN, err)
		}
		d := DSN{Host: u.Hostname(), Database: strings.TrimPrefix(u.Path, "/"), Port: 5432, raw: s}
		if u.User != nil {
			d.User = u.User.Username()
		}
		if p := u.Port(); p != "" {
			d.Port, _ = strconv.Atoi(p)
		}
		return d, nil
	}

	m := dsnRe.FindStringSubmatch(s)
	if m == nil {
		return DSN{}, fmt.Errorf("%w (got %q)", ErrBadDSN, s)
	}
	d := DSN{User: m[1], Host: m[2], Port: 5432, Database: m[4]}
	if m[3] != "" {
		p, err := strconv.Atoi(m[3])
		if err != nil || p <= 0 || p > 65535 {
			return DSN{}, fmt.Errorf("%w: port %q", ErrBadDSN, m[3])
		}
		d.Port = p
	}
	return d, nil
}

func (d DSN) ConnString() string {
	if d.raw != "" {
		return d.raw
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.User(d.User),
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   "/" + d.Database,
	}
	return u.String()
}

func (d DSN) String() string {
	return fmt.Sprintf("%s@%s:%d/%s", d.User, d.Host, d.Port, d.Database)
}
