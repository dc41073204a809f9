package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/redact"
)

// Connection describes how to reach a relational backend. It never holds
// secrets, only vault references to them.
type Connection struct {
	Vendor     string       `json:"type"`
	Datasource Datasource   `json:"datasource"`
	Auth       AuthStrategy `json:"authenticationStrategy"`
}

// Datasource holds vendor neutral location parameters. Properties carries
// vendor specific settings (account, warehouse, sslmode, ...).
type Datasource struct {
	Host       string            `json:"host,omitempty"`
	Port       int               `json:"port,omitempty"`
	Database   string            `json:"database,omitempty"`
	Path       string            `json:"path,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Auth strategy types understood by the connection manager.
const (
	AuthTest             = "test"
	AuthUserNamePassword = "userNamePassword"
	AuthDelegated        = "delegated"
	AuthAPIToken         = "apiToken"
)

// AuthStrategy names how credentials are produced for a caller.
type AuthStrategy struct {
	Type        string `json:"_type"`
	User        string `json:"user,omitempty"`
	PasswordRef string `json:"passwordVaultReference,omitempty"`
	TokenRef    string `json:"tokenVaultReference,omitempty"`
	Header      string `json:"header,omitempty"`
}

// Signature is a stable identity of the descriptor suitable for pool keys.
// Sensitive property values contribute only a fingerprint.
func (c Connection) Signature() string {
	var b strings.Builder
	b.WriteString(c.Vendor)
	b.WriteByte('|')
	b.WriteString(c.Datasource.Host)
	b.WriteByte(':')
	b.WriteString(strconv.Itoa(c.Datasource.Port))
	b.WriteByte('/')
	b.WriteString(c.Datasource.Database)
	b.WriteByte('|')
	b.WriteString(c.Datasource.Path)
	for _, k := range sortedKeys(c.Datasource.Properties) {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		if v := c.Datasource.Properties[k]; sensitiveKey(k) {
			sum := sha256.Sum256([]byte(v))
			b.WriteString(hex.EncodeToString(sum[:6]))
		} else {
			b.WriteString(v)
		}
	}
	b.WriteByte('|')
	b.WriteString(c.Auth.Type)
	b.WriteByte(':')
	b.WriteString(c.Auth.User)
	b.WriteByte(':')
	b.WriteString(c.Auth.PasswordRef)
	b.WriteByte(':')
	b.WriteString(c.Auth.TokenRef)
	return b.String()
}

// SafeFormat implements redact.SafeFormatter. Location details are reported
// as redactable values; properties that look like secrets are masked.
func (c Connection) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("%s(", redact.SafeString(c.Vendor))
	w.Printf("host=%s port=%d", c.Datasource.Host, redact.Safe(c.Datasource.Port))
	if c.Datasource.Database != "" {
		w.Printf(" database=%s", c.Datasource.Database)
	}
	if c.Datasource.Path != "" {
		w.Printf(" path=%s", c.Datasource.Path)
	}
	for _, k := range sortedKeys(c.Datasource.Properties) {
		if sensitiveKey(k) {
			w.Printf(" %s=*****", redact.SafeString(k))
			continue
		}
		w.Printf(" %s=%s", redact.SafeString(k), c.Datasource.Properties[k])
	}
	w.Printf(" auth=%s", redact.SafeString(c.Auth.Type))
	if c.Auth.User != "" {
		w.Printf(" user=%s", c.Auth.User)
	}
	w.SafeRune(')')
}

func (c Connection) String() string { return redact.StringWithoutMarkers(c) }

func sensitiveKey(k string) bool {
	k = strings.ToLower(k)
	for _, s := range []string{"password", "passwd", "secret", "token", "key", "credential"} {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
