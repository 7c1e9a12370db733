package cache

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Kind identifies a logical collection.
type Kind string

const (
	KindClients    Kind = "clients"
	KindEquipments Kind = "equipments"
	KindBudgets    Kind = "budgets"
	KindRentals    Kind = "rentals"
	KindDashboard  Kind = "dashboard-metrics"
)

// Kinds lists every known collection.
var Kinds = []Kind{KindClients, KindEquipments, KindBudgets, KindRentals, KindDashboard}

// ParseKind returns the Kind named s.
func ParseKind(s string) (Kind, bool) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// Default TTLs per kind. Reference data changes rarely, transactional data often.
var defaultTTLs = map[Kind]time.Duration{
	KindClients:    30 * time.Minute,
	KindEquipments: time.Hour,
	KindBudgets:    5 * time.Minute,
	KindRentals:    2 * time.Minute,
	KindDashboard:  time.Minute,
}

// fallbackTTL applies to kinds without a configured default.
const fallbackTTL = 5 * time.Minute

// DefaultTTL returns the built-in TTL for kind.
func DefaultTTL(kind Kind) time.Duration {
	if ttl, ok := defaultTTLs[kind]; ok {
		return ttl
	}
	return fallbackTTL
}

// Params are the query arguments of a request. Requests with different params are distinct entries.
type Params map[string]string

const (
	ParamLimit = "limit"
	ParamFrom  = "from"
	ParamTo    = "to"
)

const dateLayout = "2006-01-02"

// Limit returns params with a row limit.
func Limit(n int) Params {
	return Params{ParamLimit: strconv.Itoa(n)}
}

// DateRange returns params restricting results to [from, to].
func DateRange(from, to time.Time) Params {
	return Params{ParamFrom: from.Format(dateLayout), ParamTo: to.Format(dateLayout)}
}

// With returns a copy of p with other merged in.
func (p Params) With(other Params) Params {
	out := make(Params, len(p)+len(other))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Int returns the integer value of name, or 0.
func (p Params) Int(name string) int {
	n, err := strconv.Atoi(p[name])
	if err != nil {
		return 0
	}
	return n
}

// Date returns the date value of name, parsed in loc.
func (p Params) Date(name string, loc *time.Location) (time.Time, bool) {
	raw, ok := p[name]
	if !ok || raw == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(dateLayout, raw, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Encode returns the canonical, sorted encoding of p.
func (p Params) Encode() string {
	if len(p) == 0 {
		return ""
	}
	values := url.Values{}
	for k, v := range p {
		values.Set(k, v)
	}
	return values.Encode()
}

// Key addresses one cache entry.
type Key struct {
	Kind   Kind
	Params Params
}

// NewKey creates a key for kind and params.
func NewKey(kind Kind, params Params) Key {
	return Key{Kind: kind, Params: params}
}

// String returns the storage form of the key: "<kind>" or "<kind>?<params>".
func (k Key) String() string {
	if q := k.Params.Encode(); q != "" {
		return string(k.Kind) + "?" + q
	}
	return string(k.Kind)
}

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, bool) {
	kindPart, query, _ := strings.Cut(s, "?")
	kind, ok := ParseKind(kindPart)
	if !ok {
		return Key{}, false
	}
	key := Key{Kind: kind}
	if query == "" {
		return key, true
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return Key{}, false
	}
	key.Params = make(Params, len(values))
	for k := range values {
		key.Params[k] = values.Get(k)
	}
	return key, true
}
