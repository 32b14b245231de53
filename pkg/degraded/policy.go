package degraded

import (
	"fmt"
	"strings"
)

// Kind names an externally observable operation.
type Kind string

const (
	KindAccountCreation Kind = "accountCreation"
	KindTaskCompletion  Kind = "taskCompletion"
	KindMembershipJoin  Kind = "membershipJoin"
	KindGroupLookup     Kind = "groupLookup"
)

// Fallback says what to do with an operation while the datastore is not healthy.
type Fallback string

const (
	Deny             Fallback = "deny"
	ServeCachedValue Fallback = "serveCachedValue"
	ServeSynthetic   Fallback = "serveSynthetic"
)

var (
	knownKinds     = []Kind{KindAccountCreation, KindTaskCompletion, KindMembershipJoin, KindGroupLookup}
	knownFallbacks = []Fallback{Deny, ServeCachedValue, ServeSynthetic}
)

// ParseFallback accepts a fallback name in any letter case.
func ParseFallback(s string) (Fallback, error) {
	for _, f := range knownFallbacks {
		if strings.EqualFold(s, string(f)) {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown fallback %q (want deny, serveCachedValue or serveSynthetic)", s)
}

// ParseKind maps s onto a built-in kind ignoring case, since config keys
// arrive lowercased. Unrecognised names are kept verbatim.
func ParseKind(s string) Kind {
	for _, k := range knownKinds {
		if strings.EqualFold(s, string(k)) {
			return k
		}
	}
	return Kind(s)
}

// Policy maps operation kinds to their fallback. Kinds missing from the map are denied.
type Policy map[Kind]Fallback

// DefaultPolicy is the built-in mapping; config entries override it per kind.
func DefaultPolicy() Policy {
	return Policy{
		KindAccountCreation: Deny,
		KindTaskCompletion:  ServeSynthetic,
		KindMembershipJoin:  ServeSynthetic,
		KindGroupLookup:     ServeCachedValue,
	}
}

func (p Policy) For(kind Kind) Fallback {
	if f, ok := p[kind]; ok {
		return f
	}
	return Deny
}
