package api

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Authority identifies the device or domain hosting an entity.
type Authority struct {
	Name string
	IP   string
	ID   string
}

// Entity identifies a software entity (service or application).
type Entity struct {
	Name         string
	ID           uint32
	VersionMajor uint32
	VersionMinor uint32
}

// Resource selects a resource exposed by an entity.
type Resource struct {
	Name     string
	Instance string
	Message  string
	ID       uint32
}

// URI is the topic address listeners subscribe to. It only holds strings and
// integers so it can be compared with == and used as a map key.
type URI struct {
	Authority Authority
	Entity    Entity
	Resource  Resource
}

var ErrInvalidURI = errors.New("invalid uri")

// IsEmpty reports whether u carries no addressing information at all.
func (u URI) IsEmpty() bool { return u == URI{} }

// String renders the long form: //authority/entity/major/resource.instance#message.
// Remote-less URIs start with a single slash.
func (u URI) String() string {
	var b strings.Builder
	if u.Authority.Name != "" {
		b.WriteString("//")
		b.WriteString(u.Authority.Name)
	}
	b.WriteByte('/')
	b.WriteString(u.Entity.Name)
	if u.Entity.VersionMajor > 0 || u.Resource.Name != "" {
		b.WriteByte('/')
		if u.Entity.VersionMajor > 0 {
			b.WriteString(strconv.FormatUint(uint64(u.Entity.VersionMajor), 10))
		}
	}
	if u.Resource.Name != "" {
		b.WriteByte('/')
		b.WriteString(u.Resource.Name)
		if u.Resource.Instance != "" {
			b.WriteByte('.')
			b.WriteString(u.Resource.Instance)
		}
		if u.Resource.Message != "" {
			b.WriteByte('#')
			b.WriteString(u.Resource.Message)
		}
	}
	return b.String()
}

// ParseURI parses the long form produced by URI.String.
func ParseURI(s string) (URI, error) {
	var u URI
	s = strings.TrimSpace(s)
	if s == "" || s[0] != '/' {
		return u, fmt.Errorf("%w: %q must start with '/'", ErrInvalidURI, s)
	}
	rest := s[1:]
	if strings.HasPrefix(rest, "/") {
		rest = rest[1:]
		auth, after, _ := strings.Cut(rest, "/")
		if auth == "" {
			return u, fmt.Errorf("%w: %q has an empty authority", ErrInvalidURI, s)
		}
		u.Authority.Name = auth
		rest = after
	}
	parts := strings.Split(rest, "/")
	if len(parts) > 3 {
		return u, fmt.Errorf("%w: %q has too many segments", ErrInvalidURI, s)
	}
	u.Entity.Name = parts[0]
	if len(parts) > 1 && parts[1] != "" {
		v, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			return u, fmt.Errorf("%w: bad version %q", ErrInvalidURI, parts[1])
		}
		u.Entity.VersionMajor = uint32(v)
	}
	if len(parts) > 2 && parts[2] != "" {
		res := parts[2]
		if name, msg, ok := strings.Cut(res, "#"); ok {
			res = name
			u.Resource.Message = msg
		}
		name, inst, _ := strings.Cut(res, ".")
		u.Resource.Name = name
		u.Resource.Instance = inst
	}
	if u.Entity.Name == "" && u.Resource.Name != "" {
		return u, fmt.Errorf("%w: %q names a resource without an entity", ErrInvalidURI, s)
	}
	return u, nil
}

// MustParseURI is ParseURI for literals in tests and examples.
func MustParseURI(s string) URI {
	u, err := ParseURI(s)
	if err != nil {
		panic(err)
	}
	return u
}
