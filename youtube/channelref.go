package youtube

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// RefKind says how a user-supplied channel reference should be resolved.
type RefKind int

const (
	// RefChannelID is a bare or URL-embedded UC... id.
	RefChannelID RefKind = iota
	// RefHandle is an @handle.
	RefHandle
	// RefCustom is a legacy /c/name or /user/name URL.
	RefCustom
)

// ChannelRef is a normalized channel reference.
type ChannelRef struct {
	Kind  RefKind
	Value string
}

// channelIDRegex matches YouTube channel IDs (UC followed by 22 base64 chars).
var channelIDRegex = regexp.MustCompile(`UC[a-zA-Z0-9_-]{22}`)

var handleRegex = regexp.MustCompile(`^@?[A-Za-z0-9._-]{3,30}$`)

// ParseChannelRef normalizes @handle, youtube.com/@handle, /channel/UC...,
// /c/custom, /user/name or a bare UC... id.
func ParseChannelRef(input string) (ChannelRef, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return ChannelRef{}, fmt.Errorf("%w: empty channel reference", ErrInvalidURL)
	}

	if !strings.Contains(s, "youtube.com") && !strings.Contains(s, "youtu.be") {
		if id := channelIDRegex.FindString(s); id != "" && len(s) == len(id) {
			return ChannelRef{Kind: RefChannelID, Value: id}, nil
		}
		if handleRegex.MatchString(s) {
			return ChannelRef{Kind: RefHandle, Value: strings.TrimPrefix(s, "@")}, nil
		}
		return ChannelRef{}, fmt.Errorf("%w: cannot parse channel reference %q", ErrInvalidURL, input)
	}

	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return ChannelRef{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	switch {
	case len(parts) >= 1 && strings.HasPrefix(parts[0], "@") && len(parts[0]) > 1:
		return ChannelRef{Kind: RefHandle, Value: strings.TrimPrefix(parts[0], "@")}, nil
	case len(parts) >= 2 && parts[0] == "channel" && channelIDRegex.MatchString(parts[1]):
		return ChannelRef{Kind: RefChannelID, Value: channelIDRegex.FindString(parts[1])}, nil
	case len(parts) >= 2 && (parts[0] == "c" || parts[0] == "user") && parts[1] != "":
		return ChannelRef{Kind: RefCustom, Value: parts[1]}, nil
	}
	return ChannelRef{}, fmt.Errorf("%w: cannot parse channel URL %q", ErrInvalidURL, input)
}

// Query is the search string used to look the reference up.
func (r ChannelRef) Query() string {
	if r.Kind == RefHandle {
		return "@" + r.Value
	}
	return r.Value
}

// PageURL is the channel page used by the scrape resolver.
func (r ChannelRef) PageURL() string {
	switch r.Kind {
	case RefChannelID:
		return "https://www.youtube.com/channel/" + r.Value
	case RefCustom:
		return "https://www.youtube.com/c/" + url.PathEscape(r.Value)
	default:
		return "https://www.youtube.com/@" + url.PathEscape(r.Value)
	}
}

func (r ChannelRef) String() string {
	return r.Query()
}
