// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Credence Contributors

package auth

import (
	"fmt"
	"strings"

	"github.com/samber/oops"
)

// Provider identifies an external identity provider.
type Provider int

// Supported providers. The set is closed; ParseProvider rejects anything else.
const (
	ProviderGoogle Provider = iota + 1
	ProviderFacebook
	ProviderGitHub
	ProviderLinkedIn
)

var providerNames = map[Provider]string{
	ProviderGoogle:   "google",
	ProviderFacebook: "facebook",
	ProviderGitHub:   "github",
	ProviderLinkedIn: "linkedin",
}

// String returns the lower-case provider tag.
func (p Provider) String() string {
	if name, ok := providerNames[p]; ok {
		return name
	}
	return fmt.Sprintf("provider(%d)", int(p))
}

// ParseProvider resolves a registration tag, case-insensitively.
func ParseProvider(tag string) (Provider, error) {
	normalized := strings.ToLower(strings.TrimSpace(tag))
	for p, name := range providerNames {
		if name == normalized {
			return p, nil
		}
	}
	return 0, oops.Code(CodeUnsupportedProvider).
		With("provider", tag).
		Errorf("login with %s is not supported", tag)
}

// ProviderProfile is the normalized user info extracted from a provider's
// attribute map.
type ProviderProfile struct {
	Provider  Provider
	SubjectID string
	Name      string
	Email     string
	AvatarURL string
}

type profileExtractor func(attrs map[string]any) ProviderProfile

var profileExtractors = map[Provider]profileExtractor{
	ProviderGoogle: func(attrs map[string]any) ProviderProfile {
		return ProviderProfile{
			SubjectID: stringAttr(attrs, "sub"),
			Name:      stringAttr(attrs, "name"),
			Email:     stringAttr(attrs, "email"),
			AvatarURL: stringAttr(attrs, "picture"),
		}
	},
	ProviderFacebook: func(attrs map[string]any) ProviderProfile {
		avatar := ""
		if picture, ok := attrs["picture"].(map[string]any); ok {
			if data, ok := picture["data"].(map[string]any); ok {
				avatar = stringAttr(data, "url")
			}
		}
		return ProviderProfile{
			SubjectID: stringAttr(attrs, "id"),
			Name:      stringAttr(attrs, "name"),
			Email:     stringAttr(attrs, "email"),
			AvatarURL: avatar,
		}
	},
	ProviderGitHub: func(attrs map[string]any) ProviderProfile {
		return ProviderProfile{
			SubjectID: stringAttr(attrs, "id"),
			Name:      stringAttr(attrs, "name"),
			Email:     stringAttr(attrs, "email"),
			AvatarURL: stringAttr(attrs, "avatar_url"),
		}
	},
	ProviderLinkedIn: func(attrs map[string]any) ProviderProfile {
		return ProviderProfile{
			SubjectID: stringAttr(attrs, "sub"),
			Name:      stringAttr(attrs, "name"),
			Email:     stringAttr(attrs, "email"),
			AvatarURL: stringAttr(attrs, "picture"),
		}
	},
}

// ExtractProfile maps a provider attribute map onto a ProviderProfile.
func ExtractProfile(p Provider, attrs map[string]any) (ProviderProfile, error) {
	extract, ok := profileExtractors[p]
	if !ok {
		return ProviderProfile{}, oops.Code(CodeUnsupportedProvider).
			With("provider", p.String()).
			Errorf("login with %s is not supported", p)
	}
	profile := extract(attrs)
	profile.Provider = p
	return profile, nil
}

// stringAttr reads a string-ish attribute. Numeric IDs (GitHub, Facebook)
// arrive as float64 from JSON decoding.
func stringAttr(attrs map[string]any, key string) string {
	switch v := attrs[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	case int64:
		return fmt.Sprintf("%d", v)
	case int:
		return fmt.Sprintf("%d", v)
	default:
		return ""
	}
}
