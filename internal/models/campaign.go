package models

import (
	"errors"
	"fmt"
	"strings"
)

// CampaignSeparator separates the advertiser and campaign parts of the compact
// campaign identifier ("bmw:c1").
const CampaignSeparator = ":"

// ErrMalformedCampaignID is returned when a compact campaign identifier lacks
// the advertiser/campaign separator or either half is empty.
var ErrMalformedCampaignID = errors.New("malformed campaign id")

// CampaignID identifies a campaign by its owning advertiser and a campaign
// suffix unique within that advertiser. The advertiser half is the key used to
// locate the visitor's history with that advertiser.
type CampaignID struct {
	AdvertiserID string
	Suffix       string
}

// NewCampaignID builds a CampaignID and rejects empty halves.
func NewCampaignID(advertiserID, suffix string) (CampaignID, error) {
	id := CampaignID{AdvertiserID: advertiserID, Suffix: suffix}
	if err := id.Validate(); err != nil {
		return CampaignID{}, err
	}
	return id, nil
}

// ParseCampaignID parses the compact "advertiser:campaign" form. Only the first
// separator splits the value, so suffixes may themselves contain ':'.
func ParseCampaignID(s string) (CampaignID, error) {
	adv, suffix, ok := strings.Cut(s, CampaignSeparator)
	if !ok {
		return CampaignID{}, fmt.Errorf("%w: %q has no %q separator", ErrMalformedCampaignID, s, CampaignSeparator)
	}
	return NewCampaignID(adv, suffix)
}

// Validate reports whether both halves of the identifier are present.
func (c CampaignID) Validate() error {
	if c.AdvertiserID == "" || c.Suffix == "" {
		return fmt.Errorf("%w: advertiser=%q campaign=%q", ErrMalformedCampaignID, c.AdvertiserID, c.Suffix)
	}
	if strings.Contains(c.AdvertiserID, CampaignSeparator) {
		return fmt.Errorf("%w: advertiser %q contains %q", ErrMalformedCampaignID, c.AdvertiserID, CampaignSeparator)
	}
	return nil
}

// IsZero reports whether the identifier is unset.
func (c CampaignID) IsZero() bool {
	return c.AdvertiserID == "" && c.Suffix == ""
}

// String renders the compact "advertiser:campaign" form.
func (c CampaignID) String() string {
	return c.AdvertiserID + CampaignSeparator + c.Suffix
}

// MarshalText encodes the compact form so JSON documents carry "bmw:c1"
// rather than an object.
func (c CampaignID) MarshalText() ([]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return []byte(c.String()), nil
}

// UnmarshalText decodes the compact form. Malformed values fail here, at read
// time, instead of surfacing later as a silent misparse.
func (c *CampaignID) UnmarshalText(text []byte) error {
	id, err := ParseCampaignID(string(text))
	if err != nil {
		return err
	}
	*c = id
	return nil
}
