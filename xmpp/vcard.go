package xmpp

import (
	"context"
	"encoding/xml"
	"fmt"

	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"

	"msgoffice/models"
)

// vCard is the vcard-temp (XEP-0054) subset this system reads and writes.
type vCard struct {
	XMLName  xml.Name  `xml:"vcard-temp vCard"`
	Name     vCardName `xml:"N"`
	Nickname string    `xml:"NICKNAME,omitempty"`
	Org      vCardOrg  `xml:"ORG"`
	Addr     vCardAddr `xml:"ADR"`
	Desc     string    `xml:"DESC,omitempty"`
	Photo    vCardPic  `xml:"PHOTO"`
}

type vCardName struct {
	Given  string `xml:"GIVEN,omitempty"`
	Family string `xml:"FAMILY,omitempty"`
}

type vCardOrg struct {
	Name string `xml:"ORGNAME,omitempty"`
}

type vCardAddr struct {
	Country string `xml:"CTRY,omitempty"`
}

type vCardPic struct {
	Type   string `xml:"TYPE,omitempty"`
	BinVal string `xml:"BINVAL,omitempty"`
}

// vCardIQ wraps a vCard payload in an iq stanza for both queries and
// responses.
type vCardIQ struct {
	stanza.IQ
	VCard *vCard `xml:"vcard-temp vCard"`
}

// FetchVCard requests the profile for jid. A response without a vCard
// payload yields nil, not an error.
func (c *Client) FetchVCard(ctx context.Context, target string) (*models.Profile, error) {
	sess, err := c.session()
	if err != nil {
		return nil, err
	}
	to, err := jid.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", target, err)
	}

	resp, err := sess.EncodeIQ(ctx, vCardIQ{
		IQ:    stanza.IQ{Type: stanza.GetIQ, To: to.Bare()},
		VCard: &vCard{},
	})
	if err != nil {
		return nil, fmt.Errorf("vcard get: %w", err)
	}
	defer resp.Close()

	d := xml.NewTokenDecoder(resp)
	var result vCardIQ
	if err := d.Decode(&result); err != nil {
		return nil, fmt.Errorf("vcard decode: %w", err)
	}
	if result.IQ.Type == stanza.ErrorIQ || result.VCard == nil {
		return nil, nil
	}
	return result.VCard.profile(), nil
}

// SetVCard publishes the local user's profile.
func (c *Client) SetVCard(ctx context.Context, profile models.Profile) error {
	sess, err := c.session()
	if err != nil {
		return err
	}
	resp, err := sess.EncodeIQ(ctx, vCardIQ{
		IQ:    stanza.IQ{Type: stanza.SetIQ},
		VCard: vCardFromProfile(profile),
	})
	if err != nil {
		return fmt.Errorf("vcard set: %w", err)
	}
	return resp.Close()
}

func (v *vCard) profile() *models.Profile {
	return &models.Profile{
		FirstName:    v.Name.Given,
		LastName:     v.Name.Family,
		Nickname:     v.Nickname,
		Organization: v.Org.Name,
		Country:      v.Addr.Country,
		Note:         v.Desc,
		Photo:        v.Photo.BinVal,
	}
}

func vCardFromProfile(p models.Profile) *vCard {
	v := &vCard{
		Name:     vCardName{Given: p.FirstName, Family: p.LastName},
		Nickname: p.Nickname,
		Org:      vCardOrg{Name: p.Organization},
		Addr:     vCardAddr{Country: p.Country},
		Desc:     p.Note,
	}
	if p.Photo != "" {
		v.Photo = vCardPic{Type: "image/png", BinVal: p.Photo}
	}
	return v
}
