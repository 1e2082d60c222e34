package patient

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
	"unicode"
)

// Contact is the identity and contact slice of a patient carried over from
// an appointment.
type Contact struct {
	FirstName  string `json:"first_name"`
	MiddleName string `json:"middle_name,omitempty"`
	LastName   string `json:"last_name"`
	DOB        string `json:"dob,omitempty"`
	Gender     string `json:"gender,omitempty"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	EHR        string `json:"ehr,omitempty"`
	MRN        string `json:"mrn,omitempty"`
	ClinicName string `json:"clinicName,omitempty"`
}

// Normalize lower-cases the email and strips the phone down to digits.
func (c Contact) Normalize() Contact {
	c.FirstName = strings.TrimSpace(c.FirstName)
	c.MiddleName = strings.TrimSpace(c.MiddleName)
	c.LastName = strings.TrimSpace(c.LastName)
	c.DOB = strings.TrimSpace(c.DOB)
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	c.Phone = strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, c.Phone)
	c.ClinicName = strings.Join(strings.Fields(c.ClinicName), " ")
	return c
}

// Key is the stable profile id: a hash of the lower-cased names and the date
// of birth. Empty when the contact has no name at all.
func (c Contact) Key() string {
	first := strings.ToLower(strings.TrimSpace(c.FirstName))
	last := strings.ToLower(strings.TrimSpace(c.LastName))
	if first == "" && last == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(first + "_" + last + "_" + strings.TrimSpace(c.DOB)))
	return hex.EncodeToString(sum[:])
}

// Profile is the stored patient projection.
type Profile struct {
	ID string `json:"id"`
	Contact
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// merge overlays the non-empty fields of c.
func (p *Profile) merge(c Contact) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&p.FirstName, c.FirstName)
	set(&p.MiddleName, c.MiddleName)
	set(&p.LastName, c.LastName)
	set(&p.DOB, c.DOB)
	set(&p.Gender, c.Gender)
	set(&p.Email, c.Email)
	set(&p.Phone, c.Phone)
	set(&p.EHR, c.EHR)
	set(&p.MRN, c.MRN)
	set(&p.ClinicName, c.ClinicName)
}
