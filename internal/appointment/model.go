package appointment

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/hackgods/clinic-appointment-store/internal/store"
)

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCancelled Status = "cancelled"
)

const (
	recordType = "appointment"
	dayLayout  = "2006-01-02"
	idLength   = 24
	idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// FlexString decodes from either a JSON string or a JSON number. Older
// imports stored patient and practice ids as numbers.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("flex string: %w", err)
	}
	*f = FlexString(n.String())
	return nil
}

// Record is one appointment embedded in a day document.
type Record struct {
	AppointmentID     string     `json:"id"`
	Type              string     `json:"type,omitempty"`
	DoctorID          string     `json:"doctor_id,omitempty"`
	DoctorEmail       string     `json:"doctor_email"`
	DoctorName        string     `json:"doctor_name,omitempty"`
	Specialization    string     `json:"specialization,omitempty"`
	PatientID         FlexString `json:"patient_id,omitempty"`
	PracticeID        FlexString `json:"practice_id,omitempty"`
	FirstName         string     `json:"first_name,omitempty"`
	MiddleName        string     `json:"middle_name,omitempty"`
	LastName          string     `json:"last_name,omitempty"`
	FullName          string     `json:"full_name,omitempty"`
	DOB               string     `json:"dob,omitempty"`
	Gender            string     `json:"gender,omitempty"`
	SSN               string     `json:"ssn,omitempty"`
	Email             string     `json:"email,omitempty"`
	Phone             string     `json:"phone,omitempty"`
	EHR               string     `json:"ehr,omitempty"`
	MRN               string     `json:"mrn,omitempty"`
	InsuranceProvider string     `json:"insurance_provider,omitempty"`
	InsuranceVerified bool       `json:"insurance_verified"`
	Status            Status     `json:"status"`
	Time              string     `json:"time,omitempty"`
	AppointmentDate   string     `json:"appointment_date"`
	ClinicName        string     `json:"clinicName"`
	CancelledAt       string     `json:"cancelled_at,omitempty"`
	CancelledBy       string     `json:"cancelled_by,omitempty"`
	CancelledReason   string     `json:"cancelled_reason,omitempty"`

	// Extra holds keys this version does not model, legacy nestings
	// included. They are written back untouched.
	Extra map[string]json.RawMessage `json:"-"`

	legacyClinics []string

	// raw is the record as read; pristine its canonical encoding right after
	// decoding. While the two encodings agree the record is written back as raw.
	raw      json.RawMessage
	pristine []byte
}

type plainRecord Record

var recordKeys = jsonKeys(reflect.TypeOf(plainRecord{}))

func jsonKeys(t reflect.Type) map[string]bool {
	keys := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("json")
		name, _, _ := strings.Cut(tag, ",")
		if name != "" && name != "-" {
			keys[name] = true
		}
	}
	return keys
}

func (r *Record) UnmarshalJSON(b []byte) error {
	var p plainRecord
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}
	for k := range all {
		if recordKeys[k] {
			delete(all, k)
		}
	}
	if len(all) > 0 {
		p.Extra = all
	}

	*r = Record(p)
	r.normalizeLegacy()
	r.raw = append(json.RawMessage(nil), b...)
	return nil
}

func (r Record) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(plainRecord(r))
	if err != nil || len(r.Extra) == 0 {
		return b, err
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(b, &merged); err != nil {
		return nil, err
	}
	for k, v := range r.Extra {
		if _, ok := merged[k]; !ok {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// legacy clinic name locations, in lookup order
var legacyClinicPaths = [][]string{
	{"clinic_name"},
	{"details", "clinicName"},
	{"original_json", "clinicName"},
	{"original_json", "details", "clinicName"},
}

// normalizeLegacy is the single read-time pass mapping historical import
// shapes onto the canonical record.
func (r *Record) normalizeLegacy() {
	r.DoctorEmail = NormalizeEmail(r.DoctorEmail)
	r.ClinicName = NormalizeClinicName(r.ClinicName)

	r.legacyClinics = nil
	for _, path := range legacyClinicPaths {
		if name := NormalizeClinicName(nestedString(r.Extra, path...)); name != "" {
			r.legacyClinics = append(r.legacyClinics, name)
		}
	}
	if r.ClinicName == "" && len(r.legacyClinics) > 0 {
		r.ClinicName = r.legacyClinics[0]
	}
}

func nestedString(m map[string]json.RawMessage, path ...string) string {
	raw, ok := m[path[0]]
	if !ok {
		return ""
	}
	if len(path) == 1 {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	}
	var inner map[string]json.RawMessage
	if err := json.Unmarshal(raw, &inner); err != nil {
		return ""
	}
	return nestedString(inner, path[1:]...)
}

func (r *Record) seal() {
	if r.raw == nil {
		return
	}
	b, err := json.Marshal(*r)
	if err != nil {
		return
	}
	r.pristine = b
}

// stored returns the bytes to persist: the original text for a record nothing
// changed, the canonical encoding otherwise.
func (r *Record) stored() (json.RawMessage, error) {
	b, err := json.Marshal(*r)
	if err != nil {
		return nil, err
	}
	if r.raw != nil && r.pristine != nil && bytes.Equal(b, r.pristine) {
		return r.raw, nil
	}
	return b, nil
}

func (r *Record) matches(appointmentID, doctorEmail string) bool {
	return r.AppointmentID == appointmentID && NormalizeEmail(r.DoctorEmail) == doctorEmail
}

// MatchesClinic reports whether the canonical or any legacy clinic location
// equals key, which must already be a ClinicKey.
func (r *Record) MatchesClinic(key string) bool {
	if key == "" {
		return false
	}
	if ClinicKey(r.ClinicName) == key {
		return true
	}
	for _, name := range r.legacyClinics {
		if ClinicKey(name) == key {
			return true
		}
	}
	return false
}

// DayDocument holds every appointment for one calendar day.
type DayDocument struct {
	ID      string
	Entries []Record
	Version int64

	exists bool
}

type dayBody struct {
	ID   string   `json:"id"`
	Data []Record `json:"data"`
}

// Exists is false for a day no appointment was ever booked on.
func (d *DayDocument) Exists() bool {
	return d.exists
}

func (d *DayDocument) clone() *DayDocument {
	c := *d
	c.Entries = append([]Record(nil), d.Entries...)
	return &c
}

func (d *DayDocument) indexOf(appointmentID, doctorEmail string) int {
	for i := range d.Entries {
		if d.Entries[i].matches(appointmentID, doctorEmail) {
			return i
		}
	}
	return -1
}

// without returns the entries minus every match, preserving order.
func (d *DayDocument) without(appointmentID, doctorEmail string) ([]Record, int) {
	kept := make([]Record, 0, len(d.Entries))
	removed := 0
	for _, e := range d.Entries {
		if e.matches(appointmentID, doctorEmail) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	return kept, removed
}

type storedDay struct {
	ID   string            `json:"id"`
	Data []json.RawMessage `json:"data"`
}

func (d *DayDocument) encode() ([]byte, error) {
	data := make([]json.RawMessage, 0, len(d.Entries))
	for i := range d.Entries {
		b, err := d.Entries[i].stored()
		if err != nil {
			return nil, fmt.Errorf("encode appointment %s: %w", d.Entries[i].AppointmentID, err)
		}
		data = append(data, b)
	}
	return json.Marshal(storedDay{ID: d.ID, Data: data})
}

func decodeDay(doc *store.Document) (*DayDocument, error) {
	var body dayBody
	if err := json.Unmarshal(doc.Body, &body); err != nil {
		return nil, fmt.Errorf("decode day %s: %w", doc.ID, err)
	}
	for i := range body.Data {
		// the document key is authoritative for the denormalized date
		body.Data[i].AppointmentDate = doc.ID
		body.Data[i].seal()
	}
	return &DayDocument{
		ID:      doc.ID,
		Entries: body.Data,
		Version: doc.Version,
		exists:  true,
	}, nil
}

// checkInvariants rejects a mutation that breaks the date agreement or
// introduces a duplicate (appointment id, doctor email) pair. Duplicates
// already present in before are tolerated.
func checkInvariants(day string, before, after []Record) error {
	type pair struct{ id, email string }
	count := func(entries []Record) map[pair]int {
		m := make(map[pair]int, len(entries))
		for i := range entries {
			m[pair{entries[i].AppointmentID, NormalizeEmail(entries[i].DoctorEmail)}]++
		}
		return m
	}

	prev := count(before)
	for p, n := range count(after) {
		if n > 1 && n > prev[p] {
			return fmt.Errorf("%w: appointment %s booked twice for %s on %s", ErrInvariant, p.id, p.email, day)
		}
	}
	for i := range after {
		if after[i].AppointmentDate != day {
			return fmt.Errorf("%w: appointment %s dated %s stored under %s", ErrInvariant, after[i].AppointmentID, after[i].AppointmentDate, day)
		}
	}
	return nil
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeClinicName collapses whitespace runs and trims, keeping case.
func NormalizeClinicName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// ClinicKey is the comparison form of a clinic name.
func ClinicKey(name string) string {
	return strings.ToLower(NormalizeClinicName(name))
}

// ParseDay validates a YYYY-MM-DD day key.
func ParseDay(s string) (string, error) {
	t, err := time.Parse(dayLayout, strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return t.Format(dayLayout), nil
}

func dayOf(t time.Time) string {
	return t.UTC().Format(dayLayout)
}

// NewAppointmentID returns 24 crypto-random characters from [A-Za-z0-9].
func NewAppointmentID() string {
	const maxByte = 256 - (256 % len(idAlphabet))

	out := make([]byte, 0, idLength)
	buf := make([]byte, idLength*2)
	for len(out) < idLength {
		if _, err := rand.Read(buf); err != nil {
			panic(fmt.Sprintf("appointment id entropy: %v", err))
		}
		for _, b := range buf {
			// rejection sampling keeps the alphabet uniform
			if int(b) >= maxByte {
				continue
			}
			out = append(out, idAlphabet[int(b)%len(idAlphabet)])
			if len(out) == idLength {
				break
			}
		}
	}
	return string(out)
}
