package appointment

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-store/internal/store"
)

// Row is one appointment flattened out of its day document.
type Row struct {
	AppointmentDate   string     `json:"appointment_date"`
	ID                string     `json:"id"`
	Type              string     `json:"type"`
	FirstName         string     `json:"first_name"`
	LastName          string     `json:"last_name"`
	MiddleName        string     `json:"middle_name"`
	FullName          string     `json:"full_name"`
	DOB               string     `json:"dob"`
	Gender            string     `json:"gender"`
	MRN               string     `json:"mrn"`
	EHR               string     `json:"ehr"`
	SSN               string     `json:"ssn"`
	DoctorName        string     `json:"doctor_name"`
	DoctorID          string     `json:"doctor_id"`
	DoctorEmail       string     `json:"doctor_email"`
	Specialization    string     `json:"specialization"`
	Time              string     `json:"time"`
	Status            Status     `json:"status"`
	InsuranceProvider string     `json:"insurance_provider"`
	Email             string     `json:"email"`
	Phone             string     `json:"phone"`
	InsuranceVerified bool       `json:"insurance_verified"`
	PatientID         FlexString `json:"patient_id"`
	PracticeID        FlexString `json:"practice_id"`
	ClinicName        string     `json:"clinicName,omitempty"`
	CancelledAt       string     `json:"cancelled_at,omitempty"`
	CancelledBy       string     `json:"cancelled_by,omitempty"`
	CancelledReason   string     `json:"cancelled_reason,omitempty"`
}

func toRow(day string, r *Record) Row {
	return Row{
		AppointmentDate:   day,
		ID:                r.AppointmentID,
		Type:              r.Type,
		FirstName:         r.FirstName,
		LastName:          r.LastName,
		MiddleName:        r.MiddleName,
		FullName:          r.FullName,
		DOB:               r.DOB,
		Gender:            r.Gender,
		MRN:               r.MRN,
		EHR:               r.EHR,
		SSN:               r.SSN,
		DoctorName:        r.DoctorName,
		DoctorID:          r.DoctorID,
		DoctorEmail:       NormalizeEmail(r.DoctorEmail),
		Specialization:    r.Specialization,
		Time:              r.Time,
		Status:            r.Status,
		InsuranceProvider: r.InsuranceProvider,
		Email:             r.Email,
		Phone:             r.Phone,
		InsuranceVerified: r.InsuranceVerified,
		PatientID:         r.PatientID,
		PracticeID:        r.PracticeID,
		ClinicName:        r.ClinicName,
		CancelledAt:       r.CancelledAt,
		CancelledBy:       r.CancelledBy,
		CancelledReason:   r.CancelledReason,
	}
}

// Projector answers read-only lookups across every day document.
type Projector struct {
	store      store.Store
	collection string
	log        zerolog.Logger
}

func NewProjector(st store.Store, collection string, log zerolog.Logger) *Projector {
	return &Projector{
		store:      st,
		collection: collection,
		log:        log.With().Str("component", "projector").Logger(),
	}
}

// ByDoctorEmails returns the appointments of any of the given doctors.
// Matching is case-insensitive.
func (p *Projector) ByDoctorEmails(ctx context.Context, emails []string) ([]Row, error) {
	want := make(map[string]struct{}, len(emails))
	for _, e := range emails {
		if n := NormalizeEmail(e); n != "" {
			want[n] = struct{}{}
		}
	}
	if len(want) == 0 {
		return []Row{}, nil
	}

	return p.project(ctx, func(r *Record) bool {
		_, ok := want[NormalizeEmail(r.DoctorEmail)]
		return ok
	})
}

func (p *Projector) ByDoctorEmail(ctx context.Context, email string) ([]Row, error) {
	return p.ByDoctorEmails(ctx, []string{email})
}

// ByClinic matches the clinic name against the canonical field and every
// legacy import location, after whitespace and case normalization.
func (p *Projector) ByClinic(ctx context.Context, clinicName string) ([]Row, error) {
	key := ClinicKey(clinicName)
	if key == "" {
		return []Row{}, nil
	}

	rows, err := p.project(ctx, func(r *Record) bool {
		return r.MatchesClinic(key)
	})
	if err != nil {
		return nil, err
	}

	p.log.Debug().Str("clinic", key).Int("rows", len(rows)).Msg("clinic lookup")
	return rows, nil
}

func (p *Projector) project(ctx context.Context, keep func(r *Record) bool) ([]Row, error) {
	docs, err := p.store.Query(ctx, p.collection, nil)
	if err != nil {
		return nil, fmt.Errorf("query appointments: %w", err)
	}

	rows := []Row{}
	for i := range docs {
		day, err := decodeDay(&docs[i])
		if err != nil {
			p.log.Warn().Err(err).Str("day", docs[i].ID).Msg("skipping undecodable day document")
			continue
		}
		for j := range day.Entries {
			if keep(&day.Entries[j]) {
				rows = append(rows, toRow(day.ID, &day.Entries[j]))
			}
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].AppointmentDate != rows[j].AppointmentDate {
			return rows[i].AppointmentDate < rows[j].AppointmentDate
		}
		if rows[i].Time != rows[j].Time {
			return rows[i].Time < rows[j].Time
		}
		return rows[i].ID < rows[j].ID
	})
	return rows, nil
}
