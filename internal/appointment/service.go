package appointment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-store/internal/config"
	"github.com/hackgods/clinic-appointment-store/internal/patient"
)

// CreateInput carries the fields of a new appointment.
type CreateInput struct {
	AppointmentID     string `json:"id"`
	AppointmentDate   string `json:"appointment_date" validate:"required,datetime=2006-01-02"`
	DoctorID          string `json:"doctor_id"`
	DoctorName        string `json:"doctor_name"`
	Specialization    string `json:"specialization"`
	PatientID         string `json:"patient_id"`
	PracticeID        string `json:"practice_id"`
	FirstName         string `json:"first_name" validate:"max=200"`
	MiddleName        string `json:"middle_name" validate:"max=200"`
	LastName          string `json:"last_name" validate:"max=200"`
	FullName          string `json:"full_name"`
	DOB               string `json:"dob"`
	Gender            string `json:"gender"`
	Email             string `json:"email" validate:"omitempty,email"`
	Phone             string `json:"phone"`
	EHR               string `json:"ehr"`
	MRN               string `json:"mrn"`
	InsuranceProvider string `json:"insurance_provider"`
	InsuranceVerified bool   `json:"insurance_verified"`
	Status            Status `json:"status" validate:"omitempty,oneof=scheduled cancelled"`
	Time              string `json:"time"`
	ClinicName        string `json:"clinicName"`
}

// UpdateInput is a patch: nil fields keep their current value.
// OriginalAppointmentDate names the day the appointment currently lives on.
type UpdateInput struct {
	OriginalAppointmentDate string  `json:"original_appointment_date" validate:"required,datetime=2006-01-02"`
	AppointmentDate         string  `json:"appointment_date" validate:"omitempty,datetime=2006-01-02"`
	DoctorID                *string `json:"doctor_id"`
	DoctorName              *string `json:"doctor_name"`
	Specialization          *string `json:"specialization"`
	PatientID               *string `json:"patient_id"`
	FirstName               *string `json:"first_name"`
	MiddleName              *string `json:"middle_name"`
	LastName                *string `json:"last_name"`
	FullName                *string `json:"full_name"`
	DOB                     *string `json:"dob"`
	Gender                  *string `json:"gender"`
	Email                   *string `json:"email" validate:"omitempty,email"`
	Phone                   *string `json:"phone"`
	EHR                     *string `json:"ehr"`
	MRN                     *string `json:"mrn"`
	InsuranceProvider       *string `json:"insurance_provider"`
	InsuranceVerified       *bool   `json:"insurance_verified"`
	Time                    *string `json:"time"`
	ClinicName              *string `json:"clinicName"`
}

type Service struct {
	days     *DayRepository
	contacts patient.Dispatcher
	cfg      config.Config
	log      zerolog.Logger

	now         func() time.Time
	moveRetries int
}

func NewService(days *DayRepository, contacts patient.Dispatcher, cfg config.Config, log zerolog.Logger) *Service {
	return &Service{
		days:        days,
		contacts:    contacts,
		cfg:         cfg,
		log:         log.With().Str("component", "appointments").Logger(),
		now:         time.Now,
		moveRetries: 3,
	}
}

func doctorEmail(userID string) (string, error) {
	email := NormalizeEmail(userID)
	if email == "" {
		return "", ErrMissingDoctor
	}
	return email, nil
}

// dayOrToday parses date, falling back to the current UTC day when blank.
func (s *Service) dayOrToday(date string) (string, error) {
	if strings.TrimSpace(date) == "" {
		return dayOf(s.now()), nil
	}
	return ParseDay(date)
}

func (s *Service) newRecord(email, day string, in CreateInput) Record {
	rec := Record{
		AppointmentID:     strings.TrimSpace(in.AppointmentID),
		Type:              recordType,
		DoctorID:          in.DoctorID,
		DoctorEmail:       email,
		DoctorName:        in.DoctorName,
		Specialization:    in.Specialization,
		PatientID:         FlexString(in.PatientID),
		PracticeID:        FlexString(in.PracticeID),
		FirstName:         in.FirstName,
		MiddleName:        in.MiddleName,
		LastName:          in.LastName,
		FullName:          in.FullName,
		DOB:               in.DOB,
		Gender:            in.Gender,
		SSN:               in.PatientID,
		Email:             in.Email,
		Phone:             in.Phone,
		EHR:               in.EHR,
		MRN:               in.MRN,
		InsuranceProvider: in.InsuranceProvider,
		InsuranceVerified: in.InsuranceVerified,
		Status:            in.Status,
		Time:              in.Time,
		AppointmentDate:   day,
		ClinicName:        NormalizeClinicName(in.ClinicName),
	}
	if rec.AppointmentID == "" {
		rec.AppointmentID = NewAppointmentID()
	}
	if rec.Status == "" {
		rec.Status = StatusScheduled
	}
	if rec.PracticeID == "" {
		rec.PracticeID = FlexString(s.cfg.DefaultPracticeID)
	}
	if rec.FullName == "" {
		rec.FullName = strings.Join(strings.Fields(rec.FirstName+" "+rec.LastName), " ")
	}
	return rec
}

// Create books a new appointment on its day, creating the day document when
// it is the first booking for that date.
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*Record, error) {
	email, err := doctorEmail(userID)
	if err != nil {
		return nil, err
	}
	day, err := ParseDay(in.AppointmentDate)
	if err != nil {
		return nil, err
	}

	rec := s.newRecord(email, day, in)

	_, err = s.days.MutateDay(ctx, day, func(cur *DayDocument) ([]Record, error) {
		if cur.indexOf(rec.AppointmentID, email) >= 0 {
			return nil, ErrDuplicateAppointment
		}
		return append(cur.Entries, rec), nil
	})
	if err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}

	s.log.Info().
		Str("appointment_id", rec.AppointmentID).
		Str("doctor_email", email).
		Str("day", day).
		Msg("appointment created")

	return &rec, nil
}

// Delete removes the doctor's appointment from the day. A day with no
// document at all is an error, not a no-op.
func (s *Service) Delete(ctx context.Context, userID, appointmentID, date string) error {
	email, err := doctorEmail(userID)
	if err != nil {
		return err
	}
	day, err := s.dayOrToday(date)
	if err != nil {
		return err
	}

	_, err = s.days.MutateDay(ctx, day, func(cur *DayDocument) ([]Record, error) {
		if !cur.Exists() {
			return nil, ErrDayNotFound
		}
		kept, removed := cur.without(appointmentID, email)
		if removed == 0 {
			return nil, ErrRecordNotFound
		}
		return kept, nil
	})
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}

	s.log.Info().
		Str("appointment_id", appointmentID).
		Str("doctor_email", email).
		Str("day", day).
		Msg("appointment deleted")
	return nil
}

// Cancel marks the appointment cancelled. Cancelling twice keeps the first
// cancellation as it was.
func (s *Service) Cancel(ctx context.Context, userID, appointmentID, reason, date string) (*Record, error) {
	email, err := doctorEmail(userID)
	if err != nil {
		return nil, err
	}
	day, err := s.dayOrToday(date)
	if err != nil {
		return nil, err
	}

	var cancelled Record
	_, err = s.days.MutateDay(ctx, day, func(cur *DayDocument) ([]Record, error) {
		if !cur.Exists() {
			return nil, ErrDayNotFound
		}
		i := cur.indexOf(appointmentID, email)
		if i < 0 {
			return nil, ErrRecordNotFound
		}
		if cur.Entries[i].Status == StatusCancelled {
			cancelled = cur.Entries[i]
			return nil, errSkipWrite
		}

		entries := cur.Entries
		for j := range entries {
			if !entries[j].matches(appointmentID, email) {
				continue
			}
			entries[j].Status = StatusCancelled
			entries[j].CancelledAt = dayOf(s.now())
			entries[j].CancelledBy = email
			entries[j].CancelledReason = reason
			cancelled = entries[j]
		}
		return entries, nil
	})
	if err != nil {
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	s.log.Info().
		Str("appointment_id", appointmentID).
		Str("doctor_email", email).
		Str("day", day).
		Msg("appointment cancelled")
	return &cancelled, nil
}

// merged applies the patch to cur and returns the rescheduled record:
// cancellation is cleared and the date set to day.
func (in UpdateInput) merged(cur Record, day string) Record {
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&cur.DoctorID, in.DoctorID)
	set(&cur.DoctorName, in.DoctorName)
	set(&cur.Specialization, in.Specialization)
	set(&cur.FirstName, in.FirstName)
	set(&cur.MiddleName, in.MiddleName)
	set(&cur.LastName, in.LastName)
	set(&cur.FullName, in.FullName)
	set(&cur.DOB, in.DOB)
	set(&cur.Gender, in.Gender)
	set(&cur.Email, in.Email)
	set(&cur.Phone, in.Phone)
	set(&cur.EHR, in.EHR)
	set(&cur.MRN, in.MRN)
	set(&cur.InsuranceProvider, in.InsuranceProvider)
	set(&cur.Time, in.Time)
	if in.PatientID != nil {
		cur.PatientID = FlexString(*in.PatientID)
	}
	if in.InsuranceVerified != nil {
		cur.InsuranceVerified = *in.InsuranceVerified
	}
	if in.ClinicName != nil && NormalizeClinicName(*in.ClinicName) != "" {
		cur.ClinicName = NormalizeClinicName(*in.ClinicName)
	}

	cur.AppointmentDate = day
	cur.Status = StatusScheduled
	cur.CancelledAt = ""
	cur.CancelledBy = ""
	cur.CancelledReason = ""
	return cur
}

// Update edits the appointment found on in.OriginalAppointmentDate. A new
// date moves it to the other day document.
func (s *Service) Update(ctx context.Context, userID, appointmentID string, in UpdateInput) (*Record, error) {
	email, err := doctorEmail(userID)
	if err != nil {
		return nil, err
	}
	from, err := ParseDay(in.OriginalAppointmentDate)
	if err != nil {
		return nil, err
	}
	to := from
	if strings.TrimSpace(in.AppointmentDate) != "" {
		if to, err = ParseDay(in.AppointmentDate); err != nil {
			return nil, err
		}
	}

	var updated Record
	if from == to {
		_, err = s.days.MutateDay(ctx, from, func(cur *DayDocument) ([]Record, error) {
			if !cur.Exists() {
				return nil, ErrDayNotFound
			}
			entries := cur.Entries
			found := false
			for i := range entries {
				if entries[i].matches(appointmentID, email) {
					entries[i] = in.merged(entries[i], to)
					updated = entries[i]
					found = true
				}
			}
			if !found {
				return nil, ErrRecordNotFound
			}
			return entries, nil
		})
	} else {
		updated, err = s.move(ctx, email, appointmentID, from, to, in)
	}
	if err != nil {
		return nil, fmt.Errorf("update appointment: %w", err)
	}

	s.log.Info().
		Str("appointment_id", appointmentID).
		Str("doctor_email", email).
		Str("from", from).
		Str("to", to).
		Msg("appointment updated")

	s.syncContact(ctx, updated)
	return &updated, nil
}

// move places the updated copy on the target day first and only then
// removes the source copy. Both steps are idempotent: repeating the same
// update after a failure converges on exactly one copy on the target day.
// A failure between the steps leaves a duplicate, never a loss.
func (s *Service) move(ctx context.Context, email, appointmentID, from, to string, in UpdateInput) (Record, error) {
	src, err := s.days.LoadDay(ctx, from)
	if err != nil {
		return Record{}, err
	}
	i := src.indexOf(appointmentID, email)
	if i < 0 {
		// a repeat of a move that already completed answers with the target copy
		if done, ok, err := s.findOn(ctx, to, appointmentID, email); err != nil || ok {
			return done, err
		}
		if !src.Exists() {
			return Record{}, ErrDayNotFound
		}
		return Record{}, ErrRecordNotFound
	}
	moved := in.merged(src.Entries[i], to)

	_, err = s.days.MutateDay(ctx, to, func(cur *DayDocument) ([]Record, error) {
		entries := cur.Entries
		if j := cur.indexOf(appointmentID, email); j >= 0 {
			entries[j] = moved
			return entries, nil
		}
		return append(entries, moved), nil
	})
	if err != nil {
		return Record{}, fmt.Errorf("place appointment on %s: %w", to, err)
	}

	var lastErr error
	for attempt := 1; attempt <= s.moveRetries; attempt++ {
		_, lastErr = s.days.MutateDay(ctx, from, func(cur *DayDocument) ([]Record, error) {
			kept, removed := cur.without(appointmentID, email)
			if removed == 0 {
				return nil, errSkipWrite
			}
			return kept, nil
		})
		if lastErr == nil {
			return moved, nil
		}
		if ctx.Err() != nil {
			break
		}
		s.log.Warn().
			Err(lastErr).
			Str("appointment_id", appointmentID).
			Str("from", from).
			Int("attempt", attempt).
			Msg("removing moved appointment from source day failed")
	}

	s.log.Error().
		Err(lastErr).
		Str("appointment_id", appointmentID).
		Str("from", from).
		Str("to", to).
		Msg("appointment present on both days after move")
	return Record{}, fmt.Errorf("%w: copied to %s but still on %s: %w", ErrPartialMove, to, from, lastErr)
}

func (s *Service) findOn(ctx context.Context, day, appointmentID, email string) (Record, bool, error) {
	d, err := s.days.LoadDay(ctx, day)
	if err != nil {
		return Record{}, false, err
	}
	if i := d.indexOf(appointmentID, email); i >= 0 {
		return d.Entries[i], true, nil
	}
	return Record{}, false, nil
}

func (s *Service) syncContact(ctx context.Context, rec Record) {
	if s.contacts == nil {
		return
	}
	if err := s.contacts.Dispatch(ctx, ContactFromRecord(rec)); err != nil {
		s.log.Warn().
			Err(err).
			Str("appointment_id", rec.AppointmentID).
			Msg("patient contact follow-up not dispatched")
	}
}

// ContactFromRecord extracts the patient contact fields of an appointment.
func ContactFromRecord(rec Record) patient.Contact {
	return patient.Contact{
		FirstName:  rec.FirstName,
		MiddleName: rec.MiddleName,
		LastName:   rec.LastName,
		DOB:        rec.DOB,
		Gender:     rec.Gender,
		Email:      rec.Email,
		Phone:      rec.Phone,
		EHR:        rec.EHR,
		MRN:        rec.MRN,
		ClinicName: rec.ClinicName,
	}.Normalize()
}

// Get returns one appointment of the doctor on the given day.
func (s *Service) Get(ctx context.Context, userID, appointmentID, date string) (*Record, error) {
	email, err := doctorEmail(userID)
	if err != nil {
		return nil, err
	}
	day, err := s.dayOrToday(date)
	if err != nil {
		return nil, err
	}

	d, err := s.days.LoadDay(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	if !d.Exists() {
		return nil, ErrDayNotFound
	}
	i := d.indexOf(appointmentID, email)
	if i < 0 {
		return nil, ErrRecordNotFound
	}
	rec := d.Entries[i]
	return &rec, nil
}

// ListDay returns every appointment on the day; an unknown day is empty.
func (s *Service) ListDay(ctx context.Context, date string) ([]Record, error) {
	day, err := ParseDay(date)
	if err != nil {
		return nil, err
	}
	d, err := s.days.LoadDay(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("list day: %w", err)
	}
	if d.Entries == nil {
		return []Record{}, nil
	}
	return d.Entries, nil
}
