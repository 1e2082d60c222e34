package appointment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

func strPtr(s string) *string { return &s }

func TestService_CreateDefaults(t *testing.T) {
	svc, repo, _ := newTestService(t, newTestStore(t))

	rec, err := svc.Create(context.Background(), " Doctor@Example.com ", CreateInput{
		AppointmentDate: "2024-06-01",
		FirstName:       "Ada",
		LastName:        "Lovelace",
		PatientID:       "555",
		ClinicName:      "  Main   Street ",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(rec.AppointmentID) != 24 {
		t.Errorf("expected generated id, got %q", rec.AppointmentID)
	}
	if rec.DoctorEmail != "doctor@example.com" {
		t.Errorf("expected normalized doctor email, got %q", rec.DoctorEmail)
	}
	if rec.Status != StatusScheduled {
		t.Errorf("expected scheduled, got %q", rec.Status)
	}
	if rec.PracticeID != "12345" {
		t.Errorf("expected default practice id, got %q", rec.PracticeID)
	}
	if rec.FullName != "Ada Lovelace" || rec.SSN != "555" {
		t.Errorf("unexpected derived fields: full=%q ssn=%q", rec.FullName, rec.SSN)
	}
	if rec.ClinicName != "Main Street" {
		t.Errorf("expected normalized clinic name, got %q", rec.ClinicName)
	}
	if n := countOnDay(t, repo, "2024-06-01", rec.AppointmentID); n != 1 {
		t.Errorf("expected one stored copy, got %d", n)
	}
}

func TestService_CreateRejects(t *testing.T) {
	svc, _, _ := newTestService(t, newTestStore(t))
	ctx := context.Background()

	if _, err := svc.Create(ctx, "", CreateInput{AppointmentDate: "2024-06-01"}); !errors.Is(err, ErrMissingDoctor) {
		t.Errorf("expected ErrMissingDoctor, got %v", err)
	}
	if _, err := svc.Create(ctx, "d@x.com", CreateInput{AppointmentDate: "June 1"}); !errors.Is(err, ErrInvalidDate) {
		t.Errorf("expected ErrInvalidDate, got %v", err)
	}

	in := CreateInput{AppointmentID: "A", AppointmentDate: "2024-06-01"}
	if _, err := svc.Create(ctx, "d@x.com", in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Create(ctx, "D@X.com", in); !errors.Is(err, ErrDuplicateAppointment) {
		t.Errorf("expected ErrDuplicateAppointment, got %v", err)
	}
	// same id under another doctor is a different appointment
	if _, err := svc.Create(ctx, "other@x.com", in); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestService_CreateThenListByDoctor(t *testing.T) {
	st := newTestStore(t)
	svc, _, _ := newTestService(t, st)
	proj := NewProjector(st, testCollection, zerolog.Nop())
	ctx := context.Background()

	rec, err := svc.Create(ctx, "doctor@example.com", CreateInput{AppointmentDate: "2024-06-03", Time: "10:00"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rows, err := proj.ByDoctorEmails(ctx, []string{"DOCTOR@example.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].ID != rec.AppointmentID || rows[0].AppointmentDate != "2024-06-03" || rows[0].Time != "10:00" {
		t.Errorf("unexpected row %+v", rows[0])
	}
}

func TestService_DeleteOnlyTargetsDoctor(t *testing.T) {
	st := newTestStore(t)
	svc, repo, _ := newTestService(t, st)
	ctx := context.Background()

	putRawDay(t, st, "2024-06-01", `{"id":"2024-06-01","data":[
		{"id":"A","doctor_email":"doctor@example.com","status":"scheduled"},
		{"id":"A","doctor_email":"other@example.com","status":"scheduled"}
	]}`)

	if err := svc.Delete(ctx, "doctor@example.com", "A", "2024-06-01"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d, _ := repo.LoadDay(ctx, "2024-06-01")
	if len(d.Entries) != 1 || d.Entries[0].DoctorEmail != "other@example.com" {
		t.Fatalf("expected only other@example.com's record to remain, got %+v", d.Entries)
	}

	if err := svc.Delete(ctx, "doctor@example.com", "A", "2024-06-01"); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound, got %v", err)
	}
	if err := svc.Delete(ctx, "doctor@example.com", "A", "2024-07-01"); !errors.Is(err, ErrDayNotFound) {
		t.Errorf("expected ErrDayNotFound, got %v", err)
	}
}

func TestService_DeleteDefaultsToToday(t *testing.T) {
	svc, repo, _ := newTestService(t, newTestStore(t))
	ctx := context.Background()

	rec, err := svc.Create(ctx, "d@x.com", CreateInput{AppointmentDate: "2024-06-01"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := svc.Delete(ctx, "d@x.com", rec.AppointmentID, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := countOnDay(t, repo, "2024-06-01", rec.AppointmentID); n != 0 {
		t.Errorf("expected record gone, got %d copies", n)
	}
}

func TestService_CancelIsIdempotent(t *testing.T) {
	svc, repo, _ := newTestService(t, newTestStore(t))
	ctx := context.Background()

	rec, err := svc.Create(ctx, "d@x.com", CreateInput{AppointmentDate: "2024-06-01"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	first, err := svc.Cancel(ctx, "d@x.com", rec.AppointmentID, "patient sick", "2024-06-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Status != StatusCancelled || first.CancelledBy != "d@x.com" || first.CancelledAt != "2024-06-01" || first.CancelledReason != "patient sick" {
		t.Errorf("unexpected cancellation %+v", first)
	}
	before, _ := repo.LoadDay(ctx, "2024-06-01")

	second, err := svc.Cancel(ctx, "d@x.com", rec.AppointmentID, "changed my mind", "2024-06-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.CancelledReason != "patient sick" {
		t.Errorf("expected first cancellation kept, got reason %q", second.CancelledReason)
	}
	after, _ := repo.LoadDay(ctx, "2024-06-01")
	if after.Version != before.Version {
		t.Errorf("expected no write on repeat cancel, version %d -> %d", before.Version, after.Version)
	}
}

func TestService_CancelMissing(t *testing.T) {
	svc, _, _ := newTestService(t, newTestStore(t))
	ctx := context.Background()

	if _, err := svc.Cancel(ctx, "d@x.com", "nope", "", "2024-06-01"); !errors.Is(err, ErrDayNotFound) {
		t.Errorf("expected ErrDayNotFound, got %v", err)
	}
	if _, err := svc.Create(ctx, "d@x.com", CreateInput{AppointmentDate: "2024-06-01"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Cancel(ctx, "d@x.com", "nope", "", "2024-06-01"); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestService_UpdateSameDayReschedules(t *testing.T) {
	svc, repo, contacts := newTestService(t, newTestStore(t))
	ctx := context.Background()

	rec, err := svc.Create(ctx, "d@x.com", CreateInput{AppointmentDate: "2024-06-01", FirstName: "Ada", Phone: "555-0100", ClinicName: "Main Street"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Cancel(ctx, "d@x.com", rec.AppointmentID, "sick", "2024-06-01"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	updated, err := svc.Update(ctx, "d@x.com", rec.AppointmentID, UpdateInput{
		OriginalAppointmentDate: "2024-06-01",
		Phone:                   strPtr("555-0199"),
		ClinicName:              strPtr("   "),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != StatusScheduled || updated.CancelledAt != "" || updated.CancelledReason != "" {
		t.Errorf("expected cancellation cleared, got %+v", updated)
	}
	if updated.Phone != "555-0199" || updated.FirstName != "Ada" {
		t.Errorf("expected patched phone and kept name, got %+v", updated)
	}
	if updated.ClinicName != "Main Street" {
		t.Errorf("expected blank clinic to keep the stored one, got %q", updated.ClinicName)
	}
	if n := countOnDay(t, repo, "2024-06-01", rec.AppointmentID); n != 1 {
		t.Errorf("expected one copy, got %d", n)
	}
	if contacts.count() != 1 {
		t.Errorf("expected one contact follow-up, got %d", contacts.count())
	}
}

func TestService_UpdateMovesAcrossDays(t *testing.T) {
	svc, repo, contacts := newTestService(t, newTestStore(t))
	ctx := context.Background()

	rec, err := svc.Create(ctx, "d@x.com", CreateInput{AppointmentDate: "2024-06-01", Time: "09:00"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	moved, err := svc.Update(ctx, "d@x.com", rec.AppointmentID, UpdateInput{
		OriginalAppointmentDate: "2024-06-01",
		AppointmentDate:         "2024-06-02",
		Time:                    strPtr("14:00"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if moved.AppointmentDate != "2024-06-02" || moved.Time != "14:00" {
		t.Errorf("unexpected moved record %+v", moved)
	}
	if n := countOnDay(t, repo, "2024-06-01", rec.AppointmentID); n != 0 {
		t.Errorf("expected source copy removed, got %d", n)
	}
	if n := countOnDay(t, repo, "2024-06-02", rec.AppointmentID); n != 1 {
		t.Errorf("expected one target copy, got %d", n)
	}
	if contacts.count() != 1 {
		t.Errorf("expected one contact follow-up, got %d", contacts.count())
	}
}

func TestService_PartialMoveConvergesOnRetry(t *testing.T) {
	st := newTestStore(t)
	svc, repo, _ := newTestService(t, st)
	ctx := context.Background()

	rec, err := svc.Create(ctx, "d@x.com", CreateInput{AppointmentDate: "2024-06-01"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	in := UpdateInput{OriginalAppointmentDate: "2024-06-01", AppointmentDate: "2024-06-02"}

	st.setDown("2024-06-01", true)
	_, err = svc.Update(ctx, "d@x.com", rec.AppointmentID, in)
	if !errors.Is(err, ErrPartialMove) {
		t.Fatalf("expected ErrPartialMove, got %v", err)
	}
	// never lost: the record is on both days
	if n := countOnDay(t, repo, "2024-06-01", rec.AppointmentID); n != 1 {
		t.Errorf("expected source copy kept, got %d", n)
	}
	if n := countOnDay(t, repo, "2024-06-02", rec.AppointmentID); n != 1 {
		t.Errorf("expected target copy, got %d", n)
	}

	st.setDown("2024-06-01", false)
	if _, err := svc.Update(ctx, "d@x.com", rec.AppointmentID, in); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if n := countOnDay(t, repo, "2024-06-01", rec.AppointmentID); n != 0 {
		t.Errorf("expected source copy removed on retry, got %d", n)
	}
	if n := countOnDay(t, repo, "2024-06-02", rec.AppointmentID); n != 1 {
		t.Errorf("expected exactly one target copy after retry, got %d", n)
	}
}

func TestService_UpdateMissing(t *testing.T) {
	svc, _, contacts := newTestService(t, newTestStore(t))
	ctx := context.Background()

	in := UpdateInput{OriginalAppointmentDate: "2024-06-01", AppointmentDate: "2024-06-02"}
	if _, err := svc.Update(ctx, "d@x.com", "nope", in); !errors.Is(err, ErrDayNotFound) {
		t.Errorf("expected ErrDayNotFound, got %v", err)
	}

	if _, err := svc.Create(ctx, "d@x.com", CreateInput{AppointmentDate: "2024-06-01"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := svc.Update(ctx, "d@x.com", "nope", in); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound, got %v", err)
	}
	in.AppointmentDate = ""
	if _, err := svc.Update(ctx, "d@x.com", "nope", in); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound, got %v", err)
	}
	if contacts.count() != 0 {
		t.Errorf("expected no contact follow-up, got %d", contacts.count())
	}
}

func TestService_DoubleKeyIsolation(t *testing.T) {
	st := newTestStore(t)
	svc, repo, _ := newTestService(t, st)
	ctx := context.Background()

	putRawDay(t, st, "2024-06-01", `{"id":"2024-06-01","data":[
		{"id":"A","doctor_email":"doctor@example.com","status":"scheduled"},
		{"id":"A","doctor_email":"other@example.com","status":"scheduled"}
	]}`)

	if _, err := svc.Cancel(ctx, "doctor@example.com", "A", "", "2024-06-01"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d, _ := repo.LoadDay(ctx, "2024-06-01")
	for _, e := range d.Entries {
		want := StatusScheduled
		if e.DoctorEmail == "doctor@example.com" {
			want = StatusCancelled
		}
		if e.Status != want {
			t.Errorf("%s: expected %s, got %s", e.DoctorEmail, want, e.Status)
		}
	}
}

func TestService_ConcurrentCreatesAllSurvive(t *testing.T) {
	st := newTestStore(t)
	svc, repo, _ := newTestService(t, st)
	repo.attempts = 50
	ctx := context.Background()

	const writers = 20
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Create(ctx, fmt.Sprintf("doctor%d@x.com", i%3), CreateInput{
				AppointmentID:   fmt.Sprintf("appt-%02d", i),
				AppointmentDate: "2024-06-01",
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	d, _ := repo.LoadDay(ctx, "2024-06-01")
	if len(d.Entries) != writers {
		t.Fatalf("expected %d appointments, got %d", writers, len(d.Entries))
	}
}

func TestService_GetAndListDay(t *testing.T) {
	svc, _, _ := newTestService(t, newTestStore(t))
	ctx := context.Background()

	rec, err := svc.Create(ctx, "d@x.com", CreateInput{AppointmentDate: "2024-06-01"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := svc.Get(ctx, "D@x.com", rec.AppointmentID, "2024-06-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.AppointmentID != rec.AppointmentID {
		t.Errorf("expected %s, got %s", rec.AppointmentID, got.AppointmentID)
	}
	if _, err := svc.Get(ctx, "other@x.com", rec.AppointmentID, "2024-06-01"); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("expected not found, got %v", err)
	}

	list, err := svc.ListDay(ctx, "2024-06-01")
	if err != nil || len(list) != 1 {
		t.Errorf("expected one appointment, got %d (%v)", len(list), err)
	}
	empty, err := svc.ListDay(ctx, "2030-01-01")
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("expected empty non-nil list, got %v (%v)", empty, err)
	}
}

func TestService_RepeatedMoveAnswersWithTargetCopy(t *testing.T) {
	svc, repo, _ := newTestService(t, newTestStore(t))
	ctx := context.Background()

	rec, err := svc.Create(ctx, "d@x.com", CreateInput{AppointmentDate: "2024-06-01"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	in := UpdateInput{OriginalAppointmentDate: "2024-06-01", AppointmentDate: "2024-06-02", Time: strPtr("15:00")}

	first, err := svc.Update(ctx, "d@x.com", rec.AppointmentID, in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	again, err := svc.Update(ctx, "d@x.com", rec.AppointmentID, in)
	if err != nil {
		t.Fatalf("repeat of a completed move failed: %v", err)
	}
	if again.AppointmentID != first.AppointmentID || again.AppointmentDate != "2024-06-02" || again.Time != "15:00" {
		t.Errorf("expected the target copy, got %+v", again)
	}
	if n := countOnDay(t, repo, "2024-06-02", rec.AppointmentID); n != 1 {
		t.Errorf("expected exactly one target copy, got %d", n)
	}
	if n := countOnDay(t, repo, "2024-06-01", rec.AppointmentID); n != 0 {
		t.Errorf("expected no source copy, got %d", n)
	}
}
