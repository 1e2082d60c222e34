package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-store/internal/appointment"
	"github.com/hackgods/clinic-appointment-store/internal/config"
	"github.com/hackgods/clinic-appointment-store/internal/db"
	"github.com/hackgods/clinic-appointment-store/internal/logger"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

type doctor struct {
	id, name, email, specialty, clinic string
}

func main() {
	var (
		doctorCount = flag.Int("doctors", 20, "number of doctors")
		dayCount    = flag.Int("days", 14, "number of consecutive days to fill")
		perDay      = flag.Int("per-day", 25, "appointments per day")
		start       = flag.String("start", time.Now().UTC().Format("2006-01-02"), "first day (YYYY-MM-DD)")
		seed        = flag.Uint64("seed", 0, "faker seed, 0 for random")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		zerolog.New(os.Stderr).Fatal().Err(err).Msg("config load error")
	}
	log := logger.New(cfg.Env, cfg.LogLevel, "seed")

	first, err := time.Parse("2006-01-02", *start)
	if err != nil {
		log.Fatal().Err(err).Str("start", *start).Msg("invalid start day")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	st, err := db.OpenStore(ctx, cfg)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("store connection error")
	}
	defer st.Close()

	// seeding is single-writer, no day locks needed
	days := appointment.NewDayRepository(st, cfg.AppointmentsCollection, nil, cfg.DayWriteRetries, log)
	svc := appointment.NewService(days, nil, cfg, zerolog.Nop())

	faker := gofakeit.New(*seed)
	doctors := makeDoctors(faker, *doctorCount)

	log.Info().
		Int("doctors", len(doctors)).
		Int("days", *dayCount).
		Int("per_day", *perDay).
		Msg("seed starting")

	created := 0
	for d := 0; d < *dayCount; d++ {
		day := first.AddDate(0, 0, d).Format("2006-01-02")
		for i := 0; i < *perDay; i++ {
			doc := doctors[faker.Number(0, len(doctors)-1)]
			if _, err := svc.Create(context.Background(), doc.email, fakeAppointment(faker, doc, day)); err != nil {
				log.Fatal().Err(err).Str("day", day).Msg("seed appointment")
			}
			created++
		}
		log.Info().Str("day", day).Int("created", created).Msg("day seeded")
	}

	log.Info().Int("appointments", created).Msg("seed complete")
}

func makeDoctors(faker *gofakeit.Faker, count int) []doctor {
	clinics := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		clinics = append(clinics, faker.Street()+" Clinic")
	}

	doctors := make([]doctor, 0, count)
	for i := 0; i < count; i++ {
		first, last := faker.FirstName(), faker.LastName()
		doctors = append(doctors, doctor{
			id:        faker.UUID(),
			name:      fmt.Sprintf("Dr. %s %s", first, last),
			email:     fmt.Sprintf("%s.%s%d@clinic.example.com", first, last, i),
			specialty: faker.RandomString(specialties),
			clinic:    faker.RandomString(clinics),
		})
	}
	return doctors
}

func fakeAppointment(faker *gofakeit.Faker, doc doctor, day string) appointment.CreateInput {
	dob := faker.DateRange(time.Now().AddDate(-90, 0, 0), time.Now().AddDate(-1, 0, 0))
	return appointment.CreateInput{
		AppointmentDate:   day,
		DoctorID:          doc.id,
		DoctorName:        doc.name,
		Specialization:    doc.specialty,
		PatientID:         fmt.Sprintf("%09d", faker.Number(100000000, 999999999)),
		FirstName:         faker.FirstName(),
		LastName:          faker.LastName(),
		DOB:               dob.Format("2006-01-02"),
		Gender:            faker.Gender(),
		Email:             faker.Email(),
		Phone:             faker.Phone(),
		MRN:               fmt.Sprintf("MRN%07d", faker.Number(0, 9999999)),
		InsuranceProvider: faker.Company(),
		InsuranceVerified: faker.Bool(),
		Time:              fmt.Sprintf("%02d:%02d", faker.Number(8, 17), faker.RandomInt([]int{0, 15, 30, 45})),
		ClinicName:        doc.clinic,
	}
}
