// Command slotgen extends the doctors' bookable calendar in Postgres.
//
//	slotgen -from 2026-03-02 -days 30 -doctors smith,chen
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/wolfman30/clinic-booking-agent/internal/app/bootstrap"
	appconfig "github.com/wolfman30/clinic-booking-agent/internal/config"
	"github.com/wolfman30/clinic-booking-agent/internal/scheduling"
	"github.com/wolfman30/clinic-booking-agent/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	var (
		from    = flag.String("from", "", "first day to generate (YYYY-MM-DD, clinic time); defaults to today")
		days    = flag.Int("days", cfg.SlotHorizonDays, "number of days to generate")
		doctors = flag.String("doctors", strings.Join(cfg.Doctors, ","), "comma-separated doctor ids")
	)
	flag.Parse()

	logger := logging.New(cfg.LogLevel)
	start, err := parseFrom(*from, cfg.Location(), time.Now())
	if err != nil {
		log.Fatalf("invalid -from: %v", err)
	}
	ids := splitIDs(*doctors)
	if len(ids) == 0 || *days <= 0 {
		log.Fatal("need at least one doctor and a positive -days")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := bootstrap.BuildPool(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	if pool == nil {
		log.Fatal("DATABASE_URL is required")
	}
	defer pool.Close()

	engine := scheduling.NewEngine(scheduling.NewPostgresStore(pool), logger)
	n, err := engine.Seed(ctx, scheduling.DefaultDoctors(ids), start, *days)
	if err != nil {
		log.Fatalf("seed: %v", err)
	}
	fmt.Printf("added %d slots for %d doctors from %s over %d days\n", n, len(ids), start.Format(scheduling.DateLayout), *days)
}

func parseFrom(value string, loc *time.Location, now time.Time) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return now.In(loc), nil
	}
	return time.ParseInLocation(scheduling.DateLayout, strings.TrimSpace(value), loc)
}

func splitIDs(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if id := strings.ToLower(strings.TrimSpace(part)); id != "" {
			out = append(out, id)
		}
	}
	return out
}
