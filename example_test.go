package telemetra_test

import (
	"context"
	"fmt"
	"time"

	"github.com/telemetra-db/telemetra"
)

func Example() {
	store, err := telemetra.Open(telemetra.DefaultConfig())
	if err != nil {
		panic(err)
	}
	defer store.Close()

	ctx := context.Background()
	now := time.Now()

	result, err := store.Append(ctx, []telemetra.Reading{
		telemetra.FloatReading("inv-01", "power_ac", now.Add(-2*time.Minute), 4180.0),
		telemetra.FloatReading("inv-01", "power_ac", now.Add(-time.Minute), 4213.5),
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("Accepted %d readings\n", result.Accepted)

	latest, err := store.Latest("inv-01", "power_ac")
	if err != nil {
		panic(err)
	}
	fmt.Printf("Latest: %.1f\n", latest.Value)
	// Output:
	// Accepted 2 readings
	// Latest: 4213.5
}

func ExampleStore_Range() {
	store, _ := telemetra.Open(telemetra.DefaultConfig())
	defer store.Close()

	ctx := context.Background()
	base := time.Now().Add(-30 * time.Minute).Truncate(time.Minute)
	var batch []telemetra.Reading
	for i := 0; i < 10; i++ {
		batch = append(batch, telemetra.FloatReading("inv-01", "voltage_dc",
			base.Add(time.Duration(i)*time.Minute), 600+float64(i)))
	}
	store.Append(ctx, batch)

	// A narrow window is served from raw readings.
	page, err := store.Range(ctx, telemetra.NewRangeQuery("inv-01", "voltage_dc",
		base.UnixNano(), base.Add(time.Hour).UnixNano()))
	if err != nil {
		panic(err)
	}
	fmt.Printf("Resolution: %s\n", page.Resolution)
	fmt.Printf("Readings: %d\n", len(page.Raw))
	// Output:
	// Resolution: raw
	// Readings: 10
}

func ExampleStore_CumulativeDelta() {
	store, _ := telemetra.Open(telemetra.DefaultConfig())
	defer store.Close()

	ctx := context.Background()
	base := time.Now().Add(-time.Hour).Truncate(time.Hour)
	for i, v := range []float64{1000, 1020, 1040} {
		store.Append(ctx, []telemetra.Reading{
			telemetra.FloatReading("meter-07", "energy_total",
				base.Add(time.Duration(i)*time.Minute), v),
		})
	}

	delta, err := store.CumulativeDelta(ctx, "meter-07", "energy_total",
		base.UnixNano(), base.Add(time.Hour).UnixNano())
	if err != nil {
		panic(err)
	}
	fmt.Printf("Consumed: %.0f\n", delta.Delta)
	// Output: Consumed: 40
}

func ExampleDefaultConfig() {
	cfg := telemetra.DefaultConfig()

	fmt.Printf("Classes: %d\n", len(cfg.Classes))
	fmt.Printf("Crossover: %s\n", cfg.Query.CrossoverWindow)
	// Output:
	// Classes: 2
	// Crossover: 6h0m0s
}
