package sync

import (
	"testing"
	"time"

	"cloud.google.com/go/civil"
)

func TestPlanSync(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	datePtr := func(d civil.Date) *civil.Date { return &d }

	tests := []struct {
		name     string
		lastDate *civil.Date
		force    bool
		wantMode Mode
		wantFrom *civil.Date
	}{
		{
			name:     "force always full",
			lastDate: datePtr(civil.Date{Year: 2024, Month: 3, Day: 14}),
			force:    true,
			wantMode: ModeFull,
		},
		{
			name:     "no history full",
			lastDate: nil,
			wantMode: ModeFull,
		},
		{
			name:     "recent history incremental from next day",
			lastDate: datePtr(civil.Date{Year: 2024, Month: 3, Day: 14}),
			wantMode: ModeIncremental,
			wantFrom: datePtr(civil.Date{Year: 2024, Month: 3, Day: 15}),
		},
		{
			name:     "stale history promoted to full",
			lastDate: datePtr(civil.Date{Year: 2024, Month: 3, Day: 10}),
			wantMode: ModeAutoFull,
		},
		{
			name:     "just past threshold promoted",
			lastDate: datePtr(civil.Date{Year: 2024, Month: 3, Day: 13}),
			wantMode: ModeAutoFull,
		},
		{
			name:     "force wins over no history",
			lastDate: nil,
			force:    true,
			wantMode: ModeFull,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := PlanSync(tt.lastDate, tt.force, now)
			if plan.Mode != tt.wantMode {
				t.Errorf("Mode = %q, want %q", plan.Mode, tt.wantMode)
			}
			if tt.wantFrom == nil {
				if plan.From != nil {
					t.Errorf("From = %v, want nil", *plan.From)
				}
				return
			}
			if plan.From == nil {
				t.Fatalf("From = nil, want %v", *tt.wantFrom)
			}
			if *plan.From != *tt.wantFrom {
				t.Errorf("From = %v, want %v", *plan.From, *tt.wantFrom)
			}
		})
	}
}

func TestPlanSync_MonthRollover(t *testing.T) {
	now := time.Date(2024, 4, 1, 8, 0, 0, 0, time.UTC)
	last := civil.Date{Year: 2024, Month: 3, Day: 31}

	plan := PlanSync(&last, false, now)
	if plan.Mode != ModeIncremental {
		t.Fatalf("Mode = %q, want %q", plan.Mode, ModeIncremental)
	}
	want := civil.Date{Year: 2024, Month: 4, Day: 1}
	if plan.From == nil || *plan.From != want {
		t.Errorf("From = %v, want %v", plan.From, want)
	}
}
