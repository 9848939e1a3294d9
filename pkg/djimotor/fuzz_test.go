// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The motorstat Authors

package djimotor

import (
	"math"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/rmctl/motorstat/pkg/can"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// randomCurrent mixes in-range values, edge values and large out-of-range values
func randomCurrent(rng *rand.Rand, bound int32) int32 {
	switch rng.Intn(4) {
	case 0:
		return rng.Int31n(2*bound+1) - bound
	case 1:
		edges := []int32{0, bound, -bound, bound + 1, -bound - 1, math.MaxInt32, math.MinInt32}
		return edges[rng.Intn(len(edges))]
	default:
		return int32(rng.Uint32())
	}
}

func TestFuzz_SetCurrentClamps(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	reg := NewRegistry()
	bus := newRecordingBus("can0")
	var motors []*Motor
	for _, typ := range MotorTypes() {
		for id := uint8(MinMotorID); id <= MaxMotorID; id++ {
			m, err := NewMotor(reg, bus, typ, id)
			if err != nil {
				t.Fatalf("NewMotor(%s, %d) error = %v", typ, id, err)
			}
			motors = append(motors, m)
		}
	}

	for i := 0; i < rounds; i++ {
		m := motors[rng.Intn(len(motors))]
		bound := m.Type().Bound()
		x := randomCurrent(rng, bound)

		want := x
		if want > bound {
			want = bound
		}
		if want < -bound {
			want = -bound
		}

		m.SetCurrent(x)
		if got := int32(m.Command()); got != want {
			t.Fatalf("round %d: %s#%d SetCurrent(%d) stored %d, want %d", i, m.Type(), m.ID(), x, got, want)
		}
	}
}

func TestFuzz_DecodeFeedback(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for i := 0; i < rounds; i++ {
		var data [8]byte
		rng.Read(data[:])

		fb := DecodeFeedback(data)
		if fb.Encoder != uint16(data[0])<<8|uint16(data[1]) {
			t.Fatalf("round %d: encoder %d from % X", i, fb.Encoder, data)
		}
		if uint16(fb.RPM) != uint16(data[2])<<8|uint16(data[3]) {
			t.Fatalf("round %d: rpm %d from % X", i, fb.RPM, data)
		}
		if uint16(fb.Current) != uint16(data[4])<<8|uint16(data[5]) {
			t.Fatalf("round %d: current %d from % X", i, fb.Current, data)
		}
		if fb.Temperature != data[6] {
			t.Fatalf("round %d: temperature %d from % X", i, fb.Temperature, data)
		}

		// reserved byte has no effect
		data[7] ^= 0xFF
		again := DecodeFeedback(data)
		if again != fb {
			t.Fatalf("round %d: reserved byte changed decode: %+v vs %+v", i, again, fb)
		}
	}
}

func TestFuzz_DispatchRandomFrames(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	reg := NewRegistry(WithStatistics(NewStatistics()))
	bus := newRecordingBus("can0")
	m, err := NewMotor(reg, bus, GM6020, 1)
	if err != nil {
		t.Fatalf("NewMotor() error = %v", err)
	}

	for i := 0; i < rounds; i++ {
		frame := can.Frame{ID: uint32(rng.Intn(can.MaxStandardID + 1)), Len: uint8(rng.Intn(9))}
		rng.Read(frame.Data[:])
		before := m.Feedback()

		matched := reg.Dispatch(bus, frame)
		wantMatch := frame.ID == m.RxID() && frame.Len == 8
		if matched != wantMatch {
			t.Fatalf("round %d: Dispatch(%v) = %v, want %v", i, frame, matched, wantMatch)
		}
		if !matched && m.Feedback() != before {
			t.Fatalf("round %d: unmatched frame %v changed feedback", i, frame)
		}
	}

	stats := reg.Statistics()
	if stats.TotalFrames != uint64(rounds) {
		t.Errorf("TotalFrames = %d, want %d", stats.TotalFrames, rounds)
	}
	if stats.FeedbackFrames+stats.UnmatchedFrames != stats.TotalFrames {
		t.Errorf("feedback %d + unmatched %d != total %d", stats.FeedbackFrames, stats.UnmatchedFrames, stats.TotalFrames)
	}
}
