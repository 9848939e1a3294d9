// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The motorstat Authors

package motorsim

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/rmctl/motorstat/pkg/can"
	"github.com/rmctl/motorstat/pkg/djimotor"
)

func controlFrame(id uint32, cmds [4]int16) can.Frame {
	var data [8]byte
	for i, c := range cmds {
		data[2*i] = byte(uint16(c) >> 8)
		data[2*i+1] = byte(c)
	}
	return can.NewFrame(id, data[:])
}

func TestNew(t *testing.T) {
	Convey("Constructing a simulator", t, func() {
		a, _ := can.NewLoopback("sim", 16)

		Convey("rejects a nil bus", func() {
			_, err := New(nil)
			So(err, ShouldEqual, djimotor.ErrNilBus)
		})

		Convey("rejects IDs outside 1..8", func() {
			_, err := New(a, djimotor.Slot{Type: djimotor.M3508, ID: 9})
			So(err, ShouldWrap, djimotor.ErrInvalidMotorID)
		})

		Convey("rejects unknown types", func() {
			_, err := New(a, djimotor.Slot{Type: djimotor.MotorType(7), ID: 1})
			So(err, ShouldWrap, djimotor.ErrUnknownMotorType)
		})

		Convey("rejects duplicate slots", func() {
			slot := djimotor.Slot{Type: djimotor.GM6020, ID: 2}
			_, err := New(a, slot, slot)
			So(err, ShouldWrap, djimotor.ErrDuplicateMotorID)
		})

		Convey("starts at rest and ambient temperature", func() {
			slot := djimotor.Slot{Type: djimotor.M2006, ID: 1}
			sim, err := New(a, slot)
			So(err, ShouldBeNil)
			fb, ok := sim.Feedback(slot)
			So(ok, ShouldBeTrue)
			So(fb.RPM, ShouldEqual, 0)
			So(fb.Current, ShouldEqual, 0)
			So(fb.Temperature, ShouldEqual, 25)
		})
	})
}

func TestHandle(t *testing.T) {
	Convey("Control frames set the command of the addressed slot", t, func() {
		a, _ := can.NewLoopback("sim", 16)
		yaw := djimotor.Slot{Type: djimotor.GM6020, ID: 1}
		wheel := djimotor.Slot{Type: djimotor.M3508, ID: 6}
		sim, err := New(a, yaw, wheel)
		So(err, ShouldBeNil)

		So(sim.Handle(controlFrame(0x1FF, [4]int16{1000, 0, 0, 0})), ShouldBeTrue)
		So(sim.Handle(controlFrame(0x1FF, [4]int16{0, 2000, 0, 0})), ShouldBeTrue)
		So(sim.motors[0].command, ShouldEqual, 0)
		So(sim.motors[1].command, ShouldEqual, 2000)

		Convey("Frames for nobody are ignored", func() {
			So(sim.Handle(controlFrame(0x2FF, [4]int16{1, 2, 3, 4})), ShouldBeFalse)
			So(sim.Handle(can.Frame{ID: 0x1FF, RTR: true}), ShouldBeFalse)
			So(sim.Handle(can.NewFrame(0x1FF, []byte{1, 2})), ShouldBeFalse)
		})
	})
}

func TestStep(t *testing.T) {
	Convey("Under a constant command", t, func() {
		a, _ := can.NewLoopback("sim", 16)
		slot := djimotor.Slot{Type: djimotor.M3508, ID: 1}
		sim, _ := New(a, slot)
		sim.Handle(controlFrame(0x200, [4]int16{8192, 0, 0, 0}))

		for i := 0; i < 2000; i++ {
			sim.Step(time.Millisecond)
		}
		fb, _ := sim.Feedback(slot)

		Convey("current settles on the command", func() {
			So(fb.Current, ShouldEqual, 8192)
		})

		Convey("speed approaches half the no-load speed", func() {
			So(fb.RPM, ShouldAlmostEqual, 4500, 10)
		})

		Convey("the motor warms up", func() {
			So(fb.Temperature, ShouldBeGreaterThan, 25)
			So(fb.Temperature, ShouldBeLessThan, djimotor.MaxTemperature)
		})

		Convey("the encoder stays within one revolution", func() {
			So(fb.Encoder, ShouldBeLessThan, djimotor.EncoderResolution)
		})
	})

	Convey("A reversed command spins backwards", t, func() {
		a, _ := can.NewLoopback("sim", 16)
		slot := djimotor.Slot{Type: djimotor.GM6020, ID: 5}
		sim, _ := New(a, slot)
		sim.Handle(controlFrame(0x2FF, [4]int16{-30000, 0, 0, 0}))

		for i := 0; i < 1000; i++ {
			sim.Step(time.Millisecond)
		}
		fb, _ := sim.Feedback(slot)
		So(fb.RPM, ShouldBeLessThan, -300)
		So(fb.Encoder, ShouldBeLessThan, djimotor.EncoderResolution)
	})
}

func TestPublish(t *testing.T) {
	Convey("Publish sends one feedback frame per motor", t, func() {
		a, b := can.NewLoopback("sim", 16)
		yaw := djimotor.Slot{Type: djimotor.GM6020, ID: 3}
		wheel := djimotor.Slot{Type: djimotor.M2006, ID: 2}
		sim, _ := New(a, yaw, wheel)

		So(sim.Publish(), ShouldBeNil)

		first, err := b.Receive()
		So(err, ShouldBeNil)
		So(first.ID, ShouldEqual, 0x208)
		second, err := b.Receive()
		So(err, ShouldBeNil)
		So(second.ID, ShouldEqual, 0x202)
		So(djimotor.DecodeFeedback(second.Data).Temperature, ShouldEqual, 25)

		Convey("and reports every failure once the bus is closed", func() {
			a.Close()
			err := sim.Publish()
			So(err, ShouldNotBeNil)
			So(err, ShouldWrap, can.ErrClosed)
		})
	})
}

func TestRun(t *testing.T) {
	Convey("A running simulator answers a registry", t, func() {
		host, motors := can.NewLoopback("sim", 256)
		sim, _ := New(motors, djimotor.Slot{Type: djimotor.M3508, ID: 1})

		reg := djimotor.NewRegistry()
		m, err := djimotor.NewMotor(reg, host, djimotor.M3508, 1)
		So(err, ShouldBeNil)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- sim.Run(ctx, 500) }()

		m.SetCurrent(4000)
		So(reg.SendAll(), ShouldBeNil)

		handler := reg.Handler(host)
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) && m.Feedback().Current == 0 {
			frame, err := host.Receive()
			if err != nil {
				break
			}
			handler(frame)
		}
		So(m.Feedback().Current, ShouldBeGreaterThan, 0)

		cancel()
		So(<-done, ShouldBeNil)
	})
}
