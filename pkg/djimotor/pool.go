// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The motorstat Authors

package djimotor

import (
	"encoding/binary"

	"github.com/rmctl/motorstat/pkg/can"
)

// poolKey identifies a shared transmit buffer. Buses must be comparable;
// every transport in package can is a pointer.
type poolKey struct {
	bus can.Bus
	typ MotorType
}

// txBuffer holds the packed commands of up to eight motors of one type on
// one bus, and which of its two control frames changed since the last flush.
type txBuffer struct {
	key   poolKey
	data  [txBufferSize]byte
	dirty [2]bool
}

// pendingFrame is a flushed control frame and the bus it goes out on.
type pendingFrame struct {
	bus   can.Bus
	frame can.Frame
}

// writeCommand stores current big-endian in motor id's slot and marks its frame dirty.
// The caller clamps current and validates id.
func (b *txBuffer) writeCommand(id uint8, current int16) {
	offset := int(id-1) * 2
	binary.BigEndian.PutUint16(b.data[offset:offset+2], uint16(current))
	b.dirty[frameIndex(id)] = true
}

// command reads back motor id's slot.
func (b *txBuffer) command(id uint8) int16 {
	offset := int(id-1) * 2
	return int16(binary.BigEndian.Uint16(b.data[offset : offset+2]))
}

// flush appends one frame per dirty half to dst and clears the flags.
func (b *txBuffer) flush(dst []pendingFrame) []pendingFrame {
	controlIDs := b.key.typ.ControlIDs()
	for i := range b.dirty {
		if !b.dirty[i] {
			continue
		}
		out := pendingFrame{
			bus:   b.key.bus,
			frame: can.Frame{ID: controlIDs[i], Len: frameDataLen},
		}
		copy(out.frame.Data[:], b.data[i*frameDataLen:(i+1)*frameDataLen])
		dst = append(dst, out)
		b.dirty[i] = false
	}
	return dst
}

// txPool owns every transmit buffer of a Registry. Entries are never removed.
type txPool struct {
	entries map[poolKey]*txBuffer
	order   []*txBuffer
}

func (p *txPool) getOrCreate(bus can.Bus, typ MotorType) *txBuffer {
	key := poolKey{bus: bus, typ: typ}
	if b, ok := p.entries[key]; ok {
		return b
	}
	if p.entries == nil {
		p.entries = make(map[poolKey]*txBuffer)
	}
	b := &txBuffer{key: key}
	p.entries[key] = b
	p.order = append(p.order, b)
	return b
}
