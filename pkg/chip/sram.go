package chip

// SRAM is a static RAM. Its contents are random after every power-up.
type SRAM struct {
	core
}

// NewSRAM returns an SRAM of size bytes.
func NewSRAM(size uint32, opts ...Option) *SRAM {
	cfg := newConfig(opts)
	s := &SRAM{core: newCore("SRAM", size, cfg)}
	s.randomize()
	s.emulate = s.step
	s.power = func(on bool) {
		if on {
			s.randomize()
		}
	}
	return s
}

func (s *SRAM) step() {
	read := s.vdd && s.ce && !s.we && s.oe
	write := s.vdd && s.ce && s.we
	if s.readCycle(read) {
		s.log.Debug("read", "addr", s.addr, "data", s.mem[s.addr])
	}
	if read {
		s.drive(s.mem[s.addr])
	}
	if s.writeCycle(write) {
		s.store(s.addr, s.in)
	}
}
