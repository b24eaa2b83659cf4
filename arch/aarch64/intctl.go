package aarch64

// ppiBase is the INTID of the first private peripheral interrupt.
const ppiBase = 16

// timerPpi is the virtual timer's PPI line (INTID 27).
const timerPpi = 11

// Gic models the CPU-private slice of the interrupt controller: an
// enable bit per PPI line and an active flag cleared by EOI.
type Gic struct {
	enabled [16]bool
	active  [16]bool
}

// NewGic returns a controller with every line disabled.
func NewGic() *Gic { return &Gic{} }

// Init disables all lines.
func (g *Gic) Init() {
	for i := range g.enabled {
		g.enabled[i] = false
		g.active[i] = false
	}
}

func (g *Gic) EnableIRQ(line uint8) {
	if int(line) < len(g.enabled) {
		g.enabled[line] = true
	}
}

func (g *Gic) DisableIRQ(line uint8) {
	if int(line) < len(g.enabled) {
		g.enabled[line] = false
	}
}

func (g *Gic) IsEnabled(line uint8) bool {
	return int(line) < len(g.enabled) && g.enabled[line]
}

// Raise marks the line active. Returns false if the line is disabled
// or still active.
func (g *Gic) Raise(line uint8) bool {
	if !g.IsEnabled(line) || g.active[line] {
		return false
	}
	g.active[line] = true
	return true
}

// EndOfInterrupt deactivates the INTID.
func (g *Gic) EndOfInterrupt(vector uint8) {
	if vector < ppiBase {
		return
	}
	line := vector - ppiBase
	if int(line) < len(g.active) {
		g.active[line] = false
	}
}

func (g *Gic) VectorBase() uint8 { return ppiBase }
func (g *Gic) TimerLine() uint8  { return timerPpi }
