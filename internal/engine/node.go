package engine

// Node is any element of the audio graph.
type Node interface {
	// Connect routes this node's output into dst. Connecting twice is a no-op.
	Connect(dst Node)
	// Disconnect removes every outgoing connection of this node.
	Disconnect()
	// DisconnectFrom removes the connection to dst, if any.
	DisconnectFrom(dst Node)

	base() *node
}

// processor renders one quantum. in holds the summed inputs.
type processor interface {
	process(in, out *[Channels][]float32)
}

// twoPhase processors publish their output before pulling inputs, which lets
// them sit inside a feedback cycle.
type twoPhase interface {
	read(out *[Channels][]float32)
	write(in *[Channels][]float32)
}

type node struct {
	ctx      *Context
	self     processor
	inputs   []*node
	outputs  []*node
	rendered int64
	busy     bool
	in       [Channels][]float32
	out      [Channels][]float32
}

func (n *node) init(c *Context, self processor) {
	n.ctx = c
	n.self = self
	for ch := 0; ch < Channels; ch++ {
		n.in[ch] = make([]float32, Quantum)
		n.out[ch] = make([]float32, Quantum)
	}
}

func (n *node) base() *node { return n }

func (n *node) Connect(dst Node) {
	if dst == nil {
		return
	}
	d := dst.base()
	n.ctx.mu.Lock()
	defer n.ctx.mu.Unlock()

	for _, o := range n.outputs {
		if o == d {
			return
		}
	}
	n.outputs = append(n.outputs, d)
	d.inputs = append(d.inputs, n)
}

func (n *node) Disconnect() {
	n.ctx.mu.Lock()
	defer n.ctx.mu.Unlock()

	for _, d := range n.outputs {
		for i, in := range d.inputs {
			if in == n {
				d.inputs = append(d.inputs[:i], d.inputs[i+1:]...)
				break
			}
		}
	}
	n.outputs = nil
}

func (n *node) DisconnectFrom(dst Node) {
	if dst == nil {
		return
	}
	d := dst.base()
	n.ctx.mu.Lock()
	defer n.ctx.mu.Unlock()

	for i, o := range n.outputs {
		if o == d {
			n.outputs = append(n.outputs[:i], n.outputs[i+1:]...)
			break
		}
	}
	for i, in := range d.inputs {
		if in == n {
			d.inputs = append(d.inputs[:i], d.inputs[i+1:]...)
			break
		}
	}
}

// pull renders this node for the current pass, reusing the cached output when
// the node was already rendered. A cycle that does not pass through a
// two-phase node is muted. Must be called with ctx.mu held.
func (n *node) pull() [Channels][]float32 {
	if n.rendered == n.ctx.block {
		return n.out
	}
	if n.busy {
		return silence
	}

	if tp, ok := n.self.(twoPhase); ok {
		tp.read(&n.out)
		n.rendered = n.ctx.block
		n.busy = true
		n.mixInputs()
		n.busy = false
		tp.write(&n.in)
		return n.out
	}

	n.busy = true
	n.mixInputs()
	n.self.process(&n.in, &n.out)
	n.rendered = n.ctx.block
	n.busy = false
	return n.out
}

func (n *node) mixInputs() {
	for ch := 0; ch < Channels; ch++ {
		clear(n.in[ch])
	}
	for _, up := range n.inputs {
		o := up.pull()
		for ch := 0; ch < Channels; ch++ {
			dst := n.in[ch]
			for i, v := range o[ch] {
				dst[i] += v
			}
		}
	}
}

var silence = [Channels][]float32{make([]float32, Quantum), make([]float32, Quantum)}

// Destination sums its inputs into the context output.
type Destination struct {
	node
}

func (d *Destination) process(in, out *[Channels][]float32) {
	for ch := 0; ch < Channels; ch++ {
		copy(out[ch], in[ch])
	}
}
