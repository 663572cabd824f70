package mesh

// CslTransmitter is the MAC-side hook for coordinated sampled
// listening: the radio transmits to a CSL child at its next sample
// window without waiting for a data poll.
type CslTransmitter interface {
	ScheduleCslTx(child *Child)
	ClearCslTx()
}

// CslScheduler keeps the MAC pointed at the CSL child that has a
// frame worth transmitting. Update is cheap and called whenever
// per-child indirect state changes.
type CslScheduler struct {
	table   *Table
	tx      CslTransmitter
	current *Child
}

func NewCslScheduler(table *Table, tx CslTransmitter) *CslScheduler {
	return &CslScheduler{table: table, tx: tx}
}

// Update re-selects the CSL child to serve next.
func (c *CslScheduler) Update() {
	var next *Child

	c.table.Iterate(func(child *Child) {
		if next != nil {
			return
		}
		if !child.IsCslReceiver() || child.IsWaitingForMessageUpdate() {
			return
		}
		if child.IndirectMessage() != nil {
			next = child
		}
	})

	if next == c.current {
		return
	}

	c.current = next
	if next != nil {
		c.tx.ScheduleCslTx(next)
	} else {
		c.tx.ClearCslTx()
	}
}

// Clear drops any scheduled CSL transmission.
func (c *CslScheduler) Clear() {
	c.current = nil
	c.tx.ClearCslTx()
}
