package transfer

// Observer receives progress events. Implementations must be safe for
// concurrent use because sibling transfers share one observer.
type Observer interface {
	// Start is called once the executor knows where the transfer begins.
	// total is -1 when unknown; offset is non-zero for resumed transfers.
	Start(id, name string, offset, total int64)
	// Advance is called after every chunk written to the staging file.
	Advance(id string, n int64)
	// Finish is called once per attempt with the attempt's error, if any.
	Finish(id string, err error)
}

type nopObserver struct{}

func (nopObserver) Start(string, string, int64, int64) {}
func (nopObserver) Advance(string, int64)              {}
func (nopObserver) Finish(string, error)               {}

// NopObserver discards all events.
var NopObserver Observer = nopObserver{}
