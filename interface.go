package track

// Handler consumes normalized messages emitted by source adapters.
// Implementations must not block for long: a slow handler stalls the
// adapter's read loop and eventually trips its idle timeout.
type Handler interface {
	HandleMessage(msg Message)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(msg Message)

func (f HandlerFunc) HandleMessage(msg Message) { f(msg) }
