package midi

// Assembler reassembles messages from a byte stream that arrives in arbitrary
// chunks. Leftover bytes from one Feed call are completed by the next.
type Assembler struct {
	pending [MessageSize]byte
	n       int
}

// Feed consumes p and returns every message completed by it.
func (a *Assembler) Feed(p []byte) []Message {
	var messages []Message
	for _, b := range p {
		a.pending[a.n] = b
		a.n++

		if a.n == MessageSize {
			messages = append(messages, Message{Status: a.pending[0], Data1: a.pending[1], Data2: a.pending[2]})
			a.n = 0
		}
	}
	return messages
}

// Pending returns the number of bytes held for an incomplete message.
func (a *Assembler) Pending() int { return a.n }

// Reset drops any partial message.
func (a *Assembler) Reset() { a.n = 0 }
