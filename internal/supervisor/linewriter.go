package supervisor

import "bytes"

// lineWriter splits a byte stream into lines for a LineSink.
type lineWriter struct {
	stream  string
	sink    LineSink
	pending []byte
}

func (w *lineWriter) Write(p []byte) (int, error) {
	data := p
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		line := data[:i]
		if len(w.pending) > 0 {
			line = append(w.pending, line...)
			w.pending = w.pending[:0]
		}
		w.sink(w.stream, string(bytes.TrimSuffix(line, []byte{'\r'})))
		data = data[i+1:]
	}
	w.pending = append(w.pending, data...)
	return len(p), nil
}

// Flush emits a trailing line that had no newline.
func (w *lineWriter) Flush() {
	if len(w.pending) == 0 {
		return
	}
	w.sink(w.stream, string(w.pending))
	w.pending = nil
}
