package ane

import "bytes"

// framer reassembles complete JSON records from the powermetrics
// output stream. powermetrics in JSON mode emits one object per
// sampling window with no delimiter, so records are framed by
// tracking brace depth byte by byte.
//
// The counter does not distinguish braces inside string literals.
// powermetrics never emits braces in string values, so the simple
// counter holds; if it ever miscounts, the record fails to decode and
// is dropped, and framing resynchronizes on the next record.
type framer struct {
	buf   bytes.Buffer
	depth int
}

// feed consumes one byte. When the byte closes the outermost brace it
// returns the accumulated record and resets for the next one.
func (f *framer) feed(b byte) ([]byte, bool) {
	f.buf.WriteByte(b)

	switch b {
	case '{':
		f.depth++
	case '}':
		f.depth--
		if f.depth == 0 && len(bytes.TrimSpace(f.buf.Bytes())) > 0 {
			record := make([]byte, f.buf.Len())
			copy(record, f.buf.Bytes())
			f.buf.Reset()

			return record, true
		}
	}

	return nil, false
}
