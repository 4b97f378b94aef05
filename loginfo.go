package dlt

import "encoding/binary"

const maxDescription = 0xFFFF

// LogInfoWriter lays down the application/context inventory of a GetLogInfo
// response. Calls must follow the wire order; the writer does not check it:
//
//	WriteAppCount
//	  WriteAppID, WriteContextCount
//	    WriteContext ...
//	  WriteAppDescription
type LogInfoWriter struct {
	buf      []byte
	n        int
	withDesc bool
}

// NewLogInfoWriter returns a writer over buf. withDescriptions selects the
// option 7 layout.
func NewLogInfoWriter(buf []byte, withDescriptions bool) *LogInfoWriter {
	return &LogInfoWriter{buf: buf, withDesc: withDescriptions}
}

func (w *LogInfoWriter) grow(n int) ([]byte, error) {
	if len(w.buf)-w.n < n {
		return nil, EncodeBufferTooSmall
	}
	b := w.buf[w.n : w.n+n]
	w.n += n
	return b, nil
}

func (w *LogInfoWriter) WriteAppCount(count uint16) error {
	b, err := w.grow(2)
	if err == nil {
		binary.LittleEndian.PutUint16(b, count)
	}
	return err
}

func (w *LogInfoWriter) WriteAppID(id ID) error {
	b, err := w.grow(IDSize)
	if err == nil {
		copy(b, id[:])
	}
	return err
}

func (w *LogInfoWriter) WriteContextCount(count uint16) error {
	b, err := w.grow(2)
	if err == nil {
		binary.LittleEndian.PutUint16(b, count)
	}
	return err
}

// WriteContext writes one context entry. desc is ignored without
// descriptions and truncated to 65535 bytes otherwise.
func (w *LogInfoWriter) WriteContext(id ID, level, trace int8, desc []byte) error {
	return w.context(id, level, trace, "", desc)
}

func (w *LogInfoWriter) context(id ID, level, trace int8, s string, b []byte) error {
	n := IDSize + 2
	if w.withDesc {
		n += 2 + descLen(s, b)
	}
	p, err := w.grow(n)
	if err != nil {
		return err
	}
	copy(p, id[:])
	p[4] = byte(level)
	p[5] = byte(trace)
	if w.withDesc {
		putDesc(p[6:], s, b)
	}
	return nil
}

// WriteAppDescription closes an application entry. It writes nothing
// without descriptions.
func (w *LogInfoWriter) WriteAppDescription(desc []byte) error {
	return w.appDescription("", desc)
}

func (w *LogInfoWriter) appDescription(s string, b []byte) error {
	if !w.withDesc {
		return nil
	}
	p, err := w.grow(2 + descLen(s, b))
	if err != nil {
		return err
	}
	putDesc(p, s, b)
	return nil
}

// Finish returns the number of bytes written.
func (w *LogInfoWriter) Finish() int { return w.n }

func (w *LogInfoWriter) Position() int { return w.n }

// Bytes returns the encoded inventory.
func (w *LogInfoWriter) Bytes() []byte { return w.buf[:w.n] }

func descLen(s string, b []byte) int {
	n := len(s) + len(b)
	if n > maxDescription {
		n = maxDescription
	}
	return n
}

func putDesc(p []byte, s string, b []byte) {
	n := descLen(s, b)
	binary.LittleEndian.PutUint16(p, uint16(n))
	d := p[2 : 2+n]
	copy(d[copy(d, s):], b)
}

// LogInfoReader walks an inventory in the same order it was written.
// Descriptions borrow the input.
type LogInfoReader struct {
	data     []byte
	pos      int
	withDesc bool
}

func NewLogInfoReader(b []byte, withDescriptions bool) *LogInfoReader {
	return &LogInfoReader{data: b, withDesc: withDescriptions}
}

func (r *LogInfoReader) take(n int) ([]byte, error) {
	if len(r.data)-r.pos < n {
		return nil, PayloadBufferTooSmall
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *LogInfoReader) ReadAppCount() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *LogInfoReader) ReadAppID() (id ID, err error) {
	b, err := r.take(IDSize)
	if err == nil {
		copy(id[:], b)
	}
	return id, err
}

func (r *LogInfoReader) ReadContextCount() (uint16, error) {
	return r.ReadAppCount()
}

// ReadContext reads one context entry. desc is nil without descriptions.
func (r *LogInfoReader) ReadContext() (id ID, level, trace int8, desc []byte, err error) {
	start := r.pos
	b, err := r.take(IDSize + 2)
	if err != nil {
		return id, 0, 0, nil, err
	}
	copy(id[:], b)
	level, trace = int8(b[4]), int8(b[5])
	if r.withDesc {
		if desc, err = r.description(); err != nil {
			r.pos = start
			return ID{}, 0, 0, nil, err
		}
	}
	return id, level, trace, desc, nil
}

// ReadAppDescription reads the description closing an application entry.
func (r *LogInfoReader) ReadAppDescription() ([]byte, error) {
	if !r.withDesc {
		return nil, nil
	}
	return r.description()
}

func (r *LogInfoReader) description() ([]byte, error) {
	start := r.pos
	l, err := r.take(2)
	if err != nil {
		return nil, err
	}
	d, err := r.take(int(binary.LittleEndian.Uint16(l)))
	if err != nil {
		r.pos = start
		return nil, err
	}
	return d, nil
}

func (r *LogInfoReader) Position() int { return r.pos }

// Remaining returns the unread byte count.
func (r *LogInfoReader) Remaining() int { return len(r.data) - r.pos }

// ContextInfo is one registered context.
type ContextInfo struct {
	ID          ID     `json:"id"`
	LogLevel    int8   `json:"log_level"`
	TraceStatus int8   `json:"trace_status"`
	Description string `json:"description,omitempty"`
}

// AppInfo is one registered application and its contexts.
type AppInfo struct {
	ID          ID            `json:"id"`
	Description string        `json:"description,omitempty"`
	Contexts    []ContextInfo `json:"contexts"`
}

// Inventory is the decoded form of a GetLogInfo response.
type Inventory struct {
	Apps []AppInfo `json:"apps"`
}

// EncodedSize returns the bytes WriteTo needs.
func (inv *Inventory) EncodedSize(withDescriptions bool) int {
	n := 2
	for _, app := range inv.Apps {
		n += IDSize + 2
		for _, c := range app.Contexts {
			n += IDSize + 2
			if withDescriptions {
				n += 2 + descLen(c.Description, nil)
			}
		}
		if withDescriptions {
			n += 2 + descLen(app.Description, nil)
		}
	}
	return n
}

// Validate checks the counts fit their 16 bit fields.
func (inv *Inventory) Validate() error {
	if len(inv.Apps) > 0xFFFF {
		return EncodeInvalidParameter
	}
	for _, app := range inv.Apps {
		if len(app.Contexts) > 0xFFFF {
			return EncodeInvalidParameter
		}
	}
	return nil
}

// WriteTo encodes inv through w.
func (inv *Inventory) WriteTo(w *LogInfoWriter) error {
	if err := inv.Validate(); err != nil {
		return err
	}
	if err := w.WriteAppCount(uint16(len(inv.Apps))); err != nil {
		return err
	}
	for _, app := range inv.Apps {
		if err := w.WriteAppID(app.ID); err != nil {
			return err
		}
		if err := w.WriteContextCount(uint16(len(app.Contexts))); err != nil {
			return err
		}
		for _, c := range app.Contexts {
			if err := w.context(c.ID, c.LogLevel, c.TraceStatus, c.Description, nil); err != nil {
				return err
			}
		}
		if err := w.appDescription(app.Description, nil); err != nil {
			return err
		}
	}
	return nil
}

// ReadInventory decodes a whole inventory from r and appends it to dst.
// dst is left untouched on error.
func ReadInventory(r *LogInfoReader, dst *Inventory) error {
	count, err := r.ReadAppCount()
	if err != nil {
		return err
	}
	apps := make([]AppInfo, 0, count)
	for i := 0; i < int(count); i++ {
		var app AppInfo
		if app.ID, err = r.ReadAppID(); err != nil {
			return err
		}
		n, err := r.ReadContextCount()
		if err != nil {
			return err
		}
		app.Contexts = make([]ContextInfo, 0, n)
		for j := 0; j < int(n); j++ {
			id, level, trace, desc, err := r.ReadContext()
			if err != nil {
				return err
			}
			app.Contexts = append(app.Contexts, ContextInfo{
				ID:          id,
				LogLevel:    level,
				TraceStatus: trace,
				Description: string(desc),
			})
		}
		desc, err := r.ReadAppDescription()
		if err != nil {
			return err
		}
		app.Description = string(desc)
		apps = append(apps, app)
	}
	dst.Apps = append(dst.Apps, apps...)
	return nil
}
