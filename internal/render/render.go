// Package render turns parsed messages into console lines and JSON records.
package render

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/eshenhu/dlt"
	jsoniter "github.com/json-iterator/go"
	"github.com/pterm/pterm"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxArgs bounds the arguments decoded from one verbose payload.
const maxArgs = 255

// Record is the presentation form of one message.
type Record struct {
	Time      *time.Time `json:"time,omitempty"`
	ECU       string     `json:"ecu,omitempty"`
	Counter   uint8      `json:"counter"`
	SessionID *uint32    `json:"session_id,omitempty"`
	Timestamp *uint32    `json:"timestamp,omitempty"`
	App       string     `json:"app,omitempty"`
	Ctx       string     `json:"ctx,omitempty"`
	Type      string     `json:"type"`
	Subtype   string     `json:"subtype,omitempty"`
	Verbose   bool       `json:"verbose"`
	Args      []string   `json:"args,omitempty"`
	Service   string     `json:"service,omitempty"`
	Status    string     `json:"status,omitempty"`
	Detail    string     `json:"detail,omitempty"`
	Payload   string     `json:"payload,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// NewRecord describes m. Payload decoding problems are reported in Error
// with the arguments decoded so far.
func NewRecord(m *dlt.Message) Record {
	r := Record{Counter: m.Header.MCNT, Type: "unknown"}
	if id, ok := m.ECUID(); ok {
		r.ECU = id.String()
	}
	if v, ok := m.SessionID(); ok {
		r.SessionID = &v
	}
	if v, ok := m.Timestamp(); ok {
		r.Timestamp = &v
	}

	eh, ok := m.ExtendedHeader()
	if !ok {
		r.Payload = hex.EncodeToString(m.Payload)
		return r
	}
	r.App = eh.AppID.String()
	r.Ctx = eh.CtxID.String()
	r.Type = eh.MessageType().String()
	r.Subtype = eh.TypeInfoName()
	r.Verbose = eh.Verbose()

	switch {
	case eh.MessageType() == dlt.TypeControl:
		describeService(&r, m.Payload, eh)
	case eh.Verbose():
		p := dlt.NewPayloadParser(m.Payload)
		for n := 0; !p.Empty() && n < maxArgs; n++ {
			a, err := p.ReadNext()
			if err != nil {
				r.Error = err.Error()
				break
			}
			r.Args = append(r.Args, a.String())
		}
	default:
		r.Payload = hex.EncodeToString(m.Payload)
	}
	return r
}

func describeService(r *Record, payload []byte, eh dlt.ExtendedHeader) {
	p := dlt.NewServiceParser(payload)
	raw, err := p.RawServiceID()
	if err != nil {
		r.Error = err.Error()
		return
	}
	id, ok := dlt.ParseServiceID(raw)
	if !ok {
		id = dlt.ServiceID(raw)
	}
	r.Service = id.String()

	if ct, _ := eh.ControlType(); ct != dlt.ControlResponse {
		if len(payload) > 4 {
			r.Payload = hex.EncodeToString(payload[4:])
		}
		return
	}
	status, err := p.StatusResponse()
	if err != nil {
		r.Error = err.Error()
		return
	}
	r.Status = status.String()

	switch id {
	case dlt.ServiceGetSoftwareVersion:
		if _, v, err := p.GetSoftwareVersionResponse(); err == nil {
			r.Detail = string(v)
		}
	case dlt.ServiceGetDefaultLogLevel:
		if _, v, err := p.GetDefaultLogLevelResponse(); err == nil {
			r.Detail = fmt.Sprintf("level=%d", v)
		}
	case dlt.ServiceBufferOverflowNotification:
		if _, v, err := p.BufferOverflowNotification(); err == nil {
			r.Detail = fmt.Sprintf("dropped=%d", v)
		}
	case dlt.ServiceGetLogChannelNames:
		if _, names, err := p.GetLogChannelNamesResponse(); err == nil {
			s := make([]string, len(names))
			for i, n := range names {
				s[i] = n.String()
			}
			r.Detail = strings.Join(s, ",")
		}
	case dlt.ServiceGetLogInfo:
		if _, inv, err := p.GetLogInfoInventory(); err == nil {
			n := 0
			for _, a := range inv.Apps {
				n += len(a.Contexts)
			}
			r.Detail = fmt.Sprintf("apps=%d contexts=%d", len(inv.Apps), n)
		}
	}
}

// Text returns the message body as one line.
func (r Record) Text() string {
	switch {
	case r.Service != "":
		var b strings.Builder
		b.WriteString(r.Service)
		if r.Status != "" {
			b.WriteString(" ")
			b.WriteString(r.Status)
		}
		if r.Detail != "" {
			b.WriteString(" ")
			b.WriteString(r.Detail)
		}
		return b.String()
	case r.Verbose:
		return strings.Join(r.Args, " ")
	default:
		return "[" + r.Payload + "]"
	}
}

// Console writes r as one human readable line.
func Console(w io.Writer, r Record) error {
	_, err := io.WriteString(w, line(r, r.Subtype))
	return err
}

// ConsoleColor is Console with the log level colored.
func ConsoleColor(w io.Writer, r Record) error {
	_, err := io.WriteString(w, line(r, levelColor(r.Subtype).Sprint(r.Subtype)))
	return err
}

func line(r Record, subtype string) string {
	var b strings.Builder
	if r.Time != nil {
		b.WriteString(r.Time.Format("2006/01/02 15:04:05.000000 "))
	}
	if r.Timestamp != nil {
		fmt.Fprintf(&b, "%10.4f ", float64(*r.Timestamp)/10000)
	}
	fmt.Fprintf(&b, "%03d %-4s %-4s %-4s %s %s ", r.Counter, r.ECU, r.App, r.Ctx, r.Type, subtype)
	if r.Verbose {
		b.WriteString("V ")
	} else {
		b.WriteString("N ")
	}
	b.WriteString(r.Text())
	if r.Error != "" {
		b.WriteString(" !")
		b.WriteString(r.Error)
	}
	b.WriteByte('\n')
	return b.String()
}

func levelColor(subtype string) pterm.Color {
	switch subtype {
	case "fatal", "error":
		return pterm.FgRed
	case "warn":
		return pterm.FgYellow
	case "info":
		return pterm.FgGreen
	case "debug", "verbose":
		return pterm.FgGray
	}
	return pterm.FgDefault
}

// JSON writes r as one JSON line.
func JSON(w io.Writer, r Record) error {
	return json.NewEncoder(w).Encode(r)
}

// Marshal returns r as a JSON document without a trailing newline.
func Marshal(r Record) ([]byte, error) {
	return json.Marshal(r)
}
