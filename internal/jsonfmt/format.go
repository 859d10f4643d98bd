// Package jsonfmt renders signalsets in their single canonical JSON form. A
// signalset file is clean when formatting it changes nothing.
package jsonfmt

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"strconv"

	"example.com/signalgate/internal/signalset"
)

const indent = "  "

// Format renders set canonically: schema field order, two-space indent, one
// signal per line, plain decimal numbers and a single trailing newline.
func Format(set *signalset.Signalset) []byte {
	var b bytes.Buffer
	b.WriteString("{\n")
	if set.CANIDFormat != "" {
		b.WriteString(indent)
		writeKey(&b, "canIdFormat")
		writeString(&b, set.CANIDFormat)
		b.WriteString(",\n")
	}
	b.WriteString(indent)
	writeKey(&b, "commands")
	cmds := set.Commands()
	if len(cmds) == 0 {
		b.WriteString("[]\n}\n")
		return b.Bytes()
	}
	b.WriteString("[\n")
	for i, cmd := range cmds {
		writeCommand(&b, cmd, indent+indent)
		if i < len(cmds)-1 {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}
	b.WriteString(indent + "]\n}\n")
	return b.Bytes()
}

// FormatText loads and formats a signalset document.
func FormatText(data []byte) ([]byte, error) {
	set, err := signalset.Load(data)
	if err != nil {
		return nil, err
	}
	return Format(set), nil
}

// FormatFile returns the canonical text of the signalset at path.
func FormatFile(path string) ([]byte, error) {
	set, err := signalset.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return Format(set), nil
}

func writeCommand(b *bytes.Buffer, cmd *signalset.Command, pad string) {
	inner := pad + indent
	b.WriteString(pad + "{\n")

	field := func(key string) {
		b.WriteString(inner)
		writeKey(b, key)
	}
	field("hdr")
	writeString(b, cmd.Hdr)
	b.WriteString(",\n")
	if cmd.Rax != "" {
		field("rax")
		writeString(b, cmd.Rax)
		b.WriteString(",\n")
	}
	field("cmd")
	b.WriteByte('{')
	writeKey(b, cmd.Service)
	writeString(b, cmd.PID)
	b.WriteString("},\n")
	if cmd.Freq.IsSet() {
		field("freq")
		b.WriteString(cmd.Freq.String())
		b.WriteString(",\n")
	}
	if cmd.Len.IsSet() {
		field("len")
		b.WriteString(cmd.Len.String())
		b.WriteString(",\n")
	}
	field("signals")
	signals := cmd.Signals()
	if len(signals) == 0 {
		b.WriteString("[]\n")
	} else {
		b.WriteString("[\n")
		for i, sig := range signals {
			b.WriteString(inner + indent)
			writeSignal(b, sig)
			if i < len(signals)-1 {
				b.WriteByte(',')
			}
			b.WriteByte('\n')
		}
		b.WriteString(inner + "]\n")
	}
	b.WriteString(pad + "}")
}

// inline writes "key": value pairs separated by ", " inside one object.
type inline struct {
	b     *bytes.Buffer
	first bool
}

func newInline(b *bytes.Buffer) *inline {
	b.WriteByte('{')
	return &inline{b: b, first: true}
}

func (o *inline) key(k string) {
	if !o.first {
		o.b.WriteString(", ")
	}
	o.first = false
	writeKey(o.b, k)
}

func (o *inline) str(k, v string) {
	if v == "" {
		return
	}
	o.key(k)
	writeString(o.b, v)
}

func (o *inline) num(k string, n signalset.Number) {
	if !n.IsSet() {
		return
	}
	o.key(k)
	o.b.WriteString(n.String())
}

func (o *inline) boolean(k string, v *bool) {
	if v == nil {
		return
	}
	o.key(k)
	o.b.WriteString(strconv.FormatBool(*v))
}

func (o *inline) entries(k string, entries []signalset.Entry) {
	if entries == nil {
		return
	}
	o.key(k)
	sub := newInline(o.b)
	for _, e := range entries {
		sub.str(strconv.FormatInt(e.Key, 10), e.Label)
	}
	sub.close()
}

func (o *inline) close() {
	o.b.WriteByte('}')
}

func writeSignal(b *bytes.Buffer, sig *signalset.Signal) {
	o := newInline(b)
	o.str("id", sig.ID)
	o.str("path", sig.Path)
	o.key("fmt")
	writeFmt(b, &sig.Fmt)
	o.str("name", sig.Name)
	o.str("description", sig.Description)
	o.str("suggestedMetric", sig.SuggestedMetric)
	o.boolean("overlay", sig.Overlay)
	o.close()
}

func writeFmt(b *bytes.Buffer, f *signalset.Fmt) {
	o := newInline(b)
	o.num("bix", f.Bix)
	o.num("len", f.Len)
	o.boolean("sign", f.Sign)
	o.str("order", f.Order)
	o.num("mul", f.Mul)
	o.num("div", f.Div)
	o.num("add", f.Add)
	o.num("prec", f.Prec)
	o.entries("map", f.Map)
	if f.Default != nil {
		o.str("default", *f.Default)
	}
	o.entries("bits", f.Bits)
	o.num("min", f.Min)
	o.num("max", f.Max)
	o.str("unit", f.Unit)
	o.close()
}

func writeKey(b *bytes.Buffer, key string) {
	writeString(b, key)
	b.WriteString(": ")
}

func writeString(b *bytes.Buffer, s string) {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	// strings always encode
	_ = enc.Encode(s)
	b.Write(bytes.TrimSuffix(tmp.Bytes(), []byte("\n")))
}

// IsCanonical reports whether data is already in canonical form.
func IsCanonical(data []byte) (bool, error) {
	formatted, err := FormatText(data)
	if err != nil {
		return false, err
	}
	return bytes.Equal(formatted, data), nil
}

// CheckFile reports whether the file at path is canonical.
func CheckFile(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	ok, err := IsCanonical(data)
	if err != nil {
		var pe *signalset.ParseError
		if errors.As(err, &pe) {
			pe.File = path
		}
		return false, err
	}
	return ok, nil
}
