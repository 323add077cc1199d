package pseudofd

import (
	"fmt"

	"github.com/sgielen/cosixgo/pkg/abi/cloudabi"
	"github.com/sgielen/cosixgo/pkg/vfs"
	"google.golang.org/protobuf/encoding/protowire"
)

// Payload field numbers. Each op's request/reply payload is its own small
// protowire message — one pseudo-FD connection names exactly one node, so
// unlike Request/Reply's id/op/errno, these field numbers are scoped
// per-message rather than shared globally.
const (
	pfPath     = 1
	pfLookup   = 2
	pfOFlags   = 3
	pfRBase    = 4
	pfRInh     = 5
	pfFDFlags  = 6
	pfOffset   = 7
	pfData     = 8
	pfCookie   = 9
	pfLimit    = 10
	pfDestPath = 11
	pfIsDir    = 12
	pfFileType = 13
	pfTarget   = 14
	pfMask     = 15

	pfStatDevice = 1
	pfStatInode  = 2
	pfStatType   = 3
	pfStatLinks  = 4
	pfStatSize   = 5
	pfStatATime  = 6
	pfStatMTime  = 7
	pfStatCTime  = 8

	pfEntryNext = 1
	pfEntryIno  = 2
	pfEntryName = 3
	pfEntryType = 4
)

type payloadWriter struct{ b []byte }

func (w *payloadWriter) u64(field int, v uint64) {
	w.b = protowire.AppendTag(w.b, protowire.Number(field), protowire.VarintType)
	w.b = protowire.AppendVarint(w.b, v)
}

func (w *payloadWriter) str(field int, v string) {
	w.b = protowire.AppendTag(w.b, protowire.Number(field), protowire.BytesType)
	w.b = protowire.AppendBytes(w.b, []byte(v))
}

func (w *payloadWriter) bytes(field int, v []byte) {
	w.b = protowire.AppendTag(w.b, protowire.Number(field), protowire.BytesType)
	w.b = protowire.AppendBytes(w.b, v)
}

func (w *payloadWriter) sub(field int, body []byte) {
	w.b = protowire.AppendTag(w.b, protowire.Number(field), protowire.BytesType)
	w.b = protowire.AppendBytes(w.b, body)
}

type payloadField struct {
	num  protowire.Number
	typ  protowire.Type
	body []byte
}

// parsePayload splits body into its top-level fields without interpreting
// them, so callers can pick out the ones they expect by number.
func parsePayload(body []byte) ([]payloadField, error) {
	var fields []payloadField
	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return nil, fmt.Errorf("pseudofd: bad payload tag")
		}
		body = body[n:]
		var val []byte
		switch typ {
		case protowire.VarintType:
			_, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return nil, fmt.Errorf("pseudofd: bad varint field %d", num)
			}
			val = body[:n]
			body = body[n:]
		case protowire.BytesType:
			_, n := protowire.ConsumeBytes(body)
			if n < 0 {
				return nil, fmt.Errorf("pseudofd: bad bytes field %d", num)
			}
			val = body[:n]
			body = body[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, body)
			if n < 0 {
				return nil, fmt.Errorf("pseudofd: bad field %d", num)
			}
			val = body[:n]
			body = body[n:]
		}
		fields = append(fields, payloadField{num: num, typ: typ, body: val})
	}
	return fields, nil
}

func (f payloadField) varint() uint64 {
	v, _ := protowire.ConsumeVarint(f.body)
	return v
}

func (f payloadField) string() string {
	v, _ := protowire.ConsumeBytes(f.body)
	return string(v)
}

func (f payloadField) bytesVal() []byte {
	v, _ := protowire.ConsumeBytes(f.body)
	return append([]byte(nil), v...)
}

func fieldsByNumber(fields []payloadField) map[protowire.Number][]payloadField {
	m := make(map[protowire.Number][]payloadField, len(fields))
	for _, f := range fields {
		m[f.num] = append(m[f.num], f)
	}
	return m
}

// firstField returns the first field with the given number, if present.
func firstField(fields []payloadField, num int) (payloadField, bool) {
	for _, f := range fields {
		if int(f.num) == num {
			return f, true
		}
	}
	return payloadField{}, false
}

func appendStatFields(w *payloadWriter, s vfs.Stat) {
	w.u64(pfStatDevice, s.Device)
	w.u64(pfStatInode, s.Inode)
	w.u64(pfStatType, uint64(s.FileType))
	w.u64(pfStatLinks, s.LinkCount)
	w.u64(pfStatSize, s.Size)
	w.u64(pfStatATime, uint64(s.ATimeNsec))
	w.u64(pfStatMTime, uint64(s.MTimeNsec))
	w.u64(pfStatCTime, uint64(s.CTimeNsec))
}

// encodeStatPayload encodes s as a standalone message (Open/StatFGet/
// FileStatGet replies, whose payload is nothing but a stat).
func encodeStatPayload(s vfs.Stat) []byte {
	var w payloadWriter
	appendStatFields(&w, s)
	return w.b
}

func appendStat(w *payloadWriter, field int, s vfs.Stat) {
	var sw payloadWriter
	appendStatFields(&sw, s)
	w.sub(field, sw.b)
}

func parseStat(body []byte) (vfs.Stat, error) {
	fields, err := parsePayload(body)
	if err != nil {
		return vfs.Stat{}, err
	}
	var s vfs.Stat
	for _, f := range fields {
		switch f.num {
		case pfStatDevice:
			s.Device = f.varint()
		case pfStatInode:
			s.Inode = f.varint()
		case pfStatType:
			s.FileType = cloudabi.FileType(f.varint())
		case pfStatLinks:
			s.LinkCount = f.varint()
		case pfStatSize:
			s.Size = f.varint()
		case pfStatATime:
			s.ATimeNsec = int64(f.varint())
		case pfStatMTime:
			s.MTimeNsec = int64(f.varint())
		case pfStatCTime:
			s.CTimeNsec = int64(f.varint())
		}
	}
	return s, nil
}

func appendDirEntry(w *payloadWriter, field int, e vfs.DirEntry) {
	var ew payloadWriter
	ew.u64(pfEntryNext, e.Next)
	ew.u64(pfEntryIno, e.Inode)
	ew.str(pfEntryName, e.Name)
	ew.u64(pfEntryType, uint64(e.FileType))
	w.sub(field, ew.b)
}

func parseDirEntry(body []byte) (vfs.DirEntry, error) {
	fields, err := parsePayload(body)
	if err != nil {
		return vfs.DirEntry{}, err
	}
	var e vfs.DirEntry
	for _, f := range fields {
		switch f.num {
		case pfEntryNext:
			e.Next = f.varint()
		case pfEntryIno:
			e.Inode = f.varint()
		case pfEntryName:
			e.Name = f.string()
		case pfEntryType:
			e.FileType = cloudabi.FileType(f.varint())
		}
	}
	return e, nil
}
