package sortedmap

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/ValentinKolb/dDB/lib/common"
	"github.com/ValentinKolb/dDB/lib/rid"
	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

// --------------------------------------------------------------------------
// Record layout
// --------------------------------------------------------------------------
//
// header record:
//   magic "DDBMAP" | version u8 | size u64 | pages u32
//   per page: partition u32 | position u64 | checksum u64 | first key
//
// page record:
//   compression u8 | payload
//   payload (uncompressed): entries u32
//   per entry: key | refs u32 | per ref: partition u32 | position u64
//
// The checksum is the xxhash of the uncompressed payload.

const (
	headerMagic   = "DDBMAP"
	headerVersion = 1
)

const (
	compNone byte = iota
	compZSTD
	compLZ4
)

// ErrCorrupt is returned when a header or page record cannot be decoded
var ErrCorrupt = errors.New("corrupt map record")

type pageRef struct {
	id       rid.RID
	checksum uint64
	first    any
}

// --------------------------------------------------------------------------
// Reader
// --------------------------------------------------------------------------

// reader is a cursor over a byte slice that remembers the first error
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.fail(io.ErrUnexpectedEOF)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) byte() byte {
	b := r.bytes(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) uint32() uint32 {
	b := r.bytes(4)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

func (r *reader) uint64() uint64 {
	b := r.bytes(8)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}

func (r *reader) done() error {
	if r.err == nil && r.off != len(r.buf) {
		r.fail(fmt.Errorf("%d trailing bytes", len(r.buf)-r.off))
	}
	if r.err != nil {
		return errors.Wrap(ErrCorrupt, r.err.Error())
	}
	return nil
}

// --------------------------------------------------------------------------
// Header
// --------------------------------------------------------------------------

func encodeHeader(size int64, pages []pageRef) ([]byte, error) {
	buf := make([]byte, 0, 32+len(pages)*32)
	buf = append(buf, headerMagic...)
	buf = append(buf, headerVersion)
	buf = binary.BigEndian.AppendUint64(buf, uint64(size))
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(pages)))
	var err error
	for _, p := range pages {
		buf = binary.BigEndian.AppendUint32(buf, p.id.Partition)
		buf = binary.BigEndian.AppendUint64(buf, uint64(p.id.Position))
		buf = binary.BigEndian.AppendUint64(buf, p.checksum)
		if buf, err = appendKey(buf, p.first); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func decodeHeader(data []byte) (size int64, pages []pageRef, err error) {
	r := &reader{buf: data}
	if string(r.bytes(len(headerMagic))) != headerMagic {
		return 0, nil, errors.Wrap(ErrCorrupt, "bad header magic")
	}
	if v := r.byte(); v != headerVersion {
		return 0, nil, errors.Wrapf(ErrCorrupt, "unsupported header version %d", v)
	}
	size = int64(r.uint64())
	n := r.uint32()
	for i := uint32(0); i < n && r.err == nil; i++ {
		var p pageRef
		p.id = rid.RID{Partition: r.uint32(), Position: int64(r.uint64())}
		p.checksum = r.uint64()
		p.first = r.readKey()
		pages = append(pages, p)
	}
	return size, pages, r.done()
}

// --------------------------------------------------------------------------
// Pages
// --------------------------------------------------------------------------

func encodePage(entries []entry) ([]byte, error) {
	buf := binary.BigEndian.AppendUint32(nil, uint32(len(entries)))
	var err error
	for _, e := range entries {
		if buf, err = appendKey(buf, e.key); err != nil {
			return nil, err
		}
		ids := e.value.IDs()
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(ids)))
		for _, id := range ids {
			buf = binary.BigEndian.AppendUint32(buf, id.Partition)
			buf = binary.BigEndian.AppendUint64(buf, uint64(id.Position))
		}
	}
	return buf, nil
}

func decodePage(payload []byte) ([]entry, error) {
	r := &reader{buf: payload}
	n := r.uint32()
	entries := make([]entry, 0, min(int(n), 1<<16))
	for i := uint32(0); i < n && r.err == nil; i++ {
		key := r.readKey()
		refs := r.uint32()
		set := rid.NewSet()
		for j := uint32(0); j < refs && r.err == nil; j++ {
			set.Add(rid.RID{Partition: r.uint32(), Position: int64(r.uint64())})
		}
		entries = append(entries, entry{key: key, value: set})
	}
	return entries, r.done()
}

func checksum(payload []byte) uint64 {
	return xxhash.Sum64(payload)
}

// --------------------------------------------------------------------------
// Compression
// --------------------------------------------------------------------------

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func zstdCodec() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		if zstdEnc, zstdErr = zstd.NewWriter(nil); zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil)
	})
	return zstdEnc, zstdDec, zstdErr
}

func compress(c common.Compression, payload []byte) ([]byte, error) {
	switch c {
	case common.CompressionZSTD:
		enc, _, err := zstdCodec()
		if err != nil {
			return nil, errors.Wrap(err, "zstd")
		}
		return enc.EncodeAll(payload, []byte{compZSTD}), nil
	case common.CompressionLZ4:
		var buf bytes.Buffer
		buf.WriteByte(compLZ4)
		zw := lz4.NewWriter(&buf)
		if _, err := zw.Write(payload); err != nil {
			return nil, errors.Wrap(err, "lz4")
		}
		if err := zw.Close(); err != nil {
			return nil, errors.Wrap(err, "lz4")
		}
		return buf.Bytes(), nil
	default:
		return append([]byte{compNone}, payload...), nil
	}
}

func decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.Wrap(ErrCorrupt, "empty page")
	}
	switch data[0] {
	case compNone:
		return data[1:], nil
	case compZSTD:
		_, dec, err := zstdCodec()
		if err != nil {
			return nil, errors.Wrap(err, "zstd")
		}
		out, err := dec.DecodeAll(data[1:], nil)
		return out, errors.Wrap(err, "zstd")
	case compLZ4:
		out, err := io.ReadAll(lz4.NewReader(bytes.NewReader(data[1:])))
		return out, errors.Wrap(err, "lz4")
	default:
		return nil, errors.Wrapf(ErrCorrupt, "unknown page compression %d", data[0])
	}
}
