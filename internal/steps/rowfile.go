package steps

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"

	"kettle/internal/schema"
)

// A row file starts with a fixed preamble:
//
//	"KROW" | version | codec | compression
//
// followed by the (optionally compressed) stream of one header value and
// one array per row, all encoded with the codec.
const (
	rowFileMagic   = "KROW"
	rowFileVersion = 1
)

// Codec tags.
const (
	CodecCBOR    byte = 1
	CodecMsgpack byte = 2
)

// Compression tags.
const (
	CompressionNone byte = 0
	CompressionZstd byte = 1
	CompressionLZ4  byte = 2
)

var errBadRowFile = errors.New("not a row file")

var cborEnc, cborDec = func() (cbor.EncMode, cbor.DecMode) {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic("steps: CBOR encoder initialization failed: " + err.Error())
	}
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("steps: CBOR decoder initialization failed: " + err.Error())
	}
	return em, dm
}()

// fileHeader describes the rows of a file.
type fileHeader struct {
	Fields []fileField `cbor:"fields" msgpack:"fields"`
}

type fileField struct {
	Name      string `cbor:"name" msgpack:"name"`
	Type      string `cbor:"type" msgpack:"type"`
	Length    int    `cbor:"length,omitempty" msgpack:"length,omitempty"`
	Precision int    `cbor:"precision,omitempty" msgpack:"precision,omitempty"`
}

func headerOf(s *schema.Schema) fileHeader {
	var h fileHeader
	for _, f := range s.Fields() {
		h.Fields = append(h.Fields, fileField{Name: f.Name, Type: f.Type.String(), Length: f.Length, Precision: f.Precision})
	}
	return h
}

func (h fileHeader) schema(origin string) (*schema.Schema, error) {
	fields := make([]schema.Field, len(h.Fields))
	for i, f := range h.Fields {
		t, err := schema.ParseType(f.Type)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		fields[i] = schema.Field{Name: f.Name, Type: t, Length: f.Length, Precision: f.Precision, Origin: origin}
	}
	return schema.New(fields...), nil
}

// ParseCodec maps a codec name to its tag.
func ParseCodec(name string) (byte, error) {
	switch name {
	case "", "cbor":
		return CodecCBOR, nil
	case "msgpack":
		return CodecMsgpack, nil
	}
	return 0, fmt.Errorf("unknown codec %q", name)
}

// ParseCompression maps a compression name to its tag.
func ParseCompression(name string) (byte, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	}
	return 0, fmt.Errorf("unknown compression %q", name)
}

type encoder interface{ Encode(v any) error }

type decoder interface{ Decode(v any) error }

// rowFileWriter encodes values into a row file.
type rowFileWriter struct {
	f    *os.File
	bw   *bufio.Writer
	comp io.WriteCloser
	enc  encoder
}

func createRowFile(path string, codec, compression byte) (*rowFileWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := &rowFileWriter{f: f, bw: bufio.NewWriterSize(f, 64*1024)}
	if _, err := w.bw.WriteString(rowFileMagic); err != nil {
		f.Close()
		return nil, err
	}
	w.bw.Write([]byte{rowFileVersion, codec, compression})

	var out io.Writer = w.bw
	switch compression {
	case CompressionZstd:
		zw, err := zstd.NewWriter(w.bw, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		w.comp, out = zw, zw
	case CompressionLZ4:
		lw := lz4.NewWriter(w.bw)
		w.comp, out = lw, lw
	}

	switch codec {
	case CodecMsgpack:
		w.enc = msgpack.NewEncoder(out)
	default:
		w.enc = cborEnc.NewEncoder(out)
	}
	return w, nil
}

func (w *rowFileWriter) Encode(v any) error { return w.enc.Encode(v) }

// Close flushes the compressor and the buffer, then closes the file.
func (w *rowFileWriter) Close() error {
	if w.f == nil {
		return nil
	}
	var errs []error
	if w.comp != nil {
		errs = append(errs, w.comp.Close())
	}
	errs = append(errs, w.bw.Flush(), w.f.Close())
	w.f = nil
	return errors.Join(errs...)
}

// rowFileReader decodes values from a row file.
type rowFileReader struct {
	f     *os.File
	zr    *zstd.Decoder
	dec   decoder
	codec byte
}

func openRowFile(path string) (*rowFileReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReaderSize(f, 64*1024)
	pre := make([]byte, len(rowFileMagic)+3)
	if _, err := io.ReadFull(br, pre); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", errBadRowFile, err)
	}
	if string(pre[:len(rowFileMagic)]) != rowFileMagic {
		f.Close()
		return nil, errBadRowFile
	}
	version, codec, compression := pre[4], pre[5], pre[6]
	if version != rowFileVersion {
		f.Close()
		return nil, fmt.Errorf("%w: version %d", errBadRowFile, version)
	}

	r := &rowFileReader{f: f, codec: codec}
	var in io.Reader = br
	switch compression {
	case CompressionNone:
	case CompressionZstd:
		zr, err := zstd.NewReader(br)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		r.zr, in = zr, zr
	case CompressionLZ4:
		in = lz4.NewReader(br)
	default:
		f.Close()
		return nil, fmt.Errorf("%w: compression %d", errBadRowFile, compression)
	}

	switch codec {
	case CodecCBOR:
		r.dec = cborDec.NewDecoder(in)
	case CodecMsgpack:
		r.dec = msgpack.NewDecoder(in)
	default:
		f.Close()
		if r.zr != nil {
			r.zr.Close()
		}
		return nil, fmt.Errorf("%w: codec %d", errBadRowFile, codec)
	}
	return r, nil
}

// Decode reads the next value. It returns io.EOF at the end of the file.
func (r *rowFileReader) Decode(v any) error { return r.dec.Decode(v) }

func (r *rowFileReader) Close() error {
	if r.f == nil {
		return nil
	}
	if r.zr != nil {
		r.zr.Close()
	}
	err := r.f.Close()
	r.f = nil
	return err
}
