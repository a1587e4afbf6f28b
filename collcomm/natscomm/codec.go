package natscomm

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/unixpickle/dist-stencil/collcomm"
)

// Frames start with a fixed header:
//
//	flags  uint8
//	source uint32
//	index  uint32
//	count  uint32
//
// The concatenated frame bodies of one packet hold, after
// optional decompression:
//
//	tag       uint8
//	reasonLen uint32
//	reason    [reasonLen]byte
//	payload   []int32
//
// All integers are little-endian.
const (
	frameHeaderSize = 13
	bodyHeaderSize  = 5

	flagCompressed = 1
)

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func zstdCodecs() (*zstd.Encoder, *zstd.Decoder) {
	zstdOnce.Do(func() {
		var err error
		zstdEncoder, err = zstd.NewWriter(nil)
		if err != nil {
			panic(err)
		}
		zstdDecoder, err = zstd.NewReader(nil)
		if err != nil {
			panic(err)
		}
	})
	return zstdEncoder, zstdDecoder
}

// encodeFrames serializes a packet into one or more frames
// whose bodies hold at most maxBody bytes each.
func encodeFrames(p *collcomm.Packet, source int, compress bool, maxBody int) [][]byte {
	body := make([]byte, 0, bodyHeaderSize+len(p.Reason)+len(p.Payload)*4)
	body = append(body, byte(p.Tag))
	body = binary.LittleEndian.AppendUint32(body, uint32(len(p.Reason)))
	body = append(body, p.Reason...)
	for _, x := range p.Payload {
		body = binary.LittleEndian.AppendUint32(body, uint32(x))
	}

	var flags byte
	if compress {
		enc, _ := zstdCodecs()
		body = enc.EncodeAll(body, nil)
		flags |= flagCompressed
	}

	count := (len(body) + maxBody - 1) / maxBody
	frames := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		chunk := body[i*maxBody:]
		if len(chunk) > maxBody {
			chunk = chunk[:maxBody]
		}
		frame := make([]byte, 0, frameHeaderSize+len(chunk))
		frame = append(frame, flags)
		frame = binary.LittleEndian.AppendUint32(frame, uint32(source))
		frame = binary.LittleEndian.AppendUint32(frame, uint32(i))
		frame = binary.LittleEndian.AppendUint32(frame, uint32(count))
		frame = append(frame, chunk...)
		frames = append(frames, frame)
	}
	return frames
}

type frameHeader struct {
	Flags  byte
	Source int
	Index  int
	Count  int
}

func decodeFrameHeader(frame []byte) (frameHeader, []byte, error) {
	if len(frame) < frameHeaderSize {
		return frameHeader{}, nil, fmt.Errorf("%w: %d byte frame", ErrMalformedFrame, len(frame))
	}
	h := frameHeader{
		Flags:  frame[0],
		Source: int(binary.LittleEndian.Uint32(frame[1:])),
		Index:  int(binary.LittleEndian.Uint32(frame[5:])),
		Count:  int(binary.LittleEndian.Uint32(frame[9:])),
	}
	if h.Count == 0 || h.Index >= h.Count {
		return frameHeader{}, nil, fmt.Errorf("%w: chunk %d of %d", ErrMalformedFrame,
			h.Index, h.Count)
	}
	return h, frame[frameHeaderSize:], nil
}

// An assembler joins frames into packets.
//
// Frames from one source arrive in order, since every rank
// publishes on a single connection, so each source needs
// only one partial body at a time.
type assembler struct {
	partial map[int][]byte
}

// Add consumes a frame and returns a packet once the
// final frame of the packet has been added.
func (a *assembler) Add(frame []byte) (*collcomm.Packet, error) {
	h, chunk, err := decodeFrameHeader(frame)
	if err != nil {
		return nil, err
	}
	if a.partial == nil {
		a.partial = map[int][]byte{}
	}
	body := a.partial[h.Source]
	if h.Index == 0 {
		body = nil
	}
	body = append(body, chunk...)
	if h.Index+1 < h.Count {
		a.partial[h.Source] = body
		return nil, nil
	}
	delete(a.partial, h.Source)

	if h.Flags&flagCompressed != 0 {
		_, dec := zstdCodecs()
		body, err = dec.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
		}
	}
	p, err := decodeBody(body)
	if err != nil {
		return nil, err
	}
	p.Source = h.Source
	return p, nil
}

func decodeBody(body []byte) (*collcomm.Packet, error) {
	if len(body) < bodyHeaderSize {
		return nil, fmt.Errorf("%w: %d byte body", ErrMalformedFrame, len(body))
	}
	reasonLen := int(binary.LittleEndian.Uint32(body[1:]))
	rest := body[bodyHeaderSize:]
	if reasonLen > len(rest) || (len(rest)-reasonLen)%4 != 0 {
		return nil, fmt.Errorf("%w: bad body length %d", ErrMalformedFrame, len(body))
	}
	p := &collcomm.Packet{
		Tag:    collcomm.Tag(body[0]),
		Reason: string(rest[:reasonLen]),
	}
	rest = rest[reasonLen:]
	if len(rest) > 0 {
		p.Payload = make([]int32, len(rest)/4)
		for i := range p.Payload {
			p.Payload[i] = int32(binary.LittleEndian.Uint32(rest[i*4:]))
		}
	}
	return p, nil
}
