package sii

import (
	log "github.com/sirupsen/logrus"
)

// SectionReader iterates over the bytes of one SII region. The underlying
// interface reads 8 byte chunks; the reader buffers the current chunk and
// tracks how far into the section it is so overruns surface as errors
// instead of garbage from the next category.
type SectionReader struct {
	e *Eeprom

	// start is the word address of the next chunk to fetch.
	start uint16

	// length is the section size in bytes; byteCount how many were read.
	length    uint16
	byteCount uint16

	chunk     [8]byte
	chunkPos  int
	haveChunk bool
}

// StartAt opens a reader over an arbitrary SII region.
func (e *Eeprom) StartAt(wordAddress uint16, lengthBytes uint16) *SectionReader {
	return &SectionReader{e: e, start: wordAddress, length: lengthBytes}
}

// Section walks the category chain and opens a reader over the payload of
// the requested category, or returns nil when the device does not carry it.
func (e *Eeprom) Section(category CategoryType) (*SectionReader, error) {
	start := firstCategoryWord

	for {
		chunk, err := e.readRaw(start)
		if err != nil {
			return nil, err
		}
		categoryType := CategoryType(uint16(chunk[0]) | uint16(chunk[1])<<8)
		lenWords := uint16(chunk[2]) | uint16(chunk[3])<<8

		// Payload starts after the 2 word header.
		start += 2

		switch categoryType {
		case category:
			log.Debugf("[SII][x%x] category %d at word x%04x, %d words", e.address, category, start, lenWords)
			return e.StartAt(start, lenWords*2), nil
		case CategoryEnd:
			return nil, nil
		}

		start += lenWords
	}
}

// Next returns the next byte of the section, with ok false at the end.
func (r *SectionReader) Next() (byte, bool, error) {
	if r.byteCount >= r.length {
		return 0, false, nil
	}

	if !r.haveChunk || r.chunkPos >= len(r.chunk) {
		chunk, err := r.e.readRaw(r.start)
		if err != nil {
			return 0, false, err
		}
		r.chunk = chunk
		r.chunkPos = 0
		r.haveChunk = true
		// Addresses are words: an 8 byte chunk advances 4 words.
		r.start += uint16(len(r.chunk) / 2)
	}

	b := r.chunk[r.chunkPos]
	r.chunkPos++
	r.byteCount++
	return b, true, nil
}

// take returns the next byte or ErrSectionOverrun at the end.
func (r *SectionReader) take() (byte, error) {
	b, ok, err := r.Next()
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrSectionOverrun
	}
	return b, nil
}

// Skip discards n bytes. Odd skips are fine: bytes are discarded one at a
// time from the buffered chunk, fetching the next chunk as needed.
func (r *SectionReader) Skip(n int) error {
	for i := 0; i < n; i++ {
		if _, err := r.take(); err != nil {
			return err
		}
	}
	return nil
}

// TakeInto fills buf completely or fails with ErrSectionOverrun.
func (r *SectionReader) TakeInto(buf []byte) error {
	for i := range buf {
		b, err := r.take()
		if err != nil {
			return err
		}
		buf[i] = b
	}
	return nil
}

func (r *SectionReader) ReadU8() (uint8, error) {
	return r.take()
}

func (r *SectionReader) ReadU16() (uint16, error) {
	var b [2]byte
	if err := r.TakeInto(b[:]); err != nil {
		return 0, err
	}
	return uint16(b[0]) | uint16(b[1])<<8, nil
}

func (r *SectionReader) ReadU32() (uint32, error) {
	var b [4]byte
	if err := r.TakeInto(b[:]); err != nil {
		return 0, err
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

// Remaining returns how many bytes of the section are left.
func (r *SectionReader) Remaining() int {
	return int(r.length - r.byteCount)
}
