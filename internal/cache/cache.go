// Package cache implements the Jagex on-disk cache codec: sector-chain
// reassembly from the idx/dat2 files, container decompression, reference
// table parsing, and checksum-table construction. When the cache directory
// is absent the store falls back to minimal stub responses so the rest of
// the server can still boot and be exercised in tests.
package cache

import (
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/rscore/rs530/internal/protoerr"
)

// IndexCount is the number of cache indices (0-28) expected for revision 530.
const IndexCount = 29

const (
	sectorSize       = 520
	sectorHeaderSize = 8
	sectorDataSize   = 512
	indexEntrySize   = 6
	maxContainerSize = 5_000_000
)

// CompressionType identifies how a container's payload is compressed.
type CompressionType byte

const (
	CompressionNone CompressionType = iota
	CompressionBzip2
	CompressionGzip
	CompressionLzma
)

// ArchiveInfo describes one archive's metadata within a reference table.
type ArchiveInfo struct {
	ID        uint32
	NameHash  int32
	CRC       uint32
	Version   uint32
	Whirlpool *[64]byte
	FileIDs   []uint32
}

// ReferenceTable is the parsed form of a decompressed index-255 container.
type ReferenceTable struct {
	Protocol  byte
	Revision  uint32
	Named     bool
	Whirlpool bool
	Archives  []ArchiveInfo
	CRC       uint32
}

// Store serves cache files, decompressing and parsing on demand, with a
// stub fallback when the on-disk cache is absent or incomplete.
type Store struct {
	path string

	mu              sync.RWMutex
	dataFile        *os.File
	indexFiles      map[byte]*os.File
	referenceTables map[byte]ReferenceTable
	rawReference    map[byte][]byte
	checksumTable   []byte
	loaded          bool
	indexCount      int
}

// NewStore opens the cache at path, loading what it can. A missing or
// incomplete cache is not an error: the store serves stubs until one of the
// expected files turns up.
func NewStore(path string) (*Store, error) {
	s := &Store{
		path:            path,
		indexFiles:      make(map[byte]*os.File),
		referenceTables: make(map[byte]ReferenceTable),
		rawReference:    make(map[byte][]byte),
	}

	if err := s.load(); err != nil {
		slog.Debug("cache not loaded, serving stubs", "path", path, "error", err)
	} else {
		slog.Info("cache loaded", "path", path, "indices", s.indexCount)
	}

	return s, nil
}

func (s *Store) load() error {
	if _, err := os.Stat(s.path); err != nil {
		return fmt.Errorf("cache directory: %w", err)
	}

	dataPath := filepath.Join(s.path, "main_file_cache.dat2")
	dataFile, err := os.Open(dataPath)
	if err != nil {
		return fmt.Errorf("open data file: %w", err)
	}

	idx255Path := filepath.Join(s.path, "main_file_cache.idx255")
	idx255, err := os.Open(idx255Path)
	if err != nil {
		dataFile.Close()
		return fmt.Errorf("open idx255: %w", err)
	}

	stat, err := idx255.Stat()
	if err != nil {
		dataFile.Close()
		idx255.Close()
		return fmt.Errorf("stat idx255: %w", err)
	}
	numIndices := int(stat.Size() / indexEntrySize)

	s.mu.Lock()
	s.dataFile = dataFile
	s.indexFiles[255] = idx255
	s.indexCount = numIndices

	for i := 0; i < numIndices; i++ {
		idxPath := filepath.Join(s.path, fmt.Sprintf("main_file_cache.idx%d", i))
		f, err := os.Open(idxPath)
		if err != nil {
			continue
		}
		s.indexFiles[byte(i)] = f
	}
	s.mu.Unlock()

	s.loadReferenceTables(numIndices)
	s.generateChecksumTable(numIndices)

	s.mu.Lock()
	s.loaded = true
	s.mu.Unlock()

	return nil
}

func (s *Store) loadReferenceTables(numIndices int) {
	for i := 0; i < numIndices; i++ {
		idx := byte(i)
		data, err := s.readContainerData(255, uint32(i))
		if err != nil {
			slog.Debug("reference table read failed", "index", idx, "error", err)
			continue
		}

		s.mu.Lock()
		s.rawReference[idx] = data
		s.mu.Unlock()

		table, err := s.parseReferenceTable(data)
		if err != nil {
			slog.Debug("reference table parse failed", "index", idx, "error", err)
			continue
		}

		s.mu.Lock()
		s.referenceTables[idx] = table
		s.mu.Unlock()
	}
}

// ReadContainerData reassembles the raw (still-compressed) container bytes
// for the given index/archive by following its sector chain.
func (s *Store) ReadContainerData(index byte, archive uint32) ([]byte, error) {
	return s.readContainerData(index, archive)
}

func (s *Store) readContainerData(index byte, archive uint32) ([]byte, error) {
	s.mu.RLock()
	indexFile := s.indexFiles[index]
	dataFile := s.dataFile
	s.mu.RUnlock()

	if indexFile == nil {
		return nil, protoerr.Cache(fmt.Sprintf("index file %d not open", index), nil)
	}
	if dataFile == nil {
		return nil, protoerr.Cache("data file not open", nil)
	}

	entry := make([]byte, indexEntrySize)
	entryOffset := int64(archive) * indexEntrySize
	if _, err := indexFile.ReadAt(entry, entryOffset); err != nil {
		return nil, protoerr.Cache("read index entry", err)
	}

	containerSize := int(entry[0])<<16 | int(entry[1])<<8 | int(entry[2])
	sector := uint32(entry[3])<<16 | uint32(entry[4])<<8 | uint32(entry[5])

	if containerSize == 0 || containerSize > maxContainerSize {
		return nil, protoerr.Cache(fmt.Sprintf("invalid container size %d", containerSize), nil)
	}
	if sector == 0 {
		return nil, protoerr.Cache("invalid sector 0", nil)
	}

	out := make([]byte, containerSize)
	bytesRead := 0
	part := uint16(0)
	sectorBuf := make([]byte, sectorSize)

	for bytesRead < containerSize {
		offset := int64(sector) * sectorSize
		toRead := sectorSize
		if remaining := containerSize - bytesRead + sectorHeaderSize; remaining < toRead {
			toRead = remaining
		}

		if _, err := dataFile.ReadAt(sectorBuf[:toRead], offset); err != nil {
			return nil, protoerr.Cache(fmt.Sprintf("read sector %d", sector), err)
		}

		sectorArchive := uint32(sectorBuf[0])<<8 | uint32(sectorBuf[1])
		sectorPart := uint16(sectorBuf[2])<<8 | uint16(sectorBuf[3])
		nextSector := uint32(sectorBuf[4])<<16 | uint32(sectorBuf[5])<<8 | uint32(sectorBuf[6])
		sectorIndex := sectorBuf[7]

		if sectorArchive != archive {
			return nil, protoerr.Cache(fmt.Sprintf("archive mismatch: expected %d got %d", archive, sectorArchive), nil)
		}
		if sectorPart != part {
			return nil, protoerr.Cache(fmt.Sprintf("part mismatch: expected %d got %d", part, sectorPart), nil)
		}
		if sectorIndex != index {
			return nil, protoerr.Cache(fmt.Sprintf("index mismatch: expected %d got %d", index, sectorIndex), nil)
		}

		dataInSector := sectorDataSize
		if remaining := containerSize - bytesRead; remaining < dataInSector {
			dataInSector = remaining
		}
		copy(out[bytesRead:bytesRead+dataInSector], sectorBuf[sectorHeaderSize:sectorHeaderSize+dataInSector])

		bytesRead += dataInSector
		part++
		sector = nextSector

		if bytesRead < containerSize && sector == 0 {
			return nil, protoerr.Cache("unexpected end of sector chain", nil)
		}
	}

	return out, nil
}

// DecompressContainer strips the container header and returns the decoded
// payload, decompressing it if necessary.
func DecompressContainer(data []byte) ([]byte, error) {
	if len(data) < 5 {
		return nil, protoerr.Cache("container too short", nil)
	}

	compression := CompressionType(data[0])
	compressedSize := int(binary.BigEndian.Uint32(data[1:5]))

	switch compression {
	case CompressionNone:
		if len(data) < 5+compressedSize {
			return nil, protoerr.Cache("insufficient data for uncompressed container", nil)
		}
		return data[5 : 5+compressedSize], nil

	case CompressionBzip2:
		if len(data) < 9 {
			return nil, protoerr.Cache("bzip2 container too short", nil)
		}
		decompressedSize := int(binary.BigEndian.Uint32(data[5:9]))
		bz := append([]byte{'B', 'Z', 'h', '1'}, data[9:5+compressedSize]...)
		r := bzip2.NewReader(bytes.NewReader(bz))
		out := make([]byte, decompressedSize)
		if _, err := io.ReadFull(r, out); err != nil {
			return nil, protoerr.Cache("bzip2 decompress", err)
		}
		return out, nil

	case CompressionGzip:
		if len(data) < 9 {
			return nil, protoerr.Cache("gzip container too short", nil)
		}
		decompressedSize := int(binary.BigEndian.Uint32(data[5:9]))
		r, err := gzip.NewReader(bytes.NewReader(data[9 : 5+compressedSize]))
		if err != nil {
			return nil, protoerr.Cache("gzip header", err)
		}
		defer r.Close()
		out := make([]byte, decompressedSize)
		if _, err := io.ReadFull(r, out); err != nil {
			return nil, protoerr.Cache("gzip decompress", err)
		}
		return out, nil

	case CompressionLzma:
		return nil, protoerr.Cache("lzma decompression not supported", nil)

	default:
		return nil, protoerr.Cache(fmt.Sprintf("unknown compression type %d", compression), nil)
	}
}

// readRefBigSmart reads the reference-table-specific big-smart encoding,
// distinct from the general-purpose one in the buffer package: a leading
// byte < 0x80 starts a 2-byte value, otherwise a 4-byte value with the top
// bit of the first byte masked off.
func readRefBigSmart(data []byte, pos *int) (uint32, error) {
	if *pos >= len(data) {
		return 0, protoerr.Cache("unexpected end of reference table data", nil)
	}
	if data[*pos] < 0x80 {
		if *pos+1 >= len(data) {
			return 0, protoerr.Cache("unexpected end of reference table data", nil)
		}
		val := uint32(data[*pos])<<8 | uint32(data[*pos+1])
		*pos += 2
		return val, nil
	}
	if *pos+3 >= len(data) {
		return 0, protoerr.Cache("unexpected end of reference table data", nil)
	}
	val := uint32(data[*pos]&0x7F)<<24 | uint32(data[*pos+1])<<16 | uint32(data[*pos+2])<<8 | uint32(data[*pos+3])
	*pos += 4
	return val, nil
}

func (s *Store) parseReferenceTable(raw []byte) (ReferenceTable, error) {
	data, err := DecompressContainer(raw)
	if err != nil {
		return ReferenceTable{}, err
	}
	if len(data) == 0 {
		return ReferenceTable{}, protoerr.Cache("empty reference table data", nil)
	}

	pos := 0
	protocol := data[pos]
	pos++

	if protocol < 5 || protocol > 7 {
		return ReferenceTable{}, protoerr.Cache(fmt.Sprintf("unsupported reference table protocol %d", protocol), nil)
	}

	var revision uint32
	if protocol >= 6 {
		revision = binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4
	}

	flags := data[pos]
	pos++
	named := flags&0x01 != 0
	whirlpool := flags&0x02 != 0

	var archiveCount uint32
	if protocol >= 7 {
		archiveCount, err = readRefBigSmart(data, &pos)
		if err != nil {
			return ReferenceTable{}, err
		}
	} else {
		archiveCount = uint32(binary.BigEndian.Uint16(data[pos : pos+2]))
		pos += 2
	}

	if archiveCount == 0 {
		return ReferenceTable{
			Protocol:  protocol,
			Revision:  revision,
			Named:     named,
			Whirlpool: whirlpool,
			CRC:       crc32.ChecksumIEEE(raw),
		}, nil
	}

	archiveIDs := make([]uint32, archiveCount)
	var lastID uint32
	for i := range archiveIDs {
		var delta uint32
		if protocol >= 7 {
			delta, err = readRefBigSmart(data, &pos)
		} else {
			delta = uint32(binary.BigEndian.Uint16(data[pos : pos+2]))
			pos += 2
		}
		if err != nil {
			return ReferenceTable{}, err
		}
		lastID += delta
		archiveIDs[i] = lastID
	}

	archives := make([]ArchiveInfo, archiveCount)
	for i, id := range archiveIDs {
		archives[i].ID = id
	}

	if named {
		for i := range archives {
			archives[i].NameHash = int32(binary.BigEndian.Uint32(data[pos : pos+4]))
			pos += 4
		}
	}

	if whirlpool {
		for i := range archives {
			var digest [64]byte
			copy(digest[:], data[pos:pos+64])
			pos += 64
			archives[i].Whirlpool = &digest
		}
	}

	for i := range archives {
		archives[i].CRC = binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4
	}

	for i := range archives {
		archives[i].Version = binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4
	}

	fileCounts := make([]uint32, len(archives))
	for i := range fileCounts {
		var count uint32
		if protocol >= 7 {
			count, err = readRefBigSmart(data, &pos)
		} else {
			count = uint32(binary.BigEndian.Uint16(data[pos : pos+2]))
			pos += 2
		}
		if err != nil {
			return ReferenceTable{}, err
		}
		fileCounts[i] = count
	}

	for i := range archives {
		ids := make([]uint32, fileCounts[i])
		var lastFileID uint32
		for j := range ids {
			var delta uint32
			if protocol >= 7 {
				delta, err = readRefBigSmart(data, &pos)
			} else {
				delta = uint32(binary.BigEndian.Uint16(data[pos : pos+2]))
				pos += 2
			}
			if err != nil {
				return ReferenceTable{}, err
			}
			lastFileID += delta
			ids[j] = lastFileID
		}
		archives[i].FileIDs = ids
	}

	return ReferenceTable{
		Protocol:  protocol,
		Revision:  revision,
		Named:     named,
		Whirlpool: whirlpool,
		Archives:  archives,
		CRC:       crc32.ChecksumIEEE(raw),
	}, nil
}

func (s *Store) generateChecksumTable(numIndices int) {
	s.mu.RLock()
	table := make([]byte, 0, numIndices*8)
	for i := 0; i < numIndices; i++ {
		idx := byte(i)
		var buf [8]byte
		if rt, ok := s.referenceTables[idx]; ok {
			binary.BigEndian.PutUint32(buf[0:4], rt.CRC)
			binary.BigEndian.PutUint32(buf[4:8], rt.Revision)
		} else if data, ok := s.rawReference[idx]; ok {
			binary.BigEndian.PutUint32(buf[0:4], crc32.ChecksumIEEE(data))
		}
		table = append(table, buf[:]...)
	}
	s.mu.RUnlock()

	s.mu.Lock()
	s.checksumTable = table
	s.mu.Unlock()

	slog.Info("checksum table generated", "entries", numIndices)
}

// IsLoaded reports whether a real on-disk cache was found and indexed.
func (s *Store) IsLoaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// GetChecksumTable returns the blob served as archive 255 of index 255.
func (s *Store) GetChecksumTable() []byte {
	s.mu.RLock()
	if s.checksumTable != nil {
		out := make([]byte, len(s.checksumTable))
		copy(out, s.checksumTable)
		s.mu.RUnlock()
		return out
	}
	s.mu.RUnlock()
	return stubChecksumTable()
}

// GetReferenceTable returns the raw, still-compressed reference-table
// container for the given index.
func (s *Store) GetReferenceTable(index byte) []byte {
	s.mu.RLock()
	if data, ok := s.rawReference[index]; ok {
		out := make([]byte, len(data))
		copy(out, data)
		s.mu.RUnlock()
		return out
	}
	s.mu.RUnlock()
	return stubReferenceTable()
}

// GetFile returns the raw container for index/archive, compression header
// included — the caller/client decompresses.
func (s *Store) GetFile(index byte, archive uint32) []byte {
	if s.IsLoaded() {
		if data, err := s.readContainerData(index, archive); err == nil {
			return data
		}
	}
	return stubFile()
}

// GetParsedReferenceTable returns the parsed reference table for an index,
// if one was loaded.
func (s *Store) GetParsedReferenceTable(index byte) (ReferenceTable, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rt, ok := s.referenceTables[index]
	return rt, ok
}

// IndexCount returns the number of indices available, falling back to the
// revision-530 default when no real cache is loaded.
func (s *Store) IndexCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.indexCount > 0 {
		return s.indexCount
	}
	return IndexCount
}

// Path returns the cache directory this store was opened against.
func (s *Store) Path() string { return s.path }

// Close releases the open file handles.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	if s.dataFile != nil {
		if err := s.dataFile.Close(); err != nil {
			firstErr = err
		}
	}
	for _, f := range s.indexFiles {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func stubChecksumTable() []byte {
	data := make([]byte, 0, IndexCount*8)
	var buf [8]byte
	for i := 0; i < IndexCount; i++ {
		binary.BigEndian.PutUint32(buf[0:4], uint32(i))
		binary.BigEndian.PutUint32(buf[4:8], 1)
		data = append(data, buf[:]...)
	}
	return data
}

func stubReferenceTable() []byte {
	data := make([]byte, 0, 9)
	data = append(data, 0) // no compression
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], 4)
	data = append(data, lenBuf[:]...)
	data = append(data, 5, 0) // protocol 5, no flags
	var countBuf [2]byte
	binary.BigEndian.PutUint16(countBuf[:], 0)
	return append(data, countBuf[:]...)
}

func stubFile() []byte {
	data := make([]byte, 0, 5)
	data = append(data, 0)
	var lenBuf [4]byte
	return append(data, lenBuf[:]...)
}
