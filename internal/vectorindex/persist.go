package vectorindex

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	vecFileMagic    = "MVF\n"
	vecFileVersion  = 1
	vecHeaderSize   = 32
	snapshotVersion = 1
	metricL2        = "l2"
)

// snapshot 索引文件内容（msgpack），向量按行展开
type snapshot struct {
	Version   int       `msgpack:"v"`
	Backend   string    `msgpack:"backend"`
	Metric    string    `msgpack:"metric"`
	Dimension int       `msgpack:"dim"`
	Count     int       `msgpack:"count"`
	Data      []float32 `msgpack:"data"`
}

// Save 写入索引文件
func (f *FlatIndex) Save(path string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	snap := snapshot{
		Version:   snapshotVersion,
		Backend:   BackendFlat,
		Metric:    metricL2,
		Dimension: f.dim,
		Data:      f.data,
	}
	if f.dim > 0 {
		snap.Count = len(f.data) / f.dim
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	if err := msgpack.NewEncoder(w).Encode(&snap); err != nil {
		return fmt.Errorf("encode index snapshot: %w", err)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return file.Sync()
}

// LoadFlatIndex 读取索引文件
func LoadFlatIndex(path string) (*FlatIndex, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var snap snapshot
	if err := msgpack.NewDecoder(bufio.NewReader(file)).Decode(&snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptIndex, err)
	}
	if snap.Version != snapshotVersion || snap.Metric != metricL2 {
		return nil, fmt.Errorf("%w: version %d metric %q", ErrCorruptIndex, snap.Version, snap.Metric)
	}
	if snap.Dimension <= 0 || snap.Count < 0 || len(snap.Data) != snap.Dimension*snap.Count {
		return nil, fmt.Errorf("%w: %d values for %d x %d", ErrCorruptIndex, len(snap.Data), snap.Count, snap.Dimension)
	}

	return &FlatIndex{dim: snap.Dimension, data: snap.Data}, nil
}

// WriteVectorFile 将原始向量写入 .vec 文件：32 字节头（magic、版本、维度、条数）+ 小端 float32 行
func WriteVectorFile(path string, dim int, vectors [][]float32) error {
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("%w: vector %d has %d dims, want %d", ErrDimensionMismatch, i, len(v), dim)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	header := make([]byte, vecHeaderSize)
	copy(header, vecFileMagic)
	binary.LittleEndian.PutUint32(header[4:], vecFileVersion)
	binary.LittleEndian.PutUint32(header[8:], uint32(dim))
	binary.LittleEndian.PutUint64(header[12:], uint64(len(vectors)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	for _, v := range vectors {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return file.Sync()
}

// ReadVectorFile 读取 .vec 文件
func ReadVectorFile(path string) (int, [][]float32, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, nil, err
	}
	defer file.Close()

	r := bufio.NewReader(file)
	header := make([]byte, vecHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, fmt.Errorf("%w: short header: %v", ErrCorruptIndex, err)
	}
	if string(header[:4]) != vecFileMagic {
		return 0, nil, fmt.Errorf("%w: bad magic", ErrCorruptIndex)
	}
	if v := binary.LittleEndian.Uint32(header[4:]); v != vecFileVersion {
		return 0, nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptIndex, v)
	}
	dim := int(binary.LittleEndian.Uint32(header[8:]))
	rawCount := binary.LittleEndian.Uint64(header[12:])
	if dim <= 0 {
		return 0, nil, fmt.Errorf("%w: dimension %d", ErrCorruptIndex, dim)
	}
	info, err := file.Stat()
	if err != nil {
		return 0, nil, err
	}
	// 条数必须与文件体积吻合，避免按损坏的头部分配内存
	body := uint64(info.Size() - vecHeaderSize)
	rowSize := uint64(dim) * 4
	if rawCount > body/rowSize || rawCount*rowSize != body {
		return 0, nil, fmt.Errorf("%w: header claims %d rows of %d dims, file has %d bytes", ErrCorruptIndex, rawCount, dim, info.Size())
	}
	count := int(rawCount)

	vectors := make([][]float32, count)
	for i := range vectors {
		v := make([]float32, dim)
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return 0, nil, fmt.Errorf("%w: row %d: %v", ErrCorruptIndex, i, err)
		}
		vectors[i] = v
	}
	return dim, vectors, nil
}
