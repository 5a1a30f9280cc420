package metastore

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/user/moovie-recommender/internal/model"
)

// ErrOutOfRange 位置超出元数据范围，说明索引与元数据不是同一次构建的产物
var ErrOutOfRange = errors.New("metadata position out of range")

// Store 索引位置到元数据的只读映射
type Store struct {
	records []model.MetadataRecord
}

// New 用构建时产生的记录创建
func New(records []model.MetadataRecord) *Store {
	return &Store{records: records}
}

// Get 按位置取记录
func (s *Store) Get(pos int) (model.MetadataRecord, error) {
	if pos < 0 || pos >= len(s.records) {
		return model.MetadataRecord{}, fmt.Errorf("%w: position %d, size %d", ErrOutOfRange, pos, len(s.records))
	}
	return s.records[pos], nil
}

// Len 记录条数
func (s *Store) Len() int {
	return len(s.records)
}

// Save 以 JSON 数组写入文件，顺序即索引位置
func (s *Store) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	if err := json.NewEncoder(w).Encode(s.records); err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return file.Sync()
}

// Load 读取元数据文件
func Load(path string) (*Store, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var records []model.MetadataRecord
	if err := json.NewDecoder(bufio.NewReader(file)).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode metadata %s: %w", path, err)
	}
	return New(records), nil
}
