package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/user/moovie-recommender/internal/logging"
	"github.com/user/moovie-recommender/internal/metastore"
	"github.com/user/moovie-recommender/internal/vectorindex"
)

const (
	VectorsFile  = "movie_embeddings.vec"
	IndexFile    = "movie_index.msgpack"
	MetadataFile = "movie_metadata.json"
	ManifestFile = "manifest.json"
	CurrentFile  = "CURRENT"

	versionLayout = "20060102T150405.000000000Z"
)

var (
	// ErrNotFound 目录下没有可用的索引产物
	ErrNotFound = errors.New("index artifact not found")
	// ErrCountMismatch 索引条数与元数据条数不一致
	ErrCountMismatch = errors.New("index and metadata sizes differ")
	// ErrVersionExists 指定的版本目录已存在
	ErrVersionExists = errors.New("index version already exists")
)

// Manifest 一次构建的描述信息
type Manifest struct {
	Version   string    `json:"version"`
	Model     string    `json:"model"`
	Dimension int       `json:"dimension"`
	Count     int       `json:"count"`
	Source    string    `json:"source,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Bundle 加载后的索引 + 元数据
type Bundle struct {
	Dir      string
	Manifest Manifest
	Index    *vectorindex.FlatIndex
	Metadata *metastore.Store
}

// Write 把一次构建写入新的版本目录，全部写完后再切换 CURRENT
// 已加载旧版本的进程不受影响，直到它重新加载
func Write(root string, manifest Manifest, index *vectorindex.FlatIndex, meta *metastore.Store) (string, error) {
	if index.Len() != meta.Len() {
		return "", fmt.Errorf("%w: %d vectors, %d records", ErrCountMismatch, index.Len(), meta.Len())
	}
	if manifest.CreatedAt.IsZero() {
		manifest.CreatedAt = time.Now().UTC()
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return "", err
	}
	dir, err := versionDir(root, &manifest)
	if err != nil {
		return "", err
	}
	manifest.Dimension = index.Dimension()
	manifest.Count = index.Len()

	tmpDir, err := os.MkdirTemp(root, ".build-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(tmpDir)

	if err := vectorindex.WriteVectorFile(filepath.Join(tmpDir, VectorsFile), index.Dimension(), index.Vectors()); err != nil {
		return "", fmt.Errorf("write vectors: %w", err)
	}
	if err := index.Save(filepath.Join(tmpDir, IndexFile)); err != nil {
		return "", fmt.Errorf("write index: %w", err)
	}
	if err := meta.Save(filepath.Join(tmpDir, MetadataFile)); err != nil {
		return "", fmt.Errorf("write metadata: %w", err)
	}
	if err := writeJSON(filepath.Join(tmpDir, ManifestFile), manifest); err != nil {
		return "", fmt.Errorf("write manifest: %w", err)
	}

	if err := os.Rename(tmpDir, dir); err != nil {
		return "", fmt.Errorf("publish version %s: %w", manifest.Version, err)
	}
	if err := writeCurrent(root, manifest.Version); err != nil {
		return "", err
	}

	log := logging.Component("Artifact")
	log.Info().Str("version", manifest.Version).Int("count", manifest.Count).Str("dir", dir).Msg("索引产物已发布")
	return dir, nil
}

// versionDir 确定新版本目录；自动生成的版本与已有目录重名时追加序号，显式指定的版本不覆盖已有目录
func versionDir(root string, manifest *Manifest) (string, error) {
	if manifest.Version != "" {
		dir := filepath.Join(root, manifest.Version)
		if exists(dir) {
			return "", fmt.Errorf("%w: %s", ErrVersionExists, manifest.Version)
		}
		return dir, nil
	}

	base := manifest.CreatedAt.UTC().Format(versionLayout)
	manifest.Version = base
	for i := 1; exists(filepath.Join(root, manifest.Version)); i++ {
		manifest.Version = fmt.Sprintf("%s-%d", base, i)
	}
	return filepath.Join(root, manifest.Version), nil
}

// Load 读取 CURRENT 指向的版本；没有 CURRENT 时把 root 本身当作产物目录
func Load(root string) (*Bundle, error) {
	dir, err := Resolve(root)
	if err != nil {
		return nil, err
	}

	index, err := loadIndex(dir)
	if err != nil {
		return nil, err
	}
	meta, err := metastore.Load(filepath.Join(dir, MetadataFile))
	if err != nil {
		return nil, err
	}
	if index.Len() != meta.Len() {
		return nil, fmt.Errorf("%w: %d vectors, %d records in %s", ErrCountMismatch, index.Len(), meta.Len(), dir)
	}

	b := &Bundle{Dir: dir, Index: index, Metadata: meta}
	if err := readJSON(filepath.Join(dir, ManifestFile), &b.Manifest); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	if b.Manifest.Version == "" {
		b.Manifest.Version = filepath.Base(dir)
	}
	return b, nil
}

// Resolve 返回当前生效的产物目录
func Resolve(root string) (string, error) {
	data, err := os.ReadFile(filepath.Join(root, CurrentFile))
	switch {
	case err == nil:
		version := strings.TrimSpace(string(data))
		if version == "" || strings.ContainsAny(version, `/\`) {
			return "", fmt.Errorf("%w: invalid CURRENT %q", ErrNotFound, version)
		}
		return filepath.Join(root, version), nil
	case errors.Is(err, os.ErrNotExist):
		if exists(filepath.Join(root, IndexFile)) || exists(filepath.Join(root, VectorsFile)) {
			return root, nil
		}
		return "", fmt.Errorf("%w in %s", ErrNotFound, root)
	default:
		return "", err
	}
}

// Versions 列出 root 下已发布的版本目录
func Versions(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var versions []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			versions = append(versions, e.Name())
		}
	}
	return versions, nil
}

// Prune 删除旧版本，保留最近 keep 个以及当前版本
func Prune(root string, keep int) ([]string, error) {
	current, _ := os.ReadFile(filepath.Join(root, CurrentFile))
	currentVersion := strings.TrimSpace(string(current))

	versions, err := Versions(root)
	if err != nil {
		return nil, err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(versions)))

	var removed []string
	for i, v := range versions {
		if i < keep || v == currentVersion {
			continue
		}
		if err := os.RemoveAll(filepath.Join(root, v)); err != nil {
			return removed, err
		}
		removed = append(removed, v)
	}
	return removed, nil
}

// loadIndex 优先读索引快照，缺失时用 .vec 原始向量重建
func loadIndex(dir string) (*vectorindex.FlatIndex, error) {
	indexPath := filepath.Join(dir, IndexFile)
	if exists(indexPath) {
		return vectorindex.LoadFlatIndex(indexPath)
	}

	vecPath := filepath.Join(dir, VectorsFile)
	if !exists(vecPath) {
		return nil, fmt.Errorf("%w in %s", ErrNotFound, dir)
	}
	dim, vectors, err := vectorindex.ReadVectorFile(vecPath)
	if err != nil {
		return nil, err
	}
	log := logging.Component("Artifact")
	log.Warn().Str("dir", dir).Msg("索引快照缺失，使用原始向量重建")
	return vectorindex.BuildFlatIndex(dim, vectors)
}

// writeCurrent 先写临时文件再 rename，读者不会看到写了一半的 CURRENT
func writeCurrent(root, version string) error {
	tmp, err := os.CreateTemp(root, ".current-")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(version + "\n"); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(root, CurrentFile))
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
