package embedding

import (
	"hash/fnv"
	"math/rand"

	"github.com/user/moovie-recommender/internal/utils"
)

// fallbackVector 模型不可用时的占位向量：以文本为种子的均匀随机向量，归一化后维度与模型一致
// 同一文本总是得到同一向量，结果形状正确但没有语义
func fallbackVector(text string, dim int) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	r := rand.New(rand.NewSource(int64(h.Sum64())))

	v := make([]float32, dim)
	for i := range v {
		v[i] = r.Float32()
	}
	return utils.NormalizeL2(v)
}
