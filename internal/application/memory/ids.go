package memory

import (
	"fmt"

	"github.com/google/uuid"
)

// embeddingNamespace embedding_id 派生的固定命名空间
// 命名空间和派生规则一经发布不可更改：增量修复和全量重建
// 都依赖同一条规则，保证重建后的 ID 空间与重建前完全一致。
var embeddingNamespace = uuid.MustParse("8f1c2d5e-4b7a-4f3d-9e6c-2a1b0d9c8e7f")

// DeriveEmbeddingID 从关系库主键确定性派生 embedding_id
// 采用基于名称的 UUID（SHA-1，版本 5）。主键唯一保证派生结果唯一，
// 无需第二次存储往返；Qdrant 原生接受 UUID 作为点 ID。
func DeriveEmbeddingID(messageID int64) string {
	name := fmt.Sprintf("message:%d", messageID)
	return uuid.NewSHA1(embeddingNamespace, []byte(name)).String()
}
