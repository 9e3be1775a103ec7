package types

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/minio/sha256-simd"
	"github.com/mr-tron/base58"
)

// ============================================================================
//                              PeerID - 节点标识
// ============================================================================

// PeerID 节点唯一标识符
//
// 由公钥派生：Base58(SHA256(pubkey))。
type PeerID string

// EmptyPeerID 空节点ID
const EmptyPeerID PeerID = ""

// ErrInvalidPeerID 无效的节点ID错误
var ErrInvalidPeerID = errors.New("invalid peer ID: must be Base58 of 32 bytes")

// PeerIDFromPublicKey 从 ed25519 公钥派生 PeerID
func PeerIDFromPublicKey(pub ed25519.PublicKey) PeerID {
	sum := sha256.Sum256(pub)
	return PeerID(base58.Encode(sum[:]))
}

// ParsePeerID 解析并校验 Base58 形式的 PeerID
func ParsePeerID(s string) (PeerID, error) {
	b, err := base58.Decode(s)
	if err != nil || len(b) != sha256.Size {
		return EmptyPeerID, fmt.Errorf("%w: %q", ErrInvalidPeerID, s)
	}
	return PeerID(s), nil
}

// String 返回 PeerID 字符串
func (id PeerID) String() string { return string(id) }

// ShortString 返回前 8 个字符，用于日志
func (id PeerID) ShortString() string {
	if len(id) > 8 {
		return string(id[:8])
	}
	return string(id)
}

// IsEmpty 检查 PeerID 是否为空
func (id PeerID) IsEmpty() bool { return id == EmptyPeerID }

// PeerInfo 节点信息
type PeerInfo struct {
	ID    PeerID
	Addrs []string
}

// ============================================================================
//                              ProcRef / ChannelID
// ============================================================================

// DataSetID 数据集标识，等于流程 GUID
type DataSetID = uuid.UUID

// ProcRef 流程引用：流程 GUID + 版本号
type ProcRef struct {
	ID      uuid.UUID
	Version int32
}

// String 返回 "guid[version]"
func (p ProcRef) String() string {
	return fmt.Sprintf("%s[%d]", p.ID, p.Version)
}

// ChannelID 数据通道标识
//
// 两个分量都相等时两个 ChannelID 相等；可直接作为 map 键。
type ChannelID struct {
	Proc ProcRef
	Code string
}

// String 返回 "procRef:code"
func (c ChannelID) String() string {
	return c.Proc.String() + ":" + c.Code
}

// DataSet 返回通道所属的数据集标识
func (c ChannelID) DataSet() DataSetID { return c.Proc.ID }
