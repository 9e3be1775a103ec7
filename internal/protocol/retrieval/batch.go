package retrieval

import (
	"time"

	pb "github.com/dep2p/go-chanfetch/pkg/lib/proto/channel"
	"github.com/dep2p/go-chanfetch/pkg/types"
)

// batch 在途的批量请求
type batch interface {
	sentTime() time.Time
	empty() bool
}

// ============================================================================
//                              搜索批次
// ============================================================================

// searchBatch 一个多键搜索请求（DataInfoRequest + MultiKeyRequest）
type searchBatch struct {
	sentAt time.Time
	keys   []string
	reqs   map[string]*KeyRequest
}

func newSearchBatch(reqs []*KeyRequest, now time.Time) *searchBatch {
	b := &searchBatch{sentAt: now, reqs: make(map[string]*KeyRequest, len(reqs))}
	for _, r := range reqs {
		b.keys = append(b.keys, r.key)
		b.reqs[r.key] = r
	}
	return b
}

func (b *searchBatch) sentTime() time.Time { return b.sentAt }
func (b *searchBatch) empty() bool         { return len(b.reqs) == 0 }

func (b *searchBatch) message(id types.ChannelID) *types.Message {
	req := &pb.DataInfoRequest{
		DataSet: id.DataSet(),
		Extra: &pb.Extra{MultiKeyRequest: &pb.MultiKeyRequest{
			Version: id.Proc.Version,
			Code:    id.Code,
			Keys:    b.keys,
		}},
	}
	return types.NewMessage(types.MessageDataInfoRequest, req.Marshal())
}

// take 取出应答中的键对应的请求
func (b *searchBatch) take(key string) *KeyRequest {
	r, ok := b.reqs[key]
	if !ok {
		return nil
	}
	delete(b.reqs, key)
	return r
}

// remaining 返回尚未应答的请求（按原始顺序）
func (b *searchBatch) remaining() []*KeyRequest {
	out := make([]*KeyRequest, 0, len(b.reqs))
	for _, k := range b.keys {
		if r, ok := b.reqs[k]; ok {
			out = append(out, r)
		}
	}
	return out
}

func (b *searchBatch) drop(r *KeyRequest) {
	if b.reqs[r.key] == r {
		delete(b.reqs, r.key)
	}
}

// ============================================================================
//                              下载批次
// ============================================================================

// downloadBatch 一个下载请求
//
// 单块批次使用 KeyRequest 附加信息并携带偏移；多块批次只包含覆盖
// 整个键值的块，使用 MultiKeyRequest，偏移为 0、大小为各块之和。
type downloadBatch struct {
	sentAt time.Time
	chunks []*chunk
}

func (b *downloadBatch) sentTime() time.Time { return b.sentAt }
func (b *downloadBatch) empty() bool         { return len(b.chunks) == 0 }

func (b *downloadBatch) message(id types.ChannelID, cert *types.Certificate) *types.Message {
	first := b.chunks[0]
	req := &pb.DataChunkRequest{
		DataSet:     id.DataSet(),
		Encrypted:   first.req.encrypted,
		Signed:      first.req.signed,
		Certificate: cert,
	}
	if len(b.chunks) == 1 {
		req.Offset = first.offset
		req.Size = int32(first.size)
		req.Extra = &pb.Extra{KeyRequest: &pb.KeyRequest{
			Version: id.Proc.Version,
			Code:    id.Code,
			Key:     first.req.key,
		}}
	} else {
		mk := &pb.MultiKeyRequest{Version: id.Proc.Version, Code: id.Code}
		total := 0
		for _, c := range b.chunks {
			mk.Keys = append(mk.Keys, c.req.key)
			total += c.size
		}
		req.Size = int32(total)
		req.Extra = &pb.Extra{MultiKeyRequest: mk}
	}
	return types.NewMessage(types.MessageDataChunkRequest, req.Marshal())
}

func (b *downloadBatch) find(key string) *chunk {
	for _, c := range b.chunks {
		if c.req.key == key {
			return c
		}
	}
	return nil
}

func (b *downloadBatch) remove(c *chunk) {
	for i, x := range b.chunks {
		if x == c {
			b.chunks = append(b.chunks[:i], b.chunks[i+1:]...)
			return
		}
	}
}

func (b *downloadBatch) drop(r *KeyRequest) {
	kept := b.chunks[:0]
	for _, c := range b.chunks {
		if c.req != r {
			kept = append(kept, c)
		}
	}
	b.chunks = kept
}

// delivery 一个块及其数据
type delivery struct {
	c    *chunk
	data []byte
}

// match 把应答与批次中的块对应起来，已对应的块从批次中移除
//
// 单键应答只匹配批次首块（键、偏移、大小都相同）；多键应答按应答中的
// 键顺序依次消费数据，遇到批次中没有的键或数据不足时停止。
func (b *downloadBatch) match(reply *pb.DataChunk) []delivery {
	if len(b.chunks) == 0 {
		return nil
	}
	switch reply.Extra.Kind() {
	case pb.ExtraKeyRequest:
		c := b.chunks[0]
		if c.req.key != reply.Extra.KeyRequest.Key || c.offset != reply.Offset || c.size != len(reply.Data) {
			return nil
		}
		b.chunks = b.chunks[1:]
		return []delivery{{c: c, data: reply.Data}}

	case pb.ExtraMultiKeyRequest:
		var out []delivery
		read := 0
		for _, key := range reply.Extra.MultiKeyRequest.Keys {
			c := b.find(key)
			if c == nil || !c.whole() || read+c.size > len(reply.Data) {
				break
			}
			out = append(out, delivery{c: c, data: reply.Data[read : read+c.size]})
			read += c.size
			b.remove(c)
		}
		return out
	}
	return nil
}
