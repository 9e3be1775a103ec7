package channel

import (
	"github.com/dep2p/go-chanfetch/pkg/types"
	"github.com/google/uuid"
)

func marshalPeerInfo(p types.PeerInfo) []byte {
	var enc encoder
	enc.string(1, string(p.ID))
	enc.repeatedString(2, p.Addrs)
	return enc.b
}

func unmarshalPeerInfo(b []byte) (types.PeerInfo, error) {
	var p types.PeerInfo
	err := walk(b, func(f field) error {
		switch f.num {
		case 1:
			p.ID = types.PeerID(f.string())
		case 2:
			p.Addrs = append(p.Addrs, f.string())
		}
		return nil
	})
	return p, err
}

// Query 发现查询（泛洪转发）
type Query struct {
	ID     uuid.UUID
	Search string
	Origin types.PeerInfo
	TTL    uint32
}

// Marshal 编码
func (q *Query) Marshal() []byte {
	var enc encoder
	enc.uuid(1, q.ID)
	enc.string(2, q.Search)
	enc.message(3, marshalPeerInfo(q.Origin))
	enc.varint(4, uint64(q.TTL))
	return enc.b
}

// Unmarshal 解码
func (q *Query) Unmarshal(b []byte) error {
	*q = Query{}
	return walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			q.ID, err = f.uuid()
		case 2:
			q.Search = f.string()
		case 3:
			q.Origin, err = unmarshalPeerInfo(f.v)
		case 4:
			q.TTL = uint32(f.x)
		}
		return err
	})
}

// QueryResult 查询结果，直接发回查询发起者
type QueryResult struct {
	ID      uuid.UUID
	Peer    types.PeerInfo
	DataSet uuid.UUID
	Extra   []byte
}

// Marshal 编码
func (r *QueryResult) Marshal() []byte {
	var enc encoder
	enc.uuid(1, r.ID)
	enc.message(2, marshalPeerInfo(r.Peer))
	enc.uuid(3, r.DataSet)
	enc.bytes(4, r.Extra)
	return enc.b
}

// Unmarshal 解码
func (r *QueryResult) Unmarshal(b []byte) error {
	*r = QueryResult{}
	return walk(b, func(f field) (err error) {
		switch f.num {
		case 1:
			r.ID, err = f.uuid()
		case 2:
			r.Peer, err = unmarshalPeerInfo(f.v)
		case 3:
			r.DataSet, err = f.uuid()
		case 4:
			r.Extra = f.bytesCopy()
		}
		return err
	})
}
